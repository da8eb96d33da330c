package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openlectern/lectern/internal/content"
	"github.com/openlectern/lectern/internal/importer"
	"github.com/openlectern/lectern/internal/store"
	"github.com/openlectern/lectern/internal/ui"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import the source corpus into the canonical store",
	Long: `Import walks the corpus directory, fingerprints every source item, and
writes only changed records into the canonical store.

Default mode is incremental: byte-identical source content is skipped and
the version ledger advances only if something changed. With --full the
destination is cleared first, everything is reimported, and the version
always bumps.

With --watch the importer keeps running and triggers an incremental pass
whenever the corpus tree changes.`,
	Run: func(cmd *cobra.Command, args []string) {
		corpusDir := viper.GetString("corpus")
		full, _ := cmd.Flags().GetBool("full")
		watch, _ := cmd.Flags().GetBool("watch")

		db, err := store.Open(viper.GetString("db"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening content database: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.InitSchema(); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
			os.Exit(1)
		}

		imp := importer.New(db, corpusDir, newLogger("[import] "))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("%s Importing from %s...\n", ui.RenderAccent("→"), corpusDir)
		start := time.Now()

		result, err := imp.Run(ctx, full)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during import: %v\n", err)
			os.Exit(1)
		}

		printImportSummary(result, time.Since(start))

		if watch {
			fmt.Printf("%s Watching %s for changes (Ctrl-C to stop)\n", ui.RenderAccent("→"), corpusDir)
			if err := imp.Watch(ctx, importer.DefaultWatchConfig()); err != nil {
				fmt.Fprintf(os.Stderr, "Error during watch: %v\n", err)
				os.Exit(1)
			}
		}
	},
}

func init() {
	importCmd.Flags().String("corpus", "corpus", "Path to the source corpus directory")
	importCmd.Flags().Bool("full", false, "Wipe and reimport everything, forcing a version bump")
	importCmd.Flags().Bool("watch", false, "Keep running and reimport on corpus changes")

	_ = viper.BindPFlag("corpus", importCmd.Flags().Lookup("corpus"))
}

// printImportSummary prints per-type updated/unchanged counts and the
// resulting version.
func printImportSummary(result *importer.Result, elapsed time.Duration) {
	fmt.Printf("%s Import complete in %v\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond))

	for _, contentType := range content.Types() {
		counts := result.Counts[contentType]
		line := fmt.Sprintf("   %-13s updated=%-4d unchanged=%-4d", contentType, counts.Updated, counts.Unchanged)
		if counts.Removed > 0 {
			line += fmt.Sprintf(" removed=%d", counts.Removed)
		}
		if counts.Failed > 0 {
			line += " " + ui.RenderWarn(fmt.Sprintf("failed=%d", counts.Failed))
		}
		fmt.Println(line)
	}

	if result.Bumped {
		fmt.Printf("   Version: %s\n", ui.RenderAccent(fmt.Sprintf("%d", result.Version)))
	} else {
		fmt.Printf("   Version: %d %s\n", result.Version, ui.RenderDim("(unchanged)"))
	}
}
