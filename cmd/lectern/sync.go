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

	"github.com/openlectern/lectern/internal/api"
	"github.com/openlectern/lectern/internal/replica"
	"github.com/openlectern/lectern/internal/syncer"
	"github.com/openlectern/lectern/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync a local replica against a sync API server",
	Long: `Sync runs one incremental pass against a sync API server: it asks what
changed since the replica's last synced version, fetches only that, and
commits each record as it arrives. A fresh or reset replica downloads the
full catalog.

With --reset the replica is flagged for deletion and rebuilt from scratch
on this pass.`,
	Run: func(cmd *cobra.Command, args []string) {
		serverURL := viper.GetString("server")
		replicaPath := viper.GetString("replica")
		reset, _ := cmd.Flags().GetBool("reset")

		store := replica.Open(replicaPath, &replica.ManagerConfig{
			Logger: newLogger("[replica] "),
		})
		defer store.Close()

		if reset {
			if err := store.RequestDeletion(); err != nil {
				fmt.Fprintf(os.Stderr, "Error requesting replica reset: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Replica flagged for rebuild\n", ui.RenderWarn("!"))
		}

		client := api.NewClient(serverURL, nil)
		driver := syncer.New(client, store, newLogger("[sync] "))
		driver.OnProgress(printProgress)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := driver.Sync(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s Sync failed: %v\n", ui.RenderError("✗"), err)
			os.Exit(1)
		}

		printSyncSummary(result)
	},
}

func init() {
	syncCmd.Flags().String("server", "http://localhost:8080", "Sync API server base URL")
	syncCmd.Flags().String("replica", ".lectern/replica.db", "Path to the local replica database")
	syncCmd.Flags().Bool("reset", false, "Delete the replica and rebuild it from scratch")

	_ = viper.BindPFlag("server", syncCmd.Flags().Lookup("server"))
	_ = viper.BindPFlag("replica", syncCmd.Flags().Lookup("replica"))
}

// printProgress renders one phase line per callback. Itemized phases
// update in place via carriage return.
func printProgress(p syncer.Progress) {
	switch {
	case p.Phase == syncer.PhaseChecking:
		fmt.Printf("%s Checking for changes...\n", ui.RenderAccent("→"))
	case p.Phase == syncer.PhaseComplete:
		// Summary follows.
	case p.Total > 0:
		fmt.Printf("\r%s %s %d/%d", ui.RenderAccent("→"), p.Phase, p.Done, p.Total)
		if p.Done == p.Total {
			fmt.Println()
		}
	}
}

func printSyncSummary(result *syncer.Result) {
	if result.UpToDate {
		fmt.Printf("%s Up to date at version %d\n", ui.RenderPass("✓"), result.FromVersion)
		return
	}

	fmt.Printf("%s Synced %d -> %d: %d records in %v\n",
		ui.RenderPass("✓"), result.FromVersion, result.ToVersion,
		result.Committed, result.Duration.Round(time.Millisecond))

	if result.Failures > 0 {
		fmt.Printf("   %s\n", ui.RenderWarn(fmt.Sprintf(
			"%d fetches failed; run with --reset to force a full rebuild", result.Failures)))
	}
}
