package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openlectern/lectern/internal/content"
	"github.com/openlectern/lectern/internal/store"
	"github.com/openlectern/lectern/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the canonical store's version and content counts",
	Run: func(cmd *cobra.Command, args []string) {
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

		ctx := context.Background()

		meta, err := db.Meta(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading metadata: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s %s\n", ui.RenderAccent("Store:"), db.Path())
		fmt.Printf("   Version:     %d\n", meta.SyncVersion)
		if meta.VersionString != "" {
			fmt.Printf("   Published:   %s\n", meta.VersionString)
		}
		if !meta.LastImportAt.IsZero() {
			fmt.Printf("   Last import: %s\n", meta.LastImportAt.Format(time.RFC3339))
		} else {
			fmt.Printf("   Last import: %s\n", ui.RenderDim("never"))
		}

		fmt.Println("   Content:")
		for _, contentType := range content.Types() {
			count, err := db.RecordCount(ctx, contentType)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error counting %s: %v\n", contentType, err)
				os.Exit(1)
			}
			fmt.Printf("      %-13s %d\n", contentType, count)
		}
	},
}
