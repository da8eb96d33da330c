package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openlectern/lectern/internal/server"
	"github.com/openlectern/lectern/internal/store"
	"github.com/openlectern/lectern/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the sync API over HTTP",
	Long: `Serve exposes the canonical store over HTTP: the sync status delta
endpoint, batched chapter hydration, singleton and keyed content lookups,
the metadata probe, and a WebSocket channel announcing version changes.

All endpoints are read-only; run 'lectern import' (optionally with
--watch) to update the served content.`,
	Run: func(cmd *cobra.Command, args []string) {
		listen := viper.GetString("listen")

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

		config := server.DefaultConfig()
		config.Addr = listen
		config.Logger = newLogger("[serve] ")

		srv := server.New(db, config)
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Sync API listening on %s (Ctrl-C to stop)\n", ui.RenderPass("✓"), srv.Addr())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Printf("%s Shutting down...\n", ui.RenderDim("→"))
		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "Address to listen on")

	_ = viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
}
