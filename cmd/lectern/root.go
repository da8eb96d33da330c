package main

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:   "lectern",
	Short: "Content sync engine for the lectern study corpus",
	Long: `Lectern keeps a canonical content store and its client replicas in sync.

The server side imports the source corpus (translations, timeline,
prophecies, persons, reading plans), detects changes via content
fingerprints, and serves compact deltas over HTTP. The client side
maintains a schema-versioned local replica that syncs incrementally and
never re-downloads unchanged content.`,
}

func init() {
	rootCmd.PersistentFlags().String("db", ".lectern/content.db", "Path to the canonical content database")
	rootCmd.PersistentFlags().String("log-file", "", "Write logs to this file (rotated) instead of stderr")

	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))

	viper.SetConfigName("lectern")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.lectern")
	viper.SetEnvPrefix("LECTERN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	cobra.OnInitialize(func() {
		// Missing config file is fine; flags and env cover everything.
		_ = viper.ReadInConfig()
	})

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
}

// logWriter returns the log destination: a rotated file when configured,
// stderr otherwise.
func logWriter() io.Writer {
	if path := viper.GetString("log_file"); path != "" {
		return &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return os.Stderr
}

// newLogger builds a prefixed logger on the configured destination.
func newLogger(prefix string) *log.Logger {
	return log.New(logWriter(), prefix, log.LstdFlags)
}
