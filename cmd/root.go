// Package cmd wires the guppy CLI: serve, event, and inspect-link
// subcommands, built with cobra like the teacher's cmd/root.go.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	dataDir string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "guppy",
	Short: "Guppy — multi-tenant chat-agent runtime core",
	Long:  "Guppy: Thread Actor & Orchestrator, Event Bus, Thread Store, and Compaction Engine for driving an LLM agent across chat platforms.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "root directory for thread store data")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(inspectLinkCmd())
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
