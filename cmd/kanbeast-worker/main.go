// Package main is the kanbeast-worker entry point: the sandboxed
// process spawned per activated ticket. It loads one
// ticket from the shared board directory, connects to the hub, and
// drives the Planner conversation (internal/orchestrator) to
// completion or failure.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "kanbeast-worker",
		Short:        "Drive a single ticket's Planner/Developer/Sub-agent conversations",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildRunCmd())
	return rootCmd
}
