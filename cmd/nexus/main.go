package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "nexus",
		Short:   "Nexus - autonomous browser automation agent",
		Long:    `Nexus drives a persistent browser session on behalf of an LLM agent, caching extracted pages and learned selectors between runs.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "nexus.yaml", "path to config file")

	rootCmd.AddCommand(
		buildServeCmd(&configPath),
		buildRunTaskCmd(&configPath),
		buildCacheCmd(&configPath),
	)

	return rootCmd
}
