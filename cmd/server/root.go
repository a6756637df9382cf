package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var logLevelFlag string

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "huddle",
		Short: "Post feed server with live updates and image uploads",
		Long: "huddle serves the post feed API: image uploads, post writes and a websocket " +
			"stream of the feed. Configuration comes from the environment and an optional .env file.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")

	cmd.AddCommand(newServeCommand(), newMigrateCommand())
	return cmd
}

// setupLogging routes slog through a charmbracelet/log handler
func setupLogging(level string) {
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = log.InfoLevel
	}
	handler := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "huddle",
		ReportTimestamp: true,
		Level:           lvl,
	})
	slog.SetDefault(slog.New(handler))
	if err != nil {
		slog.Warn("[CONFIG] invalid log level, using info", "value", level)
	}
}
