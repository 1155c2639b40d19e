package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dataharvest/reaper/internal/config"
	"github.com/dataharvest/reaper/internal/types"
)

// Exit codes: 0 clean finish (cap included), 2 session acquisition
// exhausted, 3 input file missing, 1 anything else.
const (
	exitOK           = 0
	exitFailure      = 1
	exitSessionGone  = 2
	exitInputMissing = 3
)

var (
	cfgFile string
	verbose bool
)

func main() {
	// A .env next to the binary is convenient for credentials; absence
	// is not an error.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "reaper",
		Short: "reaper — resumable partitioned scraping",
		Long: `reaper walks a site's search space one partition at a time,
dedupes against previous runs, and exports normalized records.

Interrupted runs resume where they left off: completed partitions are
skipped and already-seen records are suppressed by fingerprint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sitesCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, types.ErrSessionExhausted):
		return exitSessionGone
	case errors.Is(err, types.ErrInputMissing):
		return exitInputMissing
	default:
		return exitFailure
	}
}

func setupLogger(cfg *config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("reaper", config.Version)
		},
	}
}
