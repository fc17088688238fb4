// Command avesa is the operator CLI and long-running service entrypoint
// for the AVESA ingestion pipeline (spec.md §6). It is built with
// spf13/cobra, the pack's de facto standard for multi-subcommand Go
// tooling — the teacher itself is a long-running server (cmd/tarsy) with
// no CLI surface, so this shape is sourced from the wider corpus.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/avesa-io/avesa/internal/config"
)

// Exit codes, spec.md §6.
const (
	exitSuccess          = 0
	exitPartial          = 1
	exitFailed           = 2
	exitUsageError       = 3
	exitStoreUnreachable = 4
)

var (
	envPath string
	cfg     *config.Config
)

func main() {
	root := &cobra.Command{
		Use:           "avesa",
		Short:         "Operate the AVESA multi-tenant ingestion pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(envPath)
			if err != nil {
				return exitWith(exitUsageError, fmt.Errorf("loading configuration: %w", err))
			}
			cfg = loaded
			configureLogging(cfg.LogLevel)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envPath, "env-file", ".env", "path to a .env file to load before reading the environment")

	root.AddCommand(
		newTenantCmd(),
		newServiceCmd(),
		newRunCmd(),
		newBackfillCmd(),
		newStatusCmd(),
		newServeCmd(),
	)

	if err := root.Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Err)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsageError)
	}
}

func configureLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// exitCodeError lets a subcommand force a specific process exit code
// (spec.md §6) instead of cobra's blanket usage-error exit.
type exitCodeError struct {
	Code int
	Err  error
}

func (e *exitCodeError) Error() string { return e.Err.Error() }
func (e *exitCodeError) Unwrap() error { return e.Err }

func exitWith(code int, err error) error {
	return &exitCodeError{Code: code, Err: err}
}
