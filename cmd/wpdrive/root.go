package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/i-z-z-y/wpdrive-client/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that handle config loading
// themselves (currently just init): they skip the automatic discovery
// and load in PersistentPreRunE.
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles the resolved config and logger built once in
// PersistentPreRunE, so RunE handlers never redo that work.
type CLIContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey{}).(*CLIContext)
	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — command must not carry skipConfigAnnotation")
	}

	return cc
}

var flagRoot string

// newRootCmd builds the fully-assembled root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wpdrive",
		Short:         "Bidirectional file-sync client",
		Long:          "A bidirectional file-sync client backed by a WordPress REST endpoint.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagRoot, "root", "", "sync root directory (defaults to discovering .wpdrive upward from cwd)")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newDaemonCmd())

	return cmd
}

// loadConfig discovers and loads .wpdrive/config.json, building the
// CLIContext and attaching it to the command's context.
func loadConfig(cmd *cobra.Command) error {
	startDir := flagRoot
	if startDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}

		startDir = wd
	}

	path, err := config.Discover(startDir)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return err
		}

		return fmt.Errorf("discovering config: %w", err)
	}

	bootstrapLogger := buildLogger("", "")

	cfg, err := config.Load(path, bootstrapLogger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := buildLogger(cfg.LogLevel, cfg.LogFormat)
	cc := &CLIContext{Cfg: cfg, Logger: logger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// exitOnError prints a user-friendly message and exits, translating a
// missing config.json into exit code 2 and everything else
// into exit code 1.
func exitOnError(err error) {
	if errors.Is(err, config.ErrNotFound) {
		fmt.Fprintln(os.Stderr, "Error: no .wpdrive/config.json found; run 'wpdrive init' first")
		os.Exit(2)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
