package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/newhook/nextpick/internal/config"
	"github.com/newhook/nextpick/internal/logging"
	npsignal "github.com/newhook/nextpick/internal/signal"
	"github.com/spf13/cobra"
)

var (
	// rootCtx holds the signal-cancellable context for the application
	rootCtx    context.Context
	rootCancel context.CancelFunc

	// flagRoot is the directory holding .nextpick/
	flagRoot string

	// flagLogLevel overrides [log] level
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "nextpick",
	Short: "Next-pick display for Picqer batches",
	Long: `nextpick polls the Picqer API and shows the picker which location and
product to handle next. Without a subcommand it runs the terminal display.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Create a cancellable context with signal handling
		rootCtx, rootCancel = npsignal.WithSignalCancel(context.Background())
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rootCancel != nil {
			rootCancel()
		}
		if err := logging.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close log: %v\n", err)
		}
	},
	// Default to the display when no subcommand is provided
	RunE: runDisplay,
}

func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns the root context that is cancelled on SIGINT/SIGTERM.
func GetContext() context.Context {
	if rootCtx == nil {
		return context.Background()
	}
	return rootCtx
}

// loadConfig reads the config under flagRoot and starts file logging at the
// configured level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagRoot)
	if err != nil {
		return nil, err
	}

	name := cfg.Log.GetLevel()
	if flagLogLevel != "" {
		name = flagLogLevel
	}
	level, err := logging.ParseLevel(name)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(level)
	if err := logging.Init(flagRoot); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRoot, "dir", ".", "directory containing .nextpick/")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")
	addDisplayFlags(rootCmd)
}
