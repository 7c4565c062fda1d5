// Package cli provides the command-line interface for labelflow.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/labelflow/internal/app"
	"github.com/raphaelgruber/labelflow/internal/client"
	"github.com/raphaelgruber/labelflow/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	cfg    config.Config
	logger *slog.Logger

	// Lazy-initialized pipeline; commands that only touch files never open it.
	pipeline    *app.App
	closeLogger func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "labelflow",
	Short: "Pallet label generation and fulfillment",
	Long: `Labelflow allocates pallet numbers, renders QC and GRN pallet labels,
merges them into a single print document and dispatches them to
blob storage and the print service.

Commands run the pipeline in-process against the configured record
store. With --server they submit work to a running labelflow server
instead and follow its progress.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		shutdown()

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLogger = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdown()
	},
}

// shutdown closes the pipeline and the log file.
func shutdown() {
	if pipeline != nil {
		pipeline.Close(context.Background())
		pipeline = nil
	}
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
		closeLogger = nil
	}
}

// getApp connects the configured backends on first use.
func getApp(ctx context.Context) (*app.App, error) {
	if pipeline != nil {
		return pipeline, nil
	}
	a, err := app.New(ctx, cfg, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline: %w", err)
	}
	pipeline = a
	return a, nil
}

// remote returns a client when --server or LABELFLOW_SERVER_URL is set.
func remote() *client.Client {
	if serverURL == "" && os.Getenv("LABELFLOW_SERVER_URL") == "" {
		return nil
	}
	return client.New(serverURL)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		// PersistentPostRun is skipped on errors.
		shutdown()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "labelflow server URL (default: run in-process)")

	// Add subcommands
	rootCmd.AddCommand(qcCmd)
	rootCmd.AddCommand(grnCmd)
	rootCmd.AddCommand(allocateCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(reprintCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the labelflow version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "labelflow %s\n", Version)
	},
}
