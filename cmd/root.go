package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"snapshotter-bench/internal/logging"
	"snapshotter-bench/internal/snapshotter"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const Version = "1.0.0"

type rootOptions struct {
	logLevel          string
	containerLogLevel string
	logFormat         string
}

// Execute runs the command line interface.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "snapbench",
		Short:   "Snapshotter provisioning benchmark",
		Long:    "Measures container provisioning time under overlayfs, stargz and fleet snapshotters across emulated network conditions",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.apply()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.containerLogLevel, "container-log-level", "", "Set log level of relayed container output")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newReplayCmd())

	return rootCmd
}

func (o *rootOptions) apply() error {
	if o.logLevel != "" {
		if err := logging.SetLogLevel(o.logLevel); err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
	}
	if o.containerLogLevel != "" {
		if err := logging.SetRunLogLevel(o.containerLogLevel); err != nil {
			return fmt.Errorf("invalid container log level: %w", err)
		}
	}
	switch o.logFormat {
	case "", "text":
	case "json":
		logging.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", o.logFormat)
	}
	return nil
}

// snapshotterArg is the single positional argument of run and export. It
// is checked by cobra before any command body executes.
func snapshotterArg() cobra.PositionalArgs {
	return cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs)
}

func parseSnapshotter(args []string) (snapshotter.Kind, error) {
	return snapshotter.Parse(args[0])
}

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
		} else {
			logger.WithField("file", envFile).Debug("Loaded environment variables")
		}
		return
	}

	// Try to load from the application directory
	execPath, err := os.Executable()
	if err != nil {
		return
	}
	envFile = filepath.Join(filepath.Dir(execPath), ".env")
	if _, err := os.Stat(envFile); err != nil {
		return
	}
	if err := godotenv.Load(envFile); err != nil {
		logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
	} else {
		logger.WithField("file", envFile).Debug("Loaded environment variables")
	}
}
