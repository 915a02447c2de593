package cmd

import (
	"fmt"

	"snapshotter-bench/internal/config"
	"snapshotter-bench/internal/logging"
	"snapshotter-bench/internal/snapshotter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var configFile string

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a benchmark configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loadEnvironment()
			return validateConfig(cmd, configFile)
		},
	}
	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to benchmark configuration file")

	return validateCmd
}

func validateConfig(cmd *cobra.Command, configFile string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Configuration validation failed")
		return err
	}

	exp := cfg.Experiment
	logger.WithFields(logrus.Fields{
		"config_file": configFile,
		"experiment":  exp.Name,
		"runs":        exp.TotalRuns(),
	}).Info("Configuration is valid")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "experiment: %s\n", exp.Name)
	fmt.Fprintf(out, "runs per snapshotter: %d\n", exp.TotalRuns())
	for _, kind := range snapshotter.Kinds() {
		checksum, err := config.PlanChecksum(cfg, kind.String())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: plan %s, tables %s, %s\n", kind, checksum,
			cfg.Output.ProvisioningFileFor(kind.String()), cfg.Output.MetricsFileFor(kind.String()))
	}
	return nil
}
