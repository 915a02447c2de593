package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"snapshotter-bench/internal/config"
	"snapshotter-bench/internal/database"
	"snapshotter-bench/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newReplayCmd() *cobra.Command {
	var configFile string

	replayCmd := &cobra.Command{
		Use:   "replay <spool-file>...",
		Short: "Resend spooled runs to InfluxDB",
		Long:  "Resend runs that InfluxDB rejected during a sweep. A replayed spool file is removed; runs rejected again are spooled into a new file.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loadEnvironment()
			return replaySpool(cmd, configFile, args)
		},
	}
	replayCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to benchmark configuration file")

	return replayCmd
}

func replaySpool(cmd *cobra.Command, configFile string, paths []string) error {
	logger := logging.GetLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Data.DB.Enabled() {
		return fmt.Errorf("no database configured to replay into")
	}

	for _, path := range paths {
		artifact, err := database.ReadSpoolArtifact(path)
		if err != nil {
			return err
		}

		client, err := database.NewInfluxDBClient(cmd.Context(), cfg.Data.DB, artifact.Sweep, cfg.Data.SpoolDir)
		if err != nil {
			return err
		}
		sent, replayErr := client.Replay(cmd.Context(), artifact.Runs)
		if err := client.Close(); err != nil {
			return fmt.Errorf("failed to spool runs of %s: %w", path, err)
		}
		// Close has re-spooled whatever was rejected again.
		if !samePath(client.Spooled(), path) {
			if err := os.Remove(path); err != nil {
				return err
			}
		}

		logger.WithFields(logrus.Fields{
			"path":          path,
			"experiment_id": artifact.Sweep.ExperimentID,
			"sent":          sent,
			"runs":          len(artifact.Runs),
		}).Info("Replayed spool file")
		if replayErr != nil {
			logger.WithError(replayErr).Warn("Some runs were rejected again")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: replayed %d of %d runs\n", path, sent, len(artifact.Runs))
	}
	return nil
}

func samePath(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
