package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snapshotter-bench/internal/config"
	"snapshotter-bench/internal/database"
	"snapshotter-bench/internal/host"
	"snapshotter-bench/internal/logging"
	"snapshotter-bench/internal/metrics"
	"snapshotter-bench/internal/monitor"
	"snapshotter-bench/internal/netem"
	"snapshotter-bench/internal/orchestrator"
	"snapshotter-bench/internal/reset"
	"snapshotter-bench/internal/results"
	"snapshotter-bench/internal/shell"
	"snapshotter-bench/internal/snapshotter"
	"snapshotter-bench/internal/telemetry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var configFile string

	runCmd := &cobra.Command{
		Use:       "run <snapshotter>",
		Short:     "Run the benchmark sweep for one snapshotter",
		ValidArgs: snapshotter.Names(),
		Args:      snapshotterArg(),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseSnapshotter(args)
			if err != nil {
				return err
			}
			loadEnvironment()
			return runBenchmark(kind, configFile, opts.logLevel != "")
		},
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to benchmark configuration file (defaults apply when omitted)")

	return runCmd
}

func runBenchmark(kind snapshotter.Kind, configFile string, logLevelFromFlag bool) error {
	logger := logging.GetLogger()

	cfg, configContent, err := config.LoadConfigWithContent(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Failed to load configuration")
		return fmt.Errorf("failed to load config: %w", err)
	}
	// Every network condition needs a login, so a sweep without one
	// would only skip conditions.
	if err := cfg.Network.RequireCredentials(); err != nil {
		logger.WithError(err).Error("Network host cannot be reached")
		return fmt.Errorf("invalid config: %w", err)
	}

	if !logLevelFromFlag {
		if err := logging.SetLogLevel(cfg.LogLevel); err != nil {
			logger.WithField("log_level", cfg.LogLevel).WithError(err).Warn("Invalid log level in config, using INFO")
			_ = logging.SetLogLevel("info")
		}
	}

	checksum, err := config.PlanChecksum(cfg, kind.String())
	if err != nil {
		return fmt.Errorf("failed to compute plan checksum: %w", err)
	}
	sweep := database.Sweep{
		ExperimentID: uuid.New().String(),
		Name:         cfg.Experiment.Name,
		Snapshotter:  kind.String(),
		PlanChecksum: checksum,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	runner := shell.NewExecRunner()
	hostInfo := host.Describe(ctx, runner, cfg.Runtime.Binary)
	recorder := results.NewRecorderFromConfig(cfg, kind)
	exporter := telemetry.NewExporter(kind.String())

	orch := orchestrator.New(
		kind,
		cfg.Experiment,
		netem.NewController(netem.NewSSHExecutorFromConfig(cfg), cfg.Network.Script),
		reset.NewManager(kind, reset.ConfigFrom(cfg), runner),
		monitor.New(kind, monitor.ConfigFrom(cfg), launcherFor(cfg)),
		metrics.NewCollectorFromConfig(cfg, kind),
		recorder,
	).WithProgress(exporter)

	if cfg.Telemetry.Listen != "" {
		go func() {
			if err := exporter.Serve(ctx, cfg.Telemetry.Listen); err != nil {
				logger.WithField("addr", cfg.Telemetry.Listen).WithError(err).Warn("Telemetry server stopped")
			}
		}()
	}

	var mirror *database.InfluxDBClient
	if cfg.Data.DB.Enabled() {
		mirror, err = database.NewInfluxDBClient(ctx, cfg.Data.DB, sweep, cfg.Data.SpoolDir)
		if err != nil {
			logger.WithError(err).Warn("InfluxDB unavailable, results go to the CSV tables only")
		} else {
			orch.WithMirror(mirror)
			defer func() {
				if err := mirror.Close(); err != nil {
					logger.WithError(err).Error("Failed to close InfluxDB mirror")
				}
			}()
		}
	}

	logger.WithFields(logrus.Fields{
		"experiment_id":      sweep.ExperimentID,
		"snapshotter":        kind.String(),
		"plan_checksum":      checksum,
		"provisioning_table": recorder.ProvisioningPath(),
		"metrics_table":      recorder.MetricsPath(),
	}).Info("Starting benchmark")

	summary, runErr := orch.Run(ctx)

	if mirror != nil {
		meta := database.NewSweepMetadata(sweep, hostInfo, configContent, summary.Started, summary.Finished,
			summary.PlannedRuns, summary.CompletedRuns, summary.SkippedConditions)
		writeCtx, writeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := mirror.WriteMetadata(writeCtx, meta); err != nil {
			logger.WithError(err).Warn("Failed to write sweep metadata")
		}
		writeCancel()
	}

	if runErr != nil {
		logger.WithError(runErr).Error("Benchmark failed")
		return fmt.Errorf("benchmark failed: %w", runErr)
	}

	logger.Info("Benchmark completed successfully")
	return nil
}

func launcherFor(cfg *config.BenchmarkConfig) shell.Launcher {
	if cfg.Runtime.TTY {
		return shell.NewPTYLauncher()
	}
	return shell.NewExecLauncher()
}
