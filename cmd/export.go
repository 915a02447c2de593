package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"snapshotter-bench/internal/config"
	"snapshotter-bench/internal/export"
	"snapshotter-bench/internal/results"
	"snapshotter-bench/internal/snapshotter"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var configFile, outDir string

	exportCmd := &cobra.Command{
		Use:       "export <snapshotter>",
		Short:     "Convert the result tables of a snapshotter to Parquet and archive them",
		ValidArgs: snapshotter.Names(),
		Args:      snapshotterArg(),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := parseSnapshotter(args)
			if err != nil {
				return err
			}
			loadEnvironment()
			return exportTables(cmd, kind, configFile, outDir)
		},
	}
	exportCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to benchmark configuration file")
	exportCmd.Flags().StringVarP(&outDir, "output", "o", "", "Directory for the Parquet files (defaults to the table directory)")

	return exportCmd
}

func exportTables(cmd *cobra.Command, kind snapshotter.Kind, configFile, outDir string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if outDir == "" {
		outDir = cfg.Output.Dir
	}

	recorder := results.NewRecorderFromConfig(cfg, kind)
	tables := []struct {
		src     string
		convert func(src, dst, snapshotter string) (int, error)
	}{
		{recorder.ProvisioningPath(), func(src, dst, snapshotter string) (int, error) {
			return export.Provisioning(src, dst, snapshotter, cfg.Experiment.LongRunning)
		}},
		{recorder.MetricsPath(), export.Metrics},
	}

	var archive *export.Archive
	if cfg.Archive.Enabled() {
		archive, err = export.NewArchive(cmd.Context(), cfg.Archive)
		if err != nil {
			return err
		}
	}

	exported := 0
	for _, table := range tables {
		if _, err := os.Stat(table.src); os.IsNotExist(err) {
			// overlayfs never writes a metrics table
			continue
		}
		dst := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(table.src), filepath.Ext(table.src))+".parquet")
		n, err := table.convert(table.src, dst, kind.String())
		if err != nil {
			return fmt.Errorf("failed to export %s: %w", table.src, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows\n", dst, n)
		exported++

		if archive != nil {
			location, err := archive.Upload(cmd.Context(), dst)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: uploaded to %s\n", dst, location)
		}
	}
	if exported == 0 {
		return fmt.Errorf("no result tables found for %s", kind)
	}
	return nil
}
