// Package export converts the result tables into Parquet files for
// analysis tools that prefer typed columns over formatted strings.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"snapshotter-bench/internal/logging"
	"snapshotter-bench/internal/monitor"
	"snapshotter-bench/internal/results"

	"github.com/sirupsen/logrus"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"
)

// ProvisioningRow is one provisioning table row with the Time column also
// parsed into seconds.
type ProvisioningRow struct {
	Snapshotter   string  `parquet:"name=snapshotter, type=BYTE_ARRAY, convertedtype=UTF8"`
	Container     string  `parquet:"name=container, type=BYTE_ARRAY, convertedtype=UTF8"`
	Iteration     int32   `parquet:"name=iteration, type=INT32"`
	Time          string  `parquet:"name=time, type=BYTE_ARRAY, convertedtype=UTF8"`
	Seconds       float64 `parquet:"name=seconds, type=DOUBLE"`
	Outcome       string  `parquet:"name=outcome, type=BYTE_ARRAY, convertedtype=UTF8"`
	RTTMs         int32   `parquet:"name=rtt_ms, type=INT32"`
	BandwidthMbps int32   `parquet:"name=bandwidth_mbps, type=INT32"`
}

type MetricsRow struct {
	Snapshotter   string `parquet:"name=snapshotter, type=BYTE_ARRAY, convertedtype=UTF8"`
	Container     string `parquet:"name=container, type=BYTE_ARRAY, convertedtype=UTF8"`
	Iteration     int32  `parquet:"name=iteration, type=INT32"`
	MetricsSum    int64  `parquet:"name=metrics_sum, type=INT64"`
	RTTMs         int32  `parquet:"name=rtt_ms, type=INT32"`
	BandwidthMbps int32  `parquet:"name=bandwidth_mbps, type=INT32"`
}

// Provisioning converts the provisioning table at src into dst and returns
// the number of rows written. The table records a measured run the same way
// whether it ended on readiness or on exit; longRunning tells them apart.
func Provisioning(src, dst, snapshotter string, longRunning func(container string) bool) (int, error) {
	records, err := results.ReadProvisioning(src)
	if err != nil {
		return 0, err
	}

	rows := make([]interface{}, 0, len(records))
	for _, r := range records {
		outcome := r.Outcome
		if outcome == monitor.Completed && longRunning != nil && longRunning(r.Container) {
			outcome = monitor.Ready
		}
		rows = append(rows, ProvisioningRow{
			Snapshotter:   snapshotter,
			Container:     r.Container,
			Iteration:     int32(r.Iteration),
			Time:          r.Time,
			Seconds:       r.Duration,
			Outcome:       outcome.String(),
			RTTMs:         int32(r.Condition.LatencyMs),
			BandwidthMbps: int32(r.Condition.BandwidthMbps),
		})
	}
	if err := writeParquet(dst, new(ProvisioningRow), rows); err != nil {
		return 0, err
	}
	logExport(src, dst, len(rows))
	return len(rows), nil
}

// Metrics converts the metrics table at src into dst.
func Metrics(src, dst, snapshotter string) (int, error) {
	records, err := results.ReadMetrics(src)
	if err != nil {
		return 0, err
	}

	rows := make([]interface{}, 0, len(records))
	for _, r := range records {
		rows = append(rows, MetricsRow{
			Snapshotter:   snapshotter,
			Container:     r.Container,
			Iteration:     int32(r.Iteration),
			MetricsSum:    int64(r.Sum),
			RTTMs:         int32(r.Condition.LatencyMs),
			BandwidthMbps: int32(r.Condition.BandwidthMbps),
		})
	}
	if err := writeParquet(dst, new(MetricsRow), rows); err != nil {
		return 0, err
	}
	logExport(src, dst, len(rows))
	return len(rows), nil
}

func writeParquet(dst string, schema interface{}, rows []interface{}) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := local.NewLocalFileWriter(dst)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}

	pw, err := writer.NewParquetWriter(file, schema, 4)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			file.Close()
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("failed to stop parquet writer: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close parquet file: %w", err)
	}
	return nil
}

func logExport(src, dst string, rows int) {
	logging.GetLogger().WithFields(logrus.Fields{
		"source": src,
		"target": dst,
		"rows":   rows,
	}).Info("Exported table to Parquet")
}
