package database

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"snapshotter-bench/internal/config"
	"snapshotter-bench/internal/host"
	"snapshotter-bench/internal/logging"

	"github.com/docker/go-units"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const (
	provisioningMeasurement = "provisioning_time"
	fetchMeasurement        = "remote_fetch_count"
	metaMeasurement         = "sweep_meta"
)

// Sweep identifies one invocation of the experiment. Every mirrored point
// carries these values as tags.
type Sweep struct {
	ExperimentID string
	Name         string
	Snapshotter  string
	PlanChecksum string
}

func (s Sweep) tags() map[string]string {
	return map[string]string{
		"experiment_id": s.ExperimentID,
		"experiment":    s.Name,
		"snapshotter":   s.Snapshotter,
		"plan_checksum": s.PlanChecksum,
	}
}

// RunRecord is one provisioning table row plus the values the table only
// carries as formatted strings.
type RunRecord struct {
	Container     string    `json:"container"`
	Iteration     int       `json:"iteration"`
	BandwidthMbps int       `json:"bandwidth_mbps"`
	LatencyMs     int       `json:"latency_ms"`
	Outcome       string    `json:"outcome"`
	Time          string    `json:"time"`
	Seconds       float64   `json:"seconds"`
	MetricsSum    *uint64   `json:"metrics_sum,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// SweepMetadata describes the host and the plan of a finished sweep.
type SweepMetadata struct {
	Sweep
	Host              host.Info `json:"host"`
	Started           time.Time `json:"started"`
	Finished          time.Time `json:"finished"`
	PlannedRuns       int       `json:"planned_runs"`
	CompletedRuns     int       `json:"completed_runs"`
	SkippedConditions int       `json:"skipped_conditions"`
	ConfigFile        string    `json:"config_file"`
}

func NewSweepMetadata(sweep Sweep, hostInfo host.Info, configContent string, started, finished time.Time, planned, completed, skipped int) *SweepMetadata {
	return &SweepMetadata{
		Sweep:             sweep,
		Host:              hostInfo,
		Started:           started,
		Finished:          finished,
		PlannedRuns:       planned,
		CompletedRuns:     completed,
		SkippedConditions: skipped,
		ConfigFile:        configContent,
	}
}

// InfluxDBClient mirrors recorded rows into an InfluxDB bucket. The CSV
// tables stay authoritative: points that cannot be written are kept and
// spooled to disk on Close.
type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string
	org      string
	sweep    Sweep
	spoolDir string
	unsent   []RunRecord
	spooled  string
}

func NewInfluxDBClient(ctx context.Context, cfg config.DatabaseConfig, sweep Sweep, spoolDir string) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Password)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB at %s: %w", cfg.Host, err)
	}

	if health.Status != "pass" {
		message := ""
		if health.Message != nil {
			message = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": message,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("InfluxDB at %s reports status %s", cfg.Host, health.Status)
	}

	logger.WithFields(logrus.Fields{
		"host":          cfg.Host,
		"bucket":        cfg.Name,
		"org":           cfg.Org,
		"experiment_id": sweep.ExperimentID,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Name),
		bucket:   cfg.Name,
		org:      cfg.Org,
		sweep:    sweep,
		spoolDir: spoolDir,
	}, nil
}

// WriteRun mirrors one run: its provisioning time and, when present, its
// remote fetch count.
func (idb *InfluxDBClient) WriteRun(ctx context.Context, rec RunRecord) error {
	points := []*write.Point{provisioningPoint(idb.sweep, rec)}
	if rec.MetricsSum != nil {
		points = append(points, fetchPoint(idb.sweep, rec))
	}

	if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
		idb.unsent = append(idb.unsent, rec)
		return fmt.Errorf("failed to write run points: %w", err)
	}
	return nil
}

func (idb *InfluxDBClient) WriteMetadata(ctx context.Context, meta *SweepMetadata) error {
	if err := idb.writeAPI.WritePoint(ctx, metadataPoint(meta)); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// Replay writes previously spooled runs under this client's sweep and
// reports how many were accepted. Runs rejected again are kept as unsent
// and spooled anew by Close.
func (idb *InfluxDBClient) Replay(ctx context.Context, runs []RunRecord) (int, error) {
	sent := 0
	var firstErr error
	for _, rec := range runs {
		if err := idb.WriteRun(ctx, rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}
	return sent, firstErr
}

// Unsent returns the runs whose points were rejected so far.
func (idb *InfluxDBClient) Unsent() []RunRecord {
	return idb.unsent
}

// Spooled is the artifact Close wrote, empty when nothing was rejected.
func (idb *InfluxDBClient) Spooled() string {
	return idb.spooled
}

// Close spools rejected runs, if any, and releases the client.
func (idb *InfluxDBClient) Close() error {
	defer idb.client.Close()

	if len(idb.unsent) == 0 {
		return nil
	}
	path, err := WriteSpoolArtifact(idb.spoolDir, &SpoolArtifact{
		Version:   1,
		CreatedAt: time.Now(),
		Sweep:     idb.sweep,
		Bucket:    idb.bucket,
		Org:       idb.org,
		Runs:      idb.unsent,
	})
	if err != nil {
		return fmt.Errorf("failed to spool %d unsent runs: %w", len(idb.unsent), err)
	}
	idb.spooled = path
	fields := logrus.Fields{
		"path": path,
		"runs": len(idb.unsent),
	}
	if fi, err := os.Stat(path); err == nil {
		fields["size"] = units.HumanSize(float64(fi.Size()))
	}
	logging.GetLogger().WithFields(fields).Warn("Spooled runs InfluxDB did not accept")
	return nil
}

func runTags(sweep Sweep, rec RunRecord) map[string]string {
	tags := sweep.tags()
	tags["container"] = rec.Container
	tags["rtt"] = strconv.Itoa(rec.LatencyMs) + "ms"
	tags["bandwidth"] = strconv.Itoa(rec.BandwidthMbps) + "Mbps"
	return tags
}

func provisioningPoint(sweep Sweep, rec RunRecord) *write.Point {
	tags := runTags(sweep, rec)
	tags["outcome"] = rec.Outcome
	return influxdb2.NewPoint(provisioningMeasurement,
		tags,
		map[string]interface{}{
			"iteration": rec.Iteration,
			"seconds":   rec.Seconds,
			"elapsed":   rec.Time,
		},
		rec.Timestamp)
}

func fetchPoint(sweep Sweep, rec RunRecord) *write.Point {
	return influxdb2.NewPoint(fetchMeasurement,
		runTags(sweep, rec),
		map[string]interface{}{
			"iteration":   rec.Iteration,
			"metrics_sum": *rec.MetricsSum,
		},
		rec.Timestamp)
}

func metadataPoint(meta *SweepMetadata) *write.Point {
	return influxdb2.NewPoint(metaMeasurement,
		meta.Sweep.tags(),
		map[string]interface{}{
			"started":            meta.Started.Format(time.RFC3339),
			"finished":           meta.Finished.Format(time.RFC3339),
			"duration_seconds":   int64(meta.Finished.Sub(meta.Started).Seconds()),
			"planned_runs":       meta.PlannedRuns,
			"completed_runs":     meta.CompletedRuns,
			"skipped_conditions": meta.SkippedConditions,
			"hostname":           meta.Host.Hostname,
			"os_info":            meta.Host.OSInfo,
			"kernel_version":     meta.Host.KernelVersion,
			"cpu_model":          meta.Host.CPUModel,
			"cpus":               meta.Host.CPUs,
			"runtime_version":    meta.Host.RuntimeVersion,
			"config_file":        meta.ConfigFile,
		},
		meta.Finished)
}
