// Package results persists run observations to the provisioning-time and
// metrics tables consumed by the plotting scripts.
package results

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"snapshotter-bench/internal/config"
	"snapshotter-bench/internal/logging"
	"snapshotter-bench/internal/monitor"
	"snapshotter-bench/internal/netem"
	"snapshotter-bench/internal/snapshotter"

	"github.com/sirupsen/logrus"
)

// Column order and formatting are relied upon by downstream analysis.
var (
	ProvisioningHeader = []string{"Container", "Iteration", "Time", "RTT", "Bandwidth"}
	MetricsHeader      = []string{"Container", "Iteration", "Metrics Sum", "RTT", "Bandwidth"}
)

// Observation is the outcome of one run. Iteration is 1-based.
type Observation struct {
	Container string
	Iteration int
	Elapsed   monitor.Elapsed
	Condition netem.Condition
}

// MetricsObservation is the remote fetch count scraped after one run.
type MetricsObservation struct {
	Container string
	Iteration int
	Sum       uint64
	Condition netem.Condition
}

func (o Observation) Row() []string {
	return []string{
		o.Container,
		strconv.Itoa(o.Iteration),
		o.Elapsed.String(),
		o.Condition.RTT(),
		o.Condition.Bandwidth(),
	}
}

func (m MetricsObservation) Row() []string {
	return []string{
		m.Container,
		strconv.Itoa(m.Iteration),
		strconv.FormatUint(m.Sum, 10),
		m.Condition.RTT(),
		m.Condition.Bandwidth(),
	}
}

type Recorder struct {
	provisioning *Table
	metrics      *Table
}

func NewRecorder(provisioningPath, metricsPath string) *Recorder {
	return &Recorder{
		provisioning: NewTable(provisioningPath, ProvisioningHeader),
		metrics:      NewTable(metricsPath, MetricsHeader),
	}
}

func NewRecorderFromConfig(cfg *config.BenchmarkConfig, kind snapshotter.Kind) *Recorder {
	return NewRecorder(
		filepath.Join(cfg.Output.Dir, cfg.Output.ProvisioningFileFor(kind.String())),
		filepath.Join(cfg.Output.Dir, cfg.Output.MetricsFileFor(kind.String())),
	)
}

func (r *Recorder) ProvisioningPath() string {
	return r.provisioning.Path()
}

func (r *Recorder) MetricsPath() string {
	return r.metrics.Path()
}

func (r *Recorder) RecordProvisioning(o Observation) error {
	if err := r.provisioning.Append(o.Row()); err != nil {
		return err
	}
	logging.GetLogger().WithFields(logrus.Fields{
		"container": o.Container,
		"iteration": o.Iteration,
		"time":      o.Elapsed.String(),
	}).Info("Recorded provisioning time")
	return nil
}

func (r *Recorder) RecordMetrics(m MetricsObservation) error {
	if err := r.metrics.Append(m.Row()); err != nil {
		return err
	}
	logging.GetLogger().WithFields(logrus.Fields{
		"container":   m.Container,
		"iteration":   m.Iteration,
		"metrics_sum": m.Sum,
	}).Info("Recorded metrics sum")
	return nil
}

var elapsedPattern = regexp.MustCompile(`^\d+m\d+\.\d{3}s$`)

// ParseElapsed turns a Time column value back into a duration. Sentinels
// map to their outcome with the nominal 90s they carry. The table does not
// tell ready from completed, so measured values report Completed.
func ParseElapsed(s string) (time.Duration, monitor.Outcome, error) {
	switch s {
	case monitor.TimeoutSentinel:
		return 90 * time.Second, monitor.TimedOut, nil
	case monitor.NoReadinessSentinel:
		return 90 * time.Second, monitor.NoReadiness, nil
	}
	if !elapsedPattern.MatchString(s) {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return d, monitor.Completed, nil
}

// ParseRTT parses "<n>ms".
func ParseRTT(s string) (int, error) {
	return parseSuffixed(s, "ms")
}

// ParseBandwidth parses "<n>Mbps".
func ParseBandwidth(s string) (int, error) {
	return parseSuffixed(s, "Mbps")
}

func parseSuffixed(s, suffix string) (int, error) {
	if !strings.HasSuffix(s, suffix) {
		return 0, fmt.Errorf("invalid value %q, expected suffix %q", s, suffix)
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, suffix))
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return n, nil
}
