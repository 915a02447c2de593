package config

import (
	"fmt"
	"strings"
	"time"
)

type BenchmarkConfig struct {
	LogLevel   string           `yaml:"log_level"`
	Experiment ExperimentConfig `yaml:"experiment"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Reset      ResetConfig      `yaml:"reset"`
	Network    NetworkConfig    `yaml:"network"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Output     OutputConfig     `yaml:"output"`
	Data       DataConfig       `yaml:"data"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Archive    ArchiveConfig    `yaml:"archive"`
}

// ExperimentConfig is the sweep plan. Sweep order is bandwidth, latency,
// container, iteration.
type ExperimentConfig struct {
	Name       string   `yaml:"name"`
	Bandwidths []int    `yaml:"bandwidths"` // Mbps
	Latencies  []int    `yaml:"latencies"`  // ms
	Containers []string `yaml:"containers"`
	Iterations int      `yaml:"iterations"`

	// Readiness maps a container to the log substring that marks it ready.
	// Containers without an entry are expected to run to completion.
	Readiness map[string]string `yaml:"readiness"`
}

type RuntimeConfig struct {
	Binary           string        `yaml:"binary"`
	Registry         string        `yaml:"registry"`
	InsecureRegistry bool          `yaml:"insecure_registry"`
	Sudo             bool          `yaml:"sudo"`
	// TTY runs containers with a pseudo-terminal so their output is line
	// buffered.
	TTY              bool          `yaml:"tty"`
	ShortRunTimeout  time.Duration `yaml:"short_run_timeout"`
	// ReadinessTimeout bounds the wait for a readiness message. Zero keeps
	// the wait unbounded, so only EOF ends a silent run.
	ReadinessTimeout time.Duration `yaml:"readiness_timeout"`
	TerminationGrace time.Duration `yaml:"termination_grace"`
}

type ResetConfig struct {
	PreDelay    time.Duration `yaml:"pre_delay"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

type NetworkConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Script   string        `yaml:"script"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RequireCredentials reports whether the network host can be logged into.
// Only password authentication is supported, and a placeholder whose
// variable was never set does not count as a password.
func (n NetworkConfig) RequireCredentials() error {
	if n.Password == "" {
		return fmt.Errorf("network password is required (set network.password or NETBENCH_SSH_PASSWORD)")
	}
	if strings.Contains(n.Password, "${") {
		return fmt.Errorf("network password %q references an unset environment variable", n.Password)
	}
	return nil
}

type MetricsConfig struct {
	Host string `yaml:"host"`
	// Port overrides the snapshotter's own metrics port when non-zero.
	Port    int           `yaml:"port"`
	Timeout time.Duration `yaml:"timeout"`
}

type OutputConfig struct {
	Dir              string `yaml:"dir"`
	ProvisioningFile string `yaml:"provisioning_file"`
	MetricsFile      string `yaml:"metrics_file"`
}

type DataConfig struct {
	DB DatabaseConfig `yaml:"db"`
	// SpoolDir receives mirror points InfluxDB did not accept.
	SpoolDir string `yaml:"spool_dir"`
}

// DatabaseConfig points at an optional InfluxDB bucket mirroring the
// result tables. Mirroring is off while Host is empty.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Org      string `yaml:"org"`
}

func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

type TelemetryConfig struct {
	Listen string `yaml:"listen"`
}

// ArchiveConfig names an S3-compatible bucket that receives exported
// Parquet files. Uploads are off while Bucket is empty.
type ArchiveConfig struct {
	Bucket          string `yaml:"bucket"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

const snapshotterPlaceholder = "{snapshotter}"

// ProvisioningFileFor returns the provisioning table file name for a snapshotter.
func (o OutputConfig) ProvisioningFileFor(snapshotter string) string {
	return strings.ReplaceAll(o.ProvisioningFile, snapshotterPlaceholder, snapshotter)
}

func (o OutputConfig) MetricsFileFor(snapshotter string) string {
	return strings.ReplaceAll(o.MetricsFile, snapshotterPlaceholder, snapshotter)
}

// ReadinessMessage returns the readiness substring configured for container.
func (e ExperimentConfig) ReadinessMessage(container string) (string, bool) {
	msg, ok := e.Readiness[container]
	if !ok || msg == "" {
		return "", false
	}
	return msg, true
}

// LongRunning reports whether container is measured to readiness rather
// than to exit.
func (e ExperimentConfig) LongRunning(container string) bool {
	_, ok := e.ReadinessMessage(container)
	return ok
}

// TotalRuns is the number of container launches a full sweep performs.
func (e ExperimentConfig) TotalRuns() int {
	return len(e.Bandwidths) * len(e.Latencies) * len(e.Containers) * e.Iterations
}
