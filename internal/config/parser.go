package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"snapshotter-bench/internal/logging"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads filepath on top of Default(). An empty path yields the
// defaults unchanged.
func LoadConfig(filepath string) (*BenchmarkConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

func LoadConfigWithContent(filepath string) (*BenchmarkConfig, string, error) {
	logger := logging.GetLogger()

	config := Default()
	// The default password is a placeholder; resolve it like file content.
	config.Network.Password = expandEnvVars(config.Network.Password)
	if filepath == "" {
		if err := validateConfig(config); err != nil {
			return nil, "", fmt.Errorf("invalid config: %w", err)
		}
		return config, "", nil
	}

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)

	// Expand environment variables
	expanded := expandEnvVars(originalContent)

	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}

	if err := validateConfig(config); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}

	return config, originalContent, nil
}

func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func validateConfig(config *BenchmarkConfig) error {
	exp := config.Experiment

	if exp.Name == "" {
		return fmt.Errorf("experiment name is required")
	}
	if len(exp.Bandwidths) == 0 {
		return fmt.Errorf("at least one bandwidth must be defined")
	}
	if len(exp.Latencies) == 0 {
		return fmt.Errorf("at least one latency must be defined")
	}
	if len(exp.Containers) == 0 {
		return fmt.Errorf("at least one container must be defined")
	}
	if exp.Iterations <= 0 {
		return fmt.Errorf("iterations must be greater than 0")
	}

	for _, bw := range exp.Bandwidths {
		if bw <= 0 {
			return fmt.Errorf("bandwidth %d must be greater than 0", bw)
		}
	}
	for _, lat := range exp.Latencies {
		if lat < 0 {
			return fmt.Errorf("latency %d must not be negative", lat)
		}
	}

	seen := make(map[string]bool)
	for _, c := range exp.Containers {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("container names must not be empty")
		}
		if seen[c] {
			return fmt.Errorf("container %s is listed twice", c)
		}
		seen[c] = true
	}

	rt := config.Runtime
	if rt.Binary == "" {
		return fmt.Errorf("runtime binary is required")
	}
	if rt.Registry == "" {
		return fmt.Errorf("runtime registry is required")
	}
	if rt.ShortRunTimeout <= 0 {
		return fmt.Errorf("short_run_timeout must be greater than 0")
	}
	if rt.ReadinessTimeout < 0 || rt.TerminationGrace < 0 {
		return fmt.Errorf("readiness_timeout and termination_grace must not be negative")
	}

	if config.Reset.PreDelay < 0 || config.Reset.SettleDelay < 0 {
		return fmt.Errorf("reset delays must not be negative")
	}

	if config.Network.Host == "" || config.Network.User == "" || config.Network.Script == "" {
		return fmt.Errorf("incomplete network configuration")
	}
	if config.Network.Port <= 0 || config.Network.Port > 65535 {
		return fmt.Errorf("network port %d is out of range", config.Network.Port)
	}

	if config.Metrics.Host == "" {
		return fmt.Errorf("metrics host is required")
	}
	if config.Metrics.Port < 0 || config.Metrics.Port > 65535 {
		return fmt.Errorf("metrics port %d is out of range", config.Metrics.Port)
	}

	out := config.Output
	if out.ProvisioningFile == "" || out.MetricsFile == "" {
		return fmt.Errorf("both result file names are required")
	}
	if out.ProvisioningFile == out.MetricsFile {
		return fmt.Errorf("provisioning and metrics tables must use different files")
	}

	// Mirroring is optional, but a half-filled block is a mistake.
	db := config.Data.DB
	if db.Enabled() && (db.Name == "" || db.Password == "" || db.Org == "") {
		return fmt.Errorf("incomplete database configuration")
	}

	archive := config.Archive
	if archive.Enabled() && (archive.AccessKeyID == "" || archive.SecretAccessKey == "") {
		return fmt.Errorf("archive bucket %s needs access credentials", archive.Bucket)
	}

	return nil
}
