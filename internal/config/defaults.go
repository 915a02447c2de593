package config

import "time"

// Default returns the configuration of the fleetbench campaign. A YAML file
// only needs to carry the values that differ from it.
func Default() *BenchmarkConfig {
	return &BenchmarkConfig{
		LogLevel: "info",
		Experiment: ExperimentConfig{
			Name:       "fleetbench",
			Bandwidths: []int{500},
			Latencies:  []int{0, 50, 100, 150, 200, 250, 300, 350, 400},
			Containers: []string{
				"ubuntu", "tensorflow", "nginx", "httpd", "node", "tomcat",
				"postgres", "redis", "mysql", "rabbitmq", "py", "golang",
				"ghost", "wordpress", "alpine", "pytorch", "gcc", "kafka",
				"mariadb", "openjdk",
			},
			Iterations: 5,
			Readiness: map[string]string{
				"httpd":      "Apache/2.4.57 (Unix) configured -- resuming normal operations",
				"tensorflow": "Skipped non-installed server(s)",
				"nginx":      "start worker process",
				"tomcat":     "org.apache.catalina.startup.Catalina.start Server startup",
				"redis":      "Ready to accept connections",
				"rabbitmq":   "Server startup complete; 3 plugins started.",
				"wordpress":  "Complete! WordPress has been successfully copied to /var/www/html",
			},
		},
		Runtime: RuntimeConfig{
			Binary:           "nerdctl",
			Registry:         "158.132.255.111:5000",
			InsecureRegistry: true,
			Sudo:             true,
			ShortRunTimeout:  900 * time.Second,
			TerminationGrace: 10 * time.Second,
		},
		Reset: ResetConfig{
			PreDelay:    2 * time.Second,
			SettleDelay: 1 * time.Second,
		},
		Network: NetworkConfig{
			Host:     "158.132.255.111",
			Port:     22,
			User:     "root",
			Password: "${NETBENCH_SSH_PASSWORD}",
			Script:   "/home/gh/code/lab/nw.sh",
			Timeout:  30 * time.Second,
		},
		Metrics: MetricsConfig{
			Host:    "127.0.0.1",
			Timeout: 10 * time.Second,
		},
		Output: OutputConfig{
			Dir:              ".",
			ProvisioningFile: "provisioning_times_{snapshotter}_fleetbench.csv",
			MetricsFile:      "metrics_sum_{snapshotter}_fleetbench.csv",
		},
		Data: DataConfig{
			SpoolDir: "spool",
		},
		Archive: ArchiveConfig{
			Region: "auto",
		},
	}
}
