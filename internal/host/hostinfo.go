// Package host describes the benchmark machine so that result sets from
// different nodes can be told apart.
package host

import (
	"bufio"
	"context"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"snapshotter-bench/internal/logging"
	"snapshotter-bench/internal/shell"

	"github.com/sirupsen/logrus"
)

// Info is gathered once at startup.
type Info struct {
	Hostname       string `json:"hostname"`
	OSInfo         string `json:"os_info"`
	KernelVersion  string `json:"kernel_version"`
	CPUVendor      string `json:"cpu_vendor"`
	CPUModel       string `json:"cpu_model"`
	CPUs           int    `json:"cpus"`
	NumSockets     int    `json:"num_sockets"`
	RuntimeVersion string `json:"runtime_version"`
}

var (
	systemInfo     Info
	systemInfoOnce sync.Once
)

// System returns the static part of the host description.
func System() Info {
	systemInfoOnce.Do(func() {
		systemInfo = collectSystem()
	})
	return systemInfo
}

// Describe returns the host description including the container runtime
// version reported by binary.
func Describe(ctx context.Context, runner shell.Runner, binary string) Info {
	info := System()
	info.RuntimeVersion = "unknown"

	out, err := runner.Output(ctx, binary, "--version")
	if err != nil {
		logging.GetLogger().WithField("binary", binary).WithError(err).Warn("Failed to query runtime version")
	} else if v := strings.TrimSpace(out); v != "" {
		info.RuntimeVersion = v
	}

	logging.GetLogger().WithFields(logrus.Fields{
		"hostname":        info.Hostname,
		"kernel":          info.KernelVersion,
		"cpu_model":       info.CPUModel,
		"cpus":            info.CPUs,
		"runtime_version": info.RuntimeVersion,
	}).Info("Host configuration initialized")
	return info
}

func collectSystem() Info {
	info := Info{
		OSInfo:        runtime.GOOS + "/" + runtime.GOARCH,
		KernelVersion: "unknown",
		CPUs:          runtime.NumCPU(),
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	info.Hostname = hostname

	if data, err := os.ReadFile("/proc/version"); err == nil {
		info.KernelVersion = kernelVersion(string(data))
	}

	if f, err := os.Open("/proc/cpuinfo"); err == nil {
		info.CPUVendor, info.CPUModel, info.NumSockets = parseCPUInfo(f)
		f.Close()
	}
	if info.CPUVendor == "" {
		info.CPUVendor = "unknown"
	}
	if info.CPUModel == "" {
		info.CPUModel = "unknown"
	}
	if info.NumSockets == 0 {
		info.NumSockets = 1
	}
	return info
}

// kernelVersion extracts the release from a /proc/version line.
func kernelVersion(procVersion string) string {
	fields := strings.Fields(procVersion)
	if len(fields) >= 3 {
		return fields[2]
	}
	return "unknown"
}

// parseCPUInfo reads vendor, model and the number of distinct physical
// packages from /proc/cpuinfo content.
func parseCPUInfo(r io.Reader) (vendor, model string, sockets int) {
	physicalIDs := make(map[string]struct{})

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "vendor_id":
			if vendor == "" {
				vendor = value
			}
		case "model name":
			if model == "" {
				model = value
			}
		case "physical id":
			physicalIDs[value] = struct{}{}
		}
	}
	return vendor, model, len(physicalIDs)
}
