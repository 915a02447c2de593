package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type planChecksumReadiness struct {
	Container string `json:"container"`
	Message   string `json:"message"`
}

type planChecksumPayload struct {
	Snapshotter      string                  `json:"snapshotter"`
	Bandwidths       []int                   `json:"bandwidths"`
	Latencies        []int                   `json:"latencies"`
	Containers       []string                `json:"containers"`
	Iterations       int                     `json:"iterations"`
	Readiness        []planChecksumReadiness `json:"readiness"`
	Registry         string                  `json:"registry"`
	ShortRunTimeoutS float64                 `json:"short_run_timeout_s"`
}

// PlanChecksum returns a short, stable checksum that identifies the sweep
// (what gets measured, under which conditions), independent of where the
// results are written.
//
// It computes MD5 over a canonical JSON representation and returns the first 6 hex
// characters (equivalent to `md5sum | cut -c1-6`).
func PlanChecksum(cfg *BenchmarkConfig, snapshotter string) (string, error) {
	if cfg == nil {
		return "", nil
	}

	readiness := make([]planChecksumReadiness, 0, len(cfg.Experiment.Readiness))
	for container, msg := range cfg.Experiment.Readiness {
		if msg == "" {
			continue
		}
		readiness = append(readiness, planChecksumReadiness{Container: container, Message: msg})
	}
	sort.Slice(readiness, func(i, j int) bool {
		return readiness[i].Container < readiness[j].Container
	})

	payload := planChecksumPayload{
		Snapshotter:      snapshotter,
		Bandwidths:       cfg.Experiment.Bandwidths,
		Latencies:        cfg.Experiment.Latencies,
		Containers:       cfg.Experiment.Containers,
		Iterations:       cfg.Experiment.Iterations,
		Readiness:        readiness,
		Registry:         cfg.Runtime.Registry,
		ShortRunTimeoutS: cfg.Runtime.ShortRunTimeout.Seconds(),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
