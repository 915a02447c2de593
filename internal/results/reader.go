package results

import (
	"fmt"
	"strconv"

	"snapshotter-bench/internal/monitor"
	"snapshotter-bench/internal/netem"
)

// ProvisioningRecord is a parsed row of the provisioning table. Duration
// is the nominal sentinel value for runs that were not measured.
type ProvisioningRecord struct {
	Container string
	Iteration int
	Time      string
	Duration  float64 // seconds
	Outcome   monitor.Outcome
	Condition netem.Condition
}

// ReadProvisioning loads every data row of a provisioning table.
func ReadProvisioning(path string) ([]ProvisioningRecord, error) {
	rows, err := readRows(path, ProvisioningHeader)
	if err != nil {
		return nil, err
	}

	out := make([]ProvisioningRecord, 0, len(rows))
	for i, row := range rows {
		iteration, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: invalid iteration %q", path, i+2, row[1])
		}
		d, outcome, err := ParseElapsed(row[2])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		cond, err := parseCondition(row[3], row[4])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		out = append(out, ProvisioningRecord{
			Container: row[0],
			Iteration: iteration,
			Time:      row[2],
			Duration:  d.Seconds(),
			Outcome:   outcome,
			Condition: cond,
		})
	}
	return out, nil
}

// ReadMetrics loads every data row of a metrics table.
func ReadMetrics(path string) ([]MetricsObservation, error) {
	rows, err := readRows(path, MetricsHeader)
	if err != nil {
		return nil, err
	}

	out := make([]MetricsObservation, 0, len(rows))
	for i, row := range rows {
		iteration, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: invalid iteration %q", path, i+2, row[1])
		}
		sum, err := strconv.ParseUint(row[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: invalid metrics sum %q", path, i+2, row[2])
		}
		cond, err := parseCondition(row[3], row[4])
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		out = append(out, MetricsObservation{
			Container: row[0],
			Iteration: iteration,
			Sum:       sum,
			Condition: cond,
		})
	}
	return out, nil
}

func parseCondition(rtt, bandwidth string) (netem.Condition, error) {
	lat, err := ParseRTT(rtt)
	if err != nil {
		return netem.Condition{}, err
	}
	bw, err := ParseBandwidth(bandwidth)
	if err != nil {
		return netem.Condition{}, err
	}
	return netem.Condition{BandwidthMbps: bw, LatencyMs: lat}, nil
}
