// Package metrics scrapes the on-demand remote fetch counter that lazy-pull
// snapshotters expose.
package metrics

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"snapshotter-bench/internal/config"
	"snapshotter-bench/internal/logging"
	"snapshotter-bench/internal/snapshotter"

	"github.com/sirupsen/logrus"
)

// FetchOperation is the operation_type label value the collector sums.
const FetchOperation = "on_demand_remote_registry_fetch_count"

var ErrUnexpectedStatus = errors.New("unexpected metrics response status")

// Sample is one scrape. Applicable is false for snapshotters without a
// metrics endpoint; Sum is meaningless then.
type Sample struct {
	Sum        uint64
	Applicable bool
}

type Collector struct {
	kind    snapshotter.Kind
	url     string
	pattern *regexp.Regexp
	client  *http.Client
}

// NewCollector scrapes the kind's own metrics port on host.
func NewCollector(kind snapshotter.Kind, host string, timeout time.Duration) *Collector {
	return newCollector(kind, host, 0, timeout)
}

// NewCollectorFromConfig honours a configured port override.
func NewCollectorFromConfig(cfg *config.BenchmarkConfig, kind snapshotter.Kind) *Collector {
	return newCollector(kind, cfg.Metrics.Host, cfg.Metrics.Port, cfg.Metrics.Timeout)
}

func newCollector(kind snapshotter.Kind, host string, port int, timeout time.Duration) *Collector {
	c := &Collector{
		kind:   kind,
		client: &http.Client{Timeout: timeout},
	}
	if kind.HasMetrics() {
		spec := kind.Spec()
		if port == 0 {
			port = spec.MetricsPort
		}
		c.url = fmt.Sprintf("http://%s:%d/metrics", host, port)
		c.pattern = FetchCountPattern(spec.MetricName)
	}
	return c
}

// FetchCountPattern matches one exposition line of metric carrying the
// remote fetch operation label and captures its integer value.
func FetchCountPattern(metric string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(metric) + `\{.*operation_type="` + FetchOperation + `"\} (\d+)`)
}

// URL is the endpoint scraped, empty when the kind has none.
func (c *Collector) URL() string {
	return c.url
}

// Collect issues a single GET and sums every matching counter line. It does
// not retry.
func (c *Collector) Collect(ctx context.Context) (Sample, error) {
	if c.pattern == nil {
		return Sample{}, nil
	}

	logger := logging.GetLogger().WithFields(logrus.Fields{
		"snapshotter": c.kind.String(),
		"url":         c.url,
	})
	logger.Debug("Capturing metrics")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to build metrics request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Sample{}, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	var sum uint64
	matched := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		m := c.pattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		v, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("failed to parse counter value %q: %w", m[1], err)
		}
		sum += v
		matched++
	}
	if err := scanner.Err(); err != nil {
		return Sample{}, fmt.Errorf("failed to read metrics body: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"matched_lines": matched,
		"sum":           sum,
	}).Info("Captured metrics")

	return Sample{Sum: sum, Applicable: true}, nil
}
