// Package telemetry exposes sweep progress in Prometheus format so a long
// campaign can be watched from a dashboard.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"snapshotter-bench/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Exporter struct {
	snapshotter string
	registry    *prometheus.Registry

	runsTotal          *prometheus.CounterVec
	provisioningTime   *prometheus.HistogramVec
	remoteFetchGauge   *prometheus.GaugeVec
	errorCounter       *prometheus.CounterVec
	skippedConditions  prometheus.Counter
	conditionGauge     *prometheus.GaugeVec
	plannedRunsGauge   prometheus.Gauge
	completedRunsTotal prometheus.Counter
}

// NewExporter builds an exporter with its own registry, so several
// exporters can coexist in one process.
func NewExporter(snapshotter string) *Exporter {
	constLabels := prometheus.Labels{"snapshotter": snapshotter}

	e := &Exporter{
		snapshotter: snapshotter,
		registry:    prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "snapbench_runs_total",
				Help:        "Container runs by outcome",
				ConstLabels: constLabels,
			},
			[]string{"container", "outcome"},
		),
		provisioningTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "snapbench_provisioning_seconds",
				Help:        "Measured provisioning time",
				ConstLabels: constLabels,
				Buckets:     prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
			},
			[]string{"container"},
		),
		remoteFetchGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "snapbench_remote_fetch_count",
				Help:        "On-demand remote fetch count of the last run",
				ConstLabels: constLabels,
			},
			[]string{"container"},
		),
		errorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "snapbench_errors_total",
				Help:        "Run-scoped failures by stage",
				ConstLabels: constLabels,
			},
			[]string{"stage"},
		),
		skippedConditions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "snapbench_skipped_conditions_total",
				Help:        "Network conditions skipped because shaping failed",
				ConstLabels: constLabels,
			},
		),
		conditionGauge: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name:        "snapbench_network_condition",
				Help:        "Network condition currently applied",
				ConstLabels: constLabels,
			},
			[]string{"dimension"},
		),
		plannedRunsGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "snapbench_planned_runs",
				Help:        "Runs the sweep plans to perform",
				ConstLabels: constLabels,
			},
		),
		completedRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name:        "snapbench_completed_runs_total",
				Help:        "Runs that produced a provisioning row",
				ConstLabels: constLabels,
			},
		),
	}

	e.registry.MustRegister(
		e.runsTotal,
		e.provisioningTime,
		e.remoteFetchGauge,
		e.errorCounter,
		e.skippedConditions,
		e.conditionGauge,
		e.plannedRunsGauge,
		e.completedRunsTotal,
	)

	return e
}

func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.GetLogger().WithField("addr", addr).Info("Serving sweep telemetry")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (e *Exporter) SetPlannedRuns(n int) {
	e.plannedRunsGauge.Set(float64(n))
}

func (e *Exporter) ConditionApplied(bandwidthMbps, latencyMs int) {
	e.conditionGauge.WithLabelValues("bandwidth_mbps").Set(float64(bandwidthMbps))
	e.conditionGauge.WithLabelValues("latency_ms").Set(float64(latencyMs))
}

func (e *Exporter) ConditionSkipped(bandwidthMbps, latencyMs int) {
	e.skippedConditions.Inc()
}

// RunRecorded counts a run by outcome. seconds is observed only for
// measured runs.
func (e *Exporter) RunRecorded(container, outcome string, seconds float64, measured bool) {
	e.runsTotal.WithLabelValues(container, outcome).Inc()
	e.completedRunsTotal.Inc()
	if measured {
		e.provisioningTime.WithLabelValues(container).Observe(seconds)
	}
}

func (e *Exporter) FetchCount(container string, sum uint64) {
	e.remoteFetchGauge.WithLabelValues(container).Set(float64(sum))
}

func (e *Exporter) RunFailed(stage string) {
	e.errorCounter.WithLabelValues(stage).Inc()
}
