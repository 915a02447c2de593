// Package orchestrator drives the experiment sweep: for every network
// condition it resets the environment before each container run, measures
// the run and records the outcome.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"snapshotter-bench/internal/config"
	"snapshotter-bench/internal/database"
	"snapshotter-bench/internal/logging"
	"snapshotter-bench/internal/metrics"
	"snapshotter-bench/internal/monitor"
	"snapshotter-bench/internal/netem"
	"snapshotter-bench/internal/results"
	"snapshotter-bench/internal/snapshotter"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
)

type Shaper interface {
	Apply(ctx context.Context, c netem.Condition) error
}

type Resetter interface {
	Reset(ctx context.Context) error
}

type Runner interface {
	Run(ctx context.Context, container string) (monitor.Elapsed, error)
}

type Collector interface {
	Collect(ctx context.Context) (metrics.Sample, error)
}

type Recorder interface {
	RecordProvisioning(o results.Observation) error
	RecordMetrics(m results.MetricsObservation) error
}

// Mirror receives a copy of every recorded run.
type Mirror interface {
	WriteRun(ctx context.Context, rec database.RunRecord) error
}

// Progress is notified as the sweep advances.
type Progress interface {
	SetPlannedRuns(n int)
	ConditionApplied(bandwidthMbps, latencyMs int)
	ConditionSkipped(bandwidthMbps, latencyMs int)
	RunRecorded(container, outcome string, seconds float64, measured bool)
	FetchCount(container string, sum uint64)
	RunFailed(stage string)
}

// Stages reported to Progress.RunFailed.
const (
	StageLaunch  = "launch"
	StageRecord  = "record"
	StageMetrics = "metrics"
	StageMirror  = "mirror"
)

// Summary describes a finished or interrupted sweep.
type Summary struct {
	Started           time.Time
	Finished          time.Time
	PlannedRuns       int
	CompletedRuns     int
	FailedRuns        int
	SkippedConditions int
}

type Orchestrator struct {
	kind      snapshotter.Kind
	plan      config.ExperimentConfig
	shaper    Shaper
	resetter  Resetter
	runner    Runner
	collector Collector
	recorder  Recorder
	mirror    Mirror
	progress  Progress
}

func New(kind snapshotter.Kind, plan config.ExperimentConfig, shaper Shaper, resetter Resetter, runner Runner, collector Collector, recorder Recorder) *Orchestrator {
	return &Orchestrator{
		kind:      kind,
		plan:      plan,
		shaper:    shaper,
		resetter:  resetter,
		runner:    runner,
		collector: collector,
		recorder:  recorder,
		progress:  noProgress{},
	}
}

func (o *Orchestrator) WithMirror(m Mirror) *Orchestrator {
	o.mirror = m
	return o
}

func (o *Orchestrator) WithProgress(p Progress) *Orchestrator {
	if p == nil {
		p = noProgress{}
	}
	o.progress = p
	return o
}

// Run performs the sweep in bandwidth, latency, container, iteration order.
// A reset failure or cancellation stops the sweep and is returned; every
// other failure is confined to the run or condition that produced it.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	logger := logging.GetLogger()

	summary := Summary{
		Started:     time.Now(),
		PlannedRuns: o.plan.TotalRuns(),
	}

	o.progress.SetPlannedRuns(summary.PlannedRuns)
	logger.WithFields(logrus.Fields{
		"snapshotter": o.kind.String(),
		"bandwidths":  o.plan.Bandwidths,
		"latencies":   o.plan.Latencies,
		"containers":  len(o.plan.Containers),
		"iterations":  o.plan.Iterations,
		"runs":        summary.PlannedRuns,
	}).Info("Starting experiment")

	for _, bw := range o.plan.Bandwidths {
		for _, lat := range o.plan.Latencies {
			if err := ctx.Err(); err != nil {
				summary.Finished = time.Now()
				return summary, err
			}

			cond := netem.Condition{BandwidthMbps: bw, LatencyMs: lat}
			if err := o.shaper.Apply(ctx, cond); err != nil {
				if ctx.Err() != nil {
					summary.Finished = time.Now()
					return summary, ctx.Err()
				}
				logger.WithFields(logrus.Fields{
					"bandwidth": cond.Bandwidth(),
					"rtt":       cond.RTT(),
				}).WithError(err).Error("Failed to apply network condition, skipping it")
				o.progress.ConditionSkipped(bw, lat)
				summary.SkippedConditions++
				continue
			}
			o.progress.ConditionApplied(bw, lat)

			if err := o.sweepCondition(ctx, cond, &summary); err != nil {
				summary.Finished = time.Now()
				return summary, err
			}
		}
	}

	summary.Finished = time.Now()
	logger.WithFields(logrus.Fields{
		"completed_runs":     summary.CompletedRuns,
		"failed_runs":        summary.FailedRuns,
		"skipped_conditions": summary.SkippedConditions,
		"duration":           units.HumanDuration(summary.Finished.Sub(summary.Started)),
	}).Info("Experiment finished")
	return summary, nil
}

func (o *Orchestrator) sweepCondition(ctx context.Context, cond netem.Condition, summary *Summary) error {
	for _, container := range o.plan.Containers {
		for i := 1; i <= o.plan.Iterations; i++ {
			recorded, err := o.runOnce(ctx, cond, container, i)
			if err != nil {
				return err
			}
			if recorded {
				summary.CompletedRuns++
			} else {
				summary.FailedRuns++
			}
		}
	}
	return nil
}

// runOnce resets, runs and records one iteration. It reports whether a
// provisioning row was written.
func (o *Orchestrator) runOnce(ctx context.Context, cond netem.Condition, container string, iteration int) (bool, error) {
	logger := logging.GetLogger().WithFields(logrus.Fields{
		"container": container,
		"iteration": iteration,
		"bandwidth": cond.Bandwidth(),
		"rtt":       cond.RTT(),
	})

	if err := o.resetter.Reset(ctx); err != nil {
		logger.WithError(err).Error("Environment reset failed, stopping experiment")
		return false, fmt.Errorf("reset before %s iteration %d: %w", container, iteration, err)
	}

	elapsed, err := o.runner.Run(ctx, container)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logger.WithError(err).Error("Container run failed")
		o.progress.RunFailed(StageLaunch)
		return false, nil
	}

	recorded := true
	if err := o.recorder.RecordProvisioning(results.Observation{
		Container: container,
		Iteration: iteration,
		Elapsed:   elapsed,
		Condition: cond,
	}); err != nil {
		logger.WithError(err).Error("Failed to record provisioning time")
		o.progress.RunFailed(StageRecord)
		recorded = false
	}
	seconds := nominalSeconds(elapsed)
	o.progress.RunRecorded(container, elapsed.Outcome.String(), seconds, elapsed.Outcome.Measured())

	rec := database.RunRecord{
		Container:     container,
		Iteration:     iteration,
		BandwidthMbps: cond.BandwidthMbps,
		LatencyMs:     cond.LatencyMs,
		Outcome:       elapsed.Outcome.String(),
		Time:          elapsed.String(),
		Seconds:       seconds,
		Timestamp:     time.Now(),
	}

	sample, err := o.collector.Collect(ctx)
	switch {
	case err != nil:
		logger.WithError(err).Warn("Failed to collect metrics, no metrics row for this run")
		o.progress.RunFailed(StageMetrics)
	case sample.Applicable:
		sum := sample.Sum
		rec.MetricsSum = &sum
		o.progress.FetchCount(container, sum)
		if err := o.recorder.RecordMetrics(results.MetricsObservation{
			Container: container,
			Iteration: iteration,
			Sum:       sum,
			Condition: cond,
		}); err != nil {
			logger.WithError(err).Error("Failed to record metrics sum")
			o.progress.RunFailed(StageRecord)
		}
	}

	if o.mirror != nil {
		if err := o.mirror.WriteRun(ctx, rec); err != nil {
			logger.WithError(err).Warn("Failed to mirror run")
			o.progress.RunFailed(StageMirror)
		}
	}

	return recorded, nil
}

// nominalSeconds matches what the Time column parses back to.
func nominalSeconds(e monitor.Elapsed) float64 {
	if !e.Outcome.Measured() {
		return 90
	}
	return e.Duration.Seconds()
}

type noProgress struct{}

func (noProgress) SetPlannedRuns(int)                        {}
func (noProgress) ConditionApplied(int, int)                 {}
func (noProgress) ConditionSkipped(int, int)                 {}
func (noProgress) RunRecorded(string, string, float64, bool) {}
func (noProgress) FetchCount(string, uint64)                 {}
func (noProgress) RunFailed(string)                          {}
