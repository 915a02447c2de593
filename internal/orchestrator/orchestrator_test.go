package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"snapshotter-bench/internal/config"
	"snapshotter-bench/internal/database"
	"snapshotter-bench/internal/metrics"
	"snapshotter-bench/internal/monitor"
	"snapshotter-bench/internal/netem"
	"snapshotter-bench/internal/reset"
	"snapshotter-bench/internal/results"
	"snapshotter-bench/internal/snapshotter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// events is the shared call log of the fakes below.
type events struct {
	log []string
}

func (e *events) add(format string, args ...interface{}) {
	e.log = append(e.log, fmt.Sprintf(format, args...))
}

type fakeShaper struct {
	ev   *events
	fail map[netem.Condition]error
}

func (f *fakeShaper) Apply(ctx context.Context, c netem.Condition) error {
	f.ev.add("apply %s/%s", c.Bandwidth(), c.RTT())
	return f.fail[c]
}

type fakeResetter struct {
	ev     *events
	calls  int
	failAt int
}

func (f *fakeResetter) Reset(ctx context.Context) error {
	f.calls++
	f.ev.add("reset")
	if f.failAt != 0 && f.calls == f.failAt {
		return fmt.Errorf("%w: image prune: exit status 1", reset.ErrResetFailed)
	}
	return nil
}

type fakeRunner struct {
	ev      *events
	elapsed map[string]monitor.Elapsed
	errs    map[string]error
	hook    func(container string)
}

func (f *fakeRunner) Run(ctx context.Context, container string) (monitor.Elapsed, error) {
	f.ev.add("run %s", container)
	if f.hook != nil {
		f.hook(container)
	}
	if err := ctx.Err(); err != nil {
		return monitor.Elapsed{}, err
	}
	if err := f.errs[container]; err != nil {
		return monitor.Elapsed{}, err
	}
	if e, ok := f.elapsed[container]; ok {
		return e, nil
	}
	return monitor.Elapsed{Duration: time.Second, Outcome: monitor.Completed}, nil
}

type fakeCollector struct {
	sample metrics.Sample
	err    error
}

func (f *fakeCollector) Collect(ctx context.Context) (metrics.Sample, error) {
	return f.sample, f.err
}

type fakeMirror struct {
	records []database.RunRecord
}

func (f *fakeMirror) WriteRun(ctx context.Context, rec database.RunRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type fakeProgress struct {
	planned  int
	applied  []string
	skipped  []string
	outcomes []string
	failed   []string
	fetches  []uint64
}

func (f *fakeProgress) SetPlannedRuns(n int) { f.planned = n }
func (f *fakeProgress) ConditionApplied(bw, lat int) {
	f.applied = append(f.applied, fmt.Sprintf("%d/%d", bw, lat))
}
func (f *fakeProgress) ConditionSkipped(bw, lat int) {
	f.skipped = append(f.skipped, fmt.Sprintf("%d/%d", bw, lat))
}
func (f *fakeProgress) RunRecorded(container, outcome string, seconds float64, measured bool) {
	f.outcomes = append(f.outcomes, container+":"+outcome)
}
func (f *fakeProgress) FetchCount(container string, sum uint64) { f.fetches = append(f.fetches, sum) }
func (f *fakeProgress) RunFailed(stage string)                  { f.failed = append(f.failed, stage) }

func plan(latencies []int, containers []string, iterations int) config.ExperimentConfig {
	return config.ExperimentConfig{
		Name:       "test",
		Bandwidths: []int{500},
		Latencies:  latencies,
		Containers: containers,
		Iterations: iterations,
	}
}

func tempRecorder(t *testing.T) *results.Recorder {
	t.Helper()
	dir := t.TempDir()
	return results.NewRecorder(filepath.Join(dir, "prov.csv"), filepath.Join(dir, "metrics.csv"))
}

func tableLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\r\n"), "\r\n")
}

func TestRun_SweepOrder(t *testing.T) {
	ev := &events{}
	o := New(snapshotter.Overlayfs,
		plan([]int{0, 50}, []string{"alpine", "gcc"}, 2),
		&fakeShaper{ev: ev},
		&fakeResetter{ev: ev},
		&fakeRunner{ev: ev},
		&fakeCollector{},
		tempRecorder(t),
	)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	perCondition := []string{
		"reset", "run alpine", "reset", "run alpine",
		"reset", "run gcc", "reset", "run gcc",
	}
	want := append([]string{"apply 500Mbps/0ms"}, perCondition...)
	want = append(want, "apply 500Mbps/50ms")
	want = append(want, perCondition...)
	assert.Equal(t, want, ev.log)

	assert.Equal(t, 8, summary.PlannedRuns)
	assert.Equal(t, 8, summary.CompletedRuns)
	assert.Zero(t, summary.FailedRuns)
	assert.False(t, summary.Finished.Before(summary.Started))
}

func TestRun_BaselineShortRun(t *testing.T) {
	ev := &events{}
	rec := tempRecorder(t)
	o := New(snapshotter.Overlayfs,
		plan([]int{100}, []string{"alpine"}, 1),
		&fakeShaper{ev: ev},
		&fakeResetter{ev: ev},
		&fakeRunner{ev: ev, elapsed: map[string]monitor.Elapsed{
			"alpine": {Duration: 3200 * time.Millisecond, Outcome: monitor.Completed},
		}},
		metrics.NewCollector(snapshotter.Overlayfs, "127.0.0.1", time.Second),
		rec,
	)

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Container,Iteration,Time,RTT,Bandwidth",
		"alpine,1,0m3.200s,100ms,500Mbps",
	}, tableLines(t, rec.ProvisioningPath()))

	_, err = os.Stat(rec.MetricsPath())
	assert.True(t, os.IsNotExist(err), "baseline runs produce no metrics rows")
}

func TestRun_LazyPullWithMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Join([]string{
			`# TYPE stargz_fs_operation_count counter`,
			`stargz_fs_operation_count{layer="sha256:aa",operation_type="on_demand_remote_registry_fetch_count"} 4`,
			`stargz_fs_operation_count{layer="sha256:bb",operation_type="on_demand_remote_registry_fetch_count"} 9`,
			`stargz_fs_operation_count{layer="sha256:aa",operation_type="on_demand_read"} 120`,
		}, "\n")+"\n")
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Metrics.Port = port

	ev := &events{}
	rec := tempRecorder(t)
	mirror := &fakeMirror{}
	progress := &fakeProgress{}
	o := New(snapshotter.Stargz,
		plan([]int{100}, []string{"redis"}, 1),
		&fakeShaper{ev: ev},
		&fakeResetter{ev: ev},
		&fakeRunner{ev: ev, elapsed: map[string]monitor.Elapsed{
			"redis": {Duration: 12700 * time.Millisecond, Outcome: monitor.Ready},
		}},
		metrics.NewCollectorFromConfig(cfg, snapshotter.Stargz),
		rec,
	).WithMirror(mirror).WithProgress(progress)

	_, err = o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "redis,1,0m12.700s,100ms,500Mbps", tableLines(t, rec.ProvisioningPath())[1])
	assert.Equal(t, []string{
		"Container,Iteration,Metrics Sum,RTT,Bandwidth",
		"redis,1,13,100ms,500Mbps",
	}, tableLines(t, rec.MetricsPath()))

	require.Len(t, mirror.records, 1)
	got := mirror.records[0]
	assert.Equal(t, "ready", got.Outcome)
	assert.Equal(t, "0m12.700s", got.Time)
	assert.InDelta(t, 12.7, got.Seconds, 1e-9)
	require.NotNil(t, got.MetricsSum)
	assert.Equal(t, uint64(13), *got.MetricsSum)

	assert.Equal(t, 1, progress.planned)
	assert.Equal(t, []string{"redis:ready"}, progress.outcomes)
	assert.Equal(t, []uint64{13}, progress.fetches)
}

func TestRun_ShapingFailureSkipsCondition(t *testing.T) {
	ev := &events{}
	rec := tempRecorder(t)
	progress := &fakeProgress{}
	o := New(snapshotter.Fleet,
		plan([]int{50, 100, 150}, []string{"nginx"}, 1),
		&fakeShaper{ev: ev, fail: map[netem.Condition]error{
			{BandwidthMbps: 500, LatencyMs: 100}: fmt.Errorf("%w: tc: command not found", netem.ErrRemoteStderr),
		}},
		&fakeResetter{ev: ev},
		&fakeRunner{ev: ev},
		&fakeCollector{sample: metrics.Sample{Sum: 2, Applicable: true}},
		rec,
	).WithProgress(progress)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"apply 500Mbps/50ms", "reset", "run nginx",
		"apply 500Mbps/100ms",
		"apply 500Mbps/150ms", "reset", "run nginx",
	}, ev.log)
	assert.Equal(t, 1, summary.SkippedConditions)
	assert.Equal(t, []string{"500/100"}, progress.skipped)
	assert.Equal(t, []string{"500/50", "500/150"}, progress.applied)

	for _, path := range []string{rec.ProvisioningPath(), rec.MetricsPath()} {
		lines := tableLines(t, path)
		require.Len(t, lines, 3)
		assert.True(t, strings.HasSuffix(lines[1], ",50ms,500Mbps"))
		assert.True(t, strings.HasSuffix(lines[2], ",150ms,500Mbps"))
	}
}

func TestRun_ResetFailureIsFatal(t *testing.T) {
	ev := &events{}
	rec := tempRecorder(t)
	o := New(snapshotter.Stargz,
		plan([]int{0, 50}, []string{"ubuntu", "node"}, 1),
		&fakeShaper{ev: ev},
		&fakeResetter{ev: ev, failAt: 2},
		&fakeRunner{ev: ev},
		&fakeCollector{},
		rec,
	)

	summary, err := o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, reset.ErrResetFailed)

	assert.Equal(t, []string{"apply 500Mbps/0ms", "reset", "run ubuntu", "reset"}, ev.log)
	assert.Equal(t, 1, summary.CompletedRuns)
	assert.Len(t, tableLines(t, rec.ProvisioningPath()), 2)
}

func TestRun_RunScopedFailures(t *testing.T) {
	ev := &events{}
	rec := tempRecorder(t)
	progress := &fakeProgress{}
	o := New(snapshotter.Fleet,
		plan([]int{0}, []string{"mysql", "kafka"}, 1),
		&fakeShaper{ev: ev},
		&fakeResetter{ev: ev},
		&fakeRunner{ev: ev, errs: map[string]error{
			"mysql": errors.New("exec: \"nerdctl\": executable file not found in $PATH"),
		}},
		&fakeCollector{err: metrics.ErrUnexpectedStatus},
		rec,
	).WithProgress(progress)

	summary, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.FailedRuns)
	assert.Equal(t, 1, summary.CompletedRuns)
	assert.Equal(t, []string{StageLaunch, StageMetrics}, progress.failed)

	// The provisioning row is kept even though metrics failed.
	assert.Equal(t, []string{
		"Container,Iteration,Time,RTT,Bandwidth",
		"kafka,1,0m1.000s,0ms,500Mbps",
	}, tableLines(t, rec.ProvisioningPath()))
	_, err = os.Stat(rec.MetricsPath())
	assert.True(t, os.IsNotExist(err))
}

func TestRun_SentinelsAreRecorded(t *testing.T) {
	ev := &events{}
	rec := tempRecorder(t)
	o := New(snapshotter.Overlayfs,
		plan([]int{0}, []string{"gcc", "tomcat"}, 1),
		&fakeShaper{ev: ev},
		&fakeResetter{ev: ev},
		&fakeRunner{ev: ev, elapsed: map[string]monitor.Elapsed{
			"gcc":    {Outcome: monitor.TimedOut},
			"tomcat": {Outcome: monitor.NoReadiness},
		}},
		&fakeCollector{},
		rec,
	)

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Container,Iteration,Time,RTT,Bandwidth",
		"gcc,1,90s (timeout),0ms,500Mbps",
		"tomcat,1,90s (timeout) init,0ms,500Mbps",
	}, tableLines(t, rec.ProvisioningPath()))
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ev := &events{}
	o := New(snapshotter.Overlayfs,
		plan([]int{0, 50}, []string{"httpd", "postgres"}, 2),
		&fakeShaper{ev: ev},
		&fakeResetter{ev: ev},
		&fakeRunner{ev: ev, hook: func(string) { cancel() }},
		&fakeCollector{},
		tempRecorder(t),
	)

	summary, err := o.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"apply 500Mbps/0ms", "reset", "run httpd"}, ev.log)
	assert.Zero(t, summary.CompletedRuns)
}
