package reset

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"snapshotter-bench/internal/snapshotter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRuntime is a tiny in-memory container runtime that understands the
// commands the reset manager issues.
type fakeRuntime struct {
	running  map[string]bool
	stopped  map[string]bool
	images   map[string]bool
	stateDir map[string]bool // dirs that currently hold data

	calls []string
	fail  map[string]error // command line prefix -> error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		running:  map[string]bool{"c1": true, "c2": true},
		stopped:  map[string]bool{"c3": true},
		images:   map[string]bool{"redis:sta": true, "alpine:sta": true},
		stateDir: map[string]bool{},
		fail:     map[string]error{},
	}
}

func (f *fakeRuntime) Run(ctx context.Context, name string, args ...string) error {
	_, err := f.Output(ctx, name, args...)
	return err
}

func (f *fakeRuntime) Output(ctx context.Context, name string, args ...string) (string, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, line)
	for prefix, err := range f.fail {
		if strings.HasPrefix(line, prefix) {
			return "", err
		}
	}

	switch {
	case line == "nerdctl ps -q":
		return ids(f.running), nil
	case line == "nerdctl ps -a -q":
		all := map[string]bool{}
		for id := range f.running {
			all[id] = true
		}
		for id := range f.stopped {
			all[id] = true
		}
		return ids(all), nil
	case strings.HasPrefix(line, "nerdctl stop "):
		for _, id := range args[1:] {
			delete(f.running, id)
			f.stopped[id] = true
		}
	case strings.HasPrefix(line, "nerdctl rm -f "):
		for _, id := range args[2:] {
			delete(f.running, id)
			delete(f.stopped, id)
		}
	case line == "nerdctl image prune -af":
		f.images = map[string]bool{}
	case strings.HasPrefix(line, "sudo sh -c rm -rf "):
		for dir := range f.stateDir {
			if strings.Contains(line, dir) {
				delete(f.stateDir, dir)
			}
		}
	}
	return "", nil
}

func ids(set map[string]bool) string {
	var out []string
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return strings.Join(out, "\n")
}

func newTestManager(kind snapshotter.Kind, rt *fakeRuntime) *Manager {
	m := NewManager(kind, Config{Binary: "nerdctl", Sudo: true}, rt)
	m.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return m
}

func TestReset_LazyPullSequence(t *testing.T) {
	rt := newFakeRuntime()
	m := newTestManager(snapshotter.Stargz, rt)

	require.NoError(t, m.Reset(context.Background()))

	assert.Equal(t, []string{
		"nerdctl ps -q",
		"nerdctl stop c1 c2",
		"nerdctl ps -a -q",
		"nerdctl rm -f c1 c2 c3",
		"nerdctl image prune -af",
		"sudo systemctl restart stargz-snapshotter",
		"sudo systemctl stop stargz-snapshotter",
		"sudo sh -c rm -rf '/var/lib/containerd-stargz-grpc'/*",
		"sudo systemctl restart stargz-snapshotter",
	}, rt.calls)
}

func TestReset_BaselineSequence(t *testing.T) {
	rt := newFakeRuntime()
	m := newTestManager(snapshotter.Overlayfs, rt)

	require.NoError(t, m.Reset(context.Background()))

	assert.Equal(t, []string{
		"nerdctl ps -q",
		"nerdctl stop c1 c2",
		"nerdctl ps -a -q",
		"nerdctl rm -f c1 c2 c3",
		"nerdctl image prune -af",
		"sudo sh -c rm -rf '/var/lib/containerd/io.containerd.snapshotter.v1.overlayfs'/*",
		"sudo systemctl restart containerd",
	}, rt.calls)
}

func TestReset_PostConditionAndIdempotence(t *testing.T) {
	rt := newFakeRuntime()
	rt.stateDir["/var/lib/containerd-fleet-grpc"] = true
	m := newTestManager(snapshotter.Fleet, rt)

	for i := 0; i < 2; i++ {
		require.NoError(t, m.Reset(context.Background()), "reset #%d", i+1)
		assert.Empty(t, rt.running)
		assert.Empty(t, rt.stopped)
		assert.Empty(t, rt.images)
		assert.Empty(t, rt.stateDir)
	}

	// The second reset found nothing to stop or remove.
	second := rt.calls[len(rt.calls)-7:]
	assert.Equal(t, "nerdctl ps -q", second[0])
	assert.Equal(t, "nerdctl ps -a -q", second[1])
	assert.Equal(t, "nerdctl image prune -af", second[2])
}

func TestReset_StopFailureIsTolerated(t *testing.T) {
	rt := newFakeRuntime()
	rt.fail["nerdctl stop"] = errors.New("no such container")
	m := newTestManager(snapshotter.Stargz, rt)

	require.NoError(t, m.Reset(context.Background()))
	assert.Empty(t, rt.images)
}

func TestReset_FatalSteps(t *testing.T) {
	for _, prefix := range []string{
		"nerdctl ps -a -q",
		"nerdctl rm -f",
		"nerdctl image prune",
		"sudo systemctl stop",
		"sudo sh -c rm -rf",
	} {
		t.Run(prefix, func(t *testing.T) {
			rt := newFakeRuntime()
			rt.fail[prefix] = errors.New("exit status 1")
			m := newTestManager(snapshotter.Fleet, rt)

			err := m.Reset(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrResetFailed)
		})
	}
}

func TestReset_BaselineRestartFailureIsFatal(t *testing.T) {
	rt := newFakeRuntime()
	rt.fail["sudo systemctl restart containerd"] = errors.New("unit not found")
	m := newTestManager(snapshotter.Overlayfs, rt)

	assert.ErrorIs(t, m.Reset(context.Background()), ErrResetFailed)
}

func TestReset_WithoutSudo(t *testing.T) {
	rt := newFakeRuntime()
	m := newTestManager(snapshotter.Overlayfs, rt)
	m.cfg.Sudo = false

	require.NoError(t, m.Reset(context.Background()))
	assert.Equal(t, "systemctl restart containerd", rt.calls[len(rt.calls)-1])
}

func TestReset_Cancelled(t *testing.T) {
	rt := newFakeRuntime()
	m := NewManager(snapshotter.Stargz, Config{Binary: "nerdctl", PreDelay: time.Minute}, rt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Reset(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rt.calls)
}

func TestClearStateDirRefusesRoot(t *testing.T) {
	m := newTestManager(snapshotter.Overlayfs, newFakeRuntime())
	assert.Error(t, m.clearStateDir(context.Background(), "/"))
	assert.Error(t, m.clearStateDir(context.Background(), ""))
}
