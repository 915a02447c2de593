// Package reset returns the container runtime and the snapshotter to a
// freshly booted state between runs.
package reset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"snapshotter-bench/internal/config"
	"snapshotter-bench/internal/logging"
	"snapshotter-bench/internal/shell"
	"snapshotter-bench/internal/snapshotter"

	"github.com/sirupsen/logrus"
)

// ErrResetFailed marks a reset that left the environment in an unknown
// state. Every measurement after it would be invalid.
var ErrResetFailed = errors.New("environment reset failed")

type Config struct {
	Binary      string
	Sudo        bool
	PreDelay    time.Duration
	SettleDelay time.Duration
}

func ConfigFrom(cfg *config.BenchmarkConfig) Config {
	return Config{
		Binary:      cfg.Runtime.Binary,
		Sudo:        cfg.Runtime.Sudo,
		PreDelay:    cfg.Reset.PreDelay,
		SettleDelay: cfg.Reset.SettleDelay,
	}
}

type Manager struct {
	kind   snapshotter.Kind
	cfg    Config
	runner shell.Runner
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewManager(kind snapshotter.Kind, cfg Config, runner shell.Runner) *Manager {
	return &Manager{
		kind:   kind,
		cfg:    cfg,
		runner: runner,
		sleep:  sleepContext,
	}
}

// Reset stops and removes every container, prunes every image and wipes
// the snapshotter state. The order matters; see the individual steps.
func (m *Manager) Reset(ctx context.Context) error {
	logger := logging.GetLogger().WithField("snapshotter", m.kind.String())
	logger.Info("Resetting snapshotter")

	if err := m.sleep(ctx, m.cfg.PreDelay); err != nil {
		return err
	}

	// Stopping may fail when there is nothing to stop.
	if err := m.stopContainers(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.WithError(err).Warn("Failed to stop running containers")
	}
	if err := m.settle(ctx); err != nil {
		return err
	}

	if err := m.removeContainers(ctx); err != nil {
		return m.fail("remove containers", err)
	}
	if err := m.settle(ctx); err != nil {
		return err
	}

	if err := m.runner.Run(ctx, m.cfg.Binary, "image", "prune", "-af"); err != nil {
		return m.fail("prune images", err)
	}
	if err := m.settle(ctx); err != nil {
		return err
	}

	spec := m.kind.Spec()
	if m.kind.HasService() {
		if err := m.resetService(ctx, spec); err != nil {
			return err
		}
	} else {
		if err := m.clearStateDir(ctx, spec.StateDir); err != nil {
			return m.fail("clear "+spec.StateDir, err)
		}
		if err := m.settle(ctx); err != nil {
			return err
		}
		if err := m.systemctl(ctx, "restart", spec.RuntimeService); err != nil {
			return m.fail("restart "+spec.RuntimeService, err)
		}
	}
	if err := m.settle(ctx); err != nil {
		return err
	}

	logger.Info("Reset complete")
	return nil
}

// resetService clears the state of a standalone snapshotter. The daemon is
// stopped while its directory is removed so nothing writes into it.
func (m *Manager) resetService(ctx context.Context, spec snapshotter.Spec) error {
	steps := []struct {
		what string
		run  func() error
	}{
		{"restart " + spec.ServiceName, func() error { return m.systemctl(ctx, "restart", spec.ServiceName) }},
		{"stop " + spec.ServiceName, func() error { return m.systemctl(ctx, "stop", spec.ServiceName) }},
		{"clear " + spec.StateDir, func() error { return m.clearStateDir(ctx, spec.StateDir) }},
		{"restart " + spec.ServiceName, func() error { return m.systemctl(ctx, "restart", spec.ServiceName) }},
	}
	for i, step := range steps {
		if i > 0 {
			if err := m.settle(ctx); err != nil {
				return err
			}
		}
		if err := step.run(); err != nil {
			return m.fail(step.what, err)
		}
	}
	return nil
}

func (m *Manager) stopContainers(ctx context.Context) error {
	ids, err := m.containerIDs(ctx, "ps", "-q")
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return m.runner.Run(ctx, m.cfg.Binary, append([]string{"stop"}, ids...)...)
}

func (m *Manager) removeContainers(ctx context.Context) error {
	ids, err := m.containerIDs(ctx, "ps", "-a", "-q")
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return m.runner.Run(ctx, m.cfg.Binary, append([]string{"rm", "-f"}, ids...)...)
}

func (m *Manager) containerIDs(ctx context.Context, args ...string) ([]string, error) {
	out, err := m.runner.Output(ctx, m.cfg.Binary, args...)
	if err != nil {
		return nil, err
	}
	return strings.Fields(out), nil
}

func (m *Manager) systemctl(ctx context.Context, action, unit string) error {
	return m.privileged(ctx, "systemctl", action, unit)
}

// clearStateDir removes the contents of dir, keeping dir itself.
func (m *Manager) clearStateDir(ctx context.Context, dir string) error {
	if dir == "" || dir == "/" {
		return fmt.Errorf("refusing to clear state directory %q", dir)
	}
	return m.privileged(ctx, "sh", "-c", fmt.Sprintf("rm -rf '%s'/*", strings.TrimRight(dir, "/")))
}

func (m *Manager) privileged(ctx context.Context, name string, args ...string) error {
	if m.cfg.Sudo {
		return m.runner.Run(ctx, "sudo", append([]string{name}, args...)...)
	}
	return m.runner.Run(ctx, name, args...)
}

func (m *Manager) settle(ctx context.Context) error {
	return m.sleep(ctx, m.cfg.SettleDelay)
}

func (m *Manager) fail(step string, err error) error {
	logging.GetLogger().WithFields(logrus.Fields{
		"snapshotter": m.kind.String(),
		"step":        step,
	}).WithError(err).Error("Reset step failed")
	return fmt.Errorf("%w: %s: %w", ErrResetFailed, step, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
