package monitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"snapshotter-bench/internal/config"
	"snapshotter-bench/internal/logging"
	"snapshotter-bench/internal/shell"
	"snapshotter-bench/internal/snapshotter"

	"github.com/sirupsen/logrus"
)

// exitDrain bounds how long output is still read after the container
// process has exited, in case a descendant keeps the pipe open.
var exitDrain = 5 * time.Second

type Config struct {
	Binary           string
	Registry         string
	InsecureRegistry bool
	TTY              bool
	Readiness        map[string]string
	ShortRunTimeout  time.Duration
	ReadinessTimeout time.Duration
	TerminationGrace time.Duration
}

func ConfigFrom(cfg *config.BenchmarkConfig) Config {
	return Config{
		Binary:           cfg.Runtime.Binary,
		Registry:         cfg.Runtime.Registry,
		InsecureRegistry: cfg.Runtime.InsecureRegistry,
		TTY:              cfg.Runtime.TTY,
		Readiness:        cfg.Experiment.Readiness,
		ShortRunTimeout:  cfg.Runtime.ShortRunTimeout,
		ReadinessTimeout: cfg.Runtime.ReadinessTimeout,
		TerminationGrace: cfg.Runtime.TerminationGrace,
	}
}

// Monitor launches one container at a time and measures how long it takes
// to become ready or to finish.
type Monitor struct {
	kind     snapshotter.Kind
	cfg      Config
	launcher shell.Launcher
}

func New(kind snapshotter.Kind, cfg Config, launcher shell.Launcher) *Monitor {
	return &Monitor{kind: kind, cfg: cfg, launcher: launcher}
}

// Command returns the runtime invocation for container. The snapshotter is
// always named explicitly, never left to the daemon default.
func (m *Monitor) Command(container string) (string, []string) {
	image := fmt.Sprintf("%s/%s:%s", m.cfg.Registry, container, m.kind.ImageTag())

	args := []string{"run", "--rm"}
	if m.cfg.InsecureRegistry {
		args = append(args, "--insecure-registry")
	}
	if m.cfg.TTY {
		args = append(args, "-t")
	}
	args = append(args, "--snapshotter="+m.kind.String(), image)
	return m.cfg.Binary, args
}

func (m *Monitor) readinessMessage(container string) (string, bool) {
	msg, ok := m.cfg.Readiness[container]
	return msg, ok && msg != ""
}

// Run launches container and blocks until it is ready, has exited, or has
// used up its budget. The child is terminated and reaped before Run
// returns. Only launch failures and context cancellation return an error;
// a missing readiness message or an exhausted budget are outcomes.
func (m *Monitor) Run(ctx context.Context, container string) (Elapsed, error) {
	logger := logging.GetLogger().WithFields(logrus.Fields{
		"container":   container,
		"snapshotter": m.kind.String(),
	})

	name, args := m.Command(container)
	logger.WithField("command", shell.CommandLine(name, args...)).Info("Running container")

	start := time.Now()
	proc, err := m.launcher.Launch(ctx, name, args...)
	if err != nil {
		logger.WithError(err).Error("Failed to launch container")
		return Elapsed{}, fmt.Errorf("failed to launch container %s: %w", container, err)
	}

	stop := make(chan struct{})
	defer m.reap(proc, stop, logger)

	lines := streamLines(proc.Output(), stop)
	relay := logging.ContainerOutput(container, m.kind.String())

	var elapsed Elapsed
	if msg, ok := m.readinessMessage(container); ok {
		logger.WithField("ready_message", msg).Info("Long-running container, monitoring for ready message")
		elapsed, err = m.awaitReadiness(ctx, proc, lines, relay, start, msg, logger)
	} else {
		logger.WithField("budget", m.cfg.ShortRunTimeout).Info("Short-running container, waiting for exit")
		elapsed, err = m.awaitCompletion(ctx, proc, lines, relay, start, logger)
	}
	if err != nil {
		return Elapsed{}, err
	}

	logger.WithFields(logrus.Fields{
		"time":    elapsed.String(),
		"outcome": elapsed.Outcome.String(),
	}).Info("Container run complete")
	return elapsed, nil
}

func (m *Monitor) awaitReadiness(ctx context.Context, proc shell.Process, lines <-chan string, relay *logrus.Entry, start time.Time, msg string, logger *logrus.Entry) (Elapsed, error) {
	var deadline <-chan time.Time
	if m.cfg.ReadinessTimeout > 0 {
		timer := time.NewTimer(m.cfg.ReadinessTimeout - time.Since(start))
		defer timer.Stop()
		deadline = timer.C
	}

	// Output may still arrive after the process is gone; drain it for a
	// bounded time before declaring the run failed.
	exited := proc.Done()
	var drain <-chan time.Time

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				logger.Warn("Container output ended before the ready message appeared")
				return Elapsed{Outcome: NoReadiness}, nil
			}
			relay.Info(line)
			if strings.Contains(line, msg) {
				elapsed := time.Since(start)
				logger.WithField("line", line).Info("Ready message detected, terminating container")
				m.terminate(proc, logger)
				return Elapsed{Duration: elapsed, Outcome: Ready}, nil
			}
		case <-exited:
			exited = nil
			drainTimer := time.NewTimer(exitDrain)
			defer drainTimer.Stop()
			drain = drainTimer.C
		case <-drain:
			logger.Warn("Container exited before the ready message appeared")
			return Elapsed{Outcome: NoReadiness}, nil
		case <-deadline:
			logger.WithField("readiness_timeout", m.cfg.ReadinessTimeout).Warn("Ready message did not appear in time")
			return Elapsed{Outcome: NoReadiness}, nil
		case <-ctx.Done():
			return Elapsed{}, ctx.Err()
		}
	}
}

func (m *Monitor) awaitCompletion(ctx context.Context, proc shell.Process, lines <-chan string, relay *logrus.Entry, start time.Time, logger *logrus.Entry) (Elapsed, error) {
	timer := time.NewTimer(m.cfg.ShortRunTimeout - time.Since(start))
	defer timer.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			relay.Info(line)
		case <-proc.Done():
			elapsed := time.Since(start)
			if err := proc.ExitErr(); err != nil {
				logger.WithError(err).Warn("Container exited with an error")
			}
			drainLines(lines, relay, logger)
			return Elapsed{Duration: elapsed, Outcome: Completed}, nil
		case <-timer.C:
			logger.WithField("budget", m.cfg.ShortRunTimeout).Warn("Container took too long to complete, killing it")
			if err := proc.Kill(); err != nil {
				logger.WithError(err).Warn("Failed to kill container process")
			}
			return Elapsed{Outcome: TimedOut}, nil
		case <-ctx.Done():
			return Elapsed{}, ctx.Err()
		}
	}
}

// terminate asks the process to stop and escalates to SIGKILL once the
// grace period is over.
func (m *Monitor) terminate(proc shell.Process, logger *logrus.Entry) {
	if m.cfg.TerminationGrace > 0 {
		if err := proc.Terminate(); err != nil {
			logger.WithError(err).Warn("Failed to send SIGTERM to container process")
		}
		grace := time.NewTimer(m.cfg.TerminationGrace)
		defer grace.Stop()
		select {
		case <-proc.Done():
			logger.Debug("Container process terminated")
			return
		case <-grace.C:
			logger.WithField("grace", m.cfg.TerminationGrace).Warn("Container ignored SIGTERM, killing it")
		}
	}
	if err := proc.Kill(); err != nil {
		logger.WithError(err).Warn("Failed to kill container process")
	}
	<-proc.Done()
}

// reap guarantees that no child outlives the run, whatever path was taken.
func (m *Monitor) reap(proc shell.Process, stop chan struct{}, logger *logrus.Entry) {
	close(stop)
	if err := proc.Kill(); err != nil {
		logger.WithError(err).Warn("Failed to kill container process")
	}
	<-proc.Done()
	if err := proc.Close(); err != nil {
		logger.WithError(err).Debug("Failed to close container output")
	}
}

// drainLines relays output that was still buffered when the process exited.
// It stops at EOF or after exitDrain, whichever comes first.
func drainLines(lines <-chan string, relay *logrus.Entry, logger *logrus.Entry) {
	if lines == nil {
		return
	}
	timer := time.NewTimer(exitDrain)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			relay.Info(line)
		case <-timer.C:
			logger.WithField("drain", exitDrain).Debug("Container output still open after exit, giving up")
			return
		}
	}
}

// streamLines forwards r line by line until EOF, a read error, or stop.
func streamLines(r io.Reader, stop <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadString('\n')
			if len(line) > 0 {
				select {
				case lines <- strings.TrimRight(line, "\r\n"):
				case <-stop:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return lines
}
