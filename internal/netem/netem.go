// Package netem applies bandwidth and latency limits to the benchmark
// target host through a shaping script run over SSH.
package netem

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"snapshotter-bench/internal/logging"

	"github.com/sirupsen/logrus"
)

// ErrRemoteStderr means the shaping script wrote to stderr. The condition
// must then be treated as not applied.
var ErrRemoteStderr = errors.New("network shaping reported an error")

// Condition is the (bandwidth, latency) pair active on the target host.
type Condition struct {
	BandwidthMbps int
	LatencyMs     int
}

func (c Condition) String() string {
	return fmt.Sprintf("%dmbit/%dms", c.BandwidthMbps, c.LatencyMs)
}

// RTT renders the latency the way result tables store it.
func (c Condition) RTT() string {
	return fmt.Sprintf("%dms", c.LatencyMs)
}

// Bandwidth renders the bandwidth the way result tables store it.
func (c Condition) Bandwidth() string {
	return fmt.Sprintf("%dMbps", c.BandwidthMbps)
}

// RemoteExecutor runs a command line on the target host.
type RemoteExecutor interface {
	Exec(ctx context.Context, command string) (stdout, stderr string, err error)
	Target() string
}

type Controller struct {
	exec   RemoteExecutor
	script string
}

func NewController(exec RemoteExecutor, script string) *Controller {
	return &Controller{exec: exec, script: script}
}

// Command is the remote command line for c.
func (ctl *Controller) Command(c Condition) string {
	return fmt.Sprintf("bash %s %dmbit %dms", ctl.script, c.BandwidthMbps, c.LatencyMs)
}

// Apply shapes the target host. Any transport error or non-empty stderr
// is returned.
func (ctl *Controller) Apply(ctx context.Context, c Condition) error {
	logger := logging.GetLogger().WithFields(logrus.Fields{
		"target":    ctl.exec.Target(),
		"bandwidth": c.Bandwidth(),
		"rtt":       c.RTT(),
	})

	command := ctl.Command(c)
	logger.WithField("command", command).Info("Setting network conditions")

	stdout, stderr, err := ctl.exec.Exec(ctx, command)
	if err != nil {
		logger.WithError(err).Error("Failed to run network shaping script")
		return fmt.Errorf("failed to set network conditions %s on %s: %w", c, ctl.exec.Target(), err)
	}

	logger.WithFields(logrus.Fields{
		"stdout": strings.TrimSpace(stdout),
		"stderr": strings.TrimSpace(stderr),
	}).Debug("Network shaping script finished")

	if strings.TrimSpace(stderr) != "" {
		return fmt.Errorf("%w: %s", ErrRemoteStderr, strings.TrimSpace(stderr))
	}

	logger.Info("Network conditions applied")
	return nil
}
