package monitor

import (
	"fmt"
	"math"
	"time"
)

// Outcome tells how a run ended.
type Outcome int

const (
	// Ready: the readiness message was seen.
	Ready Outcome = iota
	// Completed: a container without a readiness rule exited in time.
	Completed
	// TimedOut: a container without a readiness rule outlived its budget.
	TimedOut
	// NoReadiness: the output ended, or the optional readiness deadline
	// passed, before the readiness message appeared.
	NoReadiness
)

// The sentinels persisted in place of a time. Existing result files and
// their consumers depend on these exact strings.
const (
	TimeoutSentinel     = "90s (timeout)"
	NoReadinessSentinel = "90s (timeout) init"
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case Completed:
		return "completed"
	case TimedOut:
		return "timed_out"
	case NoReadiness:
		return "no_readiness"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Measured reports whether the outcome carries a real measurement.
func (o Outcome) Measured() bool {
	return o == Ready || o == Completed
}

// Elapsed is the single measurement a run produces.
type Elapsed struct {
	Duration time.Duration
	Outcome  Outcome
}

// String renders the Time column value: "1m23.456s" for measured runs,
// a sentinel otherwise.
func (e Elapsed) String() string {
	switch e.Outcome {
	case TimedOut:
		return TimeoutSentinel
	case NoReadiness:
		return NoReadinessSentinel
	default:
		return FormatDuration(e.Duration)
	}
}

// FormatDuration renders d as whole minutes plus seconds with millisecond
// precision.
func FormatDuration(d time.Duration) string {
	total := d.Seconds()
	minutes := math.Floor(total / 60)
	seconds := total - minutes*60
	return fmt.Sprintf("%dm%.3fs", int(minutes), seconds)
}
