package snapshotter

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownKind = errors.New("unknown snapshotter")

// Kind selects one of the compared image provisioning strategies.
type Kind int

const (
	Overlayfs Kind = iota
	Stargz
	Fleet
)

// Spec is the per-kind data that every component reads instead of
// branching on the snapshotter name.
type Spec struct {
	Name string

	// ServiceName is the systemd unit of a standalone snapshotter daemon.
	// Empty when the snapshotter lives inside containerd itself.
	ServiceName string

	// StateDir is wiped on every reset.
	StateDir string

	// RuntimeService is restarted after StateDir is wiped when there is
	// no standalone snapshotter service.
	RuntimeService string

	// MetricName and MetricsPort locate the on-demand fetch counter.
	// A zero port means the kind exposes no metrics endpoint.
	MetricName  string
	MetricsPort int
}

var specs = map[Kind]Spec{
	Overlayfs: {
		Name:           "overlayfs",
		StateDir:       "/var/lib/containerd/io.containerd.snapshotter.v1.overlayfs",
		RuntimeService: "containerd",
	},
	Stargz: {
		Name:        "stargz",
		ServiceName: "stargz-snapshotter",
		StateDir:    "/var/lib/containerd-stargz-grpc",
		MetricName:  "stargz_fs_operation_count",
		MetricsPort: 8234,
	},
	Fleet: {
		Name:        "fleet",
		ServiceName: "fleet-snapshotter",
		StateDir:    "/var/lib/containerd-fleet-grpc",
		MetricName:  "fleet_fs_operation_count",
		MetricsPort: 8334,
	},
}

// Kinds lists every kind in a stable order.
func Kinds() []Kind {
	return []Kind{Overlayfs, Stargz, Fleet}
}

// Names returns the command line spelling of every kind.
func Names() []string {
	names := make([]string, 0, len(specs))
	for _, k := range Kinds() {
		names = append(names, k.String())
	}
	return names
}

func Parse(name string) (Kind, error) {
	for _, k := range Kinds() {
		if specs[k].Name == strings.TrimSpace(name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w %q, expected one of %s", ErrUnknownKind, name, strings.Join(Names(), ", "))
}

func (k Kind) Spec() Spec {
	return specs[k]
}

func (k Kind) String() string {
	if s, ok := specs[k]; ok {
		return s.Name
	}
	return fmt.Sprintf("snapshotter(%d)", int(k))
}

// HasService reports whether the kind runs as its own daemon with
// on-disk state that must be cleared while the daemon is stopped.
func (k Kind) HasService() bool {
	return specs[k].ServiceName != ""
}

// HasMetrics reports whether the kind exposes a metrics endpoint.
func (k Kind) HasMetrics() bool {
	return specs[k].MetricsPort != 0
}

// ImageTag is the tag images are pushed under for this kind, e.g. "sta".
func (k Kind) ImageTag() string {
	name := specs[k].Name
	if len(name) > 3 {
		return name[:3]
	}
	return name
}
