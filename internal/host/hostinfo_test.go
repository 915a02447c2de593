package host

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const cpuinfo = `processor	: 0
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) Gold 6230 CPU @ 2.10GHz
physical id	: 0

processor	: 1
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) Gold 6230 CPU @ 2.10GHz
physical id	: 1

processor	: 2
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) Gold 6230 CPU @ 2.10GHz
physical id	: 1
`

func TestParseCPUInfo(t *testing.T) {
	vendor, model, sockets := parseCPUInfo(strings.NewReader(cpuinfo))
	assert.Equal(t, "GenuineIntel", vendor)
	assert.Equal(t, "Intel(R) Xeon(R) Gold 6230 CPU @ 2.10GHz", model)
	assert.Equal(t, 2, sockets)

	vendor, model, sockets = parseCPUInfo(strings.NewReader(""))
	assert.Empty(t, vendor)
	assert.Empty(t, model)
	assert.Zero(t, sockets)
}

func TestKernelVersion(t *testing.T) {
	assert.Equal(t, "6.5.0-41-generic", kernelVersion("Linux version 6.5.0-41-generic (buildd@lcy02-amd64-079) (gcc 12.3.0) #41-Ubuntu SMP"))
	assert.Equal(t, "unknown", kernelVersion("garbage"))
}

type versionRunner struct {
	out string
	err error
}

func (r versionRunner) Run(ctx context.Context, name string, args ...string) error {
	return r.err
}

func (r versionRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	return r.out, r.err
}

func TestDescribe(t *testing.T) {
	info := Describe(context.Background(), versionRunner{out: "nerdctl version 1.7.6\n"}, "nerdctl")
	assert.Equal(t, "nerdctl version 1.7.6", info.RuntimeVersion)
	assert.NotEmpty(t, info.Hostname)
	assert.Positive(t, info.CPUs)
	assert.Positive(t, info.NumSockets)

	info = Describe(context.Background(), versionRunner{err: errors.New("not found")}, "nerdctl")
	assert.Equal(t, "unknown", info.RuntimeVersion)
}
