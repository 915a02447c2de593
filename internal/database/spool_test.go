package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filepathGlob(dir, pattern string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, pattern))
}

func TestSpoolRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sum := uint64(4)
	in := &SpoolArtifact{
		Version:   1,
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Sweep:     testSweep,
		Runs: []RunRecord{
			{Container: "redis", Iteration: 1, Outcome: "ready", Time: "0m12.700s", Seconds: 12.7, MetricsSum: &sum},
		},
	}

	path, err := WriteSpoolArtifact(dir, in)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "stargz_"+testSweep.ExperimentID+"_20240301T120000Z_a1b2c3.json.gz"), path)

	out, err := ReadSpoolArtifact(path)
	require.NoError(t, err)
	require.Len(t, out.Runs, 1)
	require.NotNil(t, out.Runs[0].MetricsSum)
	assert.Equal(t, uint64(4), *out.Runs[0].MetricsSum)

	// No temporary files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteSpoolArtifact_Nil(t *testing.T) {
	_, err := WriteSpoolArtifact(t.TempDir(), nil)
	assert.Error(t, err)
}
