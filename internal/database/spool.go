package database

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SpoolArtifact holds mirror points that could not be delivered, so they
// can be replayed into the bucket later.
type SpoolArtifact struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`

	Sweep  Sweep  `json:"sweep"`
	Bucket string `json:"bucket"`
	Org    string `json:"org"`

	Runs []RunRecord `json:"runs"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("SNAPBENCH_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// SpoolFileName names an artifact after its sweep so files of different
// sweeps and plans never collide.
func SpoolFileName(artifact *SpoolArtifact) string {
	checksum := artifact.Sweep.PlanChecksum
	if checksum == "" {
		checksum = "nocsum"
	}
	return fmt.Sprintf("%s_%s_%s_%s.json.gz",
		artifact.Sweep.Snapshotter,
		artifact.Sweep.ExperimentID,
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		checksum,
	)
}

// WriteSpoolArtifact stores artifact as gzip-compressed JSON in dir and
// returns the file path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("spool artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}

	path := filepath.Join(dir, SpoolFileName(artifact))
	err := writeFileAtomic(path, func(w io.Writer) error {
		gz := gzip.NewWriter(w)
		enc := json.NewEncoder(gz)
		enc.SetIndent("", "  ")
		if err := enc.Encode(artifact); err != nil {
			gz.Close()
			return err
		}
		return gz.Close()
	})
	if err != nil {
		return "", fmt.Errorf("failed to write spool artifact to %s: %w", dir, err)
	}
	return path, nil
}

// writeFileAtomic fills a temporary file next to path and renames it into
// place, so readers see either nothing or the complete file.
func writeFileAtomic(path string, fill func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := fill(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	committed = true
	return nil
}

// ReadSpoolArtifact loads an artifact written by WriteSpoolArtifact.
func ReadSpoolArtifact(path string) (*SpoolArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer gz.Close()

	var artifact SpoolArtifact
	if err := json.NewDecoder(gz).Decode(&artifact); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &artifact, nil
}
