package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Table is an append-only CSV file. The header is written once, and only
// when the file does not exist yet, so a sweep can be resumed into the
// same file after a restart.
type Table struct {
	path   string
	header []string
	ready  bool
}

func NewTable(path string, header []string) *Table {
	return &Table{path: path, header: header}
}

func (t *Table) Path() string {
	return t.path
}

// Append writes one row and flushes it to disk before returning.
func (t *Table) Append(row []string) error {
	if len(row) != len(t.header) {
		return fmt.Errorf("row has %d fields, table %s has %d columns", len(row), t.path, len(t.header))
	}
	if err := t.ensureHeader(); err != nil {
		return err
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", t.path, err)
	}
	if err := writeRow(f, row); err != nil {
		f.Close()
		return fmt.Errorf("failed to append to %s: %w", t.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", t.path, err)
	}
	return nil
}

func (t *Table) ensureHeader() error {
	if t.ready {
		return nil
	}

	if dir := filepath.Dir(t.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(t.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		t.ready = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", t.path, err)
	}
	if err := writeRow(f, t.header); err != nil {
		f.Close()
		return fmt.Errorf("failed to write header to %s: %w", t.path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	t.ready = true
	return nil
}

func writeRow(f *os.File, row []string) error {
	w := csv.NewWriter(f)
	// Rows end in CRLF like the tables Python's csv module writes.
	w.UseCRLF = true
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

// readRows returns the data rows of a table written by Table, checking the
// header first.
func readRows(path string, header []string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	for i, col := range header {
		if records[0][i] != col {
			return nil, fmt.Errorf("%s: unexpected column %q at position %d, want %q", path, records[0][i], i, col)
		}
	}
	return records[1:], nil
}
