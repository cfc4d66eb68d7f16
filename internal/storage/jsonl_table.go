package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// JSONLTable is an append-only log of rows in JSONL format, kept in memory.
//
// At most maxRows rows are retained; older rows are dropped when the file is
// compacted.
type JSONLTable[T any] struct {
	path    string
	maxRows int

	mu   sync.RWMutex
	rows []T
}

// NewJSONLTable creates the table and loads the rows present in path.
// Lines that don't decode are skipped.
func NewJSONLTable[T any](path string, maxRows int) (*JSONLTable[T], error) {
	if maxRows <= 0 {
		return nil, fmt.Errorf("maxRows must be positive, got %d", maxRows)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	t := &JSONLTable[T]{path: path, maxRows: maxRows, rows: []T{}}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *JSONLTable[T]) load() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", t.path, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; scanner.Scan(); n++ {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row T
		if err := json.Unmarshal(line, &row); err != nil {
			slog.Warn("Skipping corrupt row", "path", t.path, "line", n, "err", err)
			continue
		}
		t.rows = append(t.rows, row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", t.path, err)
	}
	if len(t.rows) > t.maxRows {
		t.rows = t.rows[len(t.rows)-t.maxRows:]
	}
	return nil
}

// All returns a copy of all rows, oldest first.
func (t *JSONLTable[T]) All() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rows := make([]T, len(t.rows))
	copy(rows, t.rows)
	return rows
}

// Last returns the most recent row.
func (t *JSONLTable[T]) Last() (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.rows) == 0 {
		var zero T
		return zero, false
	}
	return t.rows[len(t.rows)-1], true
}

// Append adds a row and persists it. When the table grows past twice its
// retention, the file is rewritten with the newest rows only.
func (t *JSONLTable[T]) Append(row T) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, row)
	if len(t.rows) > 2*t.maxRows {
		t.rows = append([]T(nil), t.rows[len(t.rows)-t.maxRows:]...)
		return t.rewriteLocked()
	}
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G304: path is fixed at construction
	if err != nil {
		return fmt.Errorf("failed to open table file for append: %w", err)
	}
	_, err = f.Write(append(data, '\n'))
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	return nil
}

func (t *JSONLTable[T]) rewriteLocked() error {
	var buf bytes.Buffer
	for _, row := range t.rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("failed to marshal row: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return WriteFileAtomic(t.path, buf.Bytes(), 0o644)
}
