package storage

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	apierrors "github.com/maruel/selfiegram/internal/errors"
	"github.com/maruel/selfiegram/internal/models"
)

// recordSuffix is appended to the record ID to name its metadata file.
const recordSuffix = ".json"

// RecordStore handles all file system operations for records.
//
// Each record is stored as <dir>/<id>.json. Images are delegated to a
// BlobStore, which may share the same directory since its files use a
// distinct suffix.
//
// Mutations of the same ID are serialized; different IDs don't contend.
type RecordStore struct {
	dir     string
	blobs   *BlobStore
	history *History
	locks   *idLocks
}

// NewRecordStore initializes a RecordStore rooted at dir. history may be nil.
func NewRecordStore(dir string, blobs *BlobStore, history *History) (*RecordStore, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}
	return &RecordStore{
		dir:     dir,
		blobs:   blobs,
		history: history,
		locks:   newIDLocks(),
	}, nil
}

// Dir returns the directory holding the records.
func (s *RecordStore) Dir() string {
	return s.dir
}

// Blobs returns the blob store images are delegated to.
func (s *RecordStore) Blobs() *BlobStore {
	return s.blobs
}

// Exists checks if a record file exists.
func (s *RecordStore) Exists(id string) bool {
	_, err := os.Stat(s.recordFilePath(id))
	return err == nil
}

// Save serializes r and overwrites its file.
func (s *RecordStore) Save(ctx context.Context, r *models.Record) error {
	if r == nil {
		return apierrors.Encode("save record", fmt.Errorf("nil record"))
	}
	if err := r.Validate(); err != nil {
		return apierrors.Encode("save record", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return apierrors.Encode("save record", err)
	}
	id := r.ID.String()
	unlock := s.locks.lock(id)
	defer unlock()
	if err := WriteFileAtomic(s.recordFilePath(id), data, 0o644); err != nil {
		return apierrors.IO("save record", err)
	}
	s.commit(ctx, "save", id, r.Title)
	return nil
}

// Load reads the record for id.
//
// A missing file and a corrupt file are both reported as absent. A file
// whose embedded id differs from id is corrupt.
func (s *RecordStore) Load(ctx context.Context, id string) (*models.Record, bool) {
	data, err := os.ReadFile(s.recordFilePath(id))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.DebugContext(ctx, "Failed to read record", "id", id, "err", err)
		}
		return nil, false
	}
	r, err := decodeRecord(data)
	if err != nil {
		slog.DebugContext(ctx, "Failed to decode record", "id", id, "err", err)
		return nil, false
	}
	if r.ID.String() != id {
		slog.DebugContext(ctx, "Record has mismatched id", "id", id, "got", r.ID.String())
		return nil, false
	}
	return r, true
}

// List returns every decodable record, oldest first.
//
// Corrupt files are logged and skipped; only a failure to read the directory
// itself is returned.
func (s *RecordStore) List(ctx context.Context) ([]*models.Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, apierrors.IO("list records", err)
	}
	records := []*models.Record{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isRecordFileName(name) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			// Deleted between ReadDir and ReadFile.
			if os.IsNotExist(err) {
				continue
			}
			slog.WarnContext(ctx, "Skipping unreadable record", "file", name, "err", err)
			continue
		}
		r, err := decodeRecord(data)
		if err != nil {
			slog.WarnContext(ctx, "Skipping corrupt record", "file", name, "err", err)
			continue
		}
		if want := strings.TrimSuffix(name, recordSuffix); r.ID.String() != want {
			slog.WarnContext(ctx, "Skipping record with mismatched id", "file", name, "id", r.ID.String())
			continue
		}
		records = append(records, r)
	}
	slices.SortFunc(records, func(a, b *models.Record) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return records, nil
}

// Delete removes the record file and its image.
//
// Deleting an unknown id is a no-op.
func (s *RecordStore) Delete(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()
	existed := s.Exists(id)
	if err := removeIfExists(s.recordFilePath(id)); err != nil {
		return apierrors.IO("delete record", err)
	}
	if err := s.blobs.Set(id, nil); err != nil {
		return err
	}
	if existed {
		s.commit(ctx, "delete", id, "")
	}
	return nil
}

// History returns the attached history, or nil.
func (s *RecordStore) History() *History {
	return s.history
}

// recordFilePath constructs the full file path for a record ID.
func (s *RecordStore) recordFilePath(id string) string {
	return filepath.Join(s.dir, id+recordSuffix)
}

func (s *RecordStore) commit(ctx context.Context, op, id, title string) {
	if s.history == nil {
		return
	}
	msg := fmt.Sprintf("%s: record %s", op, id)
	if title != "" {
		msg += " - " + title
	}
	if err := s.history.Commit(ctx, msg); err != nil {
		slog.WarnContext(ctx, "Failed to commit change", "id", id, "err", err)
	}
}

// isRecordFileName reports whether name looks like "<id>.json".
func isRecordFileName(name string) bool {
	return strings.HasSuffix(name, recordSuffix) &&
		!strings.HasPrefix(name, ".") &&
		len(name) > len(recordSuffix)
}

func decodeRecord(data []byte) (*models.Record, error) {
	var r models.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
