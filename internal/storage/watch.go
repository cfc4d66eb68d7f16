// Reports changes made to the records directory by any process.

package storage

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind says what happened to a record.
type ChangeKind string

const (
	// RecordSaved is reported when a record file is created or replaced.
	RecordSaved ChangeKind = "saved"
	// RecordRemoved is reported when a record file disappears.
	RecordRemoved ChangeKind = "removed"
	// ImageSaved is reported when an image file is created or replaced.
	ImageSaved ChangeKind = "image-saved"
	// ImageRemoved is reported when an image file disappears.
	ImageRemoved ChangeKind = "image-removed"
)

// Change is one observed modification.
type Change struct {
	ID   string
	Kind ChangeKind
}

// Watch calls fn for every change to a record or image file until ctx is
// done. Temporary files written during atomic saves are ignored; the rename
// that publishes them is reported.
func (s *RecordStore) Watch(ctx context.Context, fn func(Change)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(s.dir); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if c, ok := classify(event); ok {
				fn(c)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Error watching records", "dir", s.dir, "err", err)
		}
	}
}

func classify(event fsnotify.Event) (Change, bool) {
	name := filepath.Base(event.Name)
	if strings.HasSuffix(name, tmpSuffix) || strings.HasPrefix(name, ".") {
		return Change{}, false
	}
	removed := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	written := event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
	if !removed && !written {
		return Change{}, false
	}
	if id, ok := strings.CutSuffix(name, imageSuffix); ok {
		if removed {
			return Change{ID: id, Kind: ImageRemoved}, true
		}
		return Change{ID: id, Kind: ImageSaved}, true
	}
	if isRecordFileName(name) {
		id := strings.TrimSuffix(name, recordSuffix)
		if removed {
			return Change{ID: id, Kind: RecordRemoved}, true
		}
		return Change{ID: id, Kind: RecordSaved}, true
	}
	return Change{}, false
}
