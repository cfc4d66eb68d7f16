package storage

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apierrors "github.com/maruel/selfiegram/internal/errors"
	"github.com/maruel/selfiegram/internal/models"
)

func newTestRecordStore(t *testing.T, history bool) *RecordStore {
	t.Helper()
	dir := t.TempDir()
	bs, err := NewBlobStore(dir, nil)
	if err != nil {
		t.Fatalf("failed to create BlobStore: %v", err)
	}
	var h *History
	if history {
		if h, err = OpenHistory(dir); err != nil {
			t.Fatalf("failed to open history: %v", err)
		}
	}
	rs, err := NewRecordStore(dir, bs, h)
	if err != nil {
		t.Fatalf("failed to create RecordStore: %v", err)
	}
	return rs
}

func TestRecordStoreOperations(t *testing.T) {
	ctx := context.Background()
	rs := newTestRecordStore(t, false)

	r := models.NewRecord("Test Title")
	r.Position = &models.Coordinate{Latitude: 45.5, Longitude: -73.6}
	if err := rs.Save(ctx, r); err != nil {
		t.Fatalf("failed to save record: %v", err)
	}
	id := r.ID.String()
	if !rs.Exists(id) {
		t.Error("record should exist after Save")
	}

	t.Run("RoundTrip", func(t *testing.T) {
		got, ok := rs.Load(ctx, id)
		if !ok {
			t.Fatal("Load() returned absent")
		}
		if got.ID != r.ID {
			t.Errorf("ID = %v, want %v", got.ID, r.ID)
		}
		if !got.Created.Equal(r.Created) {
			t.Errorf("Created = %v, want %v", got.Created, r.Created)
		}
		if got.Title != r.Title {
			t.Errorf("Title = %q, want %q", got.Title, r.Title)
		}
		if got.Position == nil || *got.Position != *r.Position {
			t.Errorf("Position = %+v, want %+v", got.Position, r.Position)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		r2 := r.Clone()
		r2.Title = "Renamed"
		r2.Position = nil
		if err := rs.Save(ctx, r2); err != nil {
			t.Fatal(err)
		}
		got, ok := rs.Load(ctx, id)
		if !ok {
			t.Fatal("Load() returned absent")
		}
		if got.Title != "Renamed" || got.Position != nil {
			t.Errorf("Save should fully overwrite, got %+v", got)
		}
	})

	t.Run("List", func(t *testing.T) {
		other := models.NewRecord("Other")
		other.Created = r.Created.Add(time.Second)
		if err := rs.Save(ctx, other); err != nil {
			t.Fatal(err)
		}
		list, err := rs.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("List() len = %d, want 2", len(list))
		}
		if list[0].ID != r.ID || list[1].ID != other.ID {
			t.Error("List() should be ordered by creation time")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := rs.Blobs().Set(id, newTestImage(4, 4, color.White)); err != nil {
			t.Fatal(err)
		}
		if err := rs.Delete(ctx, id); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, ok := rs.Load(ctx, id); ok {
			t.Error("Load() after Delete should be absent")
		}
		if _, ok := rs.Blobs().Get(id); ok {
			t.Error("image should be removed with the record")
		}
		if _, err := os.Stat(rs.Blobs().Path(id)); !os.IsNotExist(err) {
			t.Error("image file should be removed with the record")
		}
		list, err := rs.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		for _, l := range list {
			if l.ID == r.ID {
				t.Error("deleted record still listed")
			}
		}
		// Deleting again is a no-op.
		if err := rs.Delete(ctx, id); err != nil {
			t.Errorf("second Delete() error = %v", err)
		}
	})
}

func TestRecordStoreCorruptFiles(t *testing.T) {
	ctx := context.Background()
	rs := newTestRecordStore(t, false)
	good := models.NewRecord("good")
	if err := rs.Save(ctx, good); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"broken.json":  "{not json",
		"empty.json":   "{}",
		"notes.txt":    "ignored",
		".hidden.json": "{}",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(rs.Dir(), name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(rs.Dir(), "sub.json"), 0o755); err != nil {
		t.Fatal(err)
	}
	// A copy of a valid record under another id's file name.
	other := models.NewRecord("other").ID.String()
	data, err := os.ReadFile(rs.recordFilePath(good.ID.String()))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(rs.recordFilePath(other), data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := rs.Load(ctx, "broken"); ok {
		t.Error("Load() of corrupt file should be absent")
	}
	if _, ok := rs.Load(ctx, "empty"); ok {
		t.Error("Load() of record without id should be absent")
	}
	if _, ok := rs.Load(ctx, other); ok {
		t.Error("Load() of record with mismatched id should be absent")
	}
	list, err := rs.List(ctx)
	if err != nil {
		t.Fatalf("List() should skip corrupt files, got error %v", err)
	}
	if len(list) != 1 || list[0].ID != good.ID {
		t.Errorf("List() = %v, want only the good record", list)
	}
}

func TestRecordStoreErrors(t *testing.T) {
	ctx := context.Background()
	rs := newTestRecordStore(t, false)

	if err := rs.Save(ctx, nil); apierrors.KindOf(err) != apierrors.KindEncode {
		t.Errorf("Save(nil) kind = %v, want %v", apierrors.KindOf(err), apierrors.KindEncode)
	}
	bad := models.NewRecord("x")
	bad.Position = &models.Coordinate{Latitude: 200}
	if err := rs.Save(ctx, bad); apierrors.KindOf(err) != apierrors.KindEncode {
		t.Errorf("Save(invalid) kind = %v, want %v", apierrors.KindOf(err), apierrors.KindEncode)
	}

	if os.Getuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	r := models.NewRecord("x")
	if err := rs.Save(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(rs.Dir(), 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(rs.Dir(), 0o755) })
	if err := rs.Save(ctx, models.NewRecord("y")); apierrors.KindOf(err) != apierrors.KindIO {
		t.Errorf("Save() in read-only dir kind = %v, want %v", apierrors.KindOf(err), apierrors.KindIO)
	}
	if err := rs.Delete(ctx, r.ID.String()); apierrors.KindOf(err) != apierrors.KindIO {
		t.Errorf("Delete() in read-only dir kind = %v, want %v", apierrors.KindOf(err), apierrors.KindIO)
	}
}

func TestRecordStoreConcurrent(t *testing.T) {
	ctx := context.Background()
	rs := newTestRecordStore(t, false)
	var wg sync.WaitGroup
	records := make([]*models.Record, 50)
	for i := range records {
		records[i] = models.NewRecord("r")
	}
	for _, r := range records {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rs.Save(ctx, r); err != nil {
				t.Errorf("Save() error = %v", err)
			}
		}()
	}
	wg.Wait()
	list, err := rs.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != len(records) {
		t.Errorf("List() len = %d, want %d", len(list), len(records))
	}
	seen := map[string]bool{}
	for _, r := range list {
		if seen[r.ID.String()] {
			t.Errorf("duplicate id %s", r.ID)
		}
		seen[r.ID.String()] = true
	}
}

func TestRecordStoreHistory(t *testing.T) {
	ctx := context.Background()
	rs := newTestRecordStore(t, true)
	r := models.NewRecord("first")
	if err := rs.Save(ctx, r); err != nil {
		t.Fatal(err)
	}
	r.Title = "second"
	if err := rs.Save(ctx, r); err != nil {
		t.Fatal(err)
	}
	other := models.NewRecord("other")
	if err := rs.Save(ctx, other); err != nil {
		t.Fatal(err)
	}
	if err := rs.Delete(ctx, r.ID.String()); err != nil {
		t.Fatal(err)
	}

	commits, err := rs.History().Log(ctx, r.ID.String(), 0)
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if len(commits) != 3 {
		t.Fatalf("Log() len = %d, want 3: %+v", len(commits), commits)
	}
	if want := "delete: record " + r.ID.String(); commits[0].Message != want {
		t.Errorf("newest commit = %q, want %q", commits[0].Message, want)
	}
	all, err := rs.History().Log(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("full Log() len = %d, want 4", len(all))
	}
	// The .gitignore keeps the record list clean.
	list, err := rs.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("List() len = %d, want 1", len(list))
	}
}
