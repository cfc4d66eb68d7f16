package storage

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	apierrors "github.com/maruel/selfiegram/internal/errors"
)

// newTestImage returns a w×h image filled with c.
func newTestImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	return img
}

// countingCodec wraps JPEGCodec and counts decodes, to observe disk reads.
type countingCodec struct {
	JPEGCodec
	mu      sync.Mutex
	decodes int
	failEnc bool
}

func (c *countingCodec) Encode(img image.Image, quality int) ([]byte, error) {
	if c.failEnc {
		return nil, errors.New("encoder exploded")
	}
	return c.JPEGCodec.Encode(img, quality)
}

func (c *countingCodec) Decode(data []byte) (image.Image, error) {
	c.mu.Lock()
	c.decodes++
	c.mu.Unlock()
	return c.JPEGCodec.Decode(data)
}

func (c *countingCodec) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decodes
}

func encodeTestImage(t *testing.T) []byte {
	t.Helper()
	data, err := JPEGCodec{}.Encode(newTestImage(4, 4, color.Black), Quality)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestBlobStore(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		dir := t.TempDir()
		codec := &countingCodec{}
		bs, err := NewBlobStore(dir, codec)
		if err != nil {
			t.Fatalf("NewBlobStore() error = %v", err)
		}
		img := newTestImage(16, 8, color.RGBA{R: 200, A: 255})
		if err := bs.Set("abc", img); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "abc-image.jpg")); err != nil {
			t.Fatalf("image file missing: %v", err)
		}

		got, ok := bs.Get("abc")
		if !ok {
			t.Fatal("Get() returned absent after Set")
		}
		if got != img {
			t.Error("Get() after Set should return the cached image")
		}
		if n := codec.count(); n != 0 {
			t.Errorf("Get() after Set decoded %d times, want 0", n)
		}

		// A fresh store has a cold cache and must decode from disk.
		codec2 := &countingCodec{}
		bs2, err := NewBlobStore(dir, codec2)
		if err != nil {
			t.Fatal(err)
		}
		got2, ok := bs2.Get("abc")
		if !ok {
			t.Fatal("Get() from disk returned absent")
		}
		if got2.Bounds() != img.Bounds() {
			t.Errorf("decoded bounds = %v, want %v", got2.Bounds(), img.Bounds())
		}
		if _, ok := bs2.Get("abc"); !ok {
			t.Fatal("second Get() returned absent")
		}
		if n := codec2.count(); n != 1 {
			t.Errorf("decodes = %d, want 1 (second Get must hit the cache)", n)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		dir := t.TempDir()
		bs, err := NewBlobStore(dir, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := bs.Set("x", newTestImage(4, 4, color.White)); err != nil {
			t.Fatal(err)
		}
		if err := bs.Set("x", nil); err != nil {
			t.Fatalf("Set(nil) error = %v", err)
		}
		if _, ok := bs.Get("x"); ok {
			t.Error("Get() after Set(nil) should be absent")
		}
		if _, err := os.Stat(bs.Path("x")); !os.IsNotExist(err) {
			t.Errorf("image file should be removed, stat err = %v", err)
		}
		// The absence is cached: a file appearing behind the store's back is
		// not read.
		if err := os.WriteFile(bs.Path("x"), encodeTestImage(t), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, ok := bs.Get("x"); ok {
			t.Error("Get() after Set(nil) read the disk")
		}
		// Clearing an absent image is not an error.
		if err := bs.Set("never", nil); err != nil {
			t.Errorf("Set(nil) on absent image error = %v", err)
		}
	})

	t.Run("MissingAndCorrupt", func(t *testing.T) {
		dir := t.TempDir()
		bs, err := NewBlobStore(dir, nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := bs.Get("missing"); ok {
			t.Error("Get() of missing image should be absent")
		}
		if err := os.WriteFile(bs.Path("bad"), []byte("not a jpeg"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, ok := bs.Get("bad"); ok {
			t.Error("Get() of corrupt image should be absent")
		}
		if bs.cache.Len() != 0 {
			t.Errorf("cache len = %d, want 0", bs.cache.Len())
		}
	})

	t.Run("EncodeFailure", func(t *testing.T) {
		dir := t.TempDir()
		bs, err := NewBlobStore(dir, &countingCodec{failEnc: true})
		if err != nil {
			t.Fatal(err)
		}
		err = bs.Set("x", newTestImage(2, 2, color.Black))
		if apierrors.KindOf(err) != apierrors.KindEncoding {
			t.Fatalf("Set() error kind = %v, want %v", apierrors.KindOf(err), apierrors.KindEncoding)
		}
		if _, err := os.Stat(bs.Path("x")); !os.IsNotExist(err) {
			t.Error("no file should be written when encoding fails")
		}
	})

	t.Run("WriteFailure", func(t *testing.T) {
		if os.Getuid() == 0 {
			t.Skip("permissions are not enforced for root")
		}
		dir := t.TempDir()
		bs, err := NewBlobStore(dir, nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(dir, 0o500); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })
		err = bs.Set("x", newTestImage(2, 2, color.Black))
		if apierrors.KindOf(err) != apierrors.KindIO {
			t.Fatalf("Set() error kind = %v, want %v", apierrors.KindOf(err), apierrors.KindIO)
		}
		if _, ok := bs.Get("x"); ok {
			t.Error("failed write must not leave a cache entry")
		}
	})

	t.Run("SetBytes", func(t *testing.T) {
		bs, err := NewBlobStore(t.TempDir(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := bs.SetBytes("x", []byte("garbage")); apierrors.KindOf(err) != apierrors.KindDecode {
			t.Errorf("SetBytes(garbage) kind = %v, want %v", apierrors.KindOf(err), apierrors.KindDecode)
		}
		data, err := JPEGCodec{}.Encode(newTestImage(3, 3, color.White), Quality)
		if err != nil {
			t.Fatal(err)
		}
		if err := bs.SetBytes("x", data); err != nil {
			t.Fatalf("SetBytes() error = %v", err)
		}
		if _, ok := bs.ReadBytes("x"); !ok {
			t.Error("ReadBytes() absent after SetBytes")
		}
		if err := bs.SetBytes("x", nil); err != nil {
			t.Fatal(err)
		}
		if _, ok := bs.ReadBytes("x"); ok {
			t.Error("ReadBytes() present after SetBytes(nil)")
		}
	})

	t.Run("Concurrent", func(t *testing.T) {
		bs, err := NewBlobStore(t.TempDir(), nil)
		if err != nil {
			t.Fatal(err)
		}
		img := newTestImage(8, 8, color.White)
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if i%2 == 0 {
					_ = bs.Set("same", img)
				} else {
					_ = bs.Set("same", nil)
				}
				bs.Get("same")
			}()
		}
		wg.Wait()
		// The cache must agree with the disk for the final state.
		cached, known := bs.cache.Get("same")
		_, statErr := os.Stat(bs.Path("same"))
		if cached != nil && statErr != nil {
			t.Error("cache holds an image the disk doesn't have")
		}
		if known && cached == nil && statErr == nil {
			t.Error("cache records an absence but the disk has an image")
		}
	})
}

func TestJPEGCodec(t *testing.T) {
	c := JPEGCodec{}
	if _, err := c.Encode(nil, Quality); err == nil {
		t.Error("Encode(nil) should fail")
	}
	if _, err := c.Encode(image.NewRGBA(image.Rectangle{}), Quality); err == nil {
		t.Error("Encode(empty) should fail")
	}
	data, err := c.Encode(newTestImage(5, 7, color.Gray{Y: 128}), Quality)
	if err != nil {
		t.Fatal(err)
	}
	img, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 5 || b.Dy() != 7 {
		t.Errorf("bounds = %v, want 5x7", b)
	}
	if _, err := c.Decode([]byte{1, 2, 3}); err == nil {
		t.Error("Decode(garbage) should fail")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.json")
	if err := WriteFileAtomic(path, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "two" {
		t.Errorf("content = %q, want %q", got, "two")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1 (temp files leaked)", len(entries))
	}
}

func TestCache(t *testing.T) {
	c := NewCache(2)
	a := newTestImage(1, 1, color.White)
	c.Set("a", a)
	c.Set("b", a)
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	// Overwriting an existing key doesn't trigger the size limit.
	c.Set("a", a)
	if c.Len() != 2 {
		t.Errorf("Len() after overwrite = %d, want 2", c.Len())
	}
	c.Set("c", a)
	if c.Len() != 1 {
		t.Errorf("Len() after overflow = %d, want 1", c.Len())
	}
	c.Set("c", nil)
	if img, ok := c.Get("c"); !ok || img != nil {
		t.Errorf("Get() after Set(nil) = %v, %v; want recorded absence", img, ok)
	}
	c.Invalidate("c")
	if _, ok := c.Get("c"); ok {
		t.Error("Invalidate() should forget the entry")
	}
	c.Set("d", a)
	c.InvalidateAll()
	if c.Len() != 0 {
		t.Errorf("Len() after InvalidateAll = %d", c.Len())
	}
}
