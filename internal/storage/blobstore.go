package storage

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	apierrors "github.com/maruel/selfiegram/internal/errors"
)

// imageSuffix is appended to the record ID to name its image file.
const imageSuffix = "-image.jpg"

// BlobStore persists one encoded image per record ID with a write-through
// in-memory cache.
//
// A missing or undecodable image is a normal state: Get reports it as absent
// rather than as an error.
type BlobStore struct {
	dir   string
	codec ImageCodec
	cache *Cache
	locks *idLocks
}

// NewBlobStore creates the directory if needed and returns a store using codec
// with a default sized cache. A nil codec means JPEGCodec.
func NewBlobStore(dir string, codec ImageCodec) (*BlobStore, error) {
	return NewBlobStoreSize(dir, codec, 0)
}

// NewBlobStoreSize is NewBlobStore keeping at most maxImages decoded images in
// memory. A non-positive maxImages selects the default.
func NewBlobStoreSize(dir string, codec ImageCodec, maxImages int) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	if codec == nil {
		codec = JPEGCodec{}
	}
	return &BlobStore{
		dir:   dir,
		codec: codec,
		cache: NewCache(maxImages),
		locks: newIDLocks(),
	}, nil
}

// Dir returns the directory holding the images.
func (s *BlobStore) Dir() string {
	return s.dir
}

// Path returns the canonical file path of the image for id.
func (s *BlobStore) Path(id string) string {
	return filepath.Join(s.dir, id+imageSuffix)
}

// Get returns the image for id.
//
// On a cache hit, including a cached absence, no I/O is performed. On a miss the file is read and decoded;
// the decoded image is cached before returning.
func (s *BlobStore) Get(id string) (image.Image, bool) {
	if img, ok := s.cache.Get(id); ok {
		return img, img != nil
	}
	unlock := s.locks.lock(id)
	defer unlock()
	// Another caller may have populated the cache while we waited.
	if img, ok := s.cache.Get(id); ok {
		return img, img != nil
	}
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Debug("Failed to read image", "id", id, "err", err)
		}
		return nil, false
	}
	img, err := s.codec.Decode(data)
	if err != nil {
		slog.Debug("Failed to decode image", "id", id, "err", err)
		return nil, false
	}
	s.cache.Set(id, img)
	return img, true
}

// Set replaces the image for id, or removes it when img is nil.
//
// The cache reflects the new state when Set returns, so a following Get never
// touches the disk.
func (s *BlobStore) Set(id string, img image.Image) error {
	unlock := s.locks.lock(id)
	defer unlock()
	return s.setLocked(id, img)
}

func (s *BlobStore) setLocked(id string, img image.Image) error {
	path := s.Path(id)
	if img == nil {
		// Evict first: if removal fails the disk state is unknown and the next
		// Get must consult the disk.
		s.cache.Invalidate(id)
		if err := removeIfExists(path); err != nil {
			return apierrors.IO("remove image", err)
		}
		s.cache.Set(id, nil)
		return nil
	}
	data, err := s.codec.Encode(img, Quality)
	if err != nil {
		return apierrors.Encoding("set image", err)
	}
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		s.cache.Invalidate(id)
		return apierrors.IO("write image", err)
	}
	s.cache.Set(id, img)
	return nil
}

// SetBytes decodes data and stores the result like Set. It is the path used by
// callers holding an uploaded file rather than a decoded image.
func (s *BlobStore) SetBytes(id string, data []byte) error {
	if len(data) == 0 {
		return s.Set(id, nil)
	}
	img, err := s.codec.Decode(data)
	if err != nil {
		return apierrors.Decode("set image", err)
	}
	return s.Set(id, img)
}

// ReadBytes returns the stored encoded bytes for id.
func (s *BlobStore) ReadBytes(id string) ([]byte, bool) {
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		return nil, false
	}
	return data, true
}
