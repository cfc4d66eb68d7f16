package storage

import (
	"image"
	"sync"
)

// Cache holds decoded images keyed by record ID.
//
// The disk copy is canonical; the cache only ever holds what was last read
// from or written to disk for an ID. A nil entry records that the ID is known
// to have no image.
type Cache struct {
	mu     sync.RWMutex
	images map[string]image.Image

	// Max size for LRU-like behavior (simplified for now)
	maxImages int
}

// NewCache initializes a new cache holding at most maxImages entries. A
// non-positive value means 100.
func NewCache(maxImages int) *Cache {
	if maxImages <= 0 {
		maxImages = 100
	}
	return &Cache{
		images:    make(map[string]image.Image),
		maxImages: maxImages,
	}
}

// Get returns a cached image by ID. ok is true when the cache knows the state
// of id; img is then nil if id has no image.
func (c *Cache) Get(id string) (image.Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img, ok := c.images[id]
	return img, ok
}

// Set caches an image. A nil image records that id has none.
func (c *Cache) Set(id string, img image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Simple size limiting: clear if it grows too large
	if _, ok := c.images[id]; !ok && len(c.images) >= c.maxImages {
		c.images = make(map[string]image.Image)
	}
	c.images[id] = img
}

// Invalidate removes an image from cache.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.images, id)
}

// InvalidateAll clears the entire cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = make(map[string]image.Image)
}

// Len returns the number of cached entries, absences included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}
