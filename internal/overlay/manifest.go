// Fetches, caches and holds the overlay manifest.

package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apierrors "github.com/maruel/selfiegram/internal/errors"
	"github.com/maruel/selfiegram/internal/models"
	"github.com/maruel/selfiegram/internal/storage"
)

// ManifestFileName is the name of the manifest both remotely and in the cache.
const ManifestFileName = "overlays.json"

// Source records where the manifest held at construction came from.
type Source int

const (
	// LoadedFromCache means the cached manifest was read and decoded.
	LoadedFromCache Source = iota
	// InitializedEmpty means there was no cached manifest.
	InitializedEmpty
	// InitializedCorrupt means a cached manifest existed but couldn't be used.
	InitializedCorrupt
)

func (s Source) String() string {
	switch s {
	case LoadedFromCache:
		return "cache"
	case InitializedEmpty:
		return "empty"
	case InitializedCorrupt:
		return "corrupt"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

var errInvalidAssetName = errors.New("invalid asset name")

// ManifestClient holds the most recently loaded manifest and refreshes it from
// the remote server.
type ManifestClient struct {
	cacheDir string
	baseURL  string
	fetcher  Fetcher
	source   Source

	// refreshMu orders Refresh commits so memory and the cache file agree.
	refreshMu sync.Mutex
	mu        sync.RWMutex
	manifest  models.Manifest
}

// NewManifestClient creates the cache directory and loads the cached manifest.
//
// A missing or malformed cache is not an error: the client starts with an
// empty manifest and Source reports why.
func NewManifestClient(cacheDir, baseURL string, fetcher Fetcher) (*ManifestClient, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	c := &ManifestClient{
		cacheDir: cacheDir,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		fetcher:  fetcher,
		manifest: models.Manifest{},
	}
	c.manifest, c.source = loadCachedManifest(c.cachePath())
	return c, nil
}

func loadCachedManifest(path string) (models.Manifest, Source) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Manifest{}, InitializedEmpty
		}
		slog.Warn("Failed to read cached manifest", "path", path, "err", err)
		return models.Manifest{}, InitializedCorrupt
	}
	m, err := decodeManifest(data)
	if err != nil {
		slog.Warn("Ignoring corrupt cached manifest", "path", path, "err", err)
		return models.Manifest{}, InitializedCorrupt
	}
	return m, LoadedFromCache
}

// Source reports where the manifest held at construction came from.
func (c *ManifestClient) Source() Source {
	return c.source
}

// CacheDir returns the directory holding the manifest and assets.
func (c *ManifestClient) CacheDir() string {
	return c.cacheDir
}

// Current returns a copy of the manifest held in memory. It performs no I/O.
func (c *ManifestClient) Current() models.Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.manifest.Clone()
}

// Refresh downloads the manifest, replacing the cached file and the in-memory
// copy.
//
// The response is decoded before anything is written, so a malformed response
// leaves both the cache file and the held manifest untouched.
func (c *ManifestClient) Refresh(ctx context.Context) (models.Manifest, error) {
	src := c.baseURL + "/" + ManifestFileName
	data, err := c.fetcher.Fetch(ctx, src)
	if err != nil {
		if apierrors.KindOf(err) == apierrors.KindNetwork {
			return nil, err
		}
		return nil, apierrors.Network("refresh manifest", err)
	}
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	m, err := decodeManifest(data)
	if err != nil {
		return nil, apierrors.Decode("refresh manifest", err)
	}
	c.mu.Lock()
	c.manifest = m
	c.mu.Unlock()
	if err := storage.WriteFileAtomic(c.cachePath(), data, 0o644); err != nil {
		// The in-memory copy is already current; only the next start is affected.
		return m.Clone(), apierrors.IO("cache manifest", err)
	}
	return m.Clone(), nil
}

// AssetURL returns the remote URL of the named asset.
func (c *ManifestClient) AssetURL(name string) (string, error) {
	if err := validateAssetName(name); err != nil {
		return "", err
	}
	return c.baseURL + "/" + url.PathEscape(name), nil
}

// CachedPath returns the local path of the named asset.
func (c *ManifestClient) CachedPath(name string) (string, error) {
	if err := validateAssetName(name); err != nil {
		return "", err
	}
	return filepath.Join(c.cacheDir, name), nil
}

// Available returns the entries whose three assets are all cached.
func (c *ManifestClient) Available() []models.ManifestEntry {
	var out []models.ManifestEntry
	for _, e := range c.Current() {
		ok := true
		for _, name := range e.Names() {
			p, err := c.CachedPath(name)
			if err != nil {
				ok = false
				break
			}
			if fi, err := os.Stat(p); err != nil || !fi.Mode().IsRegular() {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, e)
		}
	}
	return out
}

func (c *ManifestClient) cachePath() string {
	return filepath.Join(c.cacheDir, ManifestFileName)
}

func decodeManifest(data []byte) (models.Manifest, error) {
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		// "null" decodes without error.
		return nil, errors.New("manifest is not a list")
	}
	for i, e := range m {
		if e.Icon == "" || e.LeftAsset == "" || e.RightAsset == "" {
			return nil, fmt.Errorf("entry %d: icon, leftImage and rightImage are required", i)
		}
	}
	return m, nil
}

// validateAssetName rejects names that would escape the cache directory or
// collide with the manifest or the synchronization log.
func validateAssetName(name string) error {
	if name == "" || name == "." || name == ".." || name == ManifestFileName || name == LogFileName ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return apierrors.Decode("asset "+name, errInvalidAssetName)
	}
	return nil
}
