package webdriver

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const cacheTTL = 30 * 24 * time.Hour

// CacheEntry records one cached driver binary. The file at Path must
// exist and hash to Checksum for the entry to be served.
type CacheEntry struct {
	Path          string    `json:"path"`
	Checksum      string    `json:"checksum"`
	Size          int64     `json:"size"`
	CachedAt      time.Time `json:"cached_at"`
	ChromeVersion string    `json:"chrome_version"`
	Platform      string    `json:"platform"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type cacheMetadata struct {
	WebDrivers  map[string]CacheEntry `json:"webdrivers"`
	LastCleanup time.Time             `json:"last_cleanup"`
}

// Cache is a single-process driver cache. The metadata file is read once
// at open and rewritten after every mutation.
type Cache struct {
	dir    string
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	meta cacheMetadata
	now  func() time.Time
}

// OpenCache loads (or creates) the cache under dir. An unreadable
// metadata file is treated as empty, not fatal.
func OpenCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	c := &Cache{
		dir:    dir,
		path:   filepath.Join(dir, "metadata.json"),
		logger: slog.Default(),
		meta:   cacheMetadata{WebDrivers: make(map[string]CacheEntry)},
		now:    time.Now,
	}

	data, err := os.ReadFile(c.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading cache metadata: %w", err)
	default:
		if err := json.Unmarshal(data, &c.meta); err != nil {
			c.logger.Warn("cache metadata corrupt, starting empty", "path", c.path, "error", err)
			c.meta = cacheMetadata{}
		}
		if c.meta.WebDrivers == nil {
			c.meta.WebDrivers = make(map[string]CacheEntry)
		}
	}
	return c, nil
}

func cacheKey(chromeVersion, platform string) string {
	return chromeVersion + "_" + platform
}

// Get returns the cached driver path for the version and platform, or
// empty when absent. An entry whose file is missing, whose checksum no
// longer matches, or whose TTL has lapsed is dropped and not returned.
func (c *Cache) Get(chromeVersion, platform string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(chromeVersion, platform)
	entry, ok := c.meta.WebDrivers[key]
	if !ok {
		return ""
	}

	drop := func(reason string) string {
		c.logger.Warn("dropping invalid cache entry", "key", key, "reason", reason)
		delete(c.meta.WebDrivers, key)
		c.save()
		return ""
	}

	if !c.now().Before(entry.ExpiresAt) {
		return drop("expired")
	}
	if _, err := os.Stat(entry.Path); err != nil {
		return drop("file missing")
	}
	sum, err := fileChecksum(entry.Path)
	if err != nil {
		return drop("unreadable")
	}
	if sum != entry.Checksum {
		return drop("checksum mismatch")
	}
	return entry.Path
}

// Put records a driver binary at path for the version and platform. The
// entry expires 30 days from now.
func (c *Cache) Put(chromeVersion, platform, path string) error {
	sum, err := fileChecksum(path)
	if err != nil {
		return fmt.Errorf("hashing driver %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stating driver %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.meta.WebDrivers[cacheKey(chromeVersion, platform)] = CacheEntry{
		Path:          path,
		Checksum:      sum,
		Size:          info.Size(),
		CachedAt:      now,
		ChromeVersion: chromeVersion,
		Platform:      platform,
		ExpiresAt:     now.Add(cacheTTL),
	}
	return c.saveErr()
}

// CleanupExpired drops expired entries and deletes their files.
// Individual file deletions are best-effort.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.meta.WebDrivers {
		if now.Before(entry.ExpiresAt) {
			continue
		}
		if err := os.Remove(entry.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to remove expired driver", "path", entry.Path, "error", err)
		}
		delete(c.meta.WebDrivers, key)
		removed++
	}
	if removed > 0 {
		c.meta.LastCleanup = now
		c.save()
	}
	return removed
}

// ClearAll removes every entry and its file.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.meta.WebDrivers {
		if err := os.Remove(entry.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to remove cached driver", "path", entry.Path, "error", err)
		}
		delete(c.meta.WebDrivers, key)
	}
	c.meta.LastCleanup = c.now()
	c.save()
}

// Len reports the number of entries, valid or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.meta.WebDrivers)
}

func (c *Cache) save() {
	if err := c.saveErr(); err != nil {
		c.logger.Warn("failed to write cache metadata", "error", err)
	}
}

func (c *Cache) saveErr() error {
	data, err := json.MarshalIndent(c.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache metadata: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing cache metadata: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing cache metadata: %w", err)
	}
	return nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
