package webdriver

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeDriver(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o755); err != nil {
		t.Fatalf("writing driver file: %v", err)
	}
	return path
}

func TestCachePutGet(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(dir)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}

	path := writeDriver(t, dir, "chromedriver", []byte("binary-bytes"))
	if err := cache.Put("131.0.6778.85", "linux64", path); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if got := cache.Get("131.0.6778.85", "linux64"); got != path {
		t.Fatalf("Get = %q, want %q", got, path)
	}
	if got := cache.Get("130.0.0.0", "linux64"); got != "" {
		t.Fatalf("Get unknown version = %q", got)
	}

	// A fresh cache over the same directory sees the persisted entry.
	reopened, err := OpenCache(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.Get("131.0.6778.85", "linux64"); got != path {
		t.Fatalf("reopened Get = %q, want %q", got, path)
	}
}

func TestCacheDropsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(dir)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}

	path := writeDriver(t, dir, "chromedriver", []byte("binary-bytes"))
	if err := cache.Put("131.0.6778.85", "linux64", path); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Flip a byte; the checksum no longer matches.
	if err := os.WriteFile(path, []byte("binary-bytez"), 0o755); err != nil {
		t.Fatalf("corrupting file: %v", err)
	}

	if got := cache.Get("131.0.6778.85", "linux64"); got != "" {
		t.Fatalf("Get on corrupt file = %q, want empty", got)
	}
	if cache.Len() != 0 {
		t.Fatalf("invalid entry not dropped, len = %d", cache.Len())
	}
}

func TestCacheExpiry(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(dir)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}

	path := writeDriver(t, dir, "chromedriver", []byte("binary-bytes"))
	if err := cache.Put("131.0.6778.85", "linux64", path); err != nil {
		t.Fatalf("Put: %v", err)
	}

	cache.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }
	if got := cache.Get("131.0.6778.85", "linux64"); got != "" {
		t.Fatalf("Get on expired entry = %q, want empty", got)
	}
}

func TestCacheCleanupExpired(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(dir)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}

	fresh := writeDriver(t, dir, "fresh", []byte("a"))
	stale := writeDriver(t, dir, "stale", []byte("b"))
	if err := cache.Put("131.0.0.0", "linux64", fresh); err != nil {
		t.Fatalf("Put fresh: %v", err)
	}
	if err := cache.Put("120.0.0.0", "linux64", stale); err != nil {
		t.Fatalf("Put stale: %v", err)
	}

	// Age only the stale entry.
	entry := cache.meta.WebDrivers["120.0.0.0_linux64"]
	entry.ExpiresAt = time.Now().Add(-time.Hour)
	cache.meta.WebDrivers["120.0.0.0_linux64"] = entry

	if removed := cache.CleanupExpired(); removed != 1 {
		t.Fatalf("CleanupExpired removed %d, want 1", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expired driver file not deleted")
	}
	if got := cache.Get("131.0.0.0", "linux64"); got != fresh {
		t.Fatalf("fresh entry lost: %q", got)
	}
}

func TestCacheClearAll(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenCache(dir)
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	path := writeDriver(t, dir, "chromedriver", []byte("a"))
	if err := cache.Put("131.0.0.0", "linux64", path); err != nil {
		t.Fatalf("Put: %v", err)
	}

	cache.ClearAll()
	if cache.Len() != 0 {
		t.Fatalf("len after ClearAll = %d", cache.Len())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("driver file survived ClearAll")
	}
}
