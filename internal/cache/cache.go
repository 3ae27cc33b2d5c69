// Package cache manages the local directory of received wallpapers.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sam-hudson02/wallsync-client/internal/logging"
	"github.com/sam-hudson02/wallsync-client/internal/metrics"
)

// ErrInvalidName is returned for names that would escape the cache directory.
var ErrInvalidName = errors.New("invalid cache entry name")

const tempSuffix = ".tmp"

// Entry is a file held in the cache.
type Entry struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Cache is a directory of files bounded by a total byte budget. The
// filesystem is the source of truth; nothing is indexed in memory.
type Cache struct {
	dir     string
	maxSize int64 // Maximum cache size in bytes, <= 0 for unlimited

	mu sync.Mutex
}

// New creates a new cache.
func New(dir string, maxSize int64) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{
		dir:     dir,
		maxSize: maxSize,
	}, nil
}

// Dir returns the cache directory path.
func (c *Cache) Dir() string {
	return c.dir
}

// MaxSize returns the byte budget.
func (c *Cache) MaxSize() int64 {
	return c.maxSize
}

// Path returns where name is (or would be) stored.
func (c *Cache) Path(name string) string {
	return filepath.Join(c.dir, name)
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && !strings.HasSuffix(name, tempSuffix)
}

// Has reports whether name is cached.
func (c *Cache) Has(name string) bool {
	if !validName(name) {
		return false
	}
	info, err := os.Stat(c.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// Put stores r under name and returns the local path.
// Content is written atomically (temp file then rename).
func (c *Cache) Put(name string, r io.Reader) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	localPath := c.Path(name)
	tempPath := localPath + tempSuffix

	f, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("write content: %w", err)
	}

	if err := os.Rename(tempPath, localPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename temp file: %w", err)
	}

	return localPath, nil
}

// List returns the cached entries, oldest modification time first.
func (c *Cache) List() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list()
}

// Must be called with lock held.
func (c *Cache) list() ([]Entry, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Path:    filepath.Join(c.dir, de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	return entries, nil
}

// Manage brings the cache within its budget by deleting the oldest entries
// by modification time. Names in keep are never evicted. It returns the
// evicted names.
func (c *Cache) Manage(keep ...string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	entries, err := c.list()
	if err != nil {
		return nil, err
	}

	var total int64
	for _, e := range entries {
		total += e.Size
	}
	logging.Debug("cache size",
		logging.Float64("size_mb", toMB(total)),
		logging.Float64("max_mb", toMB(c.maxSize)))

	protected := make(map[string]bool, len(keep))
	for _, k := range keep {
		protected[k] = true
	}

	var evicted []string
	for _, e := range entries {
		if c.maxSize <= 0 || total <= c.maxSize {
			break
		}
		if protected[e.Name] {
			continue
		}
		if err := os.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			logging.Error("cache eviction failed", logging.String("name", e.Name), logging.Err(err))
			continue
		}
		total -= e.Size
		evicted = append(evicted, e.Name)
		logging.Info("evicted cache entry",
			logging.String("name", e.Name),
			logging.Float64("size_mb", toMB(e.Size)),
			logging.Float64("remaining_mb", toMB(total)))
	}

	metrics.SetCacheUsage(total, len(entries)-len(evicted))
	if len(evicted) > 0 {
		metrics.RecordCacheEvictions(len(evicted))
	}
	return evicted, nil
}

// Stats returns the total size and entry count.
func (c *Cache) Stats() (size int64, count int, err error) {
	entries, err := c.List()
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		size += e.Size
	}
	return size, len(entries), nil
}

func toMB(n int64) float64 {
	return float64(n) / (1 << 20)
}
