package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CacheKeyPrefix namespaces every cache entry in its Storage.
const CacheKeyPrefix = "ainopay_cache_"

// LookupTTL is how long categories and payment methods are reused.
const LookupTTL = 10 * time.Minute

// Storage is a string key/value store in the shape of browser local storage.
type Storage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// MemoryStorage is a Storage held in process memory.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string]string)}
}

func (m *MemoryStorage) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *MemoryStorage) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *MemoryStorage) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// DirStorage keeps one file per key in a directory.
type DirStorage struct {
	dir string
}

func NewDirStorage(dir string) *DirStorage {
	return &DirStorage{dir: dir}
}

// DefaultCacheDir is ainopay under the user cache dir.
func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ainopay"), nil
}

func (d *DirStorage) path(key string) string {
	return filepath.Join(d.dir, url.PathEscape(key)+".json")
}

func (d *DirStorage) GetItem(key string) (string, bool, error) {
	b, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

func (d *DirStorage) SetItem(key, value string) error {
	if err := os.MkdirAll(d.dir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(d.path(key), []byte(value), 0o600)
}

func (d *DirStorage) RemoveItem(key string) error {
	if err := os.Remove(d.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

type cacheEntry[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// Cached is a single value stored with the time it was written. It is stale
// once more than ttl has passed.
type Cached[T any] struct {
	storage Storage
	key     string
	ttl     time.Duration
	now     func() time.Time
}

func NewCached[T any](storage Storage, key string, ttl time.Duration) *Cached[T] {
	return &Cached[T]{
		storage: storage,
		key:     CacheKeyPrefix + key,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *Cached[T]) load() (cacheEntry[T], bool) {
	var e cacheEntry[T]
	raw, ok, err := c.storage.GetItem(c.key)
	if err != nil || !ok || raw == "" || raw == "null" {
		return e, false
	}
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return e, false
	}
	return e, true
}

// IsExpired reports true for a missing entry too.
func (c *Cached[T]) IsExpired() bool {
	e, ok := c.load()
	if !ok {
		return true
	}
	return c.now().UnixMilli()-e.Timestamp > c.ttl.Milliseconds()
}

// Get returns the value unless it is missing or stale; a stale entry is removed.
func (c *Cached[T]) Get() (T, bool) {
	var zero T
	e, ok := c.load()
	if !ok {
		return zero, false
	}
	if c.now().UnixMilli()-e.Timestamp > c.ttl.Milliseconds() {
		_ = c.Clear()
		return zero, false
	}
	return e.Data, true
}

func (c *Cached[T]) Set(v T) error {
	b, err := json.Marshal(cacheEntry[T]{Data: v, Timestamp: c.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return c.storage.SetItem(c.key, string(b))
}

func (c *Cached[T]) Clear() error {
	return c.storage.RemoveItem(c.key)
}
