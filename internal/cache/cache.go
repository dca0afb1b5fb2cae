// Package cache implements a disk cache for rendered page images.
// Entries are keyed by book, page and width and stored under one directory
// per book, so a changed book can be dropped in one call.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	indexFile  = "index.json"
	rendersDir = "renders"

	flushInterval = 30 * time.Second
	sweepInterval = time.Hour
)

// Cache stores rendered images on disk. The index is kept in memory and
// written back periodically and on Close.
type Cache struct {
	mu       sync.RWMutex
	dir      string
	entries  map[string]*Entry
	size     int64
	dirty    bool
	maxSize  int64
	maxAge   time.Duration
	strategy EvictionStrategy
	log      *zap.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Entry is one cached render
type Entry struct {
	File     string    `json:"file"` // relative to the renders directory
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
	LastUsed time.Time `json:"last_used"`
	Uses     int       `json:"uses"`
}

type index struct {
	Version int               `json:"version"`
	Entries map[string]*Entry `json:"entries"`
}

const indexVersion = 2

// Stats is a snapshot of cache counters
type Stats struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
	TotalSize  int64 `json:"total_size"`
	EntryCount int   `json:"entry_count"`
}

// EvictionStrategy picks which entry leaves first when the cache is full
type EvictionStrategy int

const (
	// LRU evicts the entry used longest ago
	LRU EvictionStrategy = iota
	// LFU evicts the entry used least often
	LFU
	// FIFO evicts the oldest entry
	FIFO
)

func (s EvictionStrategy) String() string {
	switch s {
	case LFU:
		return "lfu"
	case FIFO:
		return "fifo"
	default:
		return "lru"
	}
}

// evictsBefore reports whether a should be evicted before b
func (s EvictionStrategy) evictsBefore(a, b *Entry) bool {
	switch s {
	case LFU:
		if a.Uses != b.Uses {
			return a.Uses < b.Uses
		}
		return a.LastUsed.Before(b.LastUsed)
	case FIFO:
		return a.Created.Before(b.Created)
	default:
		return a.LastUsed.Before(b.LastUsed)
	}
}

// ParseStrategy parses "lru", "lfu" or "fifo" (case-insensitive)
func ParseStrategy(s string) (EvictionStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lru":
		return LRU, nil
	case "lfu":
		return LFU, nil
	case "fifo":
		return FIFO, nil
	default:
		return LRU, fmt.Errorf("unknown eviction strategy %q", s)
	}
}

// Config holds cache configuration
type Config struct {
	Dir      string           // default $HOME/.cache/flipview
	MaxSize  int64            // bytes; 0 means unbounded
	MaxAge   time.Duration    // 0 means entries never expire
	Strategy EvictionStrategy // default LRU
	Logger   *zap.Logger
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	homeDir, _ := os.UserHomeDir()
	return Config{
		Dir:      filepath.Join(homeDir, ".cache", "flipview"),
		MaxSize:  512 << 20,
		MaxAge:   7 * 24 * time.Hour,
		Strategy: LRU,
	}
}

// New opens the cache in cfg.Dir, reloading a previous index. Entries whose
// files are gone are dropped.
func New(cfg Config) (*Cache, error) {
	logger := cfg.Logger
	if cfg.Dir == "" {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Join(cfg.Dir, rendersDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &Cache{
		dir:      cfg.Dir,
		entries:  make(map[string]*Entry),
		maxSize:  cfg.MaxSize,
		maxAge:   cfg.MaxAge,
		strategy: cfg.Strategy,
		log:      logger.Named("cache"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := c.load(); err != nil && !os.IsNotExist(err) {
		c.log.Warn("discarding unreadable cache index", zap.String("dir", cfg.Dir), zap.Error(err))
		c.entries = make(map[string]*Entry)
		c.size = 0
	}

	go c.maintain()
	return c, nil
}

// Dir returns the cache directory
func (c *Cache) Dir() string { return c.dir }

// Get returns the bytes stored under key. Expired entries and entries whose
// file vanished count as misses and are dropped.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if c.expired(e) {
		c.Delete(key)
		c.misses.Add(1)
		return nil, false
	}

	data, err := os.ReadFile(c.filePath(e.File))
	if err != nil {
		c.Delete(key)
		c.misses.Add(1)
		return nil, false
	}

	c.mu.Lock()
	if cur, ok := c.entries[key]; ok && cur == e {
		e.LastUsed = time.Now()
		e.Uses++
		c.dirty = true
	}
	c.mu.Unlock()

	c.hits.Add(1)
	return data, true
}

// Put stores data under key, evicting other entries first if the cache
// would grow past MaxSize
func (c *Cache) Put(key string, data []byte) error {
	size := int64(len(data))
	if c.maxSize > 0 && size > c.maxSize {
		return fmt.Errorf("render of %d bytes exceeds cache size %d", size, c.maxSize)
	}

	file := entryFile(key)
	path := c.filePath(file)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	// Readers never see a partial image
	tmp := path + ".tmp" + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.size -= old.Size
		delete(c.entries, key)
	}
	c.makeRoom(size)
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := time.Now()
	c.entries[key] = &Entry{File: file, Size: size, Created: now, LastUsed: now}
	c.size += size
	c.dirty = true
	return nil
}

// Delete removes one entry
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	c.drop(key, e)
	return nil
}

// DeletePrefix removes every entry whose key starts with prefix and returns
// how many were removed
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.drop(key, e)
			count++
		}
	}
	// A whole book leaves an empty directory behind
	if dir, _, ok := strings.Cut(prefix, "/"); ok && dir != "" {
		os.Remove(filepath.Join(c.dir, rendersDir, sanitize(dir)))
	}
	return count
}

// Clear removes every entry and resets the counters
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(c.dir, rendersDir)); err != nil {
		return fmt.Errorf("failed to clear renders: %w", err)
	}
	c.entries = make(map[string]*Entry)
	c.size = 0
	c.dirty = true
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	return c.flushLocked()
}

// GetStats returns cache statistics
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
		TotalSize:  c.size,
		EntryCount: len(c.entries),
	}
}

// Close stops background maintenance and writes the index
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
		c.mu.Lock()
		err = c.flushLocked()
		c.mu.Unlock()
	})
	return err
}

// Key generates a stable hex key from inputs
func Key(inputs ...string) string {
	h := sha256.New()
	for _, input := range inputs {
		h.Write([]byte(input))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PageKey is the key of a page image rendered at width
func PageKey(bookID string, page, width int) string {
	return BookPrefix(bookID) + strconv.Itoa(page) + "/" + strconv.Itoa(width)
}

// SheetKey is the key of a composed spread image rendered at width
func SheetKey(bookID string, sheet, width int) string {
	return BookPrefix(bookID) + "sheet" + strconv.Itoa(sheet) + "/" + strconv.Itoa(width)
}

// BookPrefix is the key prefix shared by every entry of a book
func BookPrefix(bookID string) string {
	return bookID + "/"
}

// entryFile maps a key to a file under the renders directory: the first key
// segment becomes a directory, the rest the file name. A hash suffix keeps
// keys that sanitize alike apart.
func entryFile(key string) string {
	dir, rest, ok := strings.Cut(key, "/")
	if !ok || dir == "" {
		dir, rest = "_", key
	}
	name := sanitize(strings.ReplaceAll(rest, "/", "-"))
	if len(name) > 60 {
		name = name[:60]
	}
	return filepath.Join(sanitize(dir), name+"-"+Key(key)[:12]+".png")
}

// sanitize makes s a single safe path element
func sanitize(s string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
	if out = strings.TrimLeft(out, "."); out == "" {
		return "_"
	}
	return out
}

func (c *Cache) filePath(file string) string {
	return filepath.Join(c.dir, rendersDir, file)
}

func (c *Cache) expired(e *Entry) bool {
	return c.maxAge > 0 && time.Since(e.Created) > c.maxAge
}

// drop removes an entry and its file. Caller holds c.mu.
func (c *Cache) drop(key string, e *Entry) {
	if err := os.Remove(c.filePath(e.File)); err != nil && !os.IsNotExist(err) {
		c.log.Warn("failed to remove cache file", zap.String("file", e.File), zap.Error(err))
	}
	delete(c.entries, key)
	c.size -= e.Size
	c.dirty = true
}

// makeRoom evicts until needed more bytes fit. Caller holds c.mu.
func (c *Cache) makeRoom(needed int64) {
	if c.maxSize <= 0 {
		return
	}
	for c.size+needed > c.maxSize && len(c.entries) > 0 {
		var victimKey string
		var victim *Entry
		for key, e := range c.entries {
			if victim == nil || c.strategy.evictsBefore(e, victim) {
				victimKey, victim = key, e
			}
		}
		c.drop(victimKey, victim)
		c.evictions.Add(1)
		c.log.Debug("evicted render", zap.String("key", victimKey), zap.Stringer("strategy", c.strategy))
	}
}

func (c *Cache) load() error {
	data, err := os.ReadFile(filepath.Join(c.dir, indexFile))
	if err != nil {
		return err
	}
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}
	if idx.Version != indexVersion {
		return fmt.Errorf("index version %d, want %d", idx.Version, indexVersion)
	}
	for key, e := range idx.Entries {
		if _, err := os.Stat(c.filePath(e.File)); err != nil {
			c.dirty = true
			continue
		}
		c.entries[key] = e
		c.size += e.Size
	}
	return nil
}

// flushLocked writes the index if it changed. Caller holds c.mu.
func (c *Cache) flushLocked() error {
	if !c.dirty {
		return nil
	}
	data, err := json.Marshal(index{Version: indexVersion, Entries: c.entries})
	if err != nil {
		return err
	}
	path := filepath.Join(c.dir, indexFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// maintain flushes the index and sweeps expired entries until Close
func (c *Cache) maintain() {
	defer close(c.done)
	flush := time.NewTicker(flushInterval)
	defer flush.Stop()
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-flush.C:
			c.mu.Lock()
			if err := c.flushLocked(); err != nil {
				c.log.Warn("failed to save cache index", zap.Error(err))
			}
			c.mu.Unlock()
		case <-sweep.C:
			c.removeExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if c.expired(e) {
			c.drop(key, e)
			removed++
		}
	}
	if removed > 0 {
		c.log.Debug("expired renders removed", zap.Int("count", removed))
	}
}
