package cache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_HitAndMiss(t *testing.T) {
	c := newCache(t, Config{MaxSize: 1 << 20, MaxAge: time.Hour})

	page3 := PageKey("sgk-toan-6", 3, 600)
	require.NoError(t, c.Put(page3, []byte("png bytes")))

	got, ok := c.Get(page3)
	require.True(t, ok)
	assert.Equal(t, []byte("png bytes"), got)

	_, ok = c.Get(PageKey("sgk-toan-6", 4, 600))
	assert.False(t, ok)

	stats := c.GetStats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 9, stats.TotalSize)
}

// Blank pages of different books render to identical bytes
func TestCache_IdenticalRendersStayIndependent(t *testing.T) {
	c := newCache(t, Config{})

	white := []byte("white page")
	require.NoError(t, c.Put(PageKey("a", 1, 300), white))
	require.NoError(t, c.Put(PageKey("b", 1, 300), white))
	require.NoError(t, c.Delete(PageKey("a", 1, 300)))

	got, ok := c.Get(PageKey("b", 1, 300))
	assert.True(t, ok)
	assert.Equal(t, white, got)
}

func TestCache_Delete(t *testing.T) {
	c := newCache(t, Config{})

	require.NoError(t, c.Put("cover", []byte("data to delete")))
	require.NoError(t, c.Delete("cover"))
	_, ok := c.Get("cover")
	assert.False(t, ok)

	stats := c.GetStats()
	assert.Zero(t, stats.EntryCount)
	assert.Zero(t, stats.TotalSize)

	assert.NoError(t, c.Delete("never-stored"))
}

func TestCache_DeletePrefix(t *testing.T) {
	c := newCache(t, Config{})

	for page := 1; page <= 3; page++ {
		c.Put(PageKey("book", page, 600), []byte(fmt.Sprint("book-", page)))
		c.Put(PageKey("book2", page, 600), []byte(fmt.Sprint("book2-", page)))
	}
	c.Put(SheetKey("book", 1, 600), []byte("sheet"))

	assert.Equal(t, 4, c.DeletePrefix(BookPrefix("book")))

	_, ok := c.Get(PageKey("book", 2, 600))
	assert.False(t, ok, "render of the invalidated book")
	_, ok = c.Get(PageKey("book2", 2, 600))
	assert.True(t, ok, "render of another book")
}

func TestCache_Eviction(t *testing.T) {
	tests := []struct {
		name     string
		strategy EvictionStrategy
		// reads between storing key1, key2 and storing key3
		reads   []string
		evicted string
	}{
		{name: "lru", strategy: LRU, reads: []string{"key1"}, evicted: "key2"},
		{name: "lfu", strategy: LFU, reads: []string{"key1", "key1", "key1", "key2"}, evicted: "key2"},
		{name: "fifo", strategy: FIFO, reads: []string{"key1", "key1"}, evicted: "key1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCache(t, Config{MaxSize: 100, Strategy: tt.strategy})

			c.Put("key1", bytes.Repeat([]byte("a"), 40))
			time.Sleep(10 * time.Millisecond)
			c.Put("key2", bytes.Repeat([]byte("b"), 40))
			time.Sleep(10 * time.Millisecond)
			for _, k := range tt.reads {
				c.Get(k)
			}
			time.Sleep(10 * time.Millisecond)
			require.NoError(t, c.Put("key3", bytes.Repeat([]byte("c"), 40)))

			for _, k := range []string{"key1", "key2", "key3"} {
				_, ok := c.Get(k)
				assert.Equal(t, k != tt.evicted, ok, k)
			}
			stats := c.GetStats()
			assert.EqualValues(t, 1, stats.Evictions)
			assert.EqualValues(t, 80, stats.TotalSize)
		})
	}
}

func TestCache_RejectsOversized(t *testing.T) {
	c := newCache(t, Config{MaxSize: 10})
	assert.Error(t, c.Put("big", bytes.Repeat([]byte("x"), 11)))
	assert.Zero(t, c.GetStats().EntryCount)
}

func TestCache_Expiration(t *testing.T) {
	c := newCache(t, Config{MaxAge: 50 * time.Millisecond})

	c.Put("fresh", []byte("expiring data"))
	_, ok := c.Get("fresh")
	require.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get("fresh")
	assert.False(t, ok)
}

func TestCache_Clear(t *testing.T) {
	dir := t.TempDir()
	c := newCache(t, Config{Dir: dir})

	for i := 0; i < 5; i++ {
		c.Put(PageKey("b", i, 600), []byte("page"))
	}
	require.NoError(t, c.Clear())

	for i := 0; i < 5; i++ {
		_, ok := c.Get(PageKey("b", i, 600))
		assert.False(t, ok)
	}
	_, err := os.Stat(filepath.Join(dir, "renders"))
	assert.True(t, os.IsNotExist(err))

	stats := c.GetStats()
	assert.Zero(t, stats.EntryCount)
	assert.EqualValues(t, 5, stats.Misses)
}

func TestCache_Concurrent(t *testing.T) {
	c := newCache(t, Config{MaxSize: 10 << 20})

	const workers, perWorker = 10, 100
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			book := fmt.Sprintf("book-%d", w)
			for p := 0; p < perWorker; p++ {
				key := PageKey(book, p, 600)
				want := []byte(key)
				assert.NoError(t, c.Put(key, want))

				got, ok := c.Get(key)
				assert.True(t, ok, key)
				assert.Equal(t, want, got, key)

				if p%10 == 0 {
					c.Delete(key)
				}
			}
		}(w)
	}
	wg.Wait()

	stats := c.GetStats()
	assert.Equal(t, workers*(perWorker-perWorker/10), stats.EntryCount)
	assert.Positive(t, stats.TotalSize)
}

func TestCache_BookDirectories(t *testing.T) {
	dir := t.TempDir()
	c := newCache(t, Config{Dir: dir})

	c.Put(PageKey("toan-6", 1, 600), []byte("p1"))
	c.Put(PageKey("toan-6", 2, 600), []byte("p2"))
	c.Put(PageKey("../escape", 1, 600), []byte("x"))

	files, _ := filepath.Glob(filepath.Join(dir, "renders", "toan-6", "*.png"))
	assert.Len(t, files, 2)
	outside, _ := filepath.Glob(filepath.Join(dir, "*.png"))
	assert.Empty(t, outside, "key escaped the renders directory")

	c.DeletePrefix(BookPrefix("toan-6"))
	_, err := os.Stat(filepath.Join(dir, "renders", "toan-6"))
	assert.True(t, os.IsNotExist(err), "book directory left behind")
}

func TestCache_ReloadDropsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	first, err := New(Config{Dir: dir})
	require.NoError(t, err)
	first.Put(PageKey("b", 1, 600), []byte("kept"))
	first.Put(PageKey("b", 2, 600), []byte("lost"))
	require.NoError(t, first.Close())

	files, _ := filepath.Glob(filepath.Join(dir, "renders", "b", "2-600-*.png"))
	require.Len(t, files, 1)
	require.NoError(t, os.Remove(files[0]))

	second := newCache(t, Config{Dir: dir})
	stats := second.GetStats()
	assert.Equal(t, 1, stats.EntryCount)
	assert.EqualValues(t, 4, stats.TotalSize)
}

func TestCache_Reopen(t *testing.T) {
	dir := t.TempDir()
	first, err := New(Config{Dir: dir})
	require.NoError(t, err)
	first.Put(SheetKey("toan-6", 2, 1200), []byte("spread"))
	require.NoError(t, first.Close())
	assert.NoError(t, first.Close(), "second Close")

	second := newCache(t, Config{Dir: dir})
	got, ok := second.Get(SheetKey("toan-6", 2, 1200))
	require.True(t, ok)
	assert.Equal(t, "spread", string(got))
	assert.Equal(t, 1, second.GetStats().EntryCount)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, Key("input1", "input2"), Key("input1", "input2"))
	assert.NotEqual(t, Key("input1", "input2"), Key("input1input2"))

	assert.Equal(t, "b/7/1200", PageKey("b", 7, 1200))
	assert.Equal(t, "b/sheet2/600", SheetKey("b", 2, 600))
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]EvictionStrategy{"": LRU, "lru": LRU, "LFU": LFU, " fifo ": FIFO} {
		got, err := ParseStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseStrategy("random")
	assert.Error(t, err)
}

func BenchmarkCache_Put(b *testing.B) {
	c, _ := New(Config{Dir: b.TempDir()})
	defer c.Close()
	data := bytes.Repeat([]byte("x"), 1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Put(PageKey("bench", i, 600), data)
	}
}

func BenchmarkCache_Get(b *testing.B) {
	c, _ := New(Config{Dir: b.TempDir()})
	defer c.Close()
	key := PageKey("bench", 1, 600)
	c.Put(key, bytes.Repeat([]byte("x"), 1024))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(key)
	}
}
