package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recera/flipview/internal/cache"
)

type reloadCall struct {
	book  string
	pages int
	err   error
}

type fakeReloader struct {
	mu    sync.Mutex
	calls []reloadCall
}

func (r *fakeReloader) Reload(bookID string, numPages int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, reloadCall{book: bookID, pages: numPages})
	return 1
}

func (r *fakeReloader) ReloadFailed(bookID string, err error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, reloadCall{book: bookID, err: err})
	return 1
}

func (r *fakeReloader) last() (reloadCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return reloadCall{}, false
	}
	return r.calls[len(r.calls)-1], true
}

func TestWatcher_ReloadsChangedBook(t *testing.T) {
	f := newFixture(t, nil)
	reloader := &fakeReloader{}
	w, err := NewWatcher(f.shelf, reloader, 20*time.Millisecond, nil)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	e, _ := f.shelf.Get("toan-6")
	_, err = e.Source().RenderPNG(context.Background(), 1, 40)
	require.NoError(t, err)
	key := cache.PageKey("toan-6", 1, 40)
	_, ok := f.store.Get(key)
	require.True(t, ok)

	f.sources["toan-6"].SetPages(7)
	require.NoError(t, os.WriteFile(e.Book.Path, []byte("%PDF-1.5"), 0644))

	assert.Eventually(t, func() bool {
		call, ok := reloader.last()
		return ok && call.book == "toan-6" && call.pages == 7
	}, 5*time.Second, 10*time.Millisecond)

	n, err := e.Pages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	_, ok = f.store.Get(key)
	assert.False(t, ok, "stale renders are dropped")
}

func TestWatcher_DirectoryBook(t *testing.T) {
	f := newFixture(t, nil)
	reloader := &fakeReloader{}
	w, err := NewWatcher(f.shelf, reloader, 20*time.Millisecond, nil)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	e, _ := f.shelf.Get("van-7")
	require.NoError(t, os.WriteFile(filepath.Join(e.Book.Path, "001.png"), []byte("x"), 0644))

	// The fake source still fails to load, which is reported as such
	assert.Eventually(t, func() bool {
		call, ok := reloader.last()
		return ok && call.book == "van-7" && call.err != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	f := newFixture(t, nil)
	reloader := &fakeReloader{}
	w, err := NewWatcher(f.shelf, reloader, 20*time.Millisecond, nil)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	// Same directory as toan-6.pdf but not a book file
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "notes.txt"), []byte("x"), 0644))
	time.Sleep(200 * time.Millisecond)
	_, called := reloader.last()
	assert.False(t, called)
}

func TestWatcher_RefreshFailure(t *testing.T) {
	f := newFixture(t, nil)
	reloader := &fakeReloader{}
	w, err := NewWatcher(f.shelf, reloader, time.Hour, nil)
	require.NoError(t, err)
	defer w.Stop()

	e, _ := f.shelf.Get("toan-6")
	n, err := e.Pages(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5, n)

	f.sources["toan-6"].LoadErr = errors.New("truncated")
	w.Refresh(context.Background(), "toan-6")

	call, ok := reloader.last()
	require.True(t, ok)
	assert.EqualError(t, call.err, "truncated")
	_, err = e.Pages(context.Background())
	assert.Error(t, err)

	// Unknown books are ignored
	w.Refresh(context.Background(), "nope")
	assert.Len(t, reloader.calls, 1)
}

func TestNewWatcher_MissingPath(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.RemoveAll(filepath.Join(f.dir, "van-7")))

	_, err := NewWatcher(f.shelf, nil, 0, nil)
	assert.Error(t, err)
}
