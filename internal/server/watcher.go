package server

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses bursts of writes (a PDF being copied, a
// directory of scans being synced) into one reload
const DefaultDebounce = 300 * time.Millisecond

// Reloader is told when a book changes on disk
type Reloader interface {
	Reload(bookID string, numPages int) int
	ReloadFailed(bookID string, err error) int
}

// Watcher watches book files and reloads books that change
type Watcher struct {
	watcher  *fsnotify.Watcher
	shelf    *Shelf
	reloader Reloader
	debounce time.Duration
	log      *zap.Logger

	// watched path -> book ids; a PDF is watched through its directory
	dirs  map[string][]string
	files map[string]string

	mu      sync.Mutex
	pending map[string]*time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher watches every book on the shelf. reloader may be nil.
func NewWatcher(shelf *Shelf, reloader Reloader, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}

	w := &Watcher{
		watcher:  fsWatcher,
		shelf:    shelf,
		reloader: reloader,
		debounce: debounce,
		log:      log.Named("watch"),
		dirs:     make(map[string][]string),
		files:    make(map[string]string),
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}

	for _, e := range shelf.Entries() {
		if err := w.add(e.Book.ID, e.Book.Path); err != nil {
			fsWatcher.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *Watcher) add(id, path string) error {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	dir := path
	if !info.IsDir() {
		dir = filepath.Dir(path)
		w.files[path] = id
	} else {
		w.dirs[dir] = append(w.dirs[dir], id)
	}

	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.log.Debug("watching", zap.String("book", id), zap.String("path", dir))
	return nil
}

// booksFor maps a changed file to the books it belongs to
func (w *Watcher) booksFor(name string) []string {
	name = filepath.Clean(name)
	if id, ok := w.files[name]; ok {
		return []string{id}
	}
	return w.dirs[filepath.Dir(name)]
}

// Start begins watching for file changes
func (w *Watcher) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op == fsnotify.Chmod {
					continue
				}
				for _, id := range w.booksFor(event.Name) {
					w.schedule(id)
				}

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.log.Warn("watch error", zap.Error(err))

			case <-w.done:
				return
			}
		}
	}()
}

// schedule (re)arms the debounce timer of a book
func (w *Watcher) schedule(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[id]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[id] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		w.Refresh(context.Background(), id)
	})
}

// Refresh drops a book's cached renders, reloads its page count and tells
// the live sessions viewing it
func (w *Watcher) Refresh(ctx context.Context, id string) {
	e, ok := w.shelf.Get(id)
	if !ok {
		return
	}
	dropped := e.Source().Invalidate()
	pages, changed, err := e.Refresh(ctx)
	if err != nil {
		w.log.Warn("book reload failed", zap.String("book", id), zap.Error(err))
		if w.reloader != nil {
			w.reloader.ReloadFailed(id, err)
		}
		return
	}

	sessions := 0
	if w.reloader != nil {
		sessions = w.reloader.Reload(id, pages)
	}
	w.log.Info("book changed",
		zap.String("book", id),
		zap.Int("pages", pages),
		zap.Bool("count_changed", changed),
		zap.Int("dropped", dropped),
		zap.Int("sessions", sessions))
}

// Stop stops the watcher and any pending reloads
func (w *Watcher) Stop() error {
	close(w.done)
	w.mu.Lock()
	for id, t := range w.pending {
		t.Stop()
		delete(w.pending, id)
	}
	w.mu.Unlock()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
