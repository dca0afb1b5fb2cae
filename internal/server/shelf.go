package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/recera/flipview/internal/config"
	"github.com/recera/flipview/pkg/document"
	"github.com/recera/flipview/pkg/flipbook"
	"github.com/recera/flipview/pkg/live"
)

// Opener builds the page source of a book
type Opener func(book config.Book) (flipbook.DocumentSource, error)

// Entry is one book on the shelf with its cached source and memoised page
// count
type Entry struct {
	Book   config.Book
	source *document.Cached

	mu     sync.Mutex
	loaded bool
	pages  int
	err    error
}

// Source returns the cached page source
func (e *Entry) Source() *document.Cached { return e.source }

// Pages returns the page count, loading it on first use. Failures are
// memoised too; Refresh retries. A load cut short by ctx is not memoised.
func (e *Entry) Pages(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return e.pages, e.err
	}
	n, err := e.load(ctx)
	if isContextErr(err) {
		return 0, err
	}
	e.pages, e.err, e.loaded = n, err, true
	return n, err
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Refresh reloads the page count and reports whether it changed
func (e *Entry) Refresh(ctx context.Context) (pages int, changed bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	old, oldErr := e.pages, e.err
	n, err := e.load(ctx)
	if isContextErr(err) {
		return old, false, err
	}
	e.pages, e.err, e.loaded = n, err, true
	changed = e.pages != old || (e.err == nil) != (oldErr == nil)
	return e.pages, changed, e.err
}

func (e *Entry) load(ctx context.Context) (int, error) {
	n, err := e.source.Load(ctx)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, document.ErrNoPages
	}
	return n, nil
}

// Shelf is the set of books served
type Shelf struct {
	entries map[string]*Entry
	order   []string
	log     *zap.Logger
}

// NewShelf opens every book. A book whose source cannot be opened fails the
// whole shelf.
func NewShelf(books []config.Book, open Opener, store document.Store, log *zap.Logger) (*Shelf, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Shelf{
		entries: make(map[string]*Entry, len(books)),
		log:     log.Named("shelf"),
	}
	for _, b := range books {
		if _, dup := s.entries[b.ID]; dup {
			return nil, fmt.Errorf("duplicate book id %q", b.ID)
		}
		src, err := open(b)
		if err != nil {
			return nil, fmt.Errorf("book %q: %w", b.ID, err)
		}
		s.entries[b.ID] = &Entry{
			Book:   b,
			source: document.NewCached(b.ID, src, store, log),
		}
		s.order = append(s.order, b.ID)
	}
	return s, nil
}

// OpenWith returns an Opener that uses document.Open
func OpenWith(opts document.Options) Opener {
	return func(b config.Book) (flipbook.DocumentSource, error) {
		return document.Open(b.Path, opts)
	}
}

// Get returns the entry of a book
func (s *Shelf) Get(id string) (*Entry, bool) {
	e, ok := s.entries[id]
	return e, ok
}

// Entries returns every entry in config order
func (s *Shelf) Entries() []*Entry {
	out := make([]*Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

// Source resolves a book for the live server
func (s *Shelf) Source(id string) (flipbook.DocumentSource, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", live.ErrUnknownBook, id)
	}
	return e.source, nil
}

// BookInfo is the listing of one book
type BookInfo struct {
	config.Book
	Pages    int    `json:"pages"`
	CoverURL string `json:"coverUrl"`
	Error    string `json:"error,omitempty"`
}

// Info describes a book, loading its page count if needed
func (e *Entry) Info(ctx context.Context) BookInfo {
	info := BookInfo{Book: e.Book}
	n, err := e.Pages(ctx)
	if err != nil {
		info.Error = err.Error()
	}
	info.Pages = n
	id := url.PathEscape(e.Book.ID)
	if e.Book.Cover != "" {
		info.CoverURL = "/api/textbooks/" + id + "/cover"
	} else if n > 0 {
		info.CoverURL = "/api/textbooks/" + id + "/pages/1"
	}
	return info
}
