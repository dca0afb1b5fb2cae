package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/recera/flipview/internal/cache"
	"github.com/recera/flipview/pkg/flipbook"
)

// Store is the byte store behind Cached; *cache.Cache implements it
type Store interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte) error
	DeletePrefix(prefix string) int
}

var _ Store = (*cache.Cache)(nil)

// Cached keeps PNG renders of a source in a Store. Concurrent requests for
// the same page and width share one render.
type Cached struct {
	bookID string
	src    flipbook.DocumentSource
	store  Store
	log    *zap.Logger
	group  singleflight.Group
}

var _ flipbook.DocumentSource = (*Cached)(nil)

// NewCached wraps src; bookID namespaces its entries in store
func NewCached(bookID string, src flipbook.DocumentSource, store Store, log *zap.Logger) *Cached {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cached{
		bookID: bookID,
		src:    src,
		store:  store,
		log:    log.With(zap.String("book", bookID)),
	}
}

// Source returns the wrapped source
func (c *Cached) Source() flipbook.DocumentSource { return c.src }

// Load is not cached; page counts are cheap and must follow file changes
func (c *Cached) Load(ctx context.Context) (int, error) {
	return c.src.Load(ctx)
}

// RenderPage returns the cached render or renders and stores it
func (c *Cached) RenderPage(ctx context.Context, page int, width int) (image.Image, error) {
	data, err := c.RenderPNG(ctx, page, width)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode cached page %d: %w", page, err)
	}
	return img, nil
}

// RenderPNG is RenderPage returning the encoded PNG
func (c *Cached) RenderPNG(ctx context.Context, page int, width int) ([]byte, error) {
	key := cache.PageKey(c.bookID, page, width)
	if data, ok := c.store.Get(key); ok {
		return data, nil
	}

	return c.render(ctx, key, func(ctx context.Context) (image.Image, error) {
		return c.src.RenderPage(ctx, page, width)
	})
}

// SheetPNG renders the two faces of sheet side by side, cached under its
// own key. Faces come from the page cache.
func (c *Cached) SheetPNG(ctx context.Context, sheet flipbook.Sheet, width int, opts SheetOptions) ([]byte, error) {
	key := cache.SheetKey(c.bookID, sheet.Index, width)
	if opts.Bleed > 0 {
		key += fmt.Sprintf("/bleed%d-%d", int(math.Round(opts.Bleed*100)), opts.NumPages)
	}
	if data, ok := c.store.Get(key); ok {
		return data, nil
	}
	return c.render(ctx, key, func(ctx context.Context) (image.Image, error) {
		return RenderSheetWith(ctx, c, sheet, width, opts)
	})
}

// render runs fn once per key for all concurrent callers. The shared render
// is detached from any one caller's cancellation; each caller stops waiting
// when its own ctx is done.
func (c *Cached) render(ctx context.Context, key string, fn func(context.Context) (image.Image, error)) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		img, err := fn(detached)
		if err != nil {
			return nil, err
		}
		return c.encodeAndStore(key, img)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.log.Debug("render shared", zap.String("key", key))
		}
		return res.Val.([]byte), nil
	}
}

func (c *Cached) encodeAndStore(key string, img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	data := buf.Bytes()
	if err := c.store.Put(key, data); err != nil {
		// Serving still works without the cache
		c.log.Warn("cache put failed", zap.String("key", key), zap.Error(err))
	}
	return data, nil
}

// Invalidate drops every cached render of the book
func (c *Cached) Invalidate() int {
	n := c.store.DeletePrefix(cache.BookPrefix(c.bookID))
	c.log.Debug("cache invalidated", zap.Int("entries", n))
	return n
}
