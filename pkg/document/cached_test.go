package document

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recera/flipview/internal/cache"
	"github.com/recera/flipview/pkg/flipbook"
	"github.com/recera/flipview/pkg/flipbook/flipbooktest"
)

func newStore(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCached_RendersOnce(t *testing.T) {
	src := &flipbooktest.Source{Pages: 4}
	c := NewCached("toan-6", src, newStore(t), nil)
	ctx := context.Background()

	a, err := c.RenderPNG(ctx, 2, 100)
	require.NoError(t, err)
	b, err := c.RenderPNG(ctx, 2, 100)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, []int{2}, src.Rendered())

	// a different width is a different entry
	_, err = c.RenderPNG(ctx, 2, 50)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, src.Rendered())

	img, err := c.RenderPage(ctx, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Len(t, src.Rendered(), 2)
}

func TestCached_Concurrent(t *testing.T) {
	src := &flipbooktest.Source{Pages: 4}
	c := NewCached("toan-6", src, newStore(t), nil)

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := c.RenderPNG(context.Background(), 1, 80)
			assert.NoError(t, err)
			results[i] = data
		}(i)
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
	assert.NotEmpty(t, src.Rendered())
	assert.LessOrEqual(t, len(src.Rendered()), len(results))
}

// gatedSource blocks renders until release is closed
type gatedSource struct {
	*flipbooktest.Source
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSource) RenderPage(ctx context.Context, page int, width int) (image.Image, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.Source.RenderPage(ctx, page, width)
}

func TestCached_CancelledCallerDoesNotFailOthers(t *testing.T) {
	src := &gatedSource{
		Source:  &flipbooktest.Source{Pages: 4},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := NewCached("toan-6", src, newStore(t), nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.RenderPNG(ctxA, 3, 80)
		errA <- err
	}()
	<-src.started

	type result struct {
		data []byte
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		data, err := c.RenderPNG(context.Background(), 3, 80)
		resB <- result{data, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(src.release)
	select {
	case r := <-resB:
		require.NoError(t, r.err)
		assert.NotEmpty(t, r.data)
	case <-time.After(time.Second):
		t.Fatal("second caller never got the render")
	}
	assert.Equal(t, []int{3}, src.Rendered())

	// the shared render was stored for later callers
	_, err := c.RenderPNG(context.Background(), 3, 80)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, src.Rendered())
}

func TestCached_Invalidate(t *testing.T) {
	src := &flipbooktest.Source{Pages: 2}
	store := newStore(t)
	c := NewCached("book", src, store, nil)
	other := NewCached("other", src, store, nil)
	ctx := context.Background()

	c.RenderPNG(ctx, 1, 60)
	other.RenderPNG(ctx, 1, 60)

	assert.Equal(t, 1, c.Invalidate())
	c.RenderPNG(ctx, 1, 60)
	other.RenderPNG(ctx, 1, 60)
	assert.Equal(t, []int{1, 1, 1}, src.Rendered())
}

func TestCached_PropagatesErrors(t *testing.T) {
	src := &flipbooktest.Source{Pages: 2}
	c := NewCached("book", src, newStore(t), nil)

	_, err := c.RenderPNG(context.Background(), 9, 60)
	assert.Error(t, err)

	n, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCached_SheetBleedIsItsOwnEntry(t *testing.T) {
	src := &flipbooktest.Source{Pages: 255}
	c := NewCached("toan-6", src, newStore(t), nil)
	ctx := context.Background()
	sheet := flipbook.Sheet{Index: 100, Left: 200, Right: 201}

	plain, err := c.SheetPNG(ctx, sheet, 40, SheetOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{200, 201}, src.Rendered())

	withBleed, err := c.SheetPNG(ctx, sheet, 40, SheetOptions{NumPages: 255, Bleed: DefaultBleed})
	require.NoError(t, err)
	assert.NotEqual(t, plain, withBleed)
	// faces come from the page cache; only page 202 is new
	assert.ElementsMatch(t, []int{200, 201, 202}, src.Rendered())

	again, err := c.SheetPNG(ctx, sheet, 40, SheetOptions{NumPages: 255, Bleed: DefaultBleed})
	require.NoError(t, err)
	assert.Equal(t, withBleed, again)
	assert.Len(t, src.Rendered(), 3)
}
