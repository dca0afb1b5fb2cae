// Package flipbooktest provides in-memory collaborators for driving a
// flipbook.Controller in tests.
package flipbooktest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/recera/flipview/pkg/flipbook"
)

// Source is a DocumentSource of solid gray pages
type Source struct {
	Pages     int
	LoadErr   error
	RenderErr error

	mu       sync.Mutex
	loads    int
	rendered []int
}

var _ flipbook.DocumentSource = (*Source)(nil)

// Load returns Pages or LoadErr
func (s *Source) Load(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.LoadErr != nil {
		return 0, s.LoadErr
	}
	return s.Pages, nil
}

// SetPages changes the page count while the source is in use
func (s *Source) SetPages(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Pages = n
}

// RenderPage returns a width x round(width*1.414) image whose gray level
// encodes the page number
func (s *Source) RenderPage(ctx context.Context, page int, width int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.RenderErr != nil {
		return nil, s.RenderErr
	}
	s.mu.Lock()
	if page < 1 || page > s.Pages {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", flipbook.ErrPageOutOfRange, page)
	}
	s.rendered = append(s.rendered, page)
	s.mu.Unlock()

	h := int(math.Round(float64(width) * 1.414))
	img := image.NewGray(image.Rect(0, 0, width, h))
	fill := color.Gray{Y: uint8(page % 256)}
	for i := range img.Pix {
		img.Pix[i] = fill.Y
	}
	return img, nil
}

// Loads returns how many times Load was called
func (s *Source) Loads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

// Rendered returns the pages rendered so far, in call order
func (s *Source) Rendered() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.rendered))
	copy(out, s.rendered)
	return out
}

// Renderer records the sheets it was given and lets tests emit flips
type Renderer struct {
	Err error

	Sheets  []flipbook.Sheet
	Calls   int
	Flipped []int
	onFlip  func(int)
}

var (
	_ flipbook.SpreadRenderer = (*Renderer)(nil)
	_ flipbook.FlipTarget     = (*Renderer)(nil)
)

// Display records sheets and the flip callback
func (r *Renderer) Display(sheets []flipbook.Sheet, onFlip func(index int)) error {
	r.Calls++
	if r.Err != nil {
		return r.Err
	}
	r.Sheets = sheets
	r.onFlip = onFlip
	return nil
}

// Flip emits a flip event as the engine would
func (r *Renderer) Flip(index int) {
	if r.onFlip != nil {
		r.onFlip(index)
	}
}

// FlipTo records a programmatic flip
func (r *Renderer) FlipTo(sheet int) error {
	if r.Err != nil {
		return r.Err
	}
	r.Flipped = append(r.Flipped, sheet)
	return nil
}

// ErrNoCapture is returned by a Capturer with Unsupported set
var ErrNoCapture = errors.New("flipbooktest: pointer capture unsupported")

// Capturer records capture calls
type Capturer struct {
	Unsupported bool

	Captured []int
	Released []int
}

var _ flipbook.Capturer = (*Capturer)(nil)

// SetPointerCapture records the pointer
func (c *Capturer) SetPointerCapture(id int) error {
	if c.Unsupported {
		return ErrNoCapture
	}
	c.Captured = append(c.Captured, id)
	return nil
}

// ReleasePointerCapture records the pointer
func (c *Capturer) ReleasePointerCapture(id int) error {
	if c.Unsupported {
		return ErrNoCapture
	}
	c.Released = append(c.Released, id)
	return nil
}

// Mouse builds a primary left-button mouse event
func Mouse(id int, x, y float64) flipbook.PointerEvent {
	return flipbook.PointerEvent{ID: id, X: x, Y: y, Primary: true, Kind: flipbook.PointerMouse}
}

// Touch builds a touch event
func Touch(id int, x, y float64, primary bool) flipbook.PointerEvent {
	return flipbook.PointerEvent{ID: id, X: x, Y: y, Primary: primary, Kind: flipbook.PointerTouch}
}
