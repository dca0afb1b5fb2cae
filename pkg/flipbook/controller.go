package flipbook

import (
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"

	"github.com/recera/flipview/pkg/reactive"
)

// dragSession is the snapshot taken when a drag starts. It is re-anchored
// whenever the pan changes outside the drag.
type dragSession struct {
	pointerID int
	startX    float64
	startY    float64
	startPan  Point
	lastX     float64
	lastY     float64
	captured  bool
}

// reanchor makes the next move relative to pan and the last pointer position
func (d *dragSession) reanchor(pan Point) {
	d.startX, d.startY = d.lastX, d.lastY
	d.startPan = pan
}

// Controller owns the viewport state of one flipbook view: zoom, pan, the
// pointer-drag state machine and the current page. It is not safe for
// concurrent use; drive it from a single goroutine (see pkg/scheduler).
type Controller struct {
	opts    Options
	log     *zap.Logger
	content Size

	viewport Size
	zoom     float64
	pan      Point

	drag    *dragSession
	panHeld bool
	toolbar bool

	status   Status
	loadErr  error
	numPages int
	current  int
	spreads  []Spread
	renderer SpreadRenderer

	state *reactive.State[State]
}

// New creates a controller at zoom 1, pan (0, 0), waiting for a document
func New(opts Options) *Controller {
	o := opts.withDefaults()
	c := &Controller{
		opts:    o,
		log:     o.Logger.Named("flipbook"),
		content: o.ContentSize(),
		zoom:    1,
		current: 1,
		status:  StatusLoading,
	}
	c.state = reactive.NewState(c.snapshot(), o.Scope)
	return c
}

// Options returns the effective options
func (c *Controller) Options() Options { return c.opts }

// ContentSize returns the unzoomed spread size
func (c *Controller) ContentSize() Size { return c.content }

// Signal publishes a new State after every change
func (c *Controller) Signal() reactive.Signal[State] { return c.state }

// State returns the current snapshot
func (c *Controller) State() State { return c.state.Get() }

// Zoom returns the current zoom step
func (c *Controller) Zoom() float64 { return c.zoom }

// Pan returns the current pan offset
func (c *Controller) Pan() Point { return c.pan }

// Dragging reports whether a drag is active
func (c *Controller) Dragging() bool { return c.drag != nil }

// CanPan reports whether a pointer-down would start a drag
func (c *Controller) CanPan() bool { return c.zoom > 1 || c.panHeld }

// Spreads returns the spread pairing of the loaded document
func (c *Controller) Spreads() []Spread {
	out := make([]Spread, len(c.spreads))
	copy(out, c.spreads)
	return out
}

// Sheets returns the spreads sized for the flip engine
func (c *Controller) Sheets() []Sheet {
	out := make([]Sheet, len(c.spreads))
	for i, s := range c.spreads {
		out[i] = Sheet{
			Index:  i,
			Left:   s.Left,
			Right:  s.Right,
			Width:  c.opts.BasePageWidth,
			Height: c.opts.BasePageHeight,
		}
	}
	return out
}

// ViewportResized records the visible area and clamps the pan to it. Zoom is
// kept.
func (c *Controller) ViewportResized(w, h float64) {
	if !finite(w, h) {
		return
	}
	c.viewport = Size{W: math.Max(0, w), H: math.Max(0, h)}
	c.setPan(ClampPan(c.pan, c.zoom, c.viewport, c.content))
	c.publish()
}

// setPan moves the pan from outside a drag
func (c *Controller) setPan(p Point) {
	c.pan = p
	if c.drag != nil {
		c.drag.reanchor(p)
	}
}

// PointerPosition updates toolbar visibility from the pointer's y position
func (c *Controller) PointerPosition(x, y float64) {
	if !finite(x, y) {
		return
	}
	c.toolbar = c.viewport.H > 0 && y >= c.viewport.H-c.opts.ToolbarReveal
	c.publish()
}

// PointerDown starts a drag when panning is allowed and the pointer is
// primary. It reports whether the event was consumed; consumed events must
// not reach the flip engine.
func (c *Controller) PointerDown(ev PointerEvent, capt Capturer) bool {
	if c.drag != nil || !c.CanPan() {
		return false
	}
	if !ev.Primary || (ev.Kind == PointerMouse && ev.Button != 0) {
		return false
	}
	if !finite(ev.X, ev.Y) {
		return false
	}

	d := &dragSession{
		pointerID: ev.ID,
		startX:    ev.X,
		startY:    ev.Y,
		startPan:  c.pan,
		lastX:     ev.X,
		lastY:     ev.Y,
	}
	if capt != nil {
		if err := capt.SetPointerCapture(ev.ID); err != nil {
			c.log.Debug("pointer capture unavailable", zap.Int("pointer", ev.ID), zap.Error(err))
		} else {
			d.captured = true
		}
	}
	c.drag = d
	c.publish()
	return true
}

// PointerMove pans by the pointer's displacement since the drag started.
// Events from other pointers are ignored.
func (c *Controller) PointerMove(ev PointerEvent) bool {
	d := c.drag
	if d == nil || ev.ID != d.pointerID || !finite(ev.X, ev.Y) {
		return false
	}
	d.lastX, d.lastY = ev.X, ev.Y
	next := Point{
		X: d.startPan.X + (ev.X - d.startX),
		Y: d.startPan.Y + (ev.Y - d.startY),
	}
	c.pan = ClampPan(next, c.zoom, c.viewport, c.content)
	c.publish()
	return true
}

// PointerUp ends the drag started by the same pointer
func (c *Controller) PointerUp(ev PointerEvent, capt Capturer) bool {
	return c.endDrag(ev.ID, capt)
}

// PointerCancel ends the drag like PointerUp
func (c *Controller) PointerCancel(ev PointerEvent, capt Capturer) bool {
	return c.endDrag(ev.ID, capt)
}

func (c *Controller) endDrag(pointerID int, capt Capturer) bool {
	d := c.drag
	if d == nil || pointerID != d.pointerID {
		return false
	}
	if d.captured && capt != nil {
		if err := capt.ReleasePointerCapture(pointerID); err != nil {
			c.log.Debug("pointer release failed", zap.Int("pointer", pointerID), zap.Error(err))
		}
	}
	c.drag = nil
	c.publish()
	return true
}

// Wheel pans by the wheel delta when zoomed in. At zoom <= 1 it reports
// false and the host keeps its default scrolling.
func (c *Controller) Wheel(ev WheelEvent) bool {
	if c.zoom <= 1 || !finite(ev.DeltaX, ev.DeltaY) {
		return false
	}
	dx, dy := ev.DeltaX, ev.DeltaY
	if ev.Shift {
		dx, dy = ev.DeltaY, 0
	}
	next := Point{X: c.pan.X - dx, Y: c.pan.Y - dy}
	c.setPan(ClampPan(next, c.zoom, c.viewport, c.content))
	c.publish()
	return true
}

// KeyDown holds the pan modifier. It reports whether the key was consumed.
func (c *Controller) KeyDown(key string) bool {
	if key != c.opts.PanKey {
		return false
	}
	if !c.panHeld {
		c.panHeld = true
		c.publish()
	}
	return true
}

// KeyUp releases the pan modifier. An active drag continues.
func (c *Controller) KeyUp(key string) bool {
	if key != c.opts.PanKey {
		return false
	}
	if c.panHeld {
		c.panHeld = false
		c.publish()
	}
	return true
}

// ZoomIn moves to the next zoom step, keeping the viewport center fixed
func (c *Controller) ZoomIn() { c.applyZoom(StepUp(c.zoom)) }

// ZoomOut moves to the previous zoom step, keeping the viewport center fixed
func (c *Controller) ZoomOut() { c.applyZoom(StepDown(c.zoom)) }

// SetZoom jumps to the step nearest z
func (c *Controller) SetZoom(z float64) { c.applyZoom(NearestStep(z)) }

func (c *Controller) applyZoom(z float64) {
	if z == c.zoom {
		return
	}
	c.setPan(Recenter(c.zoom, z, c.pan, c.viewport, c.content))
	c.zoom = z
	c.publish()
}

// Reset returns to zoom 1 and pan (0, 0). A drag in progress continues
// from there.
func (c *Controller) Reset() {
	c.zoom = 1
	c.setPan(Point{})
	c.publish()
}

// DocumentLoaded marks the document ready and hands its spreads to the flip
// engine. r may be nil to keep the previous renderer.
func (c *Controller) DocumentLoaded(numPages int, r SpreadRenderer) error {
	if numPages < 0 {
		err := fmt.Errorf("flipbook: invalid page count %d", numPages)
		c.DocumentFailed(err)
		return err
	}
	changed := numPages != c.numPages || c.status != StatusReady
	if r != nil {
		c.renderer = r
		changed = true
	}

	c.numPages = numPages
	c.spreads = Spreads(numPages)
	c.status = StatusReady
	c.loadErr = nil
	if c.current > numPages {
		c.current = numPages
	}
	if c.current < 1 {
		c.current = 1
	}

	if changed && c.renderer != nil && numPages > 0 {
		if err := c.renderer.Display(c.Sheets(), c.Flipped); err != nil {
			err = fmt.Errorf("flipbook: display spreads: %w", err)
			c.DocumentFailed(err)
			return err
		}
	}
	c.log.Debug("document loaded", zap.Int("pages", numPages), zap.Int("spreads", len(c.spreads)))
	c.publish()
	return nil
}

// DocumentFailed records a load failure. Zoom and pan are untouched.
func (c *Controller) DocumentFailed(err error) {
	c.status = StatusFailed
	c.loadErr = err
	if err != nil {
		c.log.Warn("document failed", zap.Error(err))
	}
	c.publish()
}

// Err returns the last load failure
func (c *Controller) Err() error { return c.loadErr }

// Flipped records a flip reported by the flip engine. index is the
// zero-based page index; the current page is index+1 clamped to the
// document.
func (c *Controller) Flipped(index int) {
	if c.numPages == 0 {
		return
	}
	page := index + 1
	if page < 1 {
		page = 1
	}
	if page > c.numPages {
		page = c.numPages
	}
	c.current = page
	c.publish()
}

// JumpTo asks the flip engine to turn to the spread holding page
func (c *Controller) JumpTo(page int, target FlipTarget) error {
	if c.status != StatusReady {
		return ErrNotLoaded
	}
	if page < 1 || page > c.numPages {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrPageOutOfRange, page, c.numPages)
	}
	if target != nil {
		if err := target.FlipTo(SheetOf(page)); err != nil {
			return fmt.Errorf("flipbook: flip to page %d: %w", page, err)
		}
	}
	c.current = page
	c.publish()
	return nil
}

// CurrentPage returns the 1-based current page
func (c *Controller) CurrentPage() int { return c.current }

// NumPages returns the loaded page count
func (c *Controller) NumPages() int { return c.numPages }

// Transform returns the current content transform
func (c *Controller) Transform() Transform {
	t := Transform{X: c.pan.X, Y: c.pan.Y, Scale: c.zoom, Transition: c.opts.Transition}
	if c.drag != nil {
		t.Transition = "none"
	}
	return t
}

func (c *Controller) cursor() string {
	switch {
	case c.drag != nil:
		return "grabbing"
	case c.CanPan():
		return "grab"
	default:
		return "default"
	}
}

func (c *Controller) snapshot() State {
	s := State{
		Zoom:           c.zoom,
		ZoomPercent:    int(math.Round(c.zoom * 100)),
		PanX:           c.pan.X,
		PanY:           c.pan.Y,
		CurrentPage:    c.current,
		NumPages:       c.numPages,
		Sheet:          SheetOf(c.current),
		Dragging:       c.drag != nil,
		PanMode:        c.panHeld,
		CanPan:         c.CanPan(),
		ToolbarVisible: c.toolbar,
		Cursor:         c.cursor(),
		Status:         c.status,
		ViewportW:      c.viewport.W,
		ViewportH:      c.viewport.H,
	}
	if c.loadErr != nil {
		s.Error = c.loadErr.Error()
	}
	return s
}

func (c *Controller) publish() {
	c.state.Set(c.snapshot())
}

// Transform is the translate-then-scale applied to the spread, origin at the
// top-left corner
type Transform struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Scale      float64 `json:"scale"`
	Transition string  `json:"transition"`
}

// CSS renders the transform as a CSS transform value
func (t Transform) CSS() string {
	return "translate(" + px(t.X) + ", " + px(t.Y) + ") scale(" + num(t.Scale) + ")"
}

func px(v float64) string { return num(v) + "px" }

func num(v float64) string {
	if v == 0 {
		v = 0 // drop negative zero
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
