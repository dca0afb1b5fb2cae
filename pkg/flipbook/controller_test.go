package flipbook_test

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recera/flipview/pkg/flipbook"
	"github.com/recera/flipview/pkg/flipbook/flipbooktest"
	"github.com/recera/flipview/pkg/reactive"
)

func newController(t *testing.T) *flipbook.Controller {
	t.Helper()
	c := flipbook.New(flipbook.Options{})
	c.ViewportResized(800, 600)
	return c
}

func assertPanInBounds(t *testing.T, c *flipbook.Controller) {
	t.Helper()
	p := c.Pan()
	lo := flipbook.PanBounds(c.Zoom(), flipbook.Size{W: 800, H: 600}, c.ContentSize())
	assert.LessOrEqual(t, p.X, 0.0)
	assert.LessOrEqual(t, p.Y, 0.0)
	assert.GreaterOrEqual(t, p.X, lo.X)
	assert.GreaterOrEqual(t, p.Y, lo.Y)
}

func TestController_Defaults(t *testing.T) {
	c := flipbook.New(flipbook.Options{})
	assert.Equal(t, 1.0, c.Zoom())
	assert.Equal(t, flipbook.Point{}, c.Pan())
	assert.Equal(t, flipbook.Size{W: 1200, H: 848}, c.ContentSize())
	assert.Equal(t, flipbook.StatusLoading, c.State().Status)
	assert.Equal(t, 100, c.State().ZoomPercent)
	assert.Equal(t, "translate(0px, 0px) scale(1)", c.Transform().CSS())
	assert.Equal(t, "transform 120ms ease-out", c.Transform().Transition)
}

func TestController_ZoomScenario(t *testing.T) {
	c := newController(t)

	c.ZoomIn()
	assert.Equal(t, 1.25, c.Zoom())
	assert.InDelta(t, -100, c.Pan().X, 1e-9)
	assert.InDelta(t, -75, c.Pan().Y, 1e-9)

	c.ZoomIn()
	c.ZoomIn()
	assert.Equal(t, 2.0, c.Zoom())
	assert.InDelta(t, -400, c.Pan().X, 1e-6)
	assert.InDelta(t, -300, c.Pan().Y, 1e-6)

	capt := &flipbooktest.Capturer{}
	require.True(t, c.PointerDown(flipbooktest.Mouse(1, 400, 300), capt))
	assert.True(t, c.Dragging())
	assert.Equal(t, "none", c.Transform().Transition)
	assert.Equal(t, "grabbing", c.State().Cursor)

	c.PointerMove(flipbooktest.Mouse(1, 500, 350))
	assert.InDelta(t, -300, c.Pan().X, 1e-6)
	assert.InDelta(t, -250, c.Pan().Y, 1e-6)

	c.PointerMove(flipbooktest.Mouse(1, 5000, 5000))
	assert.Equal(t, flipbook.Point{}, c.Pan())

	c.PointerMove(flipbooktest.Mouse(1, -5000, -5000))
	assert.Equal(t, flipbook.Point{X: -1600, Y: -1096}, c.Pan())

	require.True(t, c.PointerUp(flipbooktest.Mouse(1, 0, 0), capt))
	assert.False(t, c.Dragging())
	assert.Equal(t, []int{1}, capt.Captured)
	assert.Equal(t, []int{1}, capt.Released)
	assert.Equal(t, "grab", c.State().Cursor)
	assert.Equal(t, "translate(-1600px, -1096px) scale(2)", c.Transform().CSS())
}

func TestController_ZoomClampsAtEnds(t *testing.T) {
	c := newController(t)
	for i := 0; i < 10; i++ {
		c.ZoomIn()
	}
	assert.Equal(t, flipbook.MaxZoom, c.Zoom())
	for i := 0; i < 10; i++ {
		c.ZoomOut()
	}
	assert.Equal(t, flipbook.MinZoom, c.Zoom())
	assert.Equal(t, flipbook.Point{}, c.Pan())
}

func TestController_SetZoomSnaps(t *testing.T) {
	c := newController(t)
	c.SetZoom(1.9)
	assert.Equal(t, 2.0, c.Zoom())
	c.SetZoom(42)
	assert.Equal(t, 3.0, c.Zoom())
	assertPanInBounds(t, c)
}

func TestController_NoDragAtZoomOne(t *testing.T) {
	c := newController(t)
	assert.False(t, c.PointerDown(flipbooktest.Mouse(1, 10, 10), nil))
	assert.False(t, c.Dragging())
	assert.Equal(t, "default", c.State().Cursor)
}

func TestController_PanModifierAllowsDrag(t *testing.T) {
	c := newController(t)
	assert.True(t, c.KeyDown(" "))
	assert.True(t, c.State().PanMode)
	assert.True(t, c.PointerDown(flipbooktest.Mouse(1, 10, 10), nil))

	// at zoom 1 the spread still overflows vertically
	c.PointerMove(flipbooktest.Mouse(1, 10, -90))
	assert.Equal(t, flipbook.Point{X: 0, Y: -100}, c.Pan())

	// releasing the modifier does not end the drag
	assert.True(t, c.KeyUp(" "))
	assert.True(t, c.Dragging())
	c.PointerUp(flipbooktest.Mouse(1, 10, -90), nil)
	assert.False(t, c.Dragging())

	assert.False(t, c.KeyDown("a"))
}

func TestController_IgnoresSecondaryPointers(t *testing.T) {
	c := newController(t)
	c.SetZoom(2)

	right := flipbooktest.Mouse(1, 10, 10)
	right.Button = 2
	assert.False(t, c.PointerDown(right, nil))

	assert.False(t, c.PointerDown(flipbooktest.Touch(2, 10, 10, false), nil))

	pen := flipbook.PointerEvent{ID: 3, Primary: true, Kind: flipbook.PointerPen, Button: -1}
	assert.True(t, c.PointerDown(pen, nil))
}

func TestController_OtherPointerDoesNotMoveDrag(t *testing.T) {
	c := newController(t)
	c.SetZoom(2)
	before := c.Pan()

	require.True(t, c.PointerDown(flipbooktest.Touch(7, 100, 100, true), nil))
	assert.False(t, c.PointerDown(flipbooktest.Touch(8, 100, 100, true), nil))
	assert.False(t, c.PointerMove(flipbooktest.Touch(8, 300, 300, false)))
	assert.Equal(t, before, c.Pan())

	assert.False(t, c.PointerUp(flipbooktest.Touch(8, 0, 0, false), nil))
	assert.True(t, c.Dragging())
	assert.True(t, c.PointerCancel(flipbooktest.Touch(7, 0, 0, true), nil))
	assert.False(t, c.Dragging())
}

func TestController_CaptureUnsupported(t *testing.T) {
	c := newController(t)
	c.SetZoom(2)
	capt := &flipbooktest.Capturer{Unsupported: true}

	require.True(t, c.PointerDown(flipbooktest.Mouse(1, 0, 0), capt))
	c.PointerMove(flipbooktest.Mouse(1, -10, -10))
	assert.True(t, c.PointerUp(flipbooktest.Mouse(1, 0, 0), capt))
	assert.Empty(t, capt.Released)
}

func TestController_Wheel(t *testing.T) {
	c := newController(t)
	assert.False(t, c.Wheel(flipbook.WheelEvent{DeltaY: 100}))
	assert.Equal(t, flipbook.Point{}, c.Pan())

	c.SetZoom(2)
	start := c.Pan()
	assert.True(t, c.Wheel(flipbook.WheelEvent{DeltaX: 10, DeltaY: 100}))
	assert.InDelta(t, start.X-10, c.Pan().X, 1e-9)
	assert.InDelta(t, start.Y-100, c.Pan().Y, 1e-9)

	// shift turns vertical wheel into horizontal pan
	before := c.Pan()
	assert.True(t, c.Wheel(flipbook.WheelEvent{DeltaX: 999, DeltaY: 50, Shift: true}))
	assert.InDelta(t, before.X-50, c.Pan().X, 1e-9)
	assert.InDelta(t, before.Y, c.Pan().Y, 1e-9)

	for i := 0; i < 100; i++ {
		c.Wheel(flipbook.WheelEvent{DeltaX: 500, DeltaY: 500})
	}
	assertPanInBounds(t, c)
}

func TestController_Reset(t *testing.T) {
	c := newController(t)
	c.SetZoom(3)
	c.Wheel(flipbook.WheelEvent{DeltaX: 200, DeltaY: 200})
	c.Reset()
	assert.Equal(t, 1.0, c.Zoom())
	assert.Equal(t, flipbook.Point{}, c.Pan())
}

func TestController_ResetDuringDrag(t *testing.T) {
	c := newController(t)
	c.SetZoom(2)
	require.True(t, c.PointerDown(flipbooktest.Mouse(1, 400, 300), nil))
	c.PointerMove(flipbooktest.Mouse(1, 300, 200))
	assert.Equal(t, flipbook.Point{X: -500, Y: -400}, c.Pan())

	c.Reset()
	assert.Equal(t, 1.0, c.Zoom())
	assert.Equal(t, flipbook.Point{}, c.Pan())
	require.True(t, c.Dragging())

	// the drag carries on from the reset view, not from where it began
	c.PointerMove(flipbooktest.Mouse(1, 300, 200))
	assert.Equal(t, flipbook.Point{}, c.Pan())
	c.PointerMove(flipbooktest.Mouse(1, 250, 180))
	assert.Equal(t, flipbook.Point{X: -50, Y: -20}, c.Pan())
}

func TestController_ZoomDuringDrag(t *testing.T) {
	c := newController(t)
	c.SetZoom(2)
	require.True(t, c.PointerDown(flipbooktest.Mouse(1, 400, 300), nil))
	c.PointerMove(flipbooktest.Mouse(1, 350, 250))

	c.ZoomOut()
	assert.Equal(t, 1.5, c.Zoom())
	zoomed := c.Pan()

	c.PointerMove(flipbooktest.Mouse(1, 350, 250))
	assert.Equal(t, zoomed, c.Pan())
	c.PointerMove(flipbooktest.Mouse(1, 340, 240))
	assert.InDelta(t, zoomed.X-10, c.Pan().X, 1e-9)
	assert.InDelta(t, zoomed.Y-10, c.Pan().Y, 1e-9)

	c.Wheel(flipbook.WheelEvent{DeltaY: 30})
	wheeled := c.Pan()
	c.PointerMove(flipbooktest.Mouse(1, 340, 240))
	assert.Equal(t, wheeled, c.Pan())
}

func TestController_ResizeReclamps(t *testing.T) {
	c := newController(t)
	c.SetZoom(2)
	c.PointerDown(flipbooktest.Mouse(1, 0, 0), nil)
	c.PointerMove(flipbooktest.Mouse(1, -5000, -5000))
	c.PointerUp(flipbooktest.Mouse(1, 0, 0), nil)
	assert.Equal(t, flipbook.Point{X: -1600, Y: -1096}, c.Pan())

	c.ViewportResized(2000, 1000)
	assert.Equal(t, 2.0, c.Zoom())
	assert.Equal(t, flipbook.Point{X: -400, Y: -696}, c.Pan())

	c.ViewportResized(3000, 3000)
	assert.Equal(t, flipbook.Point{}, c.Pan())
}

func TestController_Toolbar(t *testing.T) {
	c := newController(t)
	c.PointerPosition(10, 100)
	assert.False(t, c.State().ToolbarVisible)
	c.PointerPosition(10, 500)
	assert.True(t, c.State().ToolbarVisible)
	c.PointerPosition(10, 499)
	assert.False(t, c.State().ToolbarVisible)
}

func TestController_DocumentLifecycle(t *testing.T) {
	c := newController(t)
	r := &flipbooktest.Renderer{}

	assert.ErrorIs(t, c.JumpTo(1, r), flipbook.ErrNotLoaded)

	require.NoError(t, c.DocumentLoaded(5, r))
	assert.Equal(t, flipbook.StatusReady, c.State().Status)
	assert.Equal(t, 5, c.State().NumPages)
	require.Len(t, r.Sheets, 3)
	assert.Equal(t, flipbook.Sheet{Index: 1, Left: 2, Right: 3, Width: 600, Height: 848}, r.Sheets[1])

	r.Flip(3)
	assert.Equal(t, 4, c.CurrentPage())
	assert.Equal(t, 2, c.State().Sheet)

	r.Flip(99)
	assert.Equal(t, 5, c.CurrentPage())
	r.Flip(-4)
	assert.Equal(t, 1, c.CurrentPage())

	require.NoError(t, c.JumpTo(4, r))
	assert.Equal(t, []int{2}, r.Flipped)
	assert.Equal(t, 4, c.CurrentPage())

	err := c.JumpTo(6, r)
	assert.ErrorIs(t, err, flipbook.ErrPageOutOfRange)
	assert.ErrorIs(t, c.JumpTo(0, r), flipbook.ErrPageOutOfRange)

	// reloading with fewer pages clamps the current page
	require.NoError(t, c.DocumentLoaded(2, nil))
	assert.Equal(t, 2, c.CurrentPage())
	assert.Equal(t, 2, r.Calls)
}

func TestController_DocumentFailed(t *testing.T) {
	c := newController(t)
	c.SetZoom(2)
	c.DocumentFailed(errors.New("boom"))
	st := c.State()
	assert.Equal(t, flipbook.StatusFailed, st.Status)
	assert.Equal(t, "boom", st.Error)
	assert.Equal(t, 2.0, st.Zoom)

	r := &flipbooktest.Renderer{Err: errors.New("no engine")}
	err := c.DocumentLoaded(3, r)
	assert.Error(t, err)
	assert.Equal(t, flipbook.StatusFailed, c.State().Status)

	assert.Error(t, c.DocumentLoaded(-1, nil))
}

func TestController_SignalPublishesChanges(t *testing.T) {
	scope := reactive.NewScope()
	c := flipbook.New(flipbook.Options{Scope: scope})
	c.ViewportResized(800, 600)

	var got []flipbook.State
	unsub := c.Signal().Subscribe(func(s flipbook.State) { got = append(got, s) })
	defer unsub()

	scope.RunBatch(func() {
		c.ZoomIn()
		c.ZoomIn()
	})
	require.Len(t, got, 1)
	assert.Equal(t, 1.5, got[0].Zoom)

	c.ZoomIn()
	require.Len(t, got, 2)
	assert.Equal(t, 200, got[1].ZoomPercent)
}

// Random event streams never break the zoom or pan invariants
func TestController_RandomEvents(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := newController(t)
	require.NoError(t, c.DocumentLoaded(12, &flipbooktest.Renderer{}))

	for i := 0; i < 20000; i++ {
		x := rng.Float64()*4000 - 2000
		y := rng.Float64()*4000 - 2000
		id := rng.Intn(3)
		switch rng.Intn(12) {
		case 0:
			c.ZoomIn()
		case 1:
			c.ZoomOut()
		case 2:
			c.SetZoom(rng.Float64() * 4)
		case 3:
			c.PointerDown(flipbooktest.Mouse(id, x, y), nil)
		case 4, 5, 6:
			c.PointerMove(flipbooktest.Mouse(id, x, y))
		case 7:
			c.PointerUp(flipbooktest.Mouse(id, x, y), nil)
		case 8:
			c.Wheel(flipbook.WheelEvent{DeltaX: x / 10, DeltaY: y / 10, Shift: rng.Intn(2) == 0})
		case 9:
			if rng.Intn(2) == 0 {
				c.KeyDown(" ")
			} else {
				c.KeyUp(" ")
			}
		case 10:
			c.Flipped(rng.Intn(30) - 5)
		case 11:
			if rng.Intn(20) == 0 {
				c.Reset()
			}
		}

		if !flipbook.IsStep(c.Zoom()) {
			t.Fatalf("step %d: zoom %v off grid", i, c.Zoom())
		}
		lo := flipbook.PanBounds(c.Zoom(), flipbook.Size{W: 800, H: 600}, c.ContentSize())
		p := c.Pan()
		if p.X > 0 || p.Y > 0 || p.X < lo.X || p.Y < lo.Y {
			t.Fatalf("step %d: pan %+v outside [%+v, 0]", i, p, lo)
		}
		if cp := c.CurrentPage(); cp < 1 || cp > 12 {
			t.Fatalf("step %d: current page %d", i, cp)
		}
	}
}
