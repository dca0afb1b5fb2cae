package flipbook

import (
	"context"
	"errors"
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/recera/flipview/pkg/reactive"
)

var (
	// ErrNotLoaded is returned by operations that need a loaded document
	ErrNotLoaded = errors.New("flipbook: document not loaded")
	// ErrPageOutOfRange is returned for page numbers outside [1, numPages]
	ErrPageOutOfRange = errors.New("flipbook: page out of range")
)

// Size is a width/height pair in viewport pixels
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Point is a position or offset in viewport pixels
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DocumentSource loads a paged document and renders single pages.
// Pages are 1-based.
type DocumentSource interface {
	Load(ctx context.Context) (pageCount int, err error)
	RenderPage(ctx context.Context, page int, width int) (image.Image, error)
}

// SpreadRenderer is the page-flip engine. It owns flip animation and
// page-turn gestures and reports flips through onFlip with the zero-based
// page index it turned to.
type SpreadRenderer interface {
	Display(sheets []Sheet, onFlip func(index int)) error
}

// Capturer routes all pointer events of one pointer to the viewport until
// released. Hosts without capture support may return an error; dragging then
// continues uncaptured.
type Capturer interface {
	SetPointerCapture(pointerID int) error
	ReleasePointerCapture(pointerID int) error
}

// FlipTarget addresses the flip engine directly for programmatic jumps
type FlipTarget interface {
	FlipTo(sheet int) error
}

// Sheet is one unit handed to the flip engine: a spread plus the size of
// each of its two faces.
type Sheet struct {
	Index  int     `json:"index"`
	Left   int     `json:"left"`
	Right  int     `json:"right"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PointerKind is the device behind a pointer event
type PointerKind uint8

const (
	PointerMouse PointerKind = iota
	PointerTouch
	PointerPen
)

// PointerEvent is a pointer down/move/up/cancel in viewport coordinates
type PointerEvent struct {
	ID      int
	X       float64
	Y       float64
	Button  int // 0 = primary button
	Primary bool
	Kind    PointerKind
}

// WheelEvent is a wheel delta in pixels. Shift selects horizontal panning.
type WheelEvent struct {
	DeltaX float64
	DeltaY float64
	Shift  bool
}

// Status is the document load status
type Status uint8

const (
	StatusLoading Status = iota
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status as its name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is a snapshot of the controller
type State struct {
	Zoom           float64 `json:"zoom"`
	ZoomPercent    int     `json:"zoomPercent"`
	PanX           float64 `json:"panX"`
	PanY           float64 `json:"panY"`
	CurrentPage    int     `json:"currentPage"`
	NumPages       int     `json:"numPages"`
	Sheet          int     `json:"sheet"`
	Dragging       bool    `json:"dragging"`
	PanMode        bool    `json:"panMode"`
	CanPan         bool    `json:"canPan"`
	ToolbarVisible bool    `json:"toolbarVisible"`
	Cursor         string  `json:"cursor"`
	Status         Status  `json:"status"`
	Error          string  `json:"error,omitempty"`
	ViewportW      float64 `json:"viewportW"`
	ViewportH      float64 `json:"viewportH"`
}

// Options configures the controller
type Options struct {
	BasePageWidth  float64 // default 600
	BasePageHeight float64 // default round(BasePageWidth * PageAspect)
	PageAspect     float64 // default 1.414 (A4)

	ToolbarReveal float64 // default 100; toolbar shows within this distance of the bottom edge
	Transition    string  // default "transform 120ms ease-out"
	PanKey        string  // default " " (Space)

	// Scope batches state notifications; nil delivers them immediately
	Scope  *reactive.Scope
	Logger *zap.Logger
}

func (o *Options) withDefaults() Options {
	d := Options{
		BasePageWidth: 600,
		PageAspect:    1.414,
		ToolbarReveal: 100,
		Transition:    "transform 120ms ease-out",
		PanKey:        " ",
	}
	if o != nil {
		if o.BasePageWidth > 0 {
			d.BasePageWidth = o.BasePageWidth
		}
		if o.PageAspect > 0 {
			d.PageAspect = o.PageAspect
		}
		if o.BasePageHeight > 0 {
			d.BasePageHeight = o.BasePageHeight
		}
		if o.ToolbarReveal > 0 {
			d.ToolbarReveal = o.ToolbarReveal
		}
		if o.Transition != "" {
			d.Transition = o.Transition
		}
		if o.PanKey != "" {
			d.PanKey = o.PanKey
		}
		d.Scope = o.Scope
		d.Logger = o.Logger
	}
	if d.BasePageHeight <= 0 {
		d.BasePageHeight = math.Round(d.BasePageWidth * d.PageAspect)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// ContentSize is the unzoomed size of a two-page spread
func (o Options) ContentSize() Size {
	return Size{W: 2 * o.BasePageWidth, H: o.BasePageHeight}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
