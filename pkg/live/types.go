package live

import "github.com/recera/flipview/pkg/flipbook"

// MessageType represents the type of live protocol frame
type MessageType uint8

const (
	// Frame types
	FrameEvent   MessageType = 0x01
	FrameControl MessageType = 0x02
)

// EventType represents client-side event types
type EventType uint8

const (
	EventViewport        EventType = 0x01 // X, Y = viewport width, height
	EventPointerDown     EventType = 0x02
	EventPointerMove     EventType = 0x03
	EventPointerUp       EventType = 0x04
	EventPointerCancel   EventType = 0x05
	EventWheel           EventType = 0x06 // X, Y = wheel deltas
	EventKeyDown         EventType = 0x07
	EventKeyUp           EventType = 0x08
	EventZoomIn          EventType = 0x09
	EventZoomOut         EventType = 0x0A
	EventZoomReset       EventType = 0x0B
	EventFlip            EventType = 0x0C // Index = zero-based page index
	EventJump            EventType = 0x0D // Index = 1-based page
	EventPointerPosition EventType = 0x0E
)

func (t EventType) String() string {
	switch t {
	case EventViewport:
		return "viewport"
	case EventPointerDown:
		return "pointerdown"
	case EventPointerMove:
		return "pointermove"
	case EventPointerUp:
		return "pointerup"
	case EventPointerCancel:
		return "pointercancel"
	case EventWheel:
		return "wheel"
	case EventKeyDown:
		return "keydown"
	case EventKeyUp:
		return "keyup"
	case EventZoomIn:
		return "zoomin"
	case EventZoomOut:
		return "zoomout"
	case EventZoomReset:
		return "zoomreset"
	case EventFlip:
		return "flip"
	case EventJump:
		return "jump"
	case EventPointerPosition:
		return "pointerposition"
	default:
		return "unknown"
	}
}

// Event flags
const (
	FlagPrimary uint8 = 1 << 0
	FlagShift   uint8 = 1 << 1

	kindShift = 2
	kindMask  = 0x3
)

// Event represents a client-side event
type Event struct {
	Type      EventType
	PointerID int
	X         float64
	Y         float64
	Button    int
	Flags     uint8
	Key       string
	Index     int
}

// Primary reports the primary-pointer flag
func (e Event) Primary() bool { return e.Flags&FlagPrimary != 0 }

// Shift reports the shift flag
func (e Event) Shift() bool { return e.Flags&FlagShift != 0 }

// Kind returns the pointer kind packed into the flags
func (e Event) Kind() flipbook.PointerKind {
	return flipbook.PointerKind((e.Flags >> kindShift) & kindMask)
}

// Pointer converts a pointer event
func (e Event) Pointer() flipbook.PointerEvent {
	return flipbook.PointerEvent{
		ID:      e.PointerID,
		X:       e.X,
		Y:       e.Y,
		Button:  e.Button,
		Primary: e.Primary(),
		Kind:    e.Kind(),
	}
}

// PointerFlags packs the flags of a pointer event
func PointerFlags(primary bool, kind flipbook.PointerKind) uint8 {
	var f uint8
	if primary {
		f |= FlagPrimary
	}
	return f | (uint8(kind)&kindMask)<<kindShift
}

// Message is a JSON text frame sent to the client
type Message struct {
	Type       string           `json:"type"`
	Book       string           `json:"book,omitempty"`
	State      *flipbook.State  `json:"state,omitempty"`
	Transform  string           `json:"transform,omitempty"`
	Transition string           `json:"transition,omitempty"`
	Sheets     []flipbook.Sheet `json:"sheets,omitempty"`
	Pointer    *int             `json:"pointer,omitempty"`
	Sheet      *int             `json:"sheet,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Message types
const (
	MsgState   = "state"
	MsgSheets  = "sheets"
	MsgError   = "error"
	MsgNotice  = "notice"
	MsgCapture = "capture"
	MsgRelease = "release"
	MsgFlip    = "flip"
	// MsgReload tells the client the book's files changed; cached page
	// images are stale
	MsgReload = "reload"
)
