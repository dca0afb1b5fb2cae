package live

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/recera/flipview/pkg/document"
	"github.com/recera/flipview/pkg/flipbook"
	"github.com/recera/flipview/pkg/reactive"
	"github.com/recera/flipview/pkg/scheduler"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 300 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256

	// maxFrameSize bounds one inbound frame; event batches are a few bytes
	// per event
	maxFrameSize = 64 << 10
)

// outbound is one frame queued for the writer
type outbound struct {
	kind int // websocket.BinaryMessage or websocket.TextMessage
	data []byte
}

// link is one websocket connection of a session. A session outlives its
// links so a client can reconnect and keep its viewport.
type link struct {
	conn *websocket.Conn
	send chan outbound
	done chan struct{}
	once sync.Once
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

// Session is one viewer of one book. Its controller lives on its own loop;
// the session is the controller's flip engine, pointer capturer and flip
// target, forwarding each request to the client.
type Session struct {
	ID     string
	BookID string

	loop   *scheduler.Loop
	scope  *reactive.Scope
	ctrl   *flipbook.Controller
	onFlip func(int)
	unsub  func()

	cancelLoad context.CancelFunc
	log        *zap.Logger

	mu        sync.Mutex
	link      *link
	seq       uint64
	expiry    *time.Timer
	closed    bool
	hasSheets bool
	sheets    []flipbook.Sheet
}

var (
	_ flipbook.SpreadRenderer = (*Session)(nil)
	_ flipbook.Capturer       = (*Session)(nil)
	_ flipbook.FlipTarget     = (*Session)(nil)
)

func newSession(id, bookID string, src flipbook.DocumentSource, opts flipbook.Options, log *zap.Logger) *Session {
	scope := reactive.NewScope()
	opts.Scope = scope
	opts.Logger = log

	s := &Session{
		ID:     id,
		BookID: bookID,
		loop:   scheduler.NewLoop(scheduler.DefaultQueueSize),
		scope:  scope,
		ctrl:   flipbook.New(opts),
		log:    log,
	}
	s.loop.SetErrorHandler(func(err interface{}) bool {
		s.log.Error("session task panicked", zap.Any("panic", err))
		return true
	})
	s.unsub = s.ctrl.Signal().Subscribe(s.pushState)
	s.loop.Start()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelLoad = cancel
	document.LoadAsync(ctx, src,
		func(n int) {
			s.loop.Post(func() {
				if err := s.ctrl.DocumentLoaded(n, s); err != nil {
					s.log.Warn("display failed", zap.Error(err))
				}
			})
		},
		func(err error) {
			s.loop.Post(func() { s.ctrl.DocumentFailed(err) })
		})
	return s
}

// Controller exposes the controller for tests and embedding hosts. Only
// touch it from tasks posted with Do.
func (s *Session) Controller() *flipbook.Controller { return s.ctrl }

// Do runs fn on the session loop and waits for it
func (s *Session) Do(fn func(c *flipbook.Controller)) bool {
	return s.loop.Call(func() { fn(s.ctrl) })
}

// attach makes conn the session's live link, replacing any previous one
func (s *Session) attach(conn *websocket.Conn) *link {
	l := &link{
		conn: conn,
		send: make(chan outbound, sendBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	old := s.link
	s.link = l
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	s.mu.Unlock()

	if old != nil {
		old.close()
	}
	return l
}

// detach forgets l if it is still the live link and reports whether it was
func (s *Session) detach(l *link) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link != l {
		return false
	}
	s.link = nil
	return true
}

// close stops the session for good
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	l := s.link
	s.link = nil
	if s.expiry != nil {
		s.expiry.Stop()
	}
	s.mu.Unlock()

	s.cancelLoad()
	s.loop.Stop()
	if s.unsub != nil {
		s.unsub()
	}
	if l != nil {
		l.close()
	}
}

// run serves one connection until it drops
func (s *Session) run(l *link) {
	go s.writer(l)

	s.sendHello(l)
	s.loop.Post(s.resync)

	l.conn.SetReadLimit(maxFrameSize)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		l.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("unexpected close", zap.Error(err))
			}
			break
		}
		switch messageType {
		case websocket.BinaryMessage:
			s.handleBinaryMessage(l, data)
		case websocket.TextMessage:
			s.log.Debug("ignoring text message", zap.Int("bytes", len(data)))
		}
	}
	l.close()
}

// writer drains the link's queue and keeps the connection alive
func (s *Session) writer(l *link) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(msg.kind, msg.data); err != nil {
				s.log.Debug("write failed", zap.Error(err))
				l.close()
				return
			}

		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.close()
				return
			}

		case <-l.done:
			l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// enqueue queues a frame on the given link, or the current one when l is
// nil. Frames for a detached session are dropped; resync restores the
// client's view on reconnect.
func (s *Session) enqueue(l *link, msg outbound) {
	if l == nil {
		s.mu.Lock()
		l = s.link
		s.mu.Unlock()
	}
	if l == nil {
		return
	}
	select {
	case l.send <- msg:
	case <-l.done:
	}
}

func (s *Session) sendJSON(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("encode message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	s.enqueue(nil, outbound{kind: websocket.TextMessage, data: data})
}

// sendHello sends the initial hello: seq and the session id to resume with
func (s *Session) sendHello(l *link) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf)

	encoder.WriteBytes([]byte{byte(FrameControl)})
	encoder.WriteString("HELLO")
	s.mu.Lock()
	encoder.WriteUvarint(s.seq)
	s.mu.Unlock()
	encoder.WriteString(s.ID)

	s.enqueue(l, outbound{kind: websocket.BinaryMessage, data: buf.Bytes()})
}

// handleBinaryMessage processes binary protocol frames
func (s *Session) handleBinaryMessage(l *link, data []byte) {
	if len(data) == 0 {
		return
	}

	switch MessageType(data[0]) {
	case FrameEvent:
		events, err := DecodeEvents(data)
		if err != nil {
			s.log.Debug("failed to decode events", zap.Error(err))
			return
		}
		s.mu.Lock()
		s.seq++
		s.mu.Unlock()
		// One frame is one batch: the client gets a single state update
		s.loop.Post(func() {
			s.scope.RunBatch(func() {
				for _, evt := range events {
					s.apply(evt)
				}
			})
		})

	case FrameControl:
		decoder := NewDecoder(bytes.NewReader(data[1:]))
		word, err := decoder.ReadString()
		if err != nil {
			s.log.Debug("failed to decode control word", zap.Error(err))
			return
		}
		switch word {
		case "HELLO":
			resumable, err1 := decoder.ReadUvarint()
			lastSeq, err2 := decoder.ReadUvarint()
			if err1 != nil || err2 != nil {
				s.log.Debug("bad client hello", zap.NamedError("resumable", err1), zap.NamedError("seq", err2))
				return
			}
			s.log.Debug("client hello", zap.Bool("resumable", resumable > 0), zap.Uint64("seq", lastSeq))
		case "PING":
			s.enqueue(l, outbound{kind: websocket.BinaryMessage, data: EncodeControl("PONG")})
		}
	}
}

// apply feeds one event to the controller. Runs on the session loop.
func (s *Session) apply(evt Event) {
	c := s.ctrl
	switch evt.Type {
	case EventViewport:
		c.ViewportResized(evt.X, evt.Y)
	case EventPointerPosition:
		c.PointerPosition(evt.X, evt.Y)
	case EventPointerDown:
		c.PointerDown(evt.Pointer(), s)
	case EventPointerMove:
		c.PointerMove(evt.Pointer())
	case EventPointerUp:
		c.PointerUp(evt.Pointer(), s)
	case EventPointerCancel:
		c.PointerCancel(evt.Pointer(), s)
	case EventWheel:
		c.Wheel(flipbook.WheelEvent{DeltaX: evt.X, DeltaY: evt.Y, Shift: evt.Shift()})
	case EventKeyDown:
		c.KeyDown(evt.Key)
	case EventKeyUp:
		c.KeyUp(evt.Key)
	case EventZoomIn:
		c.ZoomIn()
	case EventZoomOut:
		c.ZoomOut()
	case EventZoomReset:
		c.Reset()
	case EventFlip:
		if s.onFlip != nil {
			s.onFlip(evt.Index)
		}
	case EventJump:
		if err := c.JumpTo(evt.Index, s); err != nil {
			s.sendJSON(Message{Type: MsgNotice, Error: err.Error()})
		}
	}
}

// resync sends the full view to a freshly attached client
func (s *Session) resync() {
	if s.hasSheets {
		s.sendJSON(Message{Type: MsgSheets, Book: s.BookID, Sheets: s.sheets})
	}
	s.pushState(s.ctrl.State())
}

// pushState sends a state frame. Runs on the session loop.
func (s *Session) pushState(st flipbook.State) {
	t := s.ctrl.Transform()
	msg := Message{
		Type:       MsgState,
		Book:       s.BookID,
		State:      &st,
		Transform:  t.CSS(),
		Transition: t.Transition,
	}
	if st.Status == flipbook.StatusFailed {
		msg.Error = st.Error
	}
	s.sendJSON(msg)
}

// Display implements flipbook.SpreadRenderer
func (s *Session) Display(sheets []flipbook.Sheet, onFlip func(index int)) error {
	s.sheets = sheets
	s.hasSheets = true
	s.onFlip = onFlip
	s.sendJSON(Message{Type: MsgSheets, Book: s.BookID, Sheets: sheets})
	return nil
}

// SetPointerCapture implements flipbook.Capturer
func (s *Session) SetPointerCapture(pointerID int) error {
	id := pointerID
	s.sendJSON(Message{Type: MsgCapture, Pointer: &id})
	return nil
}

// ReleasePointerCapture implements flipbook.Capturer
func (s *Session) ReleasePointerCapture(pointerID int) error {
	id := pointerID
	s.sendJSON(Message{Type: MsgRelease, Pointer: &id})
	return nil
}

// FlipTo implements flipbook.FlipTarget
func (s *Session) FlipTo(sheet int) error {
	n := sheet
	s.sendJSON(Message{Type: MsgFlip, Sheet: &n})
	return nil
}
