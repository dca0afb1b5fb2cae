// Package live serves flipbook viewers over websockets. Clients send binary
// event frames; the server runs one controller per session and answers with
// JSON state frames.
package live

import (
	"context"
	"errors"
	"image"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/recera/flipview/pkg/document"
	"github.com/recera/flipview/pkg/flipbook"
)

// ErrUnknownBook is returned by a SourceFunc for books it does not serve
var ErrUnknownBook = errors.New("live: unknown book")

// SourceFunc resolves a book id to its page source
type SourceFunc func(bookID string) (flipbook.DocumentSource, error)

// Config configures the live server
type Config struct {
	// Source resolves books; required
	Source SourceFunc
	// Viewer is the controller configuration of every session
	Viewer flipbook.Options
	// AllowedOrigins lists accepted Origin headers; empty accepts all
	AllowedOrigins []string
	// PathPrefix is stripped by HandleWebSocket (default "/flipbook/live/")
	PathPrefix string
	// SessionTTL keeps a disconnected session resumable (default 5 minutes)
	SessionTTL time.Duration
	Logger     *zap.Logger
}

// Server handles WebSocket connections for live viewers
type Server struct {
	cfg      Config
	log      *zap.Logger
	upgrader websocket.Upgrader
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewServer creates a new live protocol server
func NewServer(cfg Config) *Server {
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/flipbook/live/"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger.Named("live"),
		sessions: make(map[string]*Session),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// HandleWebSocket serves PathPrefix + "{book}[/{session}]"
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, s.cfg.PathPrefix)
	if rest == r.URL.Path {
		http.NotFound(w, r)
		return
	}
	bookID, sessionID, _ := strings.Cut(strings.Trim(rest, "/"), "/")
	s.ServeSession(w, r, bookID, sessionID)
}

// ServeSession upgrades the request and attaches it to the session, creating
// the session when sessionID is empty or unknown
func (s *Server) ServeSession(w http.ResponseWriter, r *http.Request, bookID, sessionID string) {
	if bookID == "" {
		http.Error(w, "book id required", http.StatusBadRequest)
		return
	}
	if strings.Contains(sessionID, "/") {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	// Resolve the book before upgrading so failures are plain HTTP errors
	var src flipbook.DocumentSource
	if sess, ok := s.GetSession(sessionID); !ok || sess.BookID != bookID {
		var err error
		src, err = s.cfg.Source(bookID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrUnknownBook) {
				status = http.StatusNotFound
			}
			http.Error(w, err.Error(), status)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	session := s.getOrCreateSession(bookID, sessionID, src)
	l := session.attach(conn)
	session.log.Debug("connected", zap.String("remote", r.RemoteAddr))

	go func() {
		session.run(l)
		if session.detach(l) {
			s.expireLater(session)
		}
	}()
}

// getOrCreateSession gets an existing session of the book or creates one
func (s *Server) getOrCreateSession(bookID, sessionID string, src flipbook.DocumentSource) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok && session.BookID == bookID {
		return session
	}

	if sessionID == "" || s.sessions[sessionID] != nil {
		sessionID = uuid.NewString()
	}
	if src == nil {
		// The session expired between lookup and upgrade
		resolved, err := s.cfg.Source(bookID)
		if err != nil {
			resolved = failedSource{err: err}
		}
		src = resolved
	}
	log := s.log.With(zap.String("session", sessionID), zap.String("book", bookID))
	session := newSession(sessionID, bookID, src, s.cfg.Viewer, log)
	s.sessions[sessionID] = session
	log.Info("session created")
	return session
}

// expireLater removes a detached session once its TTL passes
func (s *Server) expireLater(session *Session) {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.closed || session.link != nil {
		return
	}
	session.expiry = time.AfterFunc(s.cfg.SessionTTL, func() {
		session.mu.Lock()
		live := session.link != nil
		session.mu.Unlock()
		if !live {
			s.RemoveSession(session.ID)
		}
	})
}

// GetSession retrieves a session by ID
func (s *Server) GetSession(sessionID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, exists := s.sessions[sessionID]
	return session, exists
}

// SessionCount returns the number of sessions, connected or resumable
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// RemoveSession stops and removes a session
func (s *Server) RemoveSession(sessionID string) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if ok {
		session.close()
		session.log.Info("session removed")
	}
}

// Reload pushes a new page count to every session viewing bookID. A count
// of zero or less marks the document failed.
func (s *Server) Reload(bookID string, numPages int) int {
	n := 0
	for _, session := range s.sessionsOf(bookID) {
		session.loop.Post(func() {
			if numPages <= 0 {
				session.ctrl.DocumentFailed(document.ErrNoPages)
				return
			}
			if err := session.ctrl.DocumentLoaded(numPages, nil); err != nil {
				session.log.Warn("reload failed", zap.Error(err))
				return
			}
			session.sendJSON(Message{Type: MsgReload, Book: session.BookID})
		})
		n++
	}
	return n
}

// ReloadFailed marks the document of every session viewing bookID failed
func (s *Server) ReloadFailed(bookID string, err error) int {
	sessions := s.sessionsOf(bookID)
	for _, session := range sessions {
		session.loop.Post(func() { session.ctrl.DocumentFailed(err) })
	}
	return len(sessions)
}

func (s *Server) sessionsOf(bookID string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Session
	for _, session := range s.sessions {
		if session.BookID == bookID {
			out = append(out, session)
		}
	}
	return out
}

// Close stops every session
func (s *Server) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, session := range sessions {
		session.close()
	}
}

// failedSource reports a resolution error through the normal load path
type failedSource struct{ err error }

func (f failedSource) Load(context.Context) (int, error) { return 0, f.err }

func (f failedSource) RenderPage(context.Context, int, int) (image.Image, error) {
	return nil, f.err
}
