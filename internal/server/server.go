// Package server serves the textbook shelf over HTTP: a JSON API, rendered
// page and sheet images, and the live flipbook websocket.
package server

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/recera/flipview/internal/config"
	"github.com/recera/flipview/pkg/flipbook"
	"github.com/recera/flipview/pkg/live"
)

const shutdownTimeout = 5 * time.Second

// Server is the flipview HTTP server
type Server struct {
	cfg     *config.Config
	shelf   *Shelf
	live    *live.Server
	router  *Router
	limiter *RateLimiter
	log     *zap.Logger

	cancel context.CancelFunc
}

// New builds the server and its routes
func New(cfg *config.Config, shelf *Shelf, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		shelf:  shelf,
		log:    log,
		router: NewRouter(log),
		cancel: cancel,
		live: live.NewServer(live.Config{
			Source:         shelf.Source,
			Viewer:         cfg.ViewerOptions(),
			AllowedOrigins: cfg.Server.AllowedOrigins,
			SessionTTL:     cfg.Server.SessionTTL,
			Logger:         log,
		}),
	}

	var throttle []Middleware
	if rl := cfg.Server.RateLimit; rl != nil && rl.RPS > 0 {
		s.limiter = NewRateLimiter(ctx, rl.RPS, rl.Burst, rl.MaxIPs, log)
		throttle = append(throttle, s.limiter)
	}

	s.router.AddAPIRoute("/api/textbooks", s.listBooks)
	s.router.AddAPIRoute("/api/textbooks/[id]", s.getBook)
	s.router.AddAPIRoute("/api/textbooks/[id]/spreads", s.getSpreads)
	s.router.AddRoute("/api/textbooks/[id]/cover", s.getCover, throttle...)
	s.router.AddRoute("/api/textbooks/[id]/pages/[page:int]", s.getPage, throttle...)
	s.router.AddRoute("/api/textbooks/[id]/sheets/[sheet:int]", s.getSheet, throttle...)
	s.router.AddRoute("/flipbook/live/[id]/[...session]", s.serveLive)

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler { return s.router }

// Router returns the route table
func (s *Server) Router() *Router { return s.router }

// Live returns the live session server
func (s *Server) Live() *live.Server { return s.live }

// ListenAndServe serves on the configured address until ctx is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", ln.Addr().String()))
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown
	s.Close()
	err := httpSrv.Shutdown(shutdownCtx)
	if err2 := <-errCh; !errors.Is(err2, http.ErrServerClosed) && err == nil {
		err = err2
	}
	return err
}

// Close stops the live sessions and the rate limiter sweeper
func (s *Server) Close() {
	s.live.Close()
	s.cancel()
}

func (s *Server) entry(ctx Ctx) (*Entry, error) {
	id := ctx.Param("id")
	e, ok := s.shelf.Get(id)
	if !ok {
		return nil, Errorf(http.StatusNotFound, "unknown textbook %q", id)
	}
	return e, nil
}

// pages loads the page count; an unreadable document is a bad gateway
func (s *Server) pages(ctx Ctx, e *Entry) (int, error) {
	n, err := e.Pages(ctx.Context())
	if err != nil {
		return 0, &HTTPError{Code: http.StatusBadGateway, Message: "document unavailable", Err: err}
	}
	return n, nil
}

func (s *Server) listBooks(ctx Ctx) (any, error) {
	entries := s.shelf.Entries()
	out := make([]BookInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Info(ctx.Context()))
	}
	return out, nil
}

func (s *Server) getBook(ctx Ctx) (any, error) {
	e, err := s.entry(ctx)
	if err != nil {
		return nil, err
	}
	return e.Info(ctx.Context()), nil
}

// SpreadsResponse lists the two-up pairing of a book; 0 marks a blank face
type SpreadsResponse struct {
	Book    string            `json:"book"`
	Pages   int               `json:"pages"`
	Spreads []flipbook.Spread `json:"spreads"`
}

func (s *Server) getSpreads(ctx Ctx) (any, error) {
	e, err := s.entry(ctx)
	if err != nil {
		return nil, err
	}
	n, err := s.pages(ctx, e)
	if err != nil {
		return nil, err
	}
	return SpreadsResponse{Book: e.Book.ID, Pages: n, Spreads: flipbook.Spreads(n)}, nil
}

// width reads ?width=, defaulting to the base page width and capped at the
// configured maximum
func (s *Server) width(ctx Ctx) (int, error) {
	def := int(math.Round(s.cfg.Viewer.BasePageWidth))
	raw := ctx.Query().Get("width")
	if raw == "" {
		return def, nil
	}
	w, err := strconv.Atoi(raw)
	if err != nil || w <= 0 {
		return 0, Errorf(http.StatusBadRequest, "invalid width %q", raw)
	}
	if limit := s.cfg.Render.MaxWidth; limit > 0 && w > limit {
		w = limit
	}
	return w, nil
}

func (s *Server) getPage(ctx Ctx) error {
	e, err := s.entry(ctx)
	if err != nil {
		return err
	}
	width, err := s.width(ctx)
	if err != nil {
		return err
	}
	n, err := s.pages(ctx, e)
	if err != nil {
		return err
	}
	page := ctx.ParamInt("page")
	if page < 1 || page > n {
		return Errorf(http.StatusBadRequest, "page %d out of range 1..%d", page, n)
	}

	data, err := e.Source().RenderPNG(ctx.Context(), page, width)
	if err != nil {
		return &HTTPError{Code: http.StatusBadGateway, Message: "render failed", Err: err}
	}
	ctx.SetHeader("Cache-Control", "public, max-age=300")
	return ctx.Blob(http.StatusOK, "image/png", data)
}

func (s *Server) getSheet(ctx Ctx) error {
	e, err := s.entry(ctx)
	if err != nil {
		return err
	}
	width, err := s.width(ctx)
	if err != nil {
		return err
	}
	n, err := s.pages(ctx, e)
	if err != nil {
		return err
	}
	spreads := flipbook.Spreads(n)
	index := ctx.ParamInt("sheet")
	if index >= len(spreads) {
		return Errorf(http.StatusBadRequest, "sheet %d out of range 0..%d", index, len(spreads)-1)
	}

	sheet := flipbook.Sheet{
		Index:  index,
		Left:   spreads[index].Left,
		Right:  spreads[index].Right,
		Width:  s.cfg.Viewer.BasePageWidth,
		Height: math.Round(s.cfg.Viewer.BasePageWidth * s.cfg.Viewer.PageAspect),
	}
	data, err := e.Source().SheetPNG(ctx.Context(), sheet, width, s.cfg.SheetOptions(n))
	if err != nil {
		return &HTTPError{Code: http.StatusBadGateway, Message: "render failed", Err: err}
	}
	ctx.SetHeader("Cache-Control", "public, max-age=300")
	return ctx.Blob(http.StatusOK, "image/png", data)
}

// getCover serves the configured cover image, or the first page
func (s *Server) getCover(ctx Ctx) error {
	e, err := s.entry(ctx)
	if err != nil {
		return err
	}
	if e.Book.Cover == "" {
		n, err := s.pages(ctx, e)
		if err != nil {
			return err
		}
		if n < 1 {
			return Errorf(http.StatusNotFound, "no cover")
		}
		data, err := e.Source().RenderPNG(ctx.Context(), 1, 300)
		if err != nil {
			return &HTTPError{Code: http.StatusBadGateway, Message: "render failed", Err: err}
		}
		return ctx.Blob(http.StatusOK, "image/png", data)
	}
	if _, err := os.Stat(e.Book.Cover); err != nil {
		return &HTTPError{Code: http.StatusNotFound, Message: "no cover", Err: err}
	}
	http.ServeFile(ctx.Writer(), ctx.Request(), e.Book.Cover)
	return nil
}

func (s *Server) serveLive(ctx Ctx) error {
	s.live.ServeSession(ctx.Writer(), ctx.Request(), ctx.Param("id"), ctx.Param("session"))
	return nil
}
