package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandlerFunc writes its own response
type HandlerFunc func(ctx Ctx) error

// APIHandlerFunc returns a value that is written as JSON
type APIHandlerFunc func(ctx Ctx) (any, error)

// Middleware interface for before/after hooks
type Middleware interface {
	Before(ctx Ctx) error // return Stop() to abort chain
	After(ctx Ctx) error  // always called if Before succeeded
}

// paramTypes validates typed route params such as [page:int]
var paramTypes = map[string]func(string) bool{
	"string": func(v string) bool { return v != "" },
	"int": func(v string) bool {
		if v == "" || len(v) > 9 {
			return false
		}
		for _, r := range v {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	},
	"uuid": func(v string) bool { return uuid.Validate(v) == nil },
}

// RouteNode is one path segment in the route tree. Static children are
// tried first, then params in registration order, then the catch-all.
type RouteNode struct {
	static map[string]*RouteNode
	params []*RouteNode
	rest   *RouteNode

	name  string // param name
	valid func(string) bool

	route      *RouteEntry
	handler    HandlerFunc
	middleware []Middleware
}

func newNode() *RouteNode {
	return &RouteNode{static: make(map[string]*RouteNode)}
}

// Router matches request paths against registered routes
type Router struct {
	root       *RouteNode
	routes     []*RouteNode
	notFound   HandlerFunc
	middleware []Middleware
	log        *zap.Logger
	mu         sync.RWMutex
}

// NewRouter creates a new router instance
func NewRouter(log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{root: newNode(), log: log}
}

// AddRoute registers a handler for a path. Segments written as [name] or
// [name:type] capture one segment; [...name] captures the rest of the path.
func (r *Router) AddRoute(path string, handler HandlerFunc, middleware ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := &RouteEntry{Path: "/" + strings.Join(splitPath(path), "/")}
	node := r.root
	for _, seg := range splitPath(path) {
		def, ok := paramDef(seg)
		if ok {
			entry.Params = append(entry.Params, def)
		}
		node = node.child(seg, def, ok)
	}

	if node.handler == nil {
		r.routes = append(r.routes, node)
	}
	node.route = entry
	node.handler = handler
	node.middleware = middleware
}

// child returns the child for seg, creating it when missing
func (n *RouteNode) child(seg string, def ParamDef, isParam bool) *RouteNode {
	switch {
	case !isParam:
		c, ok := n.static[seg]
		if !ok {
			c = newNode()
			n.static[seg] = c
		}
		return c
	case def.Type == "rest":
		if n.rest == nil || n.rest.name != def.Name {
			n.rest = newNode()
			n.rest.name = def.Name
		}
		return n.rest
	default:
		for _, c := range n.params {
			if c.name == def.Name {
				return c
			}
		}
		c := newNode()
		c.name = def.Name
		c.valid = paramTypes[def.Type]
		if c.valid == nil {
			c.valid = paramTypes["string"]
		}
		n.params = append(n.params, c)
		return c
	}
}

// paramDef parses "[name]", "[name:type]" and "[...name]"
func paramDef(seg string) (ParamDef, bool) {
	inner, ok := strings.CutPrefix(seg, "[")
	if !ok {
		return ParamDef{}, false
	}
	if inner, ok = strings.CutSuffix(inner, "]"); !ok {
		return ParamDef{}, false
	}
	if name, ok := strings.CutPrefix(inner, "..."); ok {
		return ParamDef{Name: name, Type: "rest"}, true
	}
	name, typ, ok := strings.Cut(inner, ":")
	if !ok {
		typ = "string"
	}
	return ParamDef{Name: name, Type: typ}, true
}

// AddAPIRoute registers a JSON handler for a path
func (r *Router) AddAPIRoute(path string, handler APIHandlerFunc, middleware ...Middleware) {
	r.AddRoute(path, func(ctx Ctx) error {
		result, err := handler(ctx)
		if err != nil {
			return err
		}
		return ctx.JSON(http.StatusOK, result)
	}, middleware...)
}

// Use adds global middleware
func (r *Router) Use(middleware ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

// SetNotFound sets the 404 handler
func (r *Router) SetNotFound(handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notFound = handler
}

// Match finds the handler for path with its params and the middleware to
// run, global first
func (r *Router) Match(path string) (HandlerFunc, map[string]string, []Middleware) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	params := make(map[string]string)
	node := r.root.match(splitPath(path), params)
	if node == nil {
		return r.notFound, map[string]string{}, r.middleware
	}

	chain := make([]Middleware, 0, len(r.middleware)+len(node.middleware))
	chain = append(chain, r.middleware...)
	chain = append(chain, node.middleware...)
	return node.handler, params, chain
}

// match returns the node with a handler for segs, or nil. Params captured
// on abandoned branches are removed again.
func (n *RouteNode) match(segs []string, params map[string]string) *RouteNode {
	if len(segs) == 0 {
		if n.handler != nil {
			return n
		}
		if n.rest != nil && n.rest.handler != nil {
			params[n.rest.name] = ""
			return n.rest
		}
		return nil
	}

	if c, ok := n.static[segs[0]]; ok {
		if found := c.match(segs[1:], params); found != nil {
			return found
		}
	}
	for _, c := range n.params {
		if !c.valid(segs[0]) {
			continue
		}
		params[c.name] = segs[0]
		if found := c.match(segs[1:], params); found != nil {
			return found
		}
		delete(params, c.name)
	}
	if n.rest != nil && n.rest.handler != nil {
		params[n.rest.name] = strings.Join(segs, "/")
		return n.rest
	}
	return nil
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx := newContext(w, req, r.log)

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		ctx.SetHeader("Allow", "GET, HEAD")
		ctx.Error(http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	handler, params, chain := r.Match(req.URL.Path)
	if handler == nil {
		ctx.Error(http.StatusNotFound, "not found")
		return
	}
	ctx.params = params

	defer func() {
		if p := recover(); p != nil {
			ctx.Logger().Error("panic in handler", zap.Any("panic", p), zap.Stack("stack"))
			r.handleError(ctx, fmt.Errorf("panic: %v", p))
		}
	}()

	if err := runChain(ctx, chain, handler); err != nil {
		r.handleError(ctx, err)
	}
}

// runChain runs chain[0].Before, the rest of the chain, then chain[0].After.
// A Before returning ErrStop ends the request without error.
func runChain(ctx Ctx, chain []Middleware, handler HandlerFunc) error {
	if len(chain) == 0 {
		return handler(ctx)
	}
	mw := chain[0]
	if err := mw.Before(ctx); err != nil {
		if errors.Is(err, ErrStop) {
			return nil
		}
		return err
	}
	err := runChain(ctx, chain[1:], handler)
	if afterErr := mw.After(ctx); afterErr != nil {
		ctx.Logger().Error("error in After middleware", zap.Error(afterErr))
	}
	return err
}

// handleError writes err as a JSON error body. HTTPError picks the status;
// anything else is a 500.
func (r *Router) handleError(ctx *ctxImpl, err error) {
	code, msg := http.StatusInternalServerError, "internal server error"
	var he *HTTPError
	if errors.As(err, &he) {
		code, msg = he.Code, he.Message
	}

	if code >= 500 {
		ctx.Logger().Error("handler error", zap.Int("status", code), zap.Error(err))
	} else {
		ctx.Logger().Debug("request rejected", zap.Int("status", code), zap.Error(err))
	}
	if !ctx.Written() {
		ctx.Error(code, msg)
	}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// RouteEntry describes one registered route
type RouteEntry struct {
	Path   string     `json:"path"`
	Params []ParamDef `json:"params,omitempty"`
}

// ParamDef is a route parameter; catch-alls have type "rest"
type ParamDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Routes lists the registered routes in registration order
func (r *Router) Routes() []RouteEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RouteEntry, len(r.routes))
	for i, n := range r.routes {
		out[i] = *n.route
	}
	return out
}
