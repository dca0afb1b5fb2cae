package reactive

import (
	"sync"
)

// debugLog is set by platform-specific code
var debugLog func(args ...interface{})

// SetDebugLog sets the debug logging function
func SetDebugLog(fn func(args ...interface{})) {
	debugLog = fn
}

// Signal is the read side of a reactive value
type Signal[T comparable] interface {
	Get() T
	Subscribe(fn func(T)) (unsubscribe func())
}

// State represents a reactive state value
type State[T comparable] struct {
	value T
	mu    sync.RWMutex

	// Subscribers notified after each change
	subs   map[uint64]func(T)
	nextID uint64
	subsMu sync.RWMutex

	scope *Scope
}

// NewState creates a new reactive state. A nil scope means every change is
// delivered immediately.
func NewState[T comparable](initial T, scope *Scope) *State[T] {
	return &State[T]{
		value: initial,
		subs:  make(map[uint64]func(T)),
		scope: scope,
	}
}

// Get returns the current value
func (s *State[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set updates the value and notifies subscribers if it changed
func (s *State[T]) Set(value T) {
	s.mu.Lock()
	changed := s.value != value
	s.value = value
	s.mu.Unlock()

	if !changed {
		return
	}
	if debugLog != nil {
		debugLog("[State] Set called with value:", value)
	}
	notifyOrBatch(s.scope, s)
}

// Update atomically reads, modifies, and writes the value
func (s *State[T]) Update(fn func(T) T) {
	s.mu.Lock()
	oldValue := s.value
	s.value = fn(oldValue)
	changed := s.value != oldValue
	s.mu.Unlock()

	if !changed {
		return
	}
	notifyOrBatch(s.scope, s)
}

// Subscribe registers fn to run after every change. The returned function
// removes the subscription.
func (s *State[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}

	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	n := len(s.subs)
	s.subsMu.Unlock()

	if debugLog != nil {
		debugLog("[State] Subscribed", id, "total subscribers:", n)
	}

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// notify delivers the current value to every subscriber. Subscribers run
// outside the locks so they may read the state again.
func (s *State[T]) notify() {
	value := s.Get()

	s.subsMu.RLock()
	subs := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.subsMu.RUnlock()

	for _, fn := range subs {
		fn(value)
	}
}

type notifier interface {
	notify()
}

// Scope groups states whose notifications can be deferred together.
// A scope belongs to one goroutine, like the event loop that owns it.
type Scope struct {
	mu      sync.Mutex
	depth   int
	pending []notifier
	seen    map[notifier]struct{}
}

// NewScope creates an empty scope
func NewScope() *Scope {
	return &Scope{seen: make(map[notifier]struct{})}
}

// RunBatch runs fn and delivers the notifications it caused once, after fn
// returns. Nested batches flush when the outermost one completes.
func (sc *Scope) RunBatch(fn func()) {
	sc.mu.Lock()
	sc.depth++
	sc.mu.Unlock()

	defer sc.commit()

	fn()
}

// Batching reports whether a batch is open
func (sc *Scope) Batching() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.depth > 0
}

func (sc *Scope) add(n notifier) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.depth == 0 {
		return false
	}
	if _, ok := sc.seen[n]; !ok {
		sc.seen[n] = struct{}{}
		sc.pending = append(sc.pending, n)
	}
	return true
}

func (sc *Scope) commit() {
	sc.mu.Lock()
	sc.depth--
	if sc.depth > 0 {
		sc.mu.Unlock()
		return
	}
	pending := sc.pending
	sc.pending = nil
	sc.seen = make(map[notifier]struct{})
	sc.mu.Unlock()

	if debugLog != nil && len(pending) > 0 {
		debugLog("[Scope] Flushing", len(pending), "batched signals")
	}
	for _, n := range pending {
		n.notify()
	}
}

// notifyOrBatch notifies immediately or defers to the open batch
func notifyOrBatch(scope *Scope, n notifier) {
	if scope != nil && scope.add(n) {
		if debugLog != nil {
			debugLog("[State] Adding signal to batch")
		}
		return
	}
	n.notify()
}
