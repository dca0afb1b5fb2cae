package scheduler

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Task is a unit of work run on the loop goroutine
type Task func()

// ErrorHandler handles panics raised by a task.
// Returns true to keep the loop running, false to stop it.
type ErrorHandler func(err interface{}) bool

// debugLog is set by platform-specific code
var debugLog func(args ...interface{})

// SetDebugLog sets the debug logging function
func SetDebugLog(fn func(args ...interface{})) {
	debugLog = fn
}

// DefaultQueueSize is the task buffer used when NewLoop gets a size <= 0
const DefaultQueueSize = 1024

// Loop runs posted tasks one at a time, in the order they were posted, on a
// single goroutine. State owned by the loop needs no locking as long as it
// is only touched from tasks.
type Loop struct {
	queue   chan Task
	pending atomic.Int64

	running  atomic.Bool
	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	onError ErrorHandler
}

// NewLoop creates a loop whose queue holds up to size tasks before Post
// blocks.
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Loop{
		queue:  make(chan Task, size),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// SetErrorHandler sets the handler invoked when a task panics
func (l *Loop) SetErrorHandler(handler ErrorHandler) {
	l.mu.Lock()
	l.onError = handler
	l.mu.Unlock()
}

// Start begins the loop. A loop runs at most once; Start after Stop is a
// no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.stopCh:
		return
	default:
	}
	if !l.started.CompareAndSwap(false, true) {
		if debugLog != nil {
			debugLog("[Loop] Already started")
		}
		return
	}
	l.running.Store(true)
	if debugLog != nil {
		debugLog("[Loop] Starting loop")
	}
	go l.run()
}

// Stop stops the loop after the task in progress. Queued tasks are dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.running.Store(false)
		close(l.stopCh)
		if !l.started.Load() {
			close(l.done)
		}
	})
}

// Done is closed once the loop goroutine has exited
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// IsRunning returns whether the loop is running
func (l *Loop) IsRunning() bool {
	return l.running.Load()
}

// Pending returns the number of queued tasks not yet run
func (l *Loop) Pending() int {
	return int(l.pending.Load())
}

// Post queues a task. It blocks while the queue is full and reports false
// when the loop has been stopped. Tasks are never merged or dropped while
// the loop runs.
func (l *Loop) Post(task Task) bool {
	if task == nil {
		return false
	}
	select {
	case <-l.stopCh:
		return false
	default:
	}

	select {
	case l.queue <- task:
		l.pending.Add(1)
		return true
	case <-l.stopCh:
		return false
	}
}

// Call posts a task and waits for it to finish. It reports false if the
// loop stopped before the task ran.
func (l *Loop) Call(task Task) bool {
	finished := make(chan struct{})
	ok := l.Post(func() {
		defer close(finished)
		task()
	})
	if !ok {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		// The task may still have run right before the loop exited
		select {
		case <-finished:
			return true
		default:
			return false
		}
	}
}

// run is the main loop
func (l *Loop) run() {
	defer close(l.done)
	if debugLog != nil {
		debugLog("[Loop] Loop started")
	}
	for {
		select {
		case <-l.stopCh:
			if debugLog != nil {
				debugLog("[Loop] Loop ended")
			}
			return
		case task := <-l.queue:
			l.pending.Add(-1)
			if !l.running.Load() {
				return
			}
			if !l.runTask(task) {
				l.Stop()
				return
			}
		}
	}
}

// runTask runs a task with panic recovery and reports whether the loop
// should keep going
func (l *Loop) runTask(task Task) (keepGoing bool) {
	keepGoing = true
	defer func() {
		if r := recover(); r != nil {
			keepGoing = l.handleTaskError(r)
		}
	}()
	task()
	return keepGoing
}

// handleTaskError hands a panic to the error handler
func (l *Loop) handleTaskError(err interface{}) bool {
	errorMsg := fmt.Sprintf("task panic: %v\n%s", err, debug.Stack())
	if debugLog != nil {
		debugLog("[Loop]", errorMsg)
	}

	l.mu.Lock()
	handler := l.onError
	l.mu.Unlock()

	if handler == nil {
		return true
	}
	return handler(errorMsg)
}
