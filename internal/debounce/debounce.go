// Package debounce provides write coalescing for the persistence layer:
// a trailing-edge debouncer for the state store and a throttle for the
// workspace registry.
package debounce

import (
	"sync"
	"time"
)

// Writer coalesces bursts of dirty marks into a single flush after a
// quiet window. Every Mark within the window restarts the timer, so the
// flush happens once the writes settle.
type Writer struct {
	mu      sync.Mutex
	timer   *time.Timer
	window  time.Duration
	onFlush func()
	stopped bool
}

// NewWriter creates a debounced writer. onFlush runs on a timer goroutine
// once per settled burst; it must do its own locking.
func NewWriter(window time.Duration, onFlush func()) *Writer {
	if window < 0 {
		window = 0
	}
	return &Writer{window: window, onFlush: onFlush}
}

// Mark notes a pending write and (re)starts the flush window.
func (w *Writer) Mark() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.window == 0 {
		go w.onFlush()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.window, w.onFlush)
}

// Flush cancels any pending timer and runs the flush synchronously.
func (w *Writer) Flush() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	stopped := w.stopped
	w.mu.Unlock()
	if !stopped {
		w.onFlush()
	}
}

// Stop cancels any pending flush and prevents further scheduling.
// It does not run onFlush; callers that need a final write call Flush first.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Pending reports whether a flush is currently scheduled.
func (w *Writer) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timer != nil
}

// Throttle limits an action to at most one run per interval. Calls inside
// the interval are dropped; Force runs regardless and resets the clock.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	nowFunc  func() time.Time // for tests
}

// NewThrottle creates a throttle with the given minimum interval.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval, nowFunc: time.Now}
}

// SetNowFunc sets a custom time function for testing.
func (t *Throttle) SetNowFunc(fn func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nowFunc = fn
}

// Allow reports whether the action may run now, consuming the slot if so.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.nowFunc()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}

// Force consumes the slot unconditionally, resetting the interval clock.
func (t *Throttle) Force() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = t.nowFunc()
}
