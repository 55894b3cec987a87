package debounce

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWriterCoalesces(t *testing.T) {
	var flushes atomic.Int32
	w := NewWriter(50*time.Millisecond, func() { flushes.Add(1) })

	for i := 0; i < 20; i++ {
		w.Mark()
		time.Sleep(time.Millisecond)
	}

	// Burst still inside the window: nothing flushed yet.
	if got := flushes.Load(); got != 0 {
		t.Fatalf("flushes during burst = %d, want 0", got)
	}

	time.Sleep(150 * time.Millisecond)
	if got := flushes.Load(); got != 1 {
		t.Errorf("flushes after window = %d, want 1", got)
	}
}

func TestWriterFlushRunsImmediately(t *testing.T) {
	var flushes atomic.Int32
	w := NewWriter(time.Hour, func() { flushes.Add(1) })

	w.Mark()
	w.Flush()
	if got := flushes.Load(); got != 1 {
		t.Errorf("flushes = %d, want 1", got)
	}
	if w.Pending() {
		t.Error("timer should be cancelled after Flush")
	}
}

func TestWriterStop(t *testing.T) {
	var flushes atomic.Int32
	w := NewWriter(10*time.Millisecond, func() { flushes.Add(1) })

	w.Mark()
	w.Stop()
	time.Sleep(50 * time.Millisecond)
	if got := flushes.Load(); got != 0 {
		t.Errorf("flushes after Stop = %d, want 0", got)
	}

	w.Mark() // ignored after Stop
	time.Sleep(50 * time.Millisecond)
	if got := flushes.Load(); got != 0 {
		t.Errorf("Mark after Stop still flushed: %d", got)
	}
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(5 * time.Second)
	now := time.Unix(1000, 0)
	th.SetNowFunc(func() time.Time { return now })

	if !th.Allow() {
		t.Fatal("first Allow should pass")
	}
	if th.Allow() {
		t.Error("second Allow inside interval should be dropped")
	}

	now = now.Add(6 * time.Second)
	if !th.Allow() {
		t.Error("Allow after interval should pass")
	}

	th.Force()
	if th.Allow() {
		t.Error("Allow immediately after Force should be dropped")
	}
}
