package tasks

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// loop mimics an owner event loop draining posted callbacks.
type loop struct {
	work   chan func()
	closed atomic.Bool
}

func newLoop() *loop { return &loop{work: make(chan func(), 64)} }

func (l *loop) post(fn func()) bool {
	if l.closed.Load() {
		return false
	}
	l.work <- fn
	return true
}

// drain runs callbacks until quiet elapses with nothing arriving, or one
// second has passed in total.
func (l *loop) drain(quiet time.Duration) int {
	n := 0
	limit := time.After(time.Second)
	for {
		select {
		case fn := <-l.work:
			fn()
			n++
		case <-time.After(quiet):
			return n
		case <-limit:
			return n
		}
	}
}

// runFor runs callbacks for exactly d.
func (l *loop) runFor(d time.Duration) int {
	n := 0
	stop := time.After(d)
	for {
		select {
		case fn := <-l.work:
			fn()
			n++
		case <-stop:
			return n
		}
	}
}

func TestAfterRunsOnceOnLoop(t *testing.T) {
	l := newLoop()
	s := New(l.post, zerolog.Nop())

	var ran int
	s.After("once", 10*time.Millisecond, func() { ran++ })
	l.drain(100 * time.Millisecond)

	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}
	if s.Active() != 0 {
		t.Fatalf("Active = %d after expiry, want 0", s.Active())
	}
}

func TestEveryRepeatsUntilCancelled(t *testing.T) {
	l := newLoop()
	s := New(l.post, zerolog.Nop())

	var ran int
	task := s.Every("tick", 5*time.Millisecond, func() { ran++ })
	l.runFor(100 * time.Millisecond)
	if ran < 3 {
		t.Fatalf("ran = %d, want >= 3", ran)
	}

	task.Cancel()
	before := ran
	l.runFor(50 * time.Millisecond)
	if ran != before {
		t.Fatalf("ran %d times after cancel", ran-before)
	}
}

func TestCancelSkipsAlreadyPostedCallback(t *testing.T) {
	l := newLoop()
	s := New(l.post, zerolog.Nop())

	var ran bool
	task := s.After("late", time.Millisecond, func() { ran = true })
	time.Sleep(20 * time.Millisecond) // callback is now queued on the loop
	task.Cancel()
	l.drain(20 * time.Millisecond)

	if ran {
		t.Fatal("cancelled task ran")
	}
}

func TestStopCancelsEverythingAndRefusesNewTasks(t *testing.T) {
	l := newLoop()
	s := New(l.post, zerolog.Nop())

	var ran atomic.Int32
	s.After("a", 20*time.Millisecond, func() { ran.Add(1) })
	s.Every("b", 5*time.Millisecond, func() { ran.Add(1) })
	s.Stop()

	if s.Active() != 0 {
		t.Fatalf("Active = %d after Stop", s.Active())
	}
	late := s.After("c", time.Millisecond, func() { ran.Add(1) })
	late.Cancel()

	l.drain(60 * time.Millisecond)
	if ran.Load() != 0 {
		t.Fatalf("ran = %d after Stop, want 0", ran.Load())
	}
}

func TestDebouncerCollapsesBurst(t *testing.T) {
	l := newLoop()
	s := New(l.post, zerolog.Nop())

	var ran int
	d := s.Debounce("resync", 30*time.Millisecond, func() { ran++ })
	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}
	l.drain(100 * time.Millisecond)

	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}
}

func TestPostRejectedAfterLoopCloses(t *testing.T) {
	l := newLoop()
	l.closed.Store(true)
	s := New(l.post, zerolog.Nop())

	s.After("x", time.Millisecond, func() { t.Error("should not run") })
	time.Sleep(20 * time.Millisecond)
	if n := l.drain(10 * time.Millisecond); n != 0 {
		t.Fatalf("drained %d callbacks from closed loop", n)
	}
}
