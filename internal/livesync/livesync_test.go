package livesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_autodj/internal/eventbus"
)

type recorder struct {
	mu       sync.Mutex
	triggers []string
}

func (r *recorder) RequestReconcile(trigger string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, trigger)
	return true
}

func (r *recorder) count(trigger string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.triggers {
		if t == trigger {
			n++
		}
	}
	return n
}

func TestBurstOfChangesCollapsesIntoOneReconcile(t *testing.T) {
	feed := eventbus.NewMemoryFeed(nil)
	rec := &recorder{}
	s := New(feed, "chan-1", rec, Options{Debounce: 50 * time.Millisecond}, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	for i := 0; i < 5; i++ {
		if err := feed.Publish(context.Background(), eventbus.Change{ChannelID: "chan-1", Kind: eventbus.KindTracks}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	_ = feed.Publish(context.Background(), eventbus.Change{ChannelID: "other", Kind: eventbus.KindPlaylists})

	deadline := time.Now().Add(2 * time.Second)
	for rec.count("push") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)
	if n := rec.count("push"); n != 1 {
		t.Fatalf("push reconciles = %d, want 1", n)
	}
}

func TestPeriodicResync(t *testing.T) {
	rec := &recorder{}
	s := New(eventbus.NewMemoryFeed(nil), "chan-1", rec, Options{Interval: 20 * time.Millisecond}, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.count("timer") < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count("timer") < 2 {
		t.Fatal("expected periodic resyncs")
	}

	s.Stop()
	after := rec.count("timer")
	time.Sleep(80 * time.Millisecond)
	if n := rec.count("timer"); n != after {
		t.Fatalf("resync ran after stop: %d -> %d", after, n)
	}
}

func TestStartTwiceFails(t *testing.T) {
	s := New(eventbus.NewMemoryFeed(nil), "chan-1", &recorder{}, Options{}, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(context.Background()); err != ErrAlreadyRunning {
		t.Fatalf("second start = %v, want ErrAlreadyRunning", err)
	}
	s.Stop()
	s.Stop()
}

type unreachableFeed struct{}

func (unreachableFeed) Publish(context.Context, eventbus.Change) error {
	return errors.New("redis publish: connection refused")
}

func (unreachableFeed) Subscribe(context.Context, string) (<-chan eventbus.Change, func(), error) {
	return nil, nil, errors.New("redis subscribe: connection refused")
}

func (unreachableFeed) Close() error { return nil }

func TestPeriodicResyncRunsWithoutFeed(t *testing.T) {
	rec := &recorder{}
	s := New(unreachableFeed{}, "chan-1", rec, Options{Interval: 20 * time.Millisecond}, zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Pushing() {
		t.Fatal("synchronizer reports push signals from an unreachable feed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.count("timer") < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := rec.count("timer"); n < 2 {
		t.Fatalf("periodic resyncs = %d, want at least 2", n)
	}

	s.Stop()
	after := rec.count("timer")
	time.Sleep(80 * time.Millisecond)
	if n := rec.count("timer"); n != after {
		t.Fatalf("resync ran after stop: %d -> %d", after, n)
	}
}
