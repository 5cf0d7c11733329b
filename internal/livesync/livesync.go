/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package livesync keeps a running channel in step with catalog edits. Push
// signals from the change feed are debounced into one reconciliation; a
// periodic resync covers signals that never arrive.
package livesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_autodj/internal/eventbus"
	"github.com/friendsincode/grimnir_autodj/internal/logging"
	"github.com/friendsincode/grimnir_autodj/internal/tasks"
)

// ErrAlreadyRunning is returned by Start on a running synchronizer.
var ErrAlreadyRunning = errors.New("livesync: already running")

// Reconciler is the orchestrator side of a sync.
type Reconciler interface {
	RequestReconcile(trigger string) bool
}

// Options controls sync timing.
type Options struct {
	// Debounce is the quiet period that closes a burst of change signals.
	Debounce time.Duration
	// Interval is the backstop resync period. Zero disables it.
	Interval time.Duration
}

// Synchronizer bridges one channel's change feed to its orchestrator.
type Synchronizer struct {
	feed      eventbus.Feed
	channelID string
	target    Reconciler
	opts      Options
	logger    zerolog.Logger

	mu       sync.Mutex
	sched    *tasks.Scheduler
	debounce *tasks.Debouncer
	cancel   func()
	done     chan struct{}
	pushing  bool
}

// New builds a synchronizer. Nothing is subscribed until Start.
func New(feed eventbus.Feed, channelID string, target Reconciler, opts Options, logger zerolog.Logger) *Synchronizer {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	return &Synchronizer{
		feed:      feed,
		channelID: channelID,
		target:    target,
		opts:      opts,
		logger:    logging.Channel(logger, "livesync", channelID),
	}
}

// Start arms the periodic resync and subscribes to the channel's changes.
// A feed that cannot be subscribed is logged and the synchronizer keeps
// running on the periodic resync alone.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched != nil {
		return ErrAlreadyRunning
	}

	// Callbacks run on the timer goroutine; RequestReconcile only enqueues.
	s.sched = tasks.New(func(fn func()) bool { fn(); return true }, s.logger)
	if s.opts.Interval > 0 {
		s.sched.Every("catalog-resync", s.opts.Interval, func() {
			s.request("timer")
		})
	}
	s.debounce = s.sched.Debounce("catalog-push", s.opts.Debounce, func() {
		s.request("push")
	})
	s.done = make(chan struct{})

	changes, cancel, err := s.feed.Subscribe(ctx, s.channelID)
	if err != nil {
		s.logger.Warn().Err(err).
			Dur("interval", s.opts.Interval).
			Msg("catalog change feed unavailable, using periodic resync only")
		close(s.done)
		return nil
	}
	s.cancel = cancel
	s.pushing = true

	go s.receive(changes, s.debounce, s.done)

	s.logger.Debug().
		Dur("debounce", s.opts.Debounce).
		Dur("interval", s.opts.Interval).
		Msg("catalog sync started")
	return nil
}

// Pushing reports whether change signals are being received.
func (s *Synchronizer) Pushing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushing
}

func (s *Synchronizer) receive(changes <-chan eventbus.Change, debounce *tasks.Debouncer, done chan struct{}) {
	defer close(done)
	for change := range changes {
		s.logger.Debug().
			Str("kind", string(change.Kind)).
			Str("playlist_id", change.PlaylistID).
			Str("source", change.Source).
			Msg("catalog change signalled")
		debounce.Trigger()
	}
}

func (s *Synchronizer) request(trigger string) {
	if !s.target.RequestReconcile(trigger) {
		s.logger.Debug().Str("trigger", trigger).Msg("reconcile request dropped, channel not running")
	}
}

// Stop unsubscribes and cancels pending syncs.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	sched, cancel, done := s.sched, s.cancel, s.done
	s.sched, s.debounce, s.cancel, s.done = nil, nil, nil, nil
	s.pushing = false
	s.mu.Unlock()

	if sched == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	<-done
	sched.Stop()
}
