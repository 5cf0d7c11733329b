/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package device

import (
	"context"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_autodj/internal/recovery"
)

// SimulatedOptions configures a Simulated device.
type SimulatedOptions struct {
	// TrackLength, when positive, ends every track automatically after this
	// long. Otherwise tracks only end through End.
	TrackLength time.Duration
	// Fail, when set, is consulted on every Load and Preload; a non-nil result
	// is returned as the operation's error.
	Fail func(op string, t Track) *PlaybackError
}

// Simulated is an in-memory device for tests and dry runs.
type Simulated struct {
	opts   SimulatedOptions
	events chan Event

	mu        sync.Mutex
	current   Track
	loaded    bool
	playing   bool
	endTimer  *time.Timer
	history   []Track
	preloads  []Track
	closed    bool
	closeOnce sync.Once
}

// NewSimulated builds a simulated device.
func NewSimulated(opts SimulatedOptions) *Simulated {
	return &Simulated{opts: opts, events: make(chan Event, 256)}
}

func (s *Simulated) emitLocked(ev Event) {
	if s.closed {
		return
	}
	ev.At = time.Now()
	select {
	case s.events <- ev:
	default:
	}
}

// Load stages t.
func (s *Simulated) Load(_ context.Context, t Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.URI == "" {
		return &PlaybackError{Code: recovery.CodeNotFound, Detail: "empty resource locator"}
	}
	if s.opts.Fail != nil {
		if err := s.opts.Fail("load", t); err != nil {
			return err
		}
	}
	s.stopTimerLocked()
	s.current = t
	s.loaded = true
	s.playing = false
	s.history = append(s.history, t)
	return nil
}

// Play starts the staged track.
func (s *Simulated) Play(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return &PlaybackError{Code: recovery.CodeNotFound, Detail: "no track loaded"}
	}
	if s.playing {
		return nil
	}
	s.playing = true
	s.emitLocked(Event{Kind: EventPlay, TrackID: s.current.ID})

	if s.opts.TrackLength > 0 {
		id := s.current.ID
		s.endTimer = time.AfterFunc(s.opts.TrackLength, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.playing && s.current.ID == id {
				s.playing = false
				s.emitLocked(Event{Kind: EventEnd, TrackID: id})
			}
		})
	}
	return nil
}

// Pause suspends playback.
func (s *Simulated) Pause(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.playing {
		return nil
	}
	s.stopTimerLocked()
	s.playing = false
	s.emitLocked(Event{Kind: EventPause, TrackID: s.current.ID})
	return nil
}

// Stop releases the current track.
func (s *Simulated) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.playing = false
	s.loaded = false
	return nil
}

// Preload records t.
func (s *Simulated) Preload(_ context.Context, t Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opts.Fail != nil {
		if err := s.opts.Fail("preload", t); err != nil {
			return err
		}
	}
	s.preloads = append(s.preloads, t)
	return nil
}

// Events returns the event channel.
func (s *Simulated) Events() <-chan Event { return s.events }

// Close closes the event channel.
func (s *Simulated) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.closeOnce.Do(func() {
		s.closed = true
		close(s.events)
	})
	return nil
}

func (s *Simulated) stopTimerLocked() {
	if s.endTimer != nil {
		s.endTimer.Stop()
		s.endTimer = nil
	}
}

// End finishes the current track as if it played to completion.
func (s *Simulated) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.playing = false
	s.emitLocked(Event{Kind: EventEnd, TrackID: s.current.ID})
}

// Fail reports an asynchronous playback error for the current track.
func (s *Simulated) Fail(code, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.playing = false
	s.emitLocked(Event{Kind: EventError, TrackID: s.current.ID, Code: code, Detail: detail})
}

// RequestPreload signals that the device is about to need the next track.
func (s *Simulated) RequestPreload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(Event{Kind: EventPreloadRequested, TrackID: s.current.ID})
}

// Current returns the staged track and whether it is playing.
func (s *Simulated) Current() (Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.playing
}

// History returns every track loaded so far.
func (s *Simulated) History() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Track(nil), s.history...)
}

// Preloads returns every track preloaded so far.
func (s *Simulated) Preloads() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Track(nil), s.preloads...)
}
