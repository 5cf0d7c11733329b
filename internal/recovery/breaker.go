/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package recovery

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrHalted is returned by Failure when the breaker is already open.
var ErrHalted = errors.New("recovery: playback halted")

// Settings configures a Breaker.
type Settings struct {
	Name string
	// Window is the rolling period transient failures are counted over.
	Window time.Duration
	// Ceiling is the number of failures within Window that trips the breaker.
	Ceiling int
	// Cooldown is how long the breaker stays open before a reset attempt.
	Cooldown time.Duration
	// OnStateChange is invoked synchronously on every transition.
	OnStateChange func(from, to gobreaker.State)
	// Now defaults to time.Now.
	Now func() time.Time
}

// Breaker trips when Ceiling transient failures land within Window. Once
// open it rejects work for Cooldown, then lets exactly one probe through in
// the half-open state: a successful probe closes it, a failed one reopens it.
// Not safe for concurrent use.
type Breaker struct {
	settings Settings
	cb       *gobreaker.CircuitBreaker[struct{}]
	failures []time.Time
	lastErr  time.Time
}

// NewBreaker builds a closed breaker.
func NewBreaker(s Settings) *Breaker {
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Ceiling <= 0 {
		s.Ceiling = 5
	}
	b := &Breaker{settings: s}
	b.cb = b.newCircuit()
	return b
}

func (b *Breaker) newCircuit() *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        b.settings.Name,
		MaxRequests: 1,
		Timeout:     b.settings.Cooldown,
		ReadyToTrip: func(gobreaker.Counts) bool {
			return b.recent() >= b.settings.Ceiling
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if to == gobreaker.StateClosed {
				b.failures = b.failures[:0]
			}
			if b.settings.OnStateChange != nil {
				b.settings.OnStateChange(from, to)
			}
		},
	})
}

// recent prunes and counts failures inside the rolling window.
func (b *Breaker) recent() int {
	cutoff := b.settings.Now().Add(-b.settings.Window)
	kept := b.failures[:0]
	for _, ts := range b.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.failures = kept
	return len(kept)
}

// Failure records a transient failure. It reports whether this failure left
// the breaker open. ErrHalted is returned when the breaker was already open.
func (b *Breaker) Failure(cause error) (bool, error) {
	if cause == nil {
		cause = errors.New("playback failure")
	}
	now := b.settings.Now()
	b.lastErr = now
	b.failures = append(b.failures, now)

	_, err := b.cb.Execute(func() (struct{}, error) { return struct{}{}, cause })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true, ErrHalted
	}
	return b.cb.State() == gobreaker.StateOpen, nil
}

// Success records a successful load-and-play and clears the failure window.
// In the half-open state it closes the breaker.
func (b *Breaker) Success() {
	_, _ = b.cb.Execute(func() (struct{}, error) { return struct{}{}, nil })
	b.failures = b.failures[:0]
}

// State returns the breaker state, moving from open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Halted reports whether automatic advancement is suspended.
func (b *Breaker) Halted() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// ReadyToProbe reports whether the cooldown has elapsed and one reset attempt may run.
func (b *Breaker) ReadyToProbe() bool {
	return b.cb.State() == gobreaker.StateHalfOpen
}

// Reset closes the breaker and forgets all failures.
func (b *Breaker) Reset() {
	from := b.cb.State()
	b.failures = b.failures[:0]
	b.cb = b.newCircuit()
	if from != gobreaker.StateClosed && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(from, gobreaker.StateClosed)
	}
}

// RecentFailures is the number of failures inside the rolling window.
func (b *Breaker) RecentFailures() int {
	return b.recent()
}

// LastFailure is the time of the most recent failure, zero if none.
func (b *Breaker) LastFailure() time.Time {
	return b.lastErr
}

// StateValue maps a breaker state to the gauge value exported for it.
func StateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
