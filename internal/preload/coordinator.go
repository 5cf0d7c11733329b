/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package preload decides when the next track may be pre-buffered.
//
// Until the listener has pressed play once, preloading only happens when the
// device asks for it. After that first manual play, every track load is
// followed by an eager preload. Attempts are throttled, and a run of
// consecutive failures suspends preloading for a cooldown.
package preload

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Reason explains why a preload attempt was refused.
type Reason string

const (
	Allowed       Reason = ""
	Throttled     Reason = "throttled"
	Suspended     Reason = "suspended"
	AlreadyLoaded Reason = "already_preloaded"
)

// Options configures a Coordinator.
type Options struct {
	Throttle     time.Duration
	FailureLimit int
	Suspension   time.Duration
}

// Status is a snapshot for state reporting.
type Status struct {
	UserActivated       bool      `json:"user_activated"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	SuspendedUntil      time.Time `json:"suspended_until,omitempty"`
	PreloadedTrackID    string    `json:"preloaded_track_id,omitempty"`
}

// Coordinator is owned by the orchestrator loop and is not safe for concurrent use.
type Coordinator struct {
	opts    Options
	limiter *rate.Limiter
	logger  zerolog.Logger

	userActivated  bool
	consecutive    int
	suspendedUntil time.Time
	preloadedID    string
}

// New builds a Coordinator.
func New(opts Options, logger zerolog.Logger) *Coordinator {
	if opts.Throttle <= 0 {
		opts.Throttle = 3 * time.Second
	}
	if opts.FailureLimit <= 0 {
		opts.FailureLimit = 3
	}
	if opts.Suspension <= 0 {
		opts.Suspension = time.Minute
	}
	return &Coordinator{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.Throttle), 1),
		logger:  logger.With().Str("component", "preload").Logger(),
	}
}

// MarkUserActivated records the first manual play. It reports whether this
// call changed the policy to eager.
func (c *Coordinator) MarkUserActivated() bool {
	if c.userActivated {
		return false
	}
	c.userActivated = true
	c.logger.Debug().Msg("manual play observed, switching to eager preload")
	return true
}

// Eager reports whether preloads should follow every track load.
func (c *Coordinator) Eager() bool { return c.userActivated }

// Allow reports whether a preload of trackID may start at now. An allowed
// attempt consumes the throttle token.
func (c *Coordinator) Allow(trackID string, now time.Time) Reason {
	if trackID != "" && trackID == c.preloadedID {
		return AlreadyLoaded
	}
	if now.Before(c.suspendedUntil) {
		return Suspended
	}
	if !c.limiter.AllowN(now, 1) {
		return Throttled
	}
	return Allowed
}

// Record stores the outcome of an attempt that Allow admitted.
func (c *Coordinator) Record(trackID string, err error, now time.Time) {
	if err == nil {
		c.consecutive = 0
		c.preloadedID = trackID
		return
	}

	c.consecutive++
	c.preloadedID = ""
	if c.consecutive >= c.opts.FailureLimit {
		c.suspendedUntil = now.Add(c.opts.Suspension)
		c.consecutive = 0
		c.logger.Warn().
			Err(err).
			Dur("suspension", c.opts.Suspension).
			Msg("preload suspended after repeated failures")
	}
}

// Consumed clears the preloaded handle once the device has loaded the track
// it was holding, or when the prediction turned out wrong.
func (c *Coordinator) Consumed() { c.preloadedID = "" }

// Preloaded returns the id of the track currently held by the device.
func (c *Coordinator) Preloaded() string { return c.preloadedID }

// Status returns a snapshot.
func (c *Coordinator) Status() Status {
	return Status{
		UserActivated:       c.userActivated,
		ConsecutiveFailures: c.consecutive,
		SuspendedUntil:      c.suspendedUntil,
		PreloadedTrackID:    c.preloadedID,
	}
}
