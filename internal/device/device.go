/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package device defines the playback device contract the orchestrator
// drives, plus a GStreamer-backed implementation and a simulated one.
package device

import (
	"context"
	"fmt"
	"time"
)

// EventKind enumerates what a device can report.
type EventKind int

const (
	EventEnd EventKind = iota
	EventPlay
	EventPause
	EventError
	EventPreloadRequested
)

func (k EventKind) String() string {
	switch k {
	case EventEnd:
		return "end"
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventError:
		return "error"
	case EventPreloadRequested:
		return "preload_requested"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is emitted on the device's event channel. TrackID names the track
// the event concerns so stale events for a replaced track can be ignored.
type Event struct {
	Kind    EventKind
	TrackID string
	Code    string
	Detail  string
	At      time.Time
}

// Track is a resolved, ready-to-play resource.
type Track struct {
	ID       string
	Title    string
	Artist   string
	URI      string
	Duration time.Duration
}

// PlaybackError is returned synchronously by a device operation.
type PlaybackError struct {
	Code   string
	Detail string
}

func (e *PlaybackError) Error() string {
	if e.Detail == "" {
		return "playback: " + e.Code
	}
	return fmt.Sprintf("playback: %s: %s", e.Code, e.Detail)
}

// Device holds at most one current and one preloaded track.
type Device interface {
	// Load replaces the current track. Playback does not start until Play.
	Load(ctx context.Context, t Track) error
	// Play starts or resumes the current track.
	Play(ctx context.Context) error
	// Pause suspends the current track.
	Pause(ctx context.Context) error
	// Stop ends playback and releases the current track.
	Stop(ctx context.Context) error
	// Preload readies t so a later Load of the same track starts quickly.
	Preload(ctx context.Context, t Track) error
	// Events delivers device events until Close.
	Events() <-chan Event
	// Close stops playback and closes the event channel.
	Close() error
}
