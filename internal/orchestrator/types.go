/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/grimnir_autodj/internal/bag"
	"github.com/friendsincode/grimnir_autodj/internal/catalog"
	"github.com/friendsincode/grimnir_autodj/internal/config"
	"github.com/friendsincode/grimnir_autodj/internal/interval"
	"github.com/friendsincode/grimnir_autodj/internal/models"
	"github.com/friendsincode/grimnir_autodj/internal/preload"
)

var (
	// ErrStopped is returned by operations on an orchestrator that has been stopped.
	ErrStopped = errors.New("orchestrator: stopped")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("orchestrator: already started")
	// ErrNotStarted is returned by operations issued before Start.
	ErrNotStarted = errors.New("orchestrator: not started")
	// ErrAcknowledgmentRequired is returned by automatic-style operations while
	// playback waits for a user gesture.
	ErrAcknowledgmentRequired = errors.New("orchestrator: acknowledgment required")
	// ErrNoPlayableTracks means no candidate playlist has a playable track.
	ErrNoPlayableTracks = errors.New("orchestrator: no playable tracks")
)

// Mode is the top-level playback state.
type Mode string

const (
	ModeRotating    Mode = "rotating"
	ModeInterrupted Mode = "interrupted"
)

// Source says which category a selection came from.
type Source string

const (
	SourceRotation Source = "rotation"
	SourceInterval Source = "interval"
)

// Selection is one chosen track together with the playlist it came from and
// that playlist's track list as materialized at selection time.
type Selection struct {
	Playlist models.Playlist
	Track    models.Track
	Tracks   []models.Track
	Source   Source
}

// InterruptContext is the rotation state saved when an interval playlist
// takes over. It is discarded when the interruption ends; rotation then
// resumes through the selector rather than by positional replay.
type InterruptContext struct {
	Playlist  models.Playlist
	Tracks    []models.Track
	Played    int
	StartedAt time.Time

	PreviousPlaylistID string
	PreviousCursor     int
	PreviousTracks     []models.Track
}

func (ic *InterruptContext) clone() *InterruptContext {
	if ic == nil {
		return nil
	}
	out := *ic
	return &out
}

// finished reports whether the interruption has run its course: one track
// for a shuffled playlist, the whole materialized list for a sequential one.
func (ic *InterruptContext) finished() bool {
	if ic.Playlist.Shuffled() {
		return ic.Played >= 1
	}
	return ic.Played >= len(ic.Tracks)
}

// SyncError records a failed catalog reconciliation. The previous in-memory
// catalog stays in effect until a later attempt succeeds.
type SyncError struct {
	ChannelID string
	Trigger   string
	Err       error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("catalog sync for channel %s (%s): %v", e.ChannelID, e.Trigger, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// CatalogLoader is the subset of catalog.Loader the orchestrator uses.
type CatalogLoader interface {
	Load(ctx context.Context, channelID string) (catalog.Catalog, error)
	Refresh(ctx context.Context, channelID string) (catalog.Catalog, error)
	Tracks(ctx context.Context, playlistID string) ([]models.Track, error)
}

// Resolver turns a track locator into a device URI.
type Resolver interface {
	Resolve(ctx context.Context, locator string) (string, error)
}

// Options holds the timing knobs of one orchestrator.
type Options struct {
	ChannelID string

	// Autoplay starts the first track without waiting for TogglePlayPause.
	Autoplay bool

	MinChangeInterval time.Duration
	RetryDelay        time.Duration
	MaxInvalidSkips   int

	ErrorWindow  time.Duration
	ErrorCeiling int
	HaltCooldown time.Duration

	IntervalSweep time.Duration

	PreloadThrottle   time.Duration
	PreloadFailures   int
	PreloadSuspension time.Duration
	EagerPreloadDelay time.Duration

	// Seeds fix the shuffle and tie-break sequences; zero means random.
	Seed1, Seed2 uint64

	// Now defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig maps daemon configuration onto orchestrator options.
func OptionsFromConfig(channelID string, cfg *config.Config) Options {
	t := cfg.Timing
	return Options{
		ChannelID:         channelID,
		Autoplay:          cfg.Autoplay,
		MinChangeInterval: t.MinChangeInterval,
		RetryDelay:        t.RetryDelay,
		MaxInvalidSkips:   t.MaxInvalidSkips,
		ErrorWindow:       t.ErrorWindow,
		ErrorCeiling:      t.ErrorCeiling,
		HaltCooldown:      t.HaltCooldown,
		IntervalSweep:     t.IntervalSweep,
		PreloadThrottle:   t.PreloadThrottle,
		PreloadFailures:   t.PreloadFailures,
		PreloadSuspension: t.PreloadSuspension,
		EagerPreloadDelay: t.EagerPreloadDelay,
	}
}

func (o *Options) applyDefaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.MaxInvalidSkips <= 0 {
		o.MaxInvalidSkips = 8
	}
	if o.ErrorWindow <= 0 {
		o.ErrorWindow = 10 * time.Second
	}
	if o.ErrorCeiling <= 0 {
		o.ErrorCeiling = 5
	}
	if o.HaltCooldown <= 0 {
		o.HaltCooldown = 30 * time.Second
	}
	if o.IntervalSweep <= 0 {
		o.IntervalSweep = 30 * time.Second
	}
}

// TrackRef is the reported form of a track.
type TrackRef struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Duration int64  `json:"duration_ms"`
}

// PlaylistRef is the reported form of a playlist.
type PlaylistRef struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Category models.PlaylistCategory `json:"category"`
	Order    models.PlaybackOrder    `json:"order"`
}

// InterruptStatus reports a running interruption.
type InterruptStatus struct {
	PlaylistID         string    `json:"playlist_id"`
	Played             int       `json:"played"`
	Total              int       `json:"total"`
	StartedAt          time.Time `json:"started_at"`
	PreviousPlaylistID string    `json:"previous_playlist_id,omitempty"`
}

// ErrorState reports failure bookkeeping.
type ErrorState struct {
	RecentErrors           int       `json:"recent_errors"`
	LastErrorAt            time.Time `json:"last_error_at,omitempty"`
	LastError              string    `json:"last_error,omitempty"`
	Halted                 bool      `json:"halted"`
	RequiresAcknowledgment bool      `json:"requires_acknowledgment"`
	Breaker                string    `json:"breaker"`
}

// SyncStatus reports the most recent catalog reconciliation.
type SyncStatus struct {
	At      time.Time `json:"at"`
	Trigger string    `json:"trigger"`
	Error   string    `json:"error,omitempty"`
}

// Snapshot is the externally visible state of an orchestrator.
type Snapshot struct {
	ChannelID        string            `json:"channel_id"`
	Active           bool              `json:"is_active"`
	Playing          bool              `json:"is_playing"`
	Mode             Mode              `json:"mode"`
	Interrupted      bool              `json:"is_interrupted"`
	CurrentPlaylist  *PlaylistRef      `json:"current_playlist,omitempty"`
	CurrentTrack     *TrackRef         `json:"current_track,omitempty"`
	CurrentSource    Source            `json:"current_source,omitempty"`
	Interrupt        *InterruptStatus  `json:"interrupt,omitempty"`
	Error            ErrorState        `json:"error_state"`
	BagProgress      bag.Progress      `json:"bag_progress"`
	PendingIntervals []interval.Entry  `json:"pending_intervals"`
	IntervalCounters map[string]int    `json:"interval_counters"`
	Preload          preload.Status    `json:"preload"`
	LastSync         *SyncStatus       `json:"last_sync,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}
