/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_autodj/internal/events"
	"github.com/friendsincode/grimnir_autodj/internal/models"
)

// NowPlaying describes a track that just started on a channel.
type NowPlaying struct {
	ChannelID  string    `json:"channel_id"`
	PlaylistID string    `json:"playlist_id"`
	TrackID    string    `json:"track_id"`
	Title      string    `json:"title"`
	Artist     string    `json:"artist"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
}

// NowPlayingSink receives now-playing notifications. Implementations must
// not assume the caller waits for them.
type NowPlayingSink interface {
	NotifyNowPlaying(ctx context.Context, np NowPlaying) error
}

// BusSink republishes notifications on the in-process event bus.
type BusSink struct {
	bus *events.Bus
}

// NewBusSink builds a BusSink.
func NewBusSink(bus *events.Bus) *BusSink { return &BusSink{bus: bus} }

func (s *BusSink) NotifyNowPlaying(_ context.Context, np NowPlaying) error {
	s.bus.Publish(events.EventNowPlaying, events.Payload{
		"channel_id":  np.ChannelID,
		"playlist_id": np.PlaylistID,
		"track_id":    np.TrackID,
		"title":       np.Title,
		"artist":      np.Artist,
		"source":      np.Source,
		"started_at":  np.StartedAt,
	})
	return nil
}

// HistorySink records every notification as a play history row.
type HistorySink struct {
	db *gorm.DB
}

// NewHistorySink builds a HistorySink.
func NewHistorySink(db *gorm.DB) *HistorySink { return &HistorySink{db: db} }

func (s *HistorySink) NotifyNowPlaying(ctx context.Context, np NowPlaying) error {
	row := models.PlayHistory{
		ID:         uuid.NewString(),
		ChannelID:  np.ChannelID,
		PlaylistID: np.PlaylistID,
		TrackID:    np.TrackID,
		Title:      np.Title,
		Artist:     np.Artist,
		Source:     np.Source,
		StartedAt:  np.StartedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// MultiSink fans a notification out to every sink, logging failures.
type MultiSink struct {
	sinks  []NowPlayingSink
	logger zerolog.Logger
}

// NewMultiSink builds a MultiSink. Nil sinks are skipped.
func NewMultiSink(logger zerolog.Logger, sinks ...NowPlayingSink) *MultiSink {
	m := &MultiSink{logger: logger.With().Str("component", "nowplaying").Logger()}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) NotifyNowPlaying(ctx context.Context, np NowPlaying) error {
	for _, s := range m.sinks {
		if err := s.NotifyNowPlaying(ctx, np); err != nil {
			m.logger.Warn().Err(err).Str("channel_id", np.ChannelID).Str("track_id", np.TrackID).Msg("now playing sink failed")
		}
	}
	return nil
}
