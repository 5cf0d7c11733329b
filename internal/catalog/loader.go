/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog loads a channel's playlists and tracks and classifies them
// for the orchestrator.
package catalog

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_autodj/internal/models"
	"github.com/friendsincode/grimnir_autodj/internal/telemetry"
)

// Catalog is the classified playlist set of one channel.
type Catalog struct {
	ChannelID string
	Rotation  []models.Playlist
	Interval  []models.Playlist
	LoadedAt  time.Time
}

// Playlist looks a playlist up in either set.
func (c Catalog) Playlist(id string) (models.Playlist, bool) {
	for _, set := range [][]models.Playlist{c.Rotation, c.Interval} {
		for _, p := range set {
			if p.ID == id {
				return p, true
			}
		}
	}
	return models.Playlist{}, false
}

// RotationIDs returns the ids of the rotation set.
func (c Catalog) RotationIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(c.Rotation))
	for _, p := range c.Rotation {
		ids[p.ID] = struct{}{}
	}
	return ids
}

// IDs returns the ids of both sets.
func (c Catalog) IDs() map[string]struct{} {
	ids := c.RotationIDs()
	for _, p := range c.Interval {
		ids[p.ID] = struct{}{}
	}
	return ids
}

type invalidator interface {
	Invalidate(ctx context.Context, channelID string) error
}

// Loader classifies the catalog of a channel.
type Loader struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewLoader builds a Loader over store.
func NewLoader(store Store, logger zerolog.Logger) *Loader {
	return &Loader{
		store:  store,
		logger: logger.With().Str("component", "catalog").Logger(),
		now:    time.Now,
	}
}

// Load fetches the channel's playlists, drops inactive ones and partitions
// the rest into rotation and interval sets. A playlist scoped to another
// channel, or an empty rotation set, yields a *ConfigurationError.
func (l *Loader) Load(ctx context.Context, channelID string) (Catalog, error) {
	ctx, span := telemetry.StartChannelSpan(ctx, "catalog.load", channelID)
	defer span.End()

	playlists, err := l.store.Playlists(ctx, channelID)
	if err != nil {
		telemetry.RecordError(span, err)
		return Catalog{}, err
	}

	cat := Catalog{ChannelID: channelID, LoadedAt: l.now()}
	for _, p := range playlists {
		if p.ChannelID != channelID {
			err := &ConfigurationError{ChannelID: channelID, PlaylistID: p.ID, Err: ErrOwnershipMismatch}
			telemetry.RecordError(span, err)
			return Catalog{}, err
		}
		if !p.Active {
			continue
		}
		switch {
		case p.IsRotation():
			cat.Rotation = append(cat.Rotation, p)
		case p.IsInterval():
			cat.Interval = append(cat.Interval, p)
		default:
			l.logger.Warn().
				Str("channel_id", channelID).
				Str("playlist_id", p.ID).
				Str("category", string(p.Category)).
				Msg("ignoring playlist with unknown category")
		}
	}

	if len(cat.Rotation) == 0 {
		err := &ConfigurationError{ChannelID: channelID, Err: ErrNoPlaylists}
		telemetry.RecordError(span, err)
		return Catalog{}, err
	}

	telemetry.AddSpanAttributes(span, map[string]any{
		"rotation_playlists": len(cat.Rotation),
		"interval_playlists": len(cat.Interval),
	})
	return cat, nil
}

// Refresh drops cached catalog data for the channel, when the store caches,
// and loads it again.
func (l *Loader) Refresh(ctx context.Context, channelID string) (Catalog, error) {
	if inv, ok := l.store.(invalidator); ok {
		if err := inv.Invalidate(ctx, channelID); err != nil {
			l.logger.Debug().Err(err).Str("channel_id", channelID).Msg("cache invalidation failed")
		}
	}
	return l.Load(ctx, channelID)
}

// Tracks returns the playable tracks of a playlist in position order.
// Tracks missing a title or locator are left out.
func (l *Loader) Tracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	tracks, err := l.store.Tracks(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	playable := tracks[:0:0]
	for _, t := range tracks {
		if t.Playable() {
			playable = append(playable, t)
			continue
		}
		l.logger.Debug().Str("playlist_id", playlistID).Str("track_id", t.ID).Msg("skipping unplayable track")
	}
	return playable, nil
}
