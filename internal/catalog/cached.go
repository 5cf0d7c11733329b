/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_autodj/internal/cache"
	"github.com/friendsincode/grimnir_autodj/internal/models"
)

// CachedStore reads through a Redis cache in front of another Store.
type CachedStore struct {
	next   Store
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewCachedStore wraps next with c.
func NewCachedStore(next Store, c *cache.Cache, logger zerolog.Logger) *CachedStore {
	return &CachedStore{
		next:   next,
		cache:  c,
		logger: logger.With().Str("component", "catalog_cache").Logger(),
	}
}

// Playlists implements Store.
func (s *CachedStore) Playlists(ctx context.Context, channelID string) ([]models.Playlist, error) {
	if playlists, ok := s.cache.Playlists(ctx, channelID); ok {
		return playlists, nil
	}
	playlists, err := s.next.Playlists(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetPlaylists(ctx, channelID, playlists); err != nil {
		s.logger.Debug().Err(err).Str("channel_id", channelID).Msg("cache playlists failed")
	}
	return playlists, nil
}

// Tracks implements Store.
func (s *CachedStore) Tracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	if tracks, ok := s.cache.Tracks(ctx, playlistID); ok {
		return tracks, nil
	}
	tracks, err := s.next.Tracks(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetTracks(ctx, playlistID, tracks); err != nil {
		s.logger.Debug().Err(err).Str("playlist_id", playlistID).Msg("cache tracks failed")
	}
	return tracks, nil
}

// Invalidate drops the cached entries of the channel and every playlist it
// currently owns.
func (s *CachedStore) Invalidate(ctx context.Context, channelID string) error {
	playlists, err := s.next.Playlists(ctx, channelID)
	if err != nil {
		_ = s.cache.Invalidate(ctx, channelID)
		return err
	}
	ids := make([]string, 0, len(playlists))
	for _, p := range playlists {
		ids = append(ids, p.ID)
	}
	return s.cache.Invalidate(ctx, channelID, ids...)
}
