/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_autodj/internal/models"
)

// Store supplies playlists by channel and tracks by playlist.
type Store interface {
	Playlists(ctx context.Context, channelID string) ([]models.Playlist, error)
	Tracks(ctx context.Context, playlistID string) ([]models.Track, error)
}

// GormStore reads the catalog from the database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Playlists returns every playlist of the channel, active or not.
func (s *GormStore) Playlists(ctx context.Context, channelID string) ([]models.Playlist, error) {
	var playlists []models.Playlist
	err := s.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("name ASC, id ASC").
		Find(&playlists).Error
	if err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	return playlists, nil
}

// Tracks returns the playlist's tracks in position order.
func (s *GormStore) Tracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	var tracks []models.Track
	err := s.db.WithContext(ctx).
		Table("tracks").
		Select("tracks.*").
		Joins("JOIN playlist_tracks ON playlist_tracks.track_id = tracks.id").
		Where("playlist_tracks.playlist_id = ?", playlistID).
		Order("playlist_tracks.position ASC").
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("list tracks: %w", err)
	}
	return tracks, nil
}

// Channel returns one channel.
func (s *GormStore) Channel(ctx context.Context, channelID string) (models.Channel, error) {
	var ch models.Channel
	err := s.db.WithContext(ctx).First(&ch, "id = ?", channelID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ch, ErrChannelNotFound
	}
	if err != nil {
		return ch, fmt.Errorf("load channel: %w", err)
	}
	return ch, nil
}

// Channels returns every channel ordered by name.
func (s *GormStore) Channels(ctx context.Context) ([]models.Channel, error) {
	var channels []models.Channel
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return channels, nil
}
