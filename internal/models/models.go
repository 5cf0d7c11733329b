/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"time"
)

// PlaylistCategory separates baseline rotation content from interval content.
type PlaylistCategory string

const (
	CategoryRotation PlaylistCategory = "rotation"
	CategoryInterval PlaylistCategory = "interval"
)

// PlaybackOrder controls how tracks are drawn from a playlist.
type PlaybackOrder string

const (
	OrderSequential PlaybackOrder = "sequential"
	OrderShuffled   PlaybackOrder = "shuffled"
)

// TriggerUnit is the unit an interval threshold is counted in.
type TriggerUnit string

const (
	TriggerTracks TriggerUnit = "tracks"
)

// Channel is a logical broadcast channel assigned to a business location.
type Channel struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	Name       string `gorm:"index"`
	LocationID string `gorm:"type:varchar(64);index"`
	Timezone   string `gorm:"type:varchar(64)"`
	Active     bool   `gorm:"default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Playlist belongs to exactly one channel and is either rotation or interval content.
type Playlist struct {
	ID        string           `gorm:"type:uuid;primaryKey"`
	ChannelID string           `gorm:"type:uuid;index"`
	Name      string           `gorm:"index"`
	Category  PlaylistCategory `gorm:"type:varchar(16);index"`
	Active    bool             `gorm:"index"`
	Order     PlaybackOrder    `gorm:"column:playback_order;type:varchar(16)"`

	// Rotation only.
	Weight int

	// Interval only.
	TriggerUnit      TriggerUnit `gorm:"type:varchar(16)"`
	TriggerThreshold int

	// Optional date activation range, inclusive, compared by calendar date.
	ActiveFrom *time.Time
	ActiveTo   *time.Time

	// Optional daily window as "HH:MM"; end before start wraps past midnight.
	DailyStart string `gorm:"type:varchar(8)"`
	DailyEnd   string `gorm:"type:varchar(8)"`

	Tracks    []PlaylistTrack `gorm:"foreignKey:PlaylistID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRotation reports whether the playlist is baseline rotation content.
func (p Playlist) IsRotation() bool { return p.Category == CategoryRotation }

// IsInterval reports whether the playlist interrupts rotation.
func (p Playlist) IsInterval() bool { return p.Category == CategoryInterval }

// Shuffled reports whether tracks are drawn in random order.
// Anything that is not explicitly sequential is treated as shuffled.
func (p Playlist) Shuffled() bool { return p.Order != OrderSequential }

// Track is a playable audio resource.
type Track struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	Title      string `gorm:"index"`
	Artist     string `gorm:"index"`
	Locator    string `gorm:"type:text"`
	DurationMS int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Playable reports whether the track is eligible for selection.
// A track without a title or resource locator is never played.
func (t Track) Playable() bool {
	return strings.TrimSpace(t.Title) != "" && strings.TrimSpace(t.Locator) != ""
}

// Duration returns the track length.
func (t Track) Duration() time.Duration {
	return time.Duration(t.DurationMS) * time.Millisecond
}

// PlaylistTrack is the ordered membership of a track in a playlist.
type PlaylistTrack struct {
	PlaylistID string `gorm:"type:uuid;primaryKey"`
	TrackID    string `gorm:"type:uuid;primaryKey"`
	Position   int    `gorm:"index"`
	Track      Track  `gorm:"foreignKey:TrackID"`
}

// PlayHistory records a track that started playing on a channel.
type PlayHistory struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	ChannelID  string    `gorm:"type:uuid;index"`
	PlaylistID string    `gorm:"type:uuid;index"`
	TrackID    string    `gorm:"type:uuid"`
	Title      string    `gorm:"index"`
	Artist     string    `gorm:"index"`
	Source     string    `gorm:"type:varchar(16)"`
	StartedAt  time.Time `gorm:"index"`
}
