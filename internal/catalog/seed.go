/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/grimnir_autodj/internal/eventbus"
	"github.com/friendsincode/grimnir_autodj/internal/models"
	"github.com/friendsincode/grimnir_autodj/internal/window"
)

const dateLayout = "2006-01-02"

// Document is a catalog seed file.
type Document struct {
	Channels []ChannelSpec `yaml:"channels"`
}

// ChannelSpec describes one channel and its playlists.
type ChannelSpec struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	LocationID string         `yaml:"location_id"`
	Timezone   string         `yaml:"timezone"`
	Active     *bool          `yaml:"active"`
	Playlists  []PlaylistSpec `yaml:"playlists"`
}

// PlaylistSpec describes a playlist. Weight applies to rotation playlists and
// Trigger to interval playlists.
type PlaylistSpec struct {
	ID       string       `yaml:"id"`
	Name     string       `yaml:"name"`
	Category string       `yaml:"category"`
	Active   *bool        `yaml:"active"`
	Order    string       `yaml:"order"`
	Weight   int          `yaml:"weight"`
	Trigger  *TriggerSpec `yaml:"trigger"`
	Daily    *DailySpec   `yaml:"daily"`
	Dates    *DateSpec    `yaml:"dates"`
	Tracks   []TrackSpec  `yaml:"tracks"`
}

type TriggerSpec struct {
	Unit      string `yaml:"unit"`
	Threshold int    `yaml:"threshold"`
}

type DailySpec struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

type DateSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// TrackSpec describes a track. Duration is a Go duration string such as "3m25s".
type TrackSpec struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Artist   string `yaml:"artist"`
	Locator  string `yaml:"locator"`
	Duration string `yaml:"duration"`
}

// ParseDocument decodes a seed file, rejecting unknown keys.
func ParseDocument(r io.Reader) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return doc, fmt.Errorf("parse catalog: %w", err)
	}
	return doc, nil
}

// Validate checks the document before anything is written.
func (d Document) Validate() error {
	var errs []error
	for i, ch := range d.Channels {
		where := fmt.Sprintf("channels[%d]", i)
		if strings.TrimSpace(ch.Name) == "" && ch.ID == "" {
			errs = append(errs, fmt.Errorf("%s: name or id required", where))
		}
		if ch.Timezone != "" {
			if _, err := time.LoadLocation(ch.Timezone); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", where, err))
			}
		}
		for j, p := range ch.Playlists {
			errs = append(errs, p.validate(fmt.Sprintf("%s.playlists[%d]", where, j))...)
		}
	}
	return errors.Join(errs...)
}

func (p PlaylistSpec) validate(where string) []error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, fmt.Errorf("%s: name required", where))
	}
	switch models.PlaylistCategory(p.Category) {
	case models.CategoryRotation:
		if p.Weight < 0 {
			errs = append(errs, fmt.Errorf("%s: weight must not be negative", where))
		}
	case models.CategoryInterval:
		if p.Trigger == nil || p.Trigger.Threshold < 1 {
			errs = append(errs, fmt.Errorf("%s: interval playlists need trigger.threshold >= 1", where))
		} else if p.Trigger.Unit != "" && models.TriggerUnit(p.Trigger.Unit) != models.TriggerTracks {
			errs = append(errs, fmt.Errorf("%s: unsupported trigger unit %q", where, p.Trigger.Unit))
		}
	default:
		errs = append(errs, fmt.Errorf("%s: category must be rotation or interval, got %q", where, p.Category))
	}
	switch models.PlaybackOrder(p.Order) {
	case "", models.OrderSequential, models.OrderShuffled:
	default:
		errs = append(errs, fmt.Errorf("%s: order must be sequential or shuffled, got %q", where, p.Order))
	}
	if p.Daily != nil {
		for _, c := range []string{p.Daily.Start, p.Daily.End} {
			if err := window.ValidateClock(c); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", where, err))
			}
		}
	}
	if p.Dates != nil {
		from, errFrom := parseDate(p.Dates.From)
		to, errTo := parseDate(p.Dates.To)
		if err := errors.Join(errFrom, errTo); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		} else if from != nil && to != nil && to.Before(*from) {
			errs = append(errs, fmt.Errorf("%s: dates.to is before dates.from", where))
		}
	}

	seen := make(map[string]struct{}, len(p.Tracks))
	for k, t := range p.Tracks {
		if t.Duration != "" {
			if _, err := time.ParseDuration(t.Duration); err != nil {
				errs = append(errs, fmt.Errorf("%s.tracks[%d]: %w", where, k, err))
			}
		}
		id := trackID(t)
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("%s.tracks[%d]: duplicate track", where, k))
		}
		seen[id] = struct{}{}
	}
	return errs
}

func parseDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return &t, nil
}

// Stable ids for entries without one, so importing the same file twice
// updates rather than duplicates.
func channelID(c ChannelSpec) string {
	if c.ID != "" {
		return c.ID
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("autodj:channel:"+c.Name)).String()
}

func playlistID(channelID string, p PlaylistSpec) string {
	if p.ID != "" {
		return p.ID
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("autodj:playlist:"+channelID+":"+p.Name)).String()
}

func trackID(t TrackSpec) string {
	if t.ID != "" {
		return t.ID
	}
	key := t.Locator
	if key == "" {
		key = t.Artist + "\x00" + t.Title
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("autodj:track:"+key)).String()
}

// Summary reports what an import wrote.
type Summary struct {
	Channels   int      `json:"channels"`
	Playlists  int      `json:"playlists"`
	Tracks     int      `json:"tracks"`
	ChannelIDs []string `json:"channel_ids"`
}

// Importer writes seed documents and announces the change.
type Importer struct {
	db        *gorm.DB
	publisher eventbus.Publisher
	logger    zerolog.Logger
}

// NewImporter builds an importer. publisher may be nil.
func NewImporter(db *gorm.DB, publisher eventbus.Publisher, logger zerolog.Logger) *Importer {
	return &Importer{
		db:        db,
		publisher: publisher,
		logger:    logger.With().Str("component", "catalog_import").Logger(),
	}
}

// Import upserts every channel, playlist and track in doc inside one
// transaction. Each playlist's membership is replaced by the listed tracks.
func (im *Importer) Import(ctx context.Context, doc Document) (Summary, error) {
	if err := doc.Validate(); err != nil {
		return Summary{}, err
	}

	var sum Summary
	err := im.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upsert := tx.Clauses(clause.OnConflict{UpdateAll: true})
		for _, cs := range doc.Channels {
			active := cs.Active == nil || *cs.Active
			ch := models.Channel{
				ID:         channelID(cs),
				Name:       cs.Name,
				LocationID: cs.LocationID,
				Timezone:   cs.Timezone,
				Active:     active,
			}
			if err := upsert.Create(&ch).Error; err != nil {
				return fmt.Errorf("save channel %q: %w", cs.Name, err)
			}
			// Active has a column default: a false value is skipped on insert
			// and Create reads the default back into ch.
			ch.Active = active
			if err := tx.Model(&models.Channel{}).Where("id = ?", ch.ID).Update("active", active).Error; err != nil {
				return fmt.Errorf("save channel %q: %w", cs.Name, err)
			}
			sum.Channels++
			sum.ChannelIDs = append(sum.ChannelIDs, ch.ID)

			for _, ps := range cs.Playlists {
				n, err := im.savePlaylist(tx, ch.ID, ps)
				if err != nil {
					return err
				}
				sum.Playlists++
				sum.Tracks += n
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	im.announce(ctx, sum.ChannelIDs)
	im.logger.Info().
		Int("channels", sum.Channels).
		Int("playlists", sum.Playlists).
		Int("tracks", sum.Tracks).
		Msg("catalog imported")
	return sum, nil
}

func (im *Importer) savePlaylist(tx *gorm.DB, channelID string, ps PlaylistSpec) (int, error) {
	p := models.Playlist{
		ID:        playlistID(channelID, ps),
		ChannelID: channelID,
		Name:      ps.Name,
		Category:  models.PlaylistCategory(ps.Category),
		Active:    ps.Active == nil || *ps.Active,
		Order:     models.PlaybackOrder(ps.Order),
		Weight:    ps.Weight,
	}
	if p.Order == "" {
		p.Order = models.OrderShuffled
	}
	if p.IsRotation() && p.Weight == 0 {
		p.Weight = 1
	}
	if ps.Trigger != nil && p.IsInterval() {
		p.TriggerUnit = models.TriggerTracks
		p.TriggerThreshold = ps.Trigger.Threshold
	}
	if ps.Daily != nil {
		p.DailyStart = strings.TrimSpace(ps.Daily.Start)
		p.DailyEnd = strings.TrimSpace(ps.Daily.End)
	}
	if ps.Dates != nil {
		p.ActiveFrom, _ = parseDate(ps.Dates.From)
		p.ActiveTo, _ = parseDate(ps.Dates.To)
	}

	if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Omit("Tracks").Create(&p).Error; err != nil {
		return 0, fmt.Errorf("save playlist %q: %w", ps.Name, err)
	}
	if err := tx.Where("playlist_id = ?", p.ID).Delete(&models.PlaylistTrack{}).Error; err != nil {
		return 0, fmt.Errorf("clear playlist %q: %w", ps.Name, err)
	}

	for i, ts := range ps.Tracks {
		t := models.Track{
			ID:      trackID(ts),
			Title:   ts.Title,
			Artist:  ts.Artist,
			Locator: ts.Locator,
		}
		if ts.Duration != "" {
			d, _ := time.ParseDuration(ts.Duration)
			t.DurationMS = d.Milliseconds()
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&t).Error; err != nil {
			return 0, fmt.Errorf("save track %q: %w", ts.Title, err)
		}
		member := models.PlaylistTrack{PlaylistID: p.ID, TrackID: t.ID, Position: i}
		if err := tx.Omit("Track").Create(&member).Error; err != nil {
			return 0, fmt.Errorf("add track %q to %q: %w", ts.Title, ps.Name, err)
		}
	}
	return len(ps.Tracks), nil
}

func (im *Importer) announce(ctx context.Context, channelIDs []string) {
	if im.publisher == nil {
		return
	}
	for _, id := range channelIDs {
		change := eventbus.Change{ChannelID: id, Kind: eventbus.KindPlaylists, Source: "import"}
		if err := im.publisher.Publish(ctx, change); err != nil {
			im.logger.Warn().Err(err).Str("channel_id", id).Msg("publish catalog change failed")
		}
	}
}
