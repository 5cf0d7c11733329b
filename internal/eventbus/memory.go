/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_autodj/internal/events"
)

// MemoryFeed delivers changes inside one process over an events.Bus.
type MemoryFeed struct {
	bus *events.Bus
}

// NewMemoryFeed builds a feed over bus. A nil bus gets a private one.
func NewMemoryFeed(bus *events.Bus) *MemoryFeed {
	if bus == nil {
		bus = events.NewBus()
	}
	return &MemoryFeed{bus: bus}
}

func eventType(k Kind) events.EventType {
	if k == KindTracks {
		return events.EventTracksChanged
	}
	return events.EventPlaylistsChanged
}

// Publish implements Publisher.
func (f *MemoryFeed) Publish(_ context.Context, change Change) error {
	if change.At.IsZero() {
		change.At = time.Now()
	}
	f.bus.Publish(eventType(change.Kind), events.Payload{
		"channel_id":  change.ChannelID,
		"kind":        string(change.Kind),
		"playlist_id": change.PlaylistID,
		"source":      change.Source,
		"at":          change.At,
	})
	return nil
}

// Subscribe implements Feed.
func (f *MemoryFeed) Subscribe(ctx context.Context, channelID string) (<-chan Change, func(), error) {
	playlists := f.bus.Subscribe(events.EventPlaylistsChanged)
	tracks := f.bus.Subscribe(events.EventTracksChanged)
	out := make(chan Change, 16)
	done := make(chan struct{})

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			f.bus.Unsubscribe(events.EventPlaylistsChanged, playlists)
			f.bus.Unsubscribe(events.EventTracksChanged, tracks)
		})
	}

	go func() {
		defer close(out)
		for {
			var payload events.Payload
			var ok bool
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case payload, ok = <-playlists:
			case payload, ok = <-tracks:
			}
			if !ok {
				return
			}
			if payload.ChannelID() != channelID {
				continue
			}
			select {
			case out <- fromPayload(payload):
			default:
			}
		}
	}()

	return out, cancel, nil
}

// Close implements Feed.
func (f *MemoryFeed) Close() error { return nil }

func fromPayload(p events.Payload) Change {
	c := Change{ChannelID: p.ChannelID()}
	if k, ok := p["kind"].(string); ok {
		c.Kind = Kind(k)
	}
	c.PlaylistID, _ = p["playlist_id"].(string)
	c.Source, _ = p["source"].(string)
	c.At, _ = p["at"].(time.Time)
	return c
}
