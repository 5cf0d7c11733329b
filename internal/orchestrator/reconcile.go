/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"slices"

	"github.com/friendsincode/grimnir_autodj/internal/models"
	"github.com/friendsincode/grimnir_autodj/internal/telemetry"
	"github.com/friendsincode/grimnir_autodj/internal/window"
)

// reconcile re-reads the catalog and folds it into the running state. On
// failure the previous catalog stays in use; nothing is half-applied.
func (o *Orchestrator) reconcile(trigger string) {
	defer o.publishState()

	ch := o.opts.ChannelID
	ctx, span := telemetry.StartChannelSpan(o.ctx, "orchestrator.reconcile", ch)
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"trigger": trigger})

	now := o.now()
	cat, err := o.loader.Refresh(ctx, ch)
	if err != nil {
		serr := &SyncError{ChannelID: ch, Trigger: trigger, Err: err}
		o.lastSync = &SyncStatus{At: now, Trigger: trigger, Error: serr.Error()}
		telemetry.Resyncs.WithLabelValues(ch, trigger, "error").Inc()
		telemetry.RecordError(span, serr)
		o.logger.Warn().Err(err).Str("trigger", trigger).Msg("catalog sync failed, keeping previous catalog")
		return
	}

	o.catalog = cat
	o.sel.intervals.Reconcile(cat.Interval)

	ids := cat.IDs()
	o.sel.bags.Retain(ids)
	o.sel.selector.Retain(cat.RotationIDs())
	for id := range o.sel.cursors {
		if _, ok := ids[id]; !ok {
			delete(o.sel.cursors, id)
		}
	}

	if ic := o.sel.interrupt; ic != nil {
		p, ok := cat.Playlist(ic.Playlist.ID)
		if !ok || !p.IsInterval() || !window.IsOperational(p, now) {
			o.sel.endInterrupt()
			o.noteInterrupt(ic)
		} else {
			ic.Playlist = p
		}
	}

	o.sel.intervals.Sweep(now)
	o.preload.Consumed()
	o.lastSync = &SyncStatus{At: now, Trigger: trigger}
	telemetry.Resyncs.WithLabelValues(ch, trigger, "ok").Inc()
	o.logger.Debug().
		Str("trigger", trigger).
		Int("rotation_playlists", len(cat.Rotation)).
		Int("interval_playlists", len(cat.Interval)).
		Msg("catalog synced")

	if o.current != nil && !o.currentStillListed(ctx) {
		o.logger.Info().
			Str("track_id", o.current.Track.ID).
			Str("playlist_id", o.current.Playlist.ID).
			Msg("current track left the catalog, replacing it")
		o.advance(reasonReplace)
	}
}

// currentStillListed reports whether the current track is still a member of
// its playlist. A lookup failure keeps the track: audio is never cut on a
// guess.
func (o *Orchestrator) currentStillListed(ctx context.Context) bool {
	cur := o.current
	p, ok := o.catalog.Playlist(cur.Playlist.ID)
	if !ok {
		return false
	}
	tracks, err := o.loader.Tracks(ctx, p.ID)
	if err != nil {
		o.logger.Debug().Err(err).Str("playlist_id", p.ID).Msg("could not verify current track")
		return true
	}
	if !slices.ContainsFunc(tracks, func(t models.Track) bool { return t.ID == cur.Track.ID }) {
		return false
	}
	cur.Playlist = p
	cur.Tracks = tracks
	return true
}

// sweep fires interval playlists whose window opened since they crossed
// their threshold.
func (o *Orchestrator) sweep() {
	if fired := o.sel.intervals.Sweep(o.now()); len(fired) > 0 {
		o.logger.Debug().Strs("playlist_ids", fired).Msg("interval playlists queued by sweep")
		o.publishState()
	}
}
