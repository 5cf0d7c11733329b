/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"github.com/friendsincode/grimnir_autodj/internal/bag"
	"github.com/friendsincode/grimnir_autodj/internal/events"
	"github.com/friendsincode/grimnir_autodj/internal/telemetry"
)

func (o *Orchestrator) buildSnapshot() Snapshot {
	state := o.breaker.State()
	s := Snapshot{
		ChannelID:   o.opts.ChannelID,
		Active:      o.started.Load(),
		Playing:     o.playing,
		Mode:        o.sel.mode,
		Interrupted: o.sel.mode == ModeInterrupted,
		Error: ErrorState{
			RecentErrors:           o.breaker.RecentFailures(),
			LastErrorAt:            o.lastErrAt,
			LastError:              o.lastErr,
			Halted:                 o.breaker.Halted(),
			RequiresAcknowledgment: o.requiresAck,
			Breaker:                state.String(),
		},
		PendingIntervals: o.sel.intervals.Pending(),
		IntervalCounters: o.sel.intervals.Counters(),
		Preload:          o.preload.Status(),
		UpdatedAt:        o.now(),
	}

	if cur := o.current; cur != nil {
		s.CurrentPlaylist = &PlaylistRef{
			ID:       cur.Playlist.ID,
			Name:     cur.Playlist.Name,
			Category: cur.Playlist.Category,
			Order:    cur.Playlist.Order,
		}
		s.CurrentTrack = &TrackRef{
			ID:       cur.Track.ID,
			Title:    cur.Track.Title,
			Artist:   cur.Track.Artist,
			Duration: cur.Track.DurationMS,
		}
		s.CurrentSource = cur.Source
		s.BagProgress = o.progress(*cur)
	}

	if ic := o.sel.interrupt; ic != nil {
		s.Interrupt = &InterruptStatus{
			PlaylistID:         ic.Playlist.ID,
			Played:             ic.Played,
			Total:              len(ic.Tracks),
			StartedAt:          ic.StartedAt,
			PreviousPlaylistID: ic.PreviousPlaylistID,
		}
	}

	if o.lastSync != nil {
		last := *o.lastSync
		s.LastSync = &last
	}
	return s
}

// progress reports how far through its playlist the current track is.
func (o *Orchestrator) progress(cur Selection) bag.Progress {
	if cur.Playlist.Shuffled() {
		return o.sel.bags.Progress(cur.Playlist.ID)
	}
	total := len(cur.Tracks)
	if total == 0 {
		return bag.Progress{}
	}
	played := min(o.sel.cursors[cur.Playlist.ID], total)
	if cur.Source == SourceInterval && o.sel.interrupt != nil {
		played = o.sel.interrupt.Played
	}
	return bag.Progress{Remaining: total - played, Total: total}
}

// publishState refreshes the shared snapshot and announces it.
func (o *Orchestrator) publishState() {
	snap := o.buildSnapshot()
	telemetry.PendingIntervals.WithLabelValues(o.opts.ChannelID).Set(float64(len(snap.PendingIntervals)))

	o.snapMu.Lock()
	o.snap = snap
	o.snapMu.Unlock()

	o.emit(events.EventStateChanged, events.Payload{"state": snap})
}
