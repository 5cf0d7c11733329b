/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package orchestrator

import (
	"context"
	"time"

	"github.com/friendsincode/grimnir_autodj/internal/bag"
	"github.com/friendsincode/grimnir_autodj/internal/interval"
	"github.com/friendsincode/grimnir_autodj/internal/models"
	"github.com/friendsincode/grimnir_autodj/internal/rotation"
	"github.com/friendsincode/grimnir_autodj/internal/window"
)

// selectionState is everything a selection reads and writes. The live path
// works on the orchestrator's copy; look-ahead works on a clone.
type selectionState struct {
	bags      *bag.Set
	selector  *rotation.Selector
	intervals *interval.Engine
	cursors   map[string]int
	mode      Mode
	interrupt *InterruptContext
}

func newSelectionState(seed1, seed2 uint64) *selectionState {
	st := &selectionState{
		intervals: interval.New(),
		cursors:   make(map[string]int),
		mode:      ModeRotating,
	}
	if seed1 == 0 && seed2 == 0 {
		st.bags = bag.New()
		st.selector = rotation.NewSelector()
	} else {
		st.bags = bag.NewSeeded(seed1, seed2)
		st.selector = rotation.NewSeededSelector(seed2, seed1)
	}
	return st
}

func (st *selectionState) clone() *selectionState {
	cursors := make(map[string]int, len(st.cursors))
	for id, c := range st.cursors {
		cursors[id] = c
	}
	return &selectionState{
		bags:      st.bags.Clone(),
		selector:  st.selector.Clone(),
		intervals: st.intervals.Clone(),
		cursors:   cursors,
		mode:      st.mode,
		interrupt: st.interrupt.clone(),
	}
}

func (st *selectionState) endInterrupt() {
	st.mode = ModeRotating
	st.interrupt = nil
	st.intervals.ClearActive()
}

// selectNext picks the track that follows the current one. When the current
// track was rotation content that completed, every interval counter is
// bumped first. Pending interval playlists take priority over rotation, and
// a running interruption continues until its terminal condition.
func (o *Orchestrator) selectNext(ctx context.Context, st *selectionState, now time.Time, completedRotation bool) (Selection, error) {
	if completedRotation {
		st.intervals.RecordRotationTrack(now)
	}

	if st.mode == ModeInterrupted {
		if st.interrupt != nil && !st.interrupt.finished() {
			return st.nextInterruptTrack(), nil
		}
		st.endInterrupt()
	}

	for st.intervals.HasPending() {
		p, ok := st.intervals.Pop(now)
		if !ok {
			break
		}
		tracks, err := o.loader.Tracks(ctx, p.ID)
		if err != nil {
			// Still due; the retry picks it up first.
			st.intervals.Requeue(p, now)
			return Selection{}, err
		}
		if len(tracks) == 0 {
			continue
		}
		st.beginInterrupt(p, tracks, o.current, now)
		return st.nextInterruptTrack(), nil
	}

	return o.nextRotationTrack(ctx, st, now)
}

func (st *selectionState) beginInterrupt(p models.Playlist, tracks []models.Track, current *Selection, now time.Time) {
	ic := &InterruptContext{Playlist: p, Tracks: tracks, StartedAt: now}
	if current != nil && current.Source == SourceRotation {
		ic.PreviousPlaylistID = current.Playlist.ID
		ic.PreviousCursor = st.cursors[current.Playlist.ID]
		ic.PreviousTracks = current.Tracks
	}
	st.mode = ModeInterrupted
	st.interrupt = ic
	st.intervals.SetActive(p.ID)
}

func (st *selectionState) nextInterruptTrack() Selection {
	ic := st.interrupt
	var t models.Track
	if ic.Playlist.Shuffled() {
		t, _ = st.bags.Draw(ic.Playlist.ID, ic.Tracks)
	} else {
		t = ic.Tracks[ic.Played]
	}
	ic.Played++
	return Selection{Playlist: ic.Playlist, Track: t, Tracks: ic.Tracks, Source: SourceInterval}
}

// rotationCandidates returns the operational rotation playlists, or every
// active rotation playlist when none is operational so the channel never
// goes silent.
func (o *Orchestrator) rotationCandidates(now time.Time) ([]models.Playlist, bool) {
	candidates := window.Filter(o.catalog.Rotation, now)
	if len(candidates) > 0 {
		return candidates, false
	}
	return append([]models.Playlist(nil), o.catalog.Rotation...), true
}

func (o *Orchestrator) nextRotationTrack(ctx context.Context, st *selectionState, now time.Time) (Selection, error) {
	candidates, _ := o.rotationCandidates(now)
	for len(candidates) > 0 {
		p, err := st.selector.Pick(candidates)
		if err != nil {
			return Selection{}, err
		}
		tracks, err := o.loader.Tracks(ctx, p.ID)
		if err != nil {
			return Selection{}, err
		}
		if len(tracks) == 0 {
			candidates = without(candidates, p.ID)
			continue
		}

		var t models.Track
		if p.Shuffled() {
			t, _ = st.bags.Draw(p.ID, tracks)
		} else {
			idx := st.cursors[p.ID] % len(tracks)
			t = tracks[idx]
			st.cursors[p.ID] = idx + 1
		}
		return Selection{Playlist: p, Track: t, Tracks: tracks, Source: SourceRotation}, nil
	}
	return Selection{}, ErrNoPlayableTracks
}

func without(playlists []models.Playlist, id string) []models.Playlist {
	out := playlists[:0:0]
	for _, p := range playlists {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
