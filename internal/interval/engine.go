/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package interval counts rotation tracks per interval playlist and queues
// the playlists whose threshold has been reached.
package interval

import (
	"cmp"
	"slices"
	"time"

	"github.com/friendsincode/grimnir_autodj/internal/models"
	"github.com/friendsincode/grimnir_autodj/internal/window"
)

// Entry is a fired interval playlist waiting to interrupt rotation.
type Entry struct {
	PlaylistID string    `json:"playlist_id"`
	Name       string    `json:"name"`
	Threshold  int       `json:"threshold"`
	FiredAt    time.Time `json:"fired_at"`
}

// Engine is owned by a single orchestrator loop and is not safe for concurrent use.
type Engine struct {
	playlists map[string]models.Playlist
	order     []string
	counters  map[string]int
	pending   []Entry
	active    string
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{
		playlists: make(map[string]models.Playlist),
		counters:  make(map[string]int),
	}
}

func threshold(p models.Playlist) int {
	return max(p.TriggerThreshold, 1)
}

// Reconcile replaces the interval playlist set. Counters survive for
// playlists that still exist; pending entries for removed playlists are
// dropped and the rest pick up any threshold change.
func (e *Engine) Reconcile(playlists []models.Playlist) {
	next := make(map[string]models.Playlist, len(playlists))
	for _, p := range playlists {
		next[p.ID] = p
	}

	for id := range e.counters {
		if _, ok := next[id]; !ok {
			delete(e.counters, id)
		}
	}
	for id := range next {
		if _, ok := e.counters[id]; !ok {
			e.counters[id] = 0
		}
	}

	kept := e.pending[:0]
	for _, entry := range e.pending {
		p, ok := next[entry.PlaylistID]
		if !ok {
			continue
		}
		entry.Threshold = threshold(p)
		entry.Name = p.Name
		kept = append(kept, entry)
	}
	e.pending = kept
	slices.SortStableFunc(e.pending, func(a, b Entry) int { return cmp.Compare(a.Threshold, b.Threshold) })

	e.playlists = next
	e.order = e.order[:0]
	for id := range next {
		e.order = append(e.order, id)
	}
	slices.SortFunc(e.order, func(a, b string) int {
		return cmp.Or(cmp.Compare(threshold(next[a]), threshold(next[b])), cmp.Compare(a, b))
	})
}

// RecordRotationTrack counts one completed rotation track against every
// interval playlist, operational or not, then fires the due ones. It returns
// the ids of playlists that fired.
func (e *Engine) RecordRotationTrack(now time.Time) []string {
	for _, id := range e.order {
		e.counters[id]++
	}
	return e.fire(now)
}

// Sweep fires playlists that were already past threshold and have since
// entered their window. It does not touch counters otherwise.
func (e *Engine) Sweep(now time.Time) []string {
	return e.fire(now)
}

func (e *Engine) fire(now time.Time) []string {
	var fired []string
	for _, id := range e.order {
		p := e.playlists[id]
		if e.counters[id] < threshold(p) || !window.IsOperational(p, now) {
			continue
		}
		if id == e.active || e.isPending(id) {
			continue
		}
		e.counters[id] = 0
		e.enqueue(Entry{PlaylistID: id, Name: p.Name, Threshold: threshold(p), FiredAt: now})
		fired = append(fired, id)
	}
	return fired
}

// enqueue inserts after every entry with a threshold <= entry's, keeping the
// queue ordered by ascending threshold and FIFO among equals.
func (e *Engine) enqueue(entry Entry) {
	i, _ := slices.BinarySearchFunc(e.pending, entry.Threshold+1, func(x Entry, t int) int {
		return cmp.Compare(x.Threshold, t)
	})
	e.pending = slices.Insert(e.pending, i, entry)
}

func (e *Engine) isPending(id string) bool {
	return slices.ContainsFunc(e.pending, func(x Entry) bool { return x.PlaylistID == id })
}

// HasPending reports whether any entry is queued.
func (e *Engine) HasPending() bool { return len(e.pending) > 0 }

// Pop removes and returns the first queued playlist still operational at now.
// Entries whose window closed while queued are discarded and their counter is
// restored to the threshold so a later sweep can fire them again.
func (e *Engine) Pop(now time.Time) (models.Playlist, bool) {
	for len(e.pending) > 0 {
		entry := e.pending[0]
		e.pending = e.pending[1:]

		p, ok := e.playlists[entry.PlaylistID]
		if !ok {
			continue
		}
		if !window.IsOperational(p, now) {
			e.counters[p.ID] = max(e.counters[p.ID], threshold(p))
			continue
		}
		return p, true
	}
	return models.Playlist{}, false
}

// Requeue puts a popped playlist back at the head of the queue, for a pop
// whose interruption could not start. Playlists no longer in the engine are
// ignored.
func (e *Engine) Requeue(p models.Playlist, now time.Time) {
	if _, ok := e.playlists[p.ID]; !ok || p.ID == e.active || e.isPending(p.ID) {
		return
	}
	e.pending = slices.Insert(e.pending, 0, Entry{PlaylistID: p.ID, Name: p.Name, Threshold: threshold(p), FiredAt: now})
}

// SetActive marks the playlist currently interrupting rotation.
func (e *Engine) SetActive(playlistID string) { e.active = playlistID }

// ClearActive marks that no interval playlist is interrupting.
func (e *Engine) ClearActive() { e.active = "" }

// Playlist returns the interval playlist with id, if known.
func (e *Engine) Playlist(id string) (models.Playlist, bool) {
	p, ok := e.playlists[id]
	return p, ok
}

// Pending returns a copy of the queue.
func (e *Engine) Pending() []Entry {
	return slices.Clone(e.pending)
}

// Counters returns a copy of the per-playlist counters.
func (e *Engine) Counters() map[string]int {
	out := make(map[string]int, len(e.counters))
	for id, c := range e.counters {
		out[id] = c
	}
	return out
}

// Clone returns an independent copy for look-ahead.
func (e *Engine) Clone() *Engine {
	out := &Engine{
		playlists: make(map[string]models.Playlist, len(e.playlists)),
		order:     slices.Clone(e.order),
		counters:  e.Counters(),
		pending:   slices.Clone(e.pending),
		active:    e.active,
	}
	for id, p := range e.playlists {
		out.playlists[id] = p
	}
	return out
}
