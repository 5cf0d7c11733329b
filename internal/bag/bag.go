/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package bag keeps per-playlist anti-repetition pools so that every track in
// a playlist plays once before any track repeats.
package bag

import (
	"math/rand/v2"

	"github.com/friendsincode/grimnir_autodj/internal/models"
)

// Progress describes how far a playlist's current pass has advanced.
type Progress struct {
	Remaining int `json:"remaining"`
	Total     int `json:"total"`
}

type pool struct {
	ids   []string // remaining ids, drawn from the tail
	total int      // size snapshot at last refill
}

// Set holds one pool per playlist. It is not safe for concurrent use; the
// orchestrator loop owns it.
type Set struct {
	src   *rand.PCG
	rng   *rand.Rand
	pools map[string]*pool
}

// New returns a Set seeded from the runtime's random source.
func New() *Set {
	return NewSeeded(rand.Uint64(), rand.Uint64())
}

// NewSeeded returns a Set with a deterministic shuffle sequence.
func NewSeeded(seed1, seed2 uint64) *Set {
	src := rand.NewPCG(seed1, seed2)
	return &Set{src: src, rng: rand.New(src), pools: make(map[string]*pool)}
}

// Draw returns the next track of playlistID. The pool is (re)filled from
// tracks and reshuffled when missing or exhausted. Ids that have left the
// playlist since the last refill are skipped. ok is false only when tracks
// is empty.
func (s *Set) Draw(playlistID string, tracks []models.Track) (models.Track, bool) {
	if len(tracks) == 0 {
		return models.Track{}, false
	}

	byID := make(map[string]models.Track, len(tracks))
	for _, t := range tracks {
		byID[t.ID] = t
	}

	p := s.pools[playlistID]
	refilled := false
	for {
		if p == nil || len(p.ids) == 0 {
			if refilled {
				return models.Track{}, false
			}
			p = s.refill(playlistID, tracks)
			refilled = true
		}

		last := len(p.ids) - 1
		id := p.ids[last]
		p.ids = p.ids[:last]
		if t, ok := byID[id]; ok {
			return t, true
		}
	}
}

func (s *Set) refill(playlistID string, tracks []models.Track) *pool {
	ids := make([]string, 0, len(tracks))
	seen := make(map[string]struct{}, len(tracks))
	for _, t := range tracks {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		ids = append(ids, t.ID)
	}
	s.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	p := &pool{ids: ids, total: len(ids)}
	s.pools[playlistID] = p
	return p
}

// Progress reports the pool state for playlistID. A playlist that has never
// been drawn from reports zero values.
func (s *Set) Progress(playlistID string) Progress {
	p := s.pools[playlistID]
	if p == nil {
		return Progress{}
	}
	return Progress{Remaining: len(p.ids), Total: p.total}
}

// Remove drops the pool for playlistID so the next draw starts a fresh pass.
func (s *Set) Remove(playlistID string) {
	delete(s.pools, playlistID)
}

// Retain drops pools for playlists not in keep.
func (s *Set) Retain(keep map[string]struct{}) {
	for id := range s.pools {
		if _, ok := keep[id]; !ok {
			delete(s.pools, id)
		}
	}
}

// Clone returns an independent copy, including the shuffle source state, so
// draws on the copy predict draws on the original.
func (s *Set) Clone() *Set {
	src := *s.src
	out := &Set{src: &src, rng: rand.New(&src), pools: make(map[string]*pool, len(s.pools))}
	for id, p := range s.pools {
		out.pools[id] = &pool{ids: append([]string(nil), p.ids...), total: p.total}
	}
	return out
}
