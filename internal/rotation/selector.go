/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package rotation picks the next rotation playlist so that long-run play
// share converges to configured weights without long runs of one playlist.
package rotation

import (
	"errors"
	"math"
	"math/rand/v2"

	"github.com/friendsincode/grimnir_autodj/internal/models"
)

// ErrNoCandidates is returned when Pick is called with an empty set.
var ErrNoCandidates = errors.New("rotation: no candidate playlists")

const epsilon = 1e-9

// Selector tracks per-playlist selection counts for one channel session.
// It is not safe for concurrent use.
type Selector struct {
	src    *rand.PCG
	rng    *rand.Rand
	counts map[string]int
}

// NewSelector returns a Selector seeded from the runtime's random source.
func NewSelector() *Selector {
	return NewSeededSelector(rand.Uint64(), rand.Uint64())
}

// NewSeededSelector returns a Selector with deterministic tie-breaking.
func NewSeededSelector(seed1, seed2 uint64) *Selector {
	src := rand.NewPCG(seed1, seed2)
	return &Selector{src: src, rng: rand.New(src), counts: make(map[string]int)}
}

// weight clamps non-positive weights to 1 so every candidate stays reachable.
func weight(p models.Playlist) float64 {
	if p.Weight <= 0 {
		return 1
	}
	return float64(p.Weight)
}

// Pick chooses among candidates and records the selection.
//
// Each candidate's deficit is weight/total*N - count, N being the selections
// already made among the candidates. The largest positive deficit wins, ties
// going to the higher weight and then to chance. With no history, or when
// every deficit is equal, a single weighted-random draw is made instead.
func (s *Selector) Pick(candidates []models.Playlist) (models.Playlist, error) {
	if len(candidates) == 0 {
		return models.Playlist{}, ErrNoCandidates
	}

	var total float64
	n := 0
	for _, p := range candidates {
		total += weight(p)
		n += s.counts[p.ID]
	}

	var chosen models.Playlist
	if n == 0 {
		chosen = s.roulette(candidates, total)
	} else {
		deficits := make([]float64, len(candidates))
		maxD, minD := math.Inf(-1), math.Inf(1)
		for i, p := range candidates {
			d := weight(p)/total*float64(n) - float64(s.counts[p.ID])
			deficits[i] = d
			maxD = math.Max(maxD, d)
			minD = math.Min(minD, d)
		}

		if maxD-minD < epsilon {
			chosen = s.roulette(candidates, total)
		} else {
			var best []models.Playlist
			bestWeight := 0.0
			for i, p := range candidates {
				if maxD-deficits[i] >= epsilon {
					continue
				}
				switch w := weight(p); {
				case w > bestWeight:
					best, bestWeight = []models.Playlist{p}, w
				case w == bestWeight:
					best = append(best, p)
				}
			}
			chosen = best[s.rng.IntN(len(best))]
		}
	}

	s.counts[chosen.ID]++
	return chosen, nil
}

func (s *Selector) roulette(candidates []models.Playlist, total float64) models.Playlist {
	x := s.rng.Float64() * total
	for _, p := range candidates {
		x -= weight(p)
		if x < 0 {
			return p
		}
	}
	return candidates[len(candidates)-1]
}

// Count returns how many times playlistID has been selected this session.
func (s *Selector) Count(playlistID string) int {
	return s.counts[playlistID]
}

// Retain forgets counts for playlists not in keep.
func (s *Selector) Retain(keep map[string]struct{}) {
	for id := range s.counts {
		if _, ok := keep[id]; !ok {
			delete(s.counts, id)
		}
	}
}

// Clone returns an independent copy whose future picks match the original's.
func (s *Selector) Clone() *Selector {
	src := *s.src
	out := &Selector{src: &src, rng: rand.New(&src), counts: make(map[string]int, len(s.counts))}
	for id, c := range s.counts {
		out.counts[id] = c
	}
	return out
}
