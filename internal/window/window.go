/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package window decides whether a playlist is operational at an instant,
// combining its date activation range and its daily time-of-day window.
package window

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/grimnir_autodj/internal/models"
)

const minutesPerDay = 24 * 60

// IsOperational reports whether p is active and inside both of its windows at now.
func IsOperational(p models.Playlist, now time.Time) bool {
	return p.Active && DateActive(p.ActiveFrom, p.ActiveTo, now) && DailyActive(p.DailyStart, p.DailyEnd, now)
}

// DateActive reports whether now's calendar date falls inside [from, to].
// Either bound may be nil. Bounds are calendar dates stored at UTC midnight;
// they are compared as midnight of the same date in now's location.
func DateActive(from, to *time.Time, now time.Time) bool {
	day := midnight(now, now.Location())
	if from != nil && day.Before(calendarDate(*from, now.Location())) {
		return false
	}
	if to != nil && day.After(calendarDate(*to, now.Location())) {
		return false
	}
	return true
}

// DailyActive reports whether now's time of day falls inside the window
// [start, end] given as "HH:MM". An end earlier than start wraps past midnight.
// A missing bound defaults to the start or end of the day; a bound that cannot
// be parsed is treated as missing.
func DailyActive(start, end string, now time.Time) bool {
	startMin, hasStart := parseClock(start)
	endMin, hasEnd := parseClock(end)
	if !hasStart && !hasEnd {
		return true
	}
	if !hasStart {
		startMin = 0
	}
	if !hasEnd {
		endMin = minutesPerDay - 1
	}

	cur := now.Hour()*60 + now.Minute()
	if endMin < startMin {
		return cur >= startMin || cur <= endMin
	}
	return cur >= startMin && cur <= endMin
}

// Filter returns the playlists operational at now, preserving order.
func Filter(playlists []models.Playlist, now time.Time) []models.Playlist {
	out := make([]models.Playlist, 0, len(playlists))
	for _, p := range playlists {
		if IsOperational(p, now) {
			out = append(out, p)
		}
	}
	return out
}

// ValidateClock checks a daily bound. Empty is valid and means unbounded.
func ValidateClock(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, ok := parseClock(s); !ok {
		return fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return nil
}

// parseClock converts "HH:MM" (or "HH:MM:SS", seconds ignored) to minutes since midnight.
func parseClock(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func calendarDate(t time.Time, loc *time.Location) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func midnight(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
