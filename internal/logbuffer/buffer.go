/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent log lines in memory so an operator
// can read them through the control API on a box without a shell.
package logbuffer

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 2000

// Entry is one captured log line.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	Error     string         `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a fixed-size ring of entries, safe for concurrent use.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
}

// New creates a buffer holding up to capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{entries: make([]Entry, capacity)}
}

// Add appends an entry, overwriting the oldest once full.
func (b *Buffer) Add(e Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = e
	b.head = (b.head + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
}

// Len returns the number of entries held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Query selects entries. Zero fields match everything.
type Query struct {
	// MinLevel drops entries below this level.
	MinLevel  zerolog.Level
	Component string
	ChannelID string
	// Search matches message or error text, ignoring case.
	Search string
	Since  time.Time
	Limit  int
}

// Find returns matching entries, newest first.
func (b *Buffer) Find(q Query) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	search := strings.ToLower(q.Search)
	out := make([]Entry, 0, min(b.count, max(q.Limit, 0)))
	for i := 1; i <= b.count; i++ {
		e := b.entries[(b.head-i+len(b.entries))%len(b.entries)]
		if !q.Since.IsZero() && e.Time.Before(q.Since) {
			// Older entries only get older.
			break
		}
		if lvl, err := zerolog.ParseLevel(e.Level); err == nil && lvl < q.MinLevel {
			continue
		}
		if q.Component != "" && e.Component != q.Component {
			continue
		}
		if q.ChannelID != "" && e.ChannelID != q.ChannelID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.Message), search) &&
			!strings.Contains(strings.ToLower(e.Error), search) {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

// Writer feeds zerolog JSON lines into a buffer.
type Writer struct {
	buffer *Buffer
}

// NewWriter returns an io.Writer for zerolog.MultiLevelWriter.
func NewWriter(buffer *Buffer) *Writer {
	return &Writer{buffer: buffer}
}

// Write parses one JSON log line. Lines that are not JSON are dropped; the
// write never fails so logging is not disturbed.
func (w *Writer) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err != nil {
		return len(p), nil
	}

	e := Entry{Time: time.Now()}
	take := func(key string) string {
		s, _ := raw[key].(string)
		delete(raw, key)
		return s
	}
	e.Level = take(zerolog.LevelFieldName)
	e.Message = take(zerolog.MessageFieldName)
	e.Component = take("component")
	e.ChannelID = take("channel_id")
	e.Error = take(zerolog.ErrorFieldName)

	switch ts := raw[zerolog.TimestampFieldName].(type) {
	case float64:
		e.Time = time.Unix(int64(ts), 0)
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			e.Time = t
		}
	}
	delete(raw, zerolog.TimestampFieldName)

	if len(raw) > 0 {
		e.Fields = raw
	}
	w.buffer.Add(e)
	return len(p), nil
}
