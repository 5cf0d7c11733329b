/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus carries coarse catalog change signals between the
// processes that edit a channel's catalog and the orchestrator playing it.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Kind says which part of the catalog changed.
type Kind string

const (
	KindPlaylists Kind = "playlists"
	KindTracks    Kind = "tracks"
)

// Change is a catalog change signal. It carries no diff; receivers re-fetch.
type Change struct {
	ChannelID  string    `json:"channel_id"`
	Kind       Kind      `json:"kind"`
	PlaylistID string    `json:"playlist_id,omitempty"`
	Source     string    `json:"source,omitempty"`
	At         time.Time `json:"at,omitempty"`
}

// Publisher announces catalog changes.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// Feed delivers change signals scoped to one channel.
type Feed interface {
	Publisher
	// Subscribe returns a channel of changes for channelID and a cancel
	// function that unsubscribes and closes it. The subscription also ends
	// when ctx is done.
	Subscribe(ctx context.Context, channelID string) (<-chan Change, func(), error)
	Close() error
}

// envelope is the wire form shared by the remote transports.
type envelope struct {
	Change
	NodeID string `json:"node_id,omitempty"`
}

func encode(change Change, nodeID string) ([]byte, error) {
	if change.At.IsZero() {
		change.At = time.Now()
	}
	return json.Marshal(envelope{Change: change, NodeID: nodeID})
}

func decode(data []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decode change: %w", err)
	}
	if env.ChannelID == "" {
		return env, fmt.Errorf("decode change: missing channel_id")
	}
	if env.Kind == "" {
		env.Kind = KindPlaylists
	}
	return env, nil
}
