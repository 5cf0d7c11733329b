/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPlaylists means the channel has no active rotation playlist and
	// cannot start.
	ErrNoPlaylists = errors.New("catalog: channel has no active rotation playlists")

	// ErrOwnershipMismatch means the store returned a playlist scoped to a
	// different channel.
	ErrOwnershipMismatch = errors.New("catalog: playlist belongs to another channel")

	// ErrChannelNotFound is returned by Seed lookups for unknown channels.
	ErrChannelNotFound = errors.New("catalog: channel not found")
)

// ConfigurationError is fatal for a channel: it cannot start until the
// catalog is fixed.
type ConfigurationError struct {
	ChannelID  string
	PlaylistID string
	Err        error
}

func (e *ConfigurationError) Error() string {
	if e.PlaylistID != "" {
		return fmt.Sprintf("channel %s: playlist %s: %v", e.ChannelID, e.PlaylistID, e.Err)
	}
	return fmt.Sprintf("channel %s: %v", e.ChannelID, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
