/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment string, taps ...io.Writer) zerolog.Logger {
	return SetupWithWriter(environment, os.Stdout, taps...)
}

// SetupWithWriter configures zerolog to write to out. Development builds get
// the console writer at debug level; everything else emits JSON at info.
// Every tap receives the raw JSON line regardless of environment.
func SetupWithWriter(environment string, out io.Writer, taps ...io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel

	writer := out
	if environment == "development" {
		level = zerolog.DebugLevel
		writer = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	if len(taps) > 0 {
		writer = zerolog.MultiLevelWriter(append([]io.Writer{writer}, taps...)...)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}

// Channel returns a child logger scoped to a component and channel.
func Channel(logger zerolog.Logger, component, channelID string) zerolog.Logger {
	return logger.With().Str("component", component).Str("channel_id", channelID).Logger()
}
