/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_autodj/internal/auth"
	"github.com/friendsincode/grimnir_autodj/internal/logbuffer"
)

const defaultLogLimit = 200

// SetLogBuffer exposes recent log lines at /api/v1/logs. Call before Routes.
func (a *API) SetLogBuffer(buf *logbuffer.Buffer) {
	a.logs = buf
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := logbuffer.Query{
		Component: q.Get("component"),
		ChannelID: q.Get("channel_id"),
		Search:    q.Get("search"),
		Limit:     defaultLogLimit,
	}

	if lvl := q.Get("level"); lvl != "" {
		parsed, err := zerolog.ParseLevel(lvl)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_level")
			return
		}
		query.MinLevel = parsed
	}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		query.Since = since
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		query.Limit = limit
	}

	// A channel-scoped caller only sees its own channel.
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims.ChannelID != "" {
		query.ChannelID = claims.ChannelID
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": a.logs.Find(query)})
}
