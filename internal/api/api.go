/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the player over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_autodj/internal/auth"
	"github.com/friendsincode/grimnir_autodj/internal/catalog"
	"github.com/friendsincode/grimnir_autodj/internal/eventbus"
	"github.com/friendsincode/grimnir_autodj/internal/events"
	"github.com/friendsincode/grimnir_autodj/internal/leadership"
	"github.com/friendsincode/grimnir_autodj/internal/logbuffer"
	"github.com/friendsincode/grimnir_autodj/internal/orchestrator"
	"github.com/friendsincode/grimnir_autodj/internal/player"
	"github.com/friendsincode/grimnir_autodj/internal/recovery"
	"github.com/friendsincode/grimnir_autodj/internal/version"
)

// Controller is the player surface the API drives.
type Controller interface {
	InitializeChannel(ctx context.Context, channelID string) error
	Stop(ctx context.Context) error
	ChannelID() string
	TogglePlayPause(ctx context.Context) error
	AdvanceManually(ctx context.Context) error
	Acknowledge(ctx context.Context) error
	PeekNext(ctx context.Context) (orchestrator.Selection, error)
	State() orchestrator.Snapshot
}

// API exposes HTTP handlers.
type API struct {
	player    Controller
	publisher eventbus.Publisher
	bus       *events.Bus
	jwtSecret []byte
	logs      *logbuffer.Buffer
	logger    zerolog.Logger

	// pingInterval keeps idle state streams alive through proxies.
	pingInterval time.Duration
}

// New creates the API router wrapper. publisher may be nil, in which case
// the notify endpoint is not mounted.
func New(p Controller, publisher eventbus.Publisher, bus *events.Bus, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		player:       p,
		publisher:    publisher,
		bus:          bus,
		jwtSecret:    jwtSecret,
		logger:       logger.With().Str("component", "api").Logger(),
		pingInterval: 15 * time.Second,
	}
}

// Routes mounts the control endpoints under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Get("/state", a.handleState)
			pr.Get("/state/stream", a.handleStateStream)
			pr.Get("/peek", a.handlePeek)

			pr.Group(func(op chi.Router) {
				op.Use(auth.RequireRole(auth.RoleOperator))

				op.Post("/channel", a.handleInitializeChannel)
				op.Post("/toggle", a.handleToggle)
				op.Post("/advance", a.handleAdvance)
				op.Post("/acknowledge", a.handleAcknowledge)
				op.Post("/stop", a.handleStop)
				if a.publisher != nil {
					op.Post("/channels/{channelID}/notify", a.handleNotify)
				}
				if a.logs != nil {
					op.Get("/logs", a.handleLogs)
				}
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "ok",
		"version":    version.Version,
		"channel_id": a.player.ChannelID(),
	})
}

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	st := a.player.State()
	if !a.allowed(r, st.ChannelID) {
		writeError(w, http.StatusForbidden, "channel_forbidden")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type peekResponse struct {
	Source   orchestrator.Source      `json:"source"`
	Playlist orchestrator.PlaylistRef `json:"playlist"`
	Track    orchestrator.TrackRef    `json:"track"`
}

func (a *API) handlePeek(w http.ResponseWriter, r *http.Request) {
	if !a.allowed(r, a.player.ChannelID()) {
		writeError(w, http.StatusForbidden, "channel_forbidden")
		return
	}
	sel, err := a.player.PeekNext(r.Context())
	if err != nil {
		a.fail(w, "peek", err)
		return
	}
	writeJSON(w, http.StatusOK, peekResponse{
		Source: sel.Source,
		Playlist: orchestrator.PlaylistRef{
			ID:       sel.Playlist.ID,
			Name:     sel.Playlist.Name,
			Category: sel.Playlist.Category,
			Order:    sel.Playlist.Order,
		},
		Track: orchestrator.TrackRef{
			ID:       sel.Track.ID,
			Title:    sel.Track.Title,
			Artist:   sel.Track.Artist,
			Duration: sel.Track.DurationMS,
		},
	})
}

func (a *API) handleInitializeChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelID string `json:"channel_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	if !a.allowed(r, req.ChannelID) {
		writeError(w, http.StatusForbidden, "channel_forbidden")
		return
	}

	if err := a.player.InitializeChannel(r.Context(), req.ChannelID); err != nil {
		a.fail(w, "initialize channel", err)
		return
	}
	writeJSON(w, http.StatusOK, a.player.State())
}

func (a *API) handleToggle(w http.ResponseWriter, r *http.Request) {
	a.command(w, r, "toggle", a.player.TogglePlayPause)
}

func (a *API) handleAdvance(w http.ResponseWriter, r *http.Request) {
	a.command(w, r, "advance", a.player.AdvanceManually)
}

func (a *API) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	a.command(w, r, "acknowledge", a.player.Acknowledge)
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	a.command(w, r, "stop", a.player.Stop)
}

// command runs a state-changing operation on the active channel and answers
// with the resulting snapshot.
func (a *API) command(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) error) {
	if !a.allowed(r, a.player.ChannelID()) {
		writeError(w, http.StatusForbidden, "channel_forbidden")
		return
	}
	if err := fn(r.Context()); err != nil {
		a.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, a.player.State())
}

func (a *API) handleNotify(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	if !a.allowed(r, channelID) {
		writeError(w, http.StatusForbidden, "channel_forbidden")
		return
	}

	var req struct {
		Kind       eventbus.Kind `json:"kind"`
		PlaylistID string        `json:"playlist_id"`
	}
	// An empty body means "something changed".
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
	}
	switch req.Kind {
	case "":
		req.Kind = eventbus.KindPlaylists
	case eventbus.KindPlaylists, eventbus.KindTracks:
	default:
		writeError(w, http.StatusBadRequest, "invalid_kind")
		return
	}

	change := eventbus.Change{
		ChannelID:  channelID,
		Kind:       req.Kind,
		PlaylistID: req.PlaylistID,
		Source:     "api",
		At:         time.Now().UTC(),
	}
	if err := a.publisher.Publish(r.Context(), change); err != nil {
		a.logger.Error().Err(err).Str("channel_id", channelID).Msg("publish change failed")
		writeError(w, http.StatusBadGateway, "publish_failed")
		return
	}
	writeJSON(w, http.StatusAccepted, change)
}

// allowed applies the token's channel scope. Without claims every channel is
// allowed.
func (a *API) allowed(r *http.Request, channelID string) bool {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok || channelID == "" {
		return true
	}
	return claims.AllowsChannel(channelID)
}

func (a *API) fail(w http.ResponseWriter, op string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("op", op).Msg("request failed")
	} else {
		a.logger.Debug().Err(err).Str("op", op).Msg("request rejected")
	}
	writeJSON(w, status, map[string]string{"error": code, "detail": err.Error()})
}

// classify maps domain errors onto HTTP statuses.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, player.ErrEmptyChannelID):
		return http.StatusBadRequest, "channel_id_required"
	case errors.Is(err, catalog.ErrChannelNotFound):
		return http.StatusNotFound, "channel_not_found"
	case errors.Is(err, player.ErrChannelNotActive):
		return http.StatusConflict, "channel_not_active"
	case catalog.IsConfigurationError(err):
		return http.StatusUnprocessableEntity, "configuration_error"
	case errors.Is(err, leadership.ErrHeld):
		return http.StatusConflict, "channel_owned_elsewhere"
	case errors.Is(err, orchestrator.ErrAcknowledgmentRequired):
		return http.StatusConflict, "acknowledgment_required"
	case errors.Is(err, recovery.ErrHalted):
		return http.StatusConflict, "halted"
	case errors.Is(err, orchestrator.ErrNoPlayableTracks):
		return http.StatusConflict, "no_playable_tracks"
	case errors.Is(err, orchestrator.ErrStopped), errors.Is(err, orchestrator.ErrNotStarted):
		return http.StatusConflict, "channel_not_active"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
