/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/friendsincode/grimnir_autodj/internal/events"
	ws "nhooyr.io/websocket"
)

type streamMessage struct {
	Type    events.EventType `json:"type"`
	Payload any              `json:"payload,omitempty"`
}

// handleStateStream pushes the active channel's snapshot on every state
// change. The current snapshot is sent first.
func (a *API) handleStateStream(w http.ResponseWriter, r *http.Request) {
	if !a.allowed(r, a.player.ChannelID()) {
		writeError(w, http.StatusForbidden, "channel_forbidden")
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// Clients only listen; CloseRead handles their close frames.
	ctx := conn.CloseRead(r.Context())

	sub := a.bus.Subscribe(events.EventStateChanged)
	defer a.bus.Unsubscribe(events.EventStateChanged, sub)

	if err := writeMessage(ctx, conn, streamMessage{Type: events.EventStateChanged, Payload: a.player.State()}); err != nil {
		a.logger.Debug().Err(err).Msg("websocket initial write failed")
		return
	}

	ticker := time.NewTicker(a.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := writeMessage(ctx, conn, streamMessage{Type: "ping"}); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case payload, ok := <-sub:
			if !ok {
				conn.Close(ws.StatusGoingAway, "shutting down")
				return
			}
			if !a.allowed(r, payload.ChannelID()) {
				continue
			}
			if err := writeMessage(ctx, conn, streamMessage{Type: events.EventStateChanged, Payload: payload["state"]}); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *ws.Conn, msg streamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, ws.MessageText, data)
}
