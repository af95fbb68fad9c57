/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	wslib "nhooyr.io/websocket"

	"github.com/friendsincode/jammy/internal/telemetry"
	"github.com/friendsincode/jammy/internal/ws"
)

// handleRoomSocket upgrades to a websocket and bridges the connection to
// the hub. The client receives a full snapshot on connect, then every
// broadcast for the room until it disconnects or falls too far behind.
func (a *API) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	claims, ok := a.claims(w, r)
	if !ok {
		return
	}

	code := strings.ToUpper(chi.URLParam(r, "code"))
	room, err := a.resolveRoomCode(r.Context(), code)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	member, err := a.store.IsMember(r.Context(), room.ID, claims.UserID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if !member {
		writeError(w, http.StatusForbidden, "not_a_member")
		return
	}

	conn, err := wslib.Accept(w, r, &wslib.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(wslib.StatusInternalError, "server error")

	telemetry.WebSocketConnections.Inc()
	defer telemetry.WebSocketConnections.Dec()

	ctx := r.Context()

	hubConn := a.hub.Register(room.ID, claims.UserID, claims.DisplayName)
	defer a.hub.Unregister(hubConn)

	// Full snapshot before any incremental broadcast, so the client never
	// has to reconstruct state from deltas it missed.
	if err := a.writeConnected(ctx, conn, room.ID); err != nil {
		a.logger.Error().Err(err).Str("room_id", room.ID).Msg("initial snapshot write failed")
		return
	}

	// Reads only detect client pings and closure; all application traffic
	// flows server to client.
	pongReq := make(chan struct{}, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
				select {
				case pongReq <- struct{}{}:
				default:
				}
			}
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(wslib.StatusNormalClosure, "context cancelled")
			return
		case <-readDone:
			conn.Close(wslib.StatusNormalClosure, "client closed")
			return
		case <-ticker.C:
			if err := a.writeControl(ctx, conn, "ping"); err != nil {
				return
			}
		case <-pongReq:
			if err := a.writeControl(ctx, conn, "pong"); err != nil {
				return
			}
		case frame, open := <-hubConn.Outbox():
			if !open {
				// Dropped by the hub as a slow consumer.
				conn.Close(wslib.StatusPolicyViolation, "too far behind")
				return
			}
			if err := a.writeFrame(ctx, conn, frame); err != nil {
				a.logger.Debug().Err(err).Str("conn_id", hubConn.ID).Msg("websocket write failed")
				return
			}
		}
	}
}

// writeConnected sends the "connected" envelope carrying the room's current
// snapshot, or a bare envelope when the room has no active session.
func (a *API) writeConnected(ctx context.Context, conn *wslib.Conn, roomID string) error {
	msg := ws.Message{Type: "connected", Timestamp: time.Now().UTC()}
	session, err := a.store.ActiveSessionForRoom(ctx, roomID)
	if err == nil {
		snapshot, snapErr := a.playback.Snapshot(ctx, session.ID)
		if snapErr != nil {
			return snapErr
		}
		msg.Data = snapshot
	} else if !isNotFound(err) {
		return err
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return a.writeFrame(ctx, conn, frame)
}

func (a *API) writeFrame(ctx context.Context, conn *wslib.Conn, frame []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, a.wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, wslib.MessageText, frame)
}

func (a *API) writeControl(ctx context.Context, conn *wslib.Conn, msgType string) error {
	frame, err := json.Marshal(ws.Message{Type: msgType, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	return a.writeFrame(ctx, conn, frame)
}
