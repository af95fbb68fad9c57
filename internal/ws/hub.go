/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ws is the connection registry and broadcaster. It subscribes to
// the process event bus and fans room-tagged events out to every websocket
// connection registered for that room.
package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/jammy/internal/events"
)

// Message is the envelope written to clients.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Conn is one registered websocket connection. The hub never writes to the
// network itself; it enqueues marshalled frames on the connection's outbox
// and the transport goroutine drains it.
type Conn struct {
	ID          string
	RoomID      string
	UserID      string
	DisplayName string

	send chan []byte
	once sync.Once
}

// Outbox returns the channel of frames to write to the client. It is closed
// when the hub drops the connection.
func (c *Conn) Outbox() <-chan []byte {
	return c.send
}

func (c *Conn) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub routes room events to registered connections.
type Hub struct {
	bus        *events.Bus
	logger     zerolog.Logger
	sendBuffer int

	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}
}

// NewHub creates the hub. sendBuffer is the per-connection outbox depth; a
// consumer that falls further behind than that is disconnected rather than
// allowed to stall the broadcast.
func NewHub(bus *events.Bus, sendBuffer int, logger zerolog.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 32
	}
	return &Hub{
		bus:        bus,
		logger:     logger.With().Str("component", "ws-hub").Logger(),
		sendBuffer: sendBuffer,
		rooms:      make(map[string]map[*Conn]struct{}),
	}
}

// fanoutEvents are the bus events forwarded to room connections.
var fanoutEvents = []events.EventType{
	events.EventPlaybackState,
	events.EventQueueUpdate,
	events.EventMemberJoined,
	events.EventMemberLeft,
	events.EventNotification,
	events.EventRoomClosed,
	events.EventSessionEnded,
}

// Run pumps bus events into room broadcasts until the context ends.
func (h *Hub) Run(ctx context.Context) {
	subs := make(map[events.EventType]events.Subscriber, len(fanoutEvents))
	for _, et := range fanoutEvents {
		subs[et] = h.bus.Subscribe(et)
	}
	defer func() {
		for et, sub := range subs {
			h.bus.Unsubscribe(et, sub)
		}
	}()

	for {
		if !h.pumpOne(ctx, subs) {
			return
		}
	}
}

func (h *Hub) pumpOne(ctx context.Context, subs map[events.EventType]events.Subscriber) bool {
	// reflect.Select would be tidier but a static select reads better and
	// the event set is fixed.
	select {
	case <-ctx.Done():
		return false
	case p := <-subs[events.EventPlaybackState]:
		h.dispatch(events.EventPlaybackState, p)
	case p := <-subs[events.EventQueueUpdate]:
		h.dispatch(events.EventQueueUpdate, p)
	case p := <-subs[events.EventMemberJoined]:
		h.dispatch(events.EventMemberJoined, p)
	case p := <-subs[events.EventMemberLeft]:
		h.dispatch(events.EventMemberLeft, p)
	case p := <-subs[events.EventNotification]:
		h.dispatch(events.EventNotification, p)
	case p := <-subs[events.EventRoomClosed]:
		h.dispatch(events.EventRoomClosed, p)
	case p := <-subs[events.EventSessionEnded]:
		h.dispatch(events.EventSessionEnded, p)
	}
	return true
}

func (h *Hub) dispatch(eventType events.EventType, payload events.Payload) {
	roomID, _ := payload["room_id"].(string)
	if roomID == "" {
		return
	}

	// Local joins are broadcast synchronously by Register; only copies
	// relayed from other instances flow through here.
	if eventType == events.EventMemberJoined {
		if _, relayed := payload[events.RelayedKey]; !relayed {
			return
		}
	}

	// Playback events carry a pre-built snapshot; everything else sends
	// the payload fields themselves.
	data := any(payload)
	if snap, ok := payload["snapshot"]; ok {
		data = snap
	}

	h.Broadcast(roomID, string(eventType), data)
}

// Broadcast marshals one envelope and enqueues it for every connection in
// the room. Connections whose outbox is full are dropped.
func (h *Hub) Broadcast(roomID, messageType string, data any) {
	frame, err := json.Marshal(Message{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error().Err(err).Str("type", messageType).Msg("marshal broadcast")
		return
	}

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[roomID]))
	for conn := range h.rooms[roomID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		select {
		case conn.send <- frame:
		default:
			h.logger.Warn().
				Str("conn_id", conn.ID).
				Str("room_id", roomID).
				Msg("slow consumer dropped")
			h.Unregister(conn)
		}
	}
}

// Register adds a connection to a room and announces the member to the
// room's existing connections. The join is broadcast before the new
// connection is inserted, so a client never receives its own join; its
// first frame stays the snapshot the caller sends. The bus publish carries
// the join to other instances.
func (h *Hub) Register(roomID, userID, displayName string) *Conn {
	conn := &Conn{
		ID:          uuid.NewString(),
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: displayName,
		send:        make(chan []byte, h.sendBuffer),
	}

	joined := events.Payload{
		"room_id":      roomID,
		"user_id":      userID,
		"display_name": displayName,
	}
	h.Broadcast(roomID, string(events.EventMemberJoined), joined)

	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Conn]struct{})
	}
	h.rooms[roomID][conn] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug().
		Str("conn_id", conn.ID).
		Str("room_id", roomID).
		Str("user_id", userID).
		Msg("connection registered")

	h.bus.Publish(events.EventMemberJoined, joined)

	return conn
}

// Unregister removes a connection and announces the departure. Safe to call
// more than once.
func (h *Hub) Unregister(conn *Conn) {
	h.mu.Lock()
	room, ok := h.rooms[conn.RoomID]
	if ok {
		if _, present := room[conn]; !present {
			ok = false
		}
		delete(room, conn)
		if len(room) == 0 {
			delete(h.rooms, conn.RoomID)
		}
	}
	h.mu.Unlock()

	conn.close()
	if !ok {
		return
	}

	h.logger.Debug().
		Str("conn_id", conn.ID).
		Str("room_id", conn.RoomID).
		Msg("connection unregistered")

	h.bus.Publish(events.EventMemberLeft, events.Payload{
		"room_id":      conn.RoomID,
		"user_id":      conn.UserID,
		"display_name": conn.DisplayName,
	})
}

// RoomCount returns the number of connections registered for a room.
func (h *Hub) RoomCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// ConnectionCount returns the total registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, room := range h.rooms {
		total += len(room)
	}
	return total
}
