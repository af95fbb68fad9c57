/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus to NATS so room
// broadcasts reach clients connected to other instances.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/jammy/internal/events"
)

const subjectPrefix = "jammy.events."

// bridgedEvents are the event types mirrored across instances. Only room
// fan-out events travel; cache invalidation stays per-node.
var bridgedEvents = []events.EventType{
	events.EventPlaybackState,
	events.EventQueueUpdate,
	events.EventMemberJoined,
	events.EventMemberLeft,
	events.EventNotification,
	events.EventRoomClosed,
	events.EventSessionEnded,
}

// natsMessage is the wire format on NATS subjects.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// Bridge relays events between the local bus and NATS.
type Bridge struct {
	conn   *nats.Conn
	bus    *events.Bus
	logger zerolog.Logger
	nodeID string

	subs   []*nats.Subscription
	cancel context.CancelFunc
}

// New connects to NATS and wires the bridge. The instanceID distinguishes
// this node's messages; empty means hostname plus a random suffix.
func New(url, instanceID string, bus *events.Bus, logger zerolog.Logger) (*Bridge, error) {
	if instanceID == "" {
		host, _ := os.Hostname()
		instanceID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	b := &Bridge{
		conn:   conn,
		bus:    bus,
		logger: logger.With().Str("component", "eventbus").Str("node_id", instanceID).Logger(),
		nodeID: instanceID,
	}
	return b, nil
}

// Start subscribes to remote subjects and begins forwarding local events.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)

	for _, et := range bridgedEvents {
		subject := subjectPrefix + string(et)
		eventType := et
		sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
			b.handleInbound(eventType, msg.Data)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		b.subs = append(b.subs, sub)

		go b.forwardLocal(ctx, eventType)
	}

	b.logger.Info().Int("subjects", len(bridgedEvents)).Msg("event bridge started")
	return nil
}

// forwardLocal mirrors locally published events of one type onto NATS.
func (b *Bridge) forwardLocal(ctx context.Context, eventType events.EventType) {
	sub := b.bus.Subscribe(eventType)
	defer b.bus.Unsubscribe(eventType, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if _, relayed := payload[events.RelayedKey]; relayed {
				continue
			}
			b.publish(eventType, payload)
		}
	}
}

func (b *Bridge) publish(eventType events.EventType, payload events.Payload) {
	data, err := json.Marshal(natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    b.nodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		b.logger.Error().Err(err).Str("event", string(eventType)).Msg("marshal outbound event")
		return
	}

	if err := b.conn.Publish(subjectPrefix+string(eventType), data); err != nil {
		b.logger.Warn().Err(err).Str("event", string(eventType)).Msg("publish to nats")
	}
}

// handleInbound republishes a remote node's event on the local bus.
func (b *Bridge) handleInbound(eventType events.EventType, data []byte) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Warn().Err(err).Msg("unmarshal inbound event")
		return
	}
	if msg.NodeID == b.nodeID {
		return
	}

	payload := msg.Payload
	if payload == nil {
		payload = events.Payload{}
	}
	payload[events.RelayedKey] = msg.NodeID

	b.bus.Publish(eventType, payload)
}

// Close drains subscriptions and closes the connection.
func (b *Bridge) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	var firstErr error
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.conn.Close()
	return firstErr
}
