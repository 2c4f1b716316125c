/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus carries run progress events between processes.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/friendsincode/slotwise/internal/events"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	// Subject prefix; events go to "<prefix>.<event_type>".
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       "slotwise.runs",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// publisher is the subset of *nats.Conn used to send.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBus publishes events locally and to NATS. Events received from other
// nodes are replayed onto the local bus once Listen is called.
type NATSBus struct {
	logger zerolog.Logger
	local  *events.Bus
	out    publisher
	nc     *nats.Conn
	prefix string
	nodeID string

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSBus connects to NATS.
func NewNATSBus(cfg NATSConfig, logger zerolog.Logger) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name("slotwise"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	bus := newNATSBus(nc, cfg.Subject, logger)
	bus.nc = nc
	return bus, nil
}

func newNATSBus(out publisher, subject string, logger zerolog.Logger) *NATSBus {
	if subject == "" {
		subject = DefaultNATSConfig().Subject
	}
	return &NATSBus{
		logger: logger.With().Str("component", "eventbus").Logger(),
		local:  events.NewBus(),
		out:    out,
		prefix: strings.TrimSuffix(subject, "."),
		nodeID: generateNodeID(),
	}
}

// Subject returns the NATS subject for an event type.
func (nb *NATSBus) Subject(eventType events.EventType) string {
	return nb.prefix + "." + string(eventType)
}

// Subscribe registers a local subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// Unsubscribe removes a local subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally and forwards to NATS. Send failures are logged;
// progress events never fail a run.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	data, err := marshalNATSMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Warn().Err(err).Str("event", string(eventType)).Msg("encode event")
		return
	}
	if err := nb.out.Publish(nb.Subject(eventType), data); err != nil {
		nb.logger.Warn().Err(err).Str("event", string(eventType)).Msg("publish event to nats")
	}
}

// Listen replays events published by other nodes onto the local bus.
func (nb *NATSBus) Listen() error {
	if nb.nc == nil {
		return fmt.Errorf("listen: no nats connection")
	}
	sub, err := nb.nc.Subscribe(nb.prefix+".>", func(m *nats.Msg) {
		msg, err := unmarshalNATSMessage(m.Data)
		if err != nil {
			nb.logger.Debug().Err(err).Str("subject", m.Subject).Msg("drop malformed event")
			return
		}
		if msg.NodeID == nb.nodeID {
			return
		}
		nb.local.Publish(msg.EventType, msg.Payload)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s.>: %w", nb.prefix, err)
	}
	nb.mu.Lock()
	nb.subs = append(nb.subs, sub)
	nb.mu.Unlock()
	return nil
}

// Close drains the NATS connection.
func (nb *NATSBus) Close() error {
	nb.mu.Lock()
	for _, sub := range nb.subs {
		_ = sub.Unsubscribe()
	}
	nb.subs = nil
	nb.mu.Unlock()
	if nb.nc == nil {
		return nil
	}
	return nb.nc.Drain()
}

// natsMessage represents a message published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	}
	return json.Marshal(msg)
}

func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("unmarshal nats message: missing event type")
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
