/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

// Run progress events, emitted in this order by a successful run.
const (
	EventRunStart          EventType = "run.start"
	EventMissedFetched     EventType = "run.missed_fetched"
	EventInputsFetched     EventType = "run.inputs_fetched"
	EventQueueBuilt        EventType = "run.queue_built"
	EventDedupeComplete    EventType = "run.dedupe_complete"
	EventHabitPassComplete EventType = "run.habit_pass_complete"
	EventProjectsScheduled EventType = "run.projects_scheduled"
	EventHabitsPersisted   EventType = "run.habits_persisted"
	EventRunComplete       EventType = "run.complete"
	EventRunError          EventType = "run.error"
)

// Instance status transitions made outside a run.
const (
	EventInstanceCompleted   EventType = "instance.completed"
	EventInstanceCanceled    EventType = "instance.canceled"
	EventInstanceRescheduled EventType = "instance.rescheduled"
)

// RunEvents lists every run progress event type.
var RunEvents = []EventType{
	EventRunStart,
	EventMissedFetched,
	EventInputsFetched,
	EventQueueBuilt,
	EventDedupeComplete,
	EventHabitPassComplete,
	EventProjectsScheduled,
	EventHabitsPersisted,
	EventRunComplete,
	EventRunError,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is anything events can be sent to.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	return b.SubscribeBuffered(eventType, 8)
}

// SubscribeBuffered registers a subscriber with a custom buffer size.
func (b *Bus) SubscribeBuffered(eventType EventType, size int) Subscriber {
	if size < 0 {
		size = 0
	}
	ch := make(Subscriber, size)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers drop events.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}

// Multi fans one publish out to several publishers. Nil entries are skipped.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(eventType EventType, payload Payload) {
	for _, p := range m {
		if p != nil {
			p.Publish(eventType, payload)
		}
	}
}

// Recorder keeps every published event in order. It is used where a caller
// wants the full progress sequence of a run, such as tests and the CLI.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

// Recorded is one captured event.
type Recorded struct {
	Type    EventType
	Payload Payload
}

// Publish implements Publisher.
func (r *Recorder) Publish(eventType EventType, payload Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Type: eventType, Payload: payload})
}

// Types returns the captured event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Events returns a copy of the captured events.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.events...)
}
