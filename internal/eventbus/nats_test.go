/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"errors"
	"testing"

	"github.com/friendsincode/slotwise/internal/events"
	"github.com/rs/zerolog"
)

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return f.err
}

func TestPublishFansOutLocallyAndToNATS(t *testing.T) {
	out := &fakePublisher{}
	bus := newNATSBus(out, "slotwise.runs.", zerolog.Nop())
	sub := bus.Subscribe(events.EventRunComplete)

	bus.Publish(events.EventRunComplete, events.Payload{"run_id": "r1", "placed": 2})

	if p := <-sub; p["run_id"] != "r1" {
		t.Fatalf("local payload = %v", p)
	}
	if len(out.subjects) != 1 || out.subjects[0] != "slotwise.runs.run.complete" {
		t.Fatalf("subjects = %v", out.subjects)
	}
	msg, err := unmarshalNATSMessage(out.payloads[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.EventType != events.EventRunComplete || msg.NodeID != bus.nodeID || msg.MessageID == "" {
		t.Fatalf("message = %+v", msg)
	}
	if msg.Payload["placed"] != float64(2) {
		t.Fatalf("payload should survive JSON, got %v", msg.Payload)
	}
}

func TestPublishFailureDoesNotBlockLocalDelivery(t *testing.T) {
	out := &fakePublisher{err: errors.New("nats: connection closed")}
	bus := newNATSBus(out, "", zerolog.Nop())
	sub := bus.Subscribe(events.EventRunError)
	bus.Publish(events.EventRunError, events.Payload{"stage": "fetch-inputs"})
	if p := <-sub; p["stage"] != "fetch-inputs" {
		t.Fatalf("payload = %v", p)
	}
	if bus.Subject(events.EventRunError) != "slotwise.runs.run.error" {
		t.Fatalf("default subject = %q", bus.Subject(events.EventRunError))
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := unmarshalNATSMessage([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := unmarshalNATSMessage([]byte(`{"payload":{}}`)); err == nil {
		t.Fatal("expected missing type error")
	}
}

func TestListenRequiresConnection(t *testing.T) {
	bus := newNATSBus(&fakePublisher{}, "x", zerolog.Nop())
	if err := bus.Listen(); err == nil {
		t.Fatal("expected error without a connection")
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
