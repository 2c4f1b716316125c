/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "testing"

func TestBusDeliversAndDropsWhenFull(t *testing.T) {
	bus := NewBus()
	sub := bus.SubscribeBuffered(EventRunComplete, 1)

	bus.Publish(EventRunComplete, Payload{"placed": 3})
	bus.Publish(EventRunComplete, Payload{"placed": 4})

	got := <-sub
	if got["placed"] != 3 {
		t.Fatalf("payload = %v", got)
	}
	select {
	case extra := <-sub:
		t.Fatalf("full subscriber should drop, got %v", extra)
	default:
	}

	bus.Unsubscribe(EventRunComplete, sub)
	if _, ok := <-sub; ok {
		t.Fatal("unsubscribe should close the channel")
	}
	bus.Publish(EventRunComplete, Payload{})
}

func TestMultiAndRecorder(t *testing.T) {
	rec := &Recorder{}
	bus := NewBus()
	sub := bus.Subscribe(EventRunStart)
	m := Multi{rec, nil, bus}

	m.Publish(EventRunStart, Payload{"run_id": "r1"})
	m.Publish(EventRunComplete, nil)

	types := rec.Types()
	if len(types) != 2 || types[0] != EventRunStart || types[1] != EventRunComplete {
		t.Fatalf("recorded = %v", types)
	}
	if p := <-sub; p["run_id"] != "r1" {
		t.Fatalf("bus payload = %v", p)
	}
}
