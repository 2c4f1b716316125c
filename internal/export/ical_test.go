/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	ical "github.com/emersion/go-ical"

	"github.com/friendsincode/slotwise/internal/models"
)

func day(d, hour int) time.Time {
	return time.Date(2026, 6, d, hour, 0, 0, 0, time.UTC)
}

func fixture() Input {
	instances := []models.ScheduleInstance{
		{ID: "p-1", SourceType: models.SourceProject, SourceID: "p1", StartUTC: day(10, 9), EndUTC: day(10, 10), DurationMin: 60, Status: models.StatusScheduled},
		{ID: "h-1", SourceType: models.SourceHabit, SourceID: "h1", StartUTC: day(10, 7), EndUTC: day(10, 7).Add(15 * time.Minute), DurationMin: 15, Status: models.StatusCompleted},
		{ID: "h-2", SourceType: models.SourceHabit, SourceID: "h1", StartUTC: day(11, 7), EndUTC: day(11, 7).Add(15 * time.Minute), DurationMin: 15, Status: models.StatusScheduled},
		{ID: "x", SourceType: models.SourceProject, SourceID: "p2", StartUTC: day(11, 9), EndUTC: day(11, 10), DurationMin: 60, Status: models.StatusCanceled},
	}
	return Input{
		Instances: instances,
		Projects:  map[string]models.Project{"p1": {ID: "p1", Name: "Write report"}},
		Habits:    map[string]models.Habit{"h1": {ID: "h1", Name: "Stretch", Recurrence: models.RecurrenceDaily}},
		Now:       day(10, 6),
	}
}

func decodeEvents(t *testing.T, data []byte) []ical.Event {
	t.Helper()
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var out []ical.Event
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			out = append(out, ical.Event{Component: child})
		}
	}
	return out
}

func TestWriteOneEventPerInstance(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, fixture()); err != nil {
		t.Fatalf("write: %v", err)
	}
	events := decodeEvents(t, buf.Bytes())
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3 (canceled left out)", len(events))
	}

	first := events[0]
	summary, _ := first.Props.Text(ical.PropSummary)
	if summary != "Stretch" {
		t.Fatalf("first summary = %q, want Stretch", summary)
	}
	start, err := first.DateTimeStart(nil)
	if err != nil || !start.Equal(day(10, 7)) {
		t.Fatalf("first start = %v (%v)", start, err)
	}
	if strings.Contains(buf.String(), "RRULE") {
		t.Fatalf("per-instance export must not carry rules")
	}
	if !strings.Contains(buf.String(), "Write report") {
		t.Fatalf("project name missing from feed")
	}
}

func TestWriteHabitSeries(t *testing.T) {
	in := fixture()
	in.HabitSeries = true
	var buf bytes.Buffer
	if err := Write(&buf, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	events := decodeEvents(t, buf.Bytes())
	if len(events) != 2 {
		t.Fatalf("events = %d, want project plus one habit series", len(events))
	}
	if !strings.Contains(buf.String(), "RRULE:FREQ=DAILY") {
		t.Fatalf("habit series missing daily rule:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "UID:habit-h1@slotwise") {
		t.Fatalf("habit series uid missing")
	}
}

func TestSummaryFallsBackToSource(t *testing.T) {
	inst := models.ScheduleInstance{SourceType: models.SourceProject, SourceID: "unknown"}
	if got := summary(inst, Input{}); got != "PROJECT unknown" {
		t.Fatalf("summary = %q", got)
	}
}
