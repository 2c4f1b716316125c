/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package windows resolves recurring availability windows into concrete
// instants for a calendar day.
package windows

import (
	"sort"
	"strings"
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/tz"
)

// Occurrence is one window resolved onto a calendar day.
type Occurrence struct {
	Window models.Window
	// Key identifies the physical window instance: the window id plus its
	// resolved start. A carryover and the previous day's own occurrence share it.
	Key string
	// Start and End bound the usable range on the requested day.
	Start time.Time
	End   time.Time
	// OpenedAt is the unclipped resolved start.
	OpenedAt    time.Time
	FromPrevDay bool
}

// Duration returns the usable length of the occurrence.
func (o Occurrence) Duration() time.Duration {
	return o.End.Sub(o.Start)
}

// OccurrenceKey builds the availability key for a window opening at start.
func OccurrenceKey(windowID string, start time.Time) string {
	return windowID + "@" + start.UTC().Format(time.RFC3339)
}

// Applicable selects the windows that apply on day: explicit overrides for
// the date replace the recurring pattern entirely.
func Applicable(all []models.Window, day time.Time, zone tz.Zone) []models.Window {
	key := zone.DateKey(day)
	var overrides, recurring []models.Window
	weekday := zone.Weekday(day)
	for _, w := range all {
		if w.OnDate != nil {
			if strings.TrimSpace(*w.OnDate) == key {
				overrides = append(overrides, w)
			}
			continue
		}
		if w.AppliesOnWeekday(weekday) {
			recurring = append(recurring, w)
		}
	}
	if len(overrides) > 0 {
		return overrides
	}
	return recurring
}

// Resolve produces the ordered occurrences valid on day. today holds the
// candidate windows for day itself and yesterday those for the previous day;
// yesterday's windows that cross midnight are carried over, clipped to start
// at local midnight. Windows with unparsable clock values are skipped.
func Resolve(day time.Time, zone tz.Zone, today, yesterday []models.Window) []Occurrence {
	dayStart := zone.StartOfDay(day)
	prevStart := zone.AddDays(dayStart, -1)
	out := make([]Occurrence, 0, len(today)+len(yesterday))

	for _, w := range Applicable(today, dayStart, zone) {
		start, end, ok := span(w, dayStart, zone)
		if !ok {
			continue
		}
		out = append(out, Occurrence{
			Window:   w,
			Key:      OccurrenceKey(w.ID, start),
			Start:    start,
			End:      end,
			OpenedAt: start,
		})
	}

	for _, w := range Applicable(yesterday, prevStart, zone) {
		start, end, ok := span(w, prevStart, zone)
		if !ok || !end.After(dayStart) {
			continue
		}
		carried := w
		carried.FromPrevDay = true
		usable := start
		if usable.Before(dayStart) {
			usable = dayStart
		}
		out = append(out, Occurrence{
			Window:      carried,
			Key:         OccurrenceKey(w.ID, start),
			Start:       usable,
			End:         end,
			OpenedAt:    start,
			FromPrevDay: true,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		if out[i].Window.ID != out[j].Window.ID {
			return out[i].Window.ID < out[j].Window.ID
		}
		return out[i].FromPrevDay && !out[j].FromPrevDay
	})
	return out
}

// span resolves a window's start and end on the day anchored at dayStart.
// An end at or before the start rolls into the next day.
func span(w models.Window, dayStart time.Time, zone tz.Zone) (time.Time, time.Time, bool) {
	startOffset, err := tz.ParseClock(w.StartLocal)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	endOffset, err := tz.ParseClock(w.EndLocal)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	start := zone.At(dayStart, startOffset)
	end := zone.At(dayStart, endOffset)
	if !end.After(start) {
		end = zone.At(dayStart, endOffset+24*time.Hour)
	}
	return start, end, true
}
