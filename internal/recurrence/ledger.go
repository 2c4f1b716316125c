/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package recurrence

import (
	"sort"
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/tz"
)

// Ledger tracks existing and planned starts per habit for one run so the
// evaluator can see schedule anchors and virtual completions.
type Ledger struct {
	zone   tz.Zone
	starts map[string][]time.Time
}

// NewLedger constructs an empty ledger.
func NewLedger(zone tz.Zone) *Ledger {
	return &Ledger{zone: zone, starts: make(map[string][]time.Time)}
}

// Add records a start for a habit.
func (l *Ledger) Add(habitID string, start time.Time) {
	list := append(l.starts[habitID], start)
	sort.Slice(list, func(i, j int) bool { return list[i].Before(list[j]) })
	l.starts[habitID] = list
}

// Last returns the latest start on or before the target's calendar day.
func (l *Ledger) Last(habitID string, target time.Time) *time.Time {
	var found *time.Time
	for i := range l.starts[habitID] {
		s := l.starts[habitID][i]
		if l.zone.DayDiff(s, target) >= 0 {
			found = &s
		}
	}
	return found
}

// Next returns the earliest start after the target's calendar day.
func (l *Ledger) Next(habitID string, target time.Time) *time.Time {
	for i := range l.starts[habitID] {
		s := l.starts[habitID][i]
		if l.zone.DayDiff(target, s) > 0 {
			return &s
		}
	}
	return nil
}

// Evaluate runs the evaluator for a habit on target using the ledger's anchors.
func (l *Ledger) Evaluate(h models.Habit, target time.Time) Result {
	return Evaluate(Input{
		Habit:              h,
		Target:             target,
		Zone:               l.zone,
		LastScheduledStart: l.Last(h.ID, target),
		NextScheduledStart: l.Next(h.ID, target),
	})
}
