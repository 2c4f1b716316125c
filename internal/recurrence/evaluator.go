/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package recurrence decides whether a habit is due on a calendar day.
package recurrence

import (
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/tz"
)

// Diagnostic tags. Callers must not branch on them.
const (
	TagOverrideFuture    = "override-future"
	TagOverrideReached   = "override-reached"
	TagAlreadyScheduled  = "already-scheduled"
	TagCompletedToday    = "completed-today"
	TagChoreFirst        = "chore-first"
	TagChoreDue          = "chore-due"
	TagChoreWaiting      = "chore-waiting"
	TagDaily             = "daily"
	TagWeekdayExcluded   = "weekday-excluded"
	TagCycleMatch        = "cycle-match"
	TagCycleMiss         = "cycle-miss"
	TagVirtualCompletion = "virtual-completion"
	TagBeforeAnchor      = "before-anchor"
	TagOneOff            = "one-off"
	TagOneOffDone        = "one-off-done"
)

// Input is everything the evaluator needs for one habit on one day.
type Input struct {
	Habit  models.Habit
	Target time.Time
	Zone   tz.Zone
	// LastScheduledStart is the latest existing or planned start on or
	// before the target day.
	LastScheduledStart *time.Time
	// NextScheduledStart is the earliest existing start after the target day.
	NextScheduledStart *time.Time
}

// Result is the evaluator's decision.
type Result struct {
	Due      bool
	DueStart *time.Time
	Tag      string
}

type cycle struct {
	days   int
	months int
}

func (c cycle) zero() bool { return c.days == 0 && c.months == 0 }

func (c cycle) advance(zone tz.Zone, t time.Time) time.Time {
	if c.months > 0 {
		return zone.AddMonths(t, c.months)
	}
	return zone.AddDays(t, c.days)
}

// cycleFor returns the repeat length of a recurrence kind. Daily and
// one-off kinds have no cycle.
func cycleFor(h models.Habit) cycle {
	switch models.ParseRecurrence(string(h.Recurrence)) {
	case models.RecurrenceWeekly:
		return cycle{days: 7}
	case models.RecurrenceBiWeekly:
		return cycle{days: 14}
	case models.RecurrenceMonthly:
		return cycle{months: 1}
	case models.RecurrenceBiMonthly:
		return cycle{months: 2}
	case models.RecurrenceSixMonthly:
		return cycle{months: 6}
	case models.RecurrenceYearly:
		return cycle{months: 12}
	case models.RecurrenceEveryNDays:
		if h.IntervalDays > 1 {
			return cycle{days: h.IntervalDays}
		}
	}
	return cycle{}
}

// Evaluate applies the due rules in priority order:
// override, already scheduled, completed today, chore interval, daily,
// calendar cycle.
func Evaluate(in Input) Result {
	zone := in.Zone
	h := in.Habit
	target := zone.StartOfDay(in.Target)
	due := func(tag string) Result {
		start := target
		return Result{Due: true, DueStart: &start, Tag: tag}
	}
	notDue := func(tag string) Result {
		return Result{Tag: tag}
	}

	if h.NextDueOverride != nil {
		if zone.DayDiff(target, *h.NextDueOverride) > 0 {
			return notDue(TagOverrideFuture)
		}
		return due(TagOverrideReached)
	}

	if in.LastScheduledStart != nil && zone.SameDay(*in.LastScheduledStart, target) {
		return notDue(TagAlreadyScheduled)
	}
	if h.LastCompletedAt != nil && zone.SameDay(*h.LastCompletedAt, target) {
		return notDue(TagCompletedToday)
	}

	kind := models.ParseRecurrence(string(h.Recurrence))
	c := cycleFor(h)

	if h.IsChore() && !c.zero() {
		base := latest(h.LastCompletedAt, in.LastScheduledStart)
		if base == nil {
			return due(TagChoreFirst)
		}
		next := zone.StartOfDay(c.advance(zone, *base))
		if zone.DayDiff(next, target) >= 0 {
			return due(TagChoreDue)
		}
		return notDue(TagChoreWaiting)
	}

	weekday := zone.Weekday(target)
	switch {
	case kind == models.RecurrenceNone:
		if in.LastScheduledStart != nil || h.LastCompletedAt != nil || in.NextScheduledStart != nil {
			return notDue(TagOneOffDone)
		}
		return due(TagOneOff)
	case c.zero():
		// Daily, every-1-day and unrecognised kinds.
		if !weekdayAllowed(h.RecurrenceDays, weekday) {
			return notDue(TagWeekdayExcluded)
		}
		return due(TagDaily)
	}

	anchor := h.CreatedAt
	if in.LastScheduledStart != nil {
		anchor = *in.LastScheduledStart
	}
	if anchor.IsZero() {
		anchor = target
	}
	if zone.DayDiff(anchor, target) < 0 {
		return notDue(TagBeforeAnchor)
	}

	if !cycleMatches(zone, kind, c, h.RecurrenceDays, anchor, target) {
		if len(h.RecurrenceDays) > 0 && !weekdayAllowed(h.RecurrenceDays, weekday) {
			return notDue(TagWeekdayExcluded)
		}
		return notDue(TagCycleMiss)
	}

	// An instance already placed later in this cycle counts as done.
	if in.NextScheduledStart != nil {
		cycleEnd := zone.StartOfDay(c.advance(zone, target))
		if zone.DayDiff(*in.NextScheduledStart, cycleEnd) > 0 && len(h.RecurrenceDays) == 0 {
			return notDue(TagVirtualCompletion)
		}
	}
	return due(TagCycleMatch)
}

func cycleMatches(zone tz.Zone, kind models.RecurrenceKind, c cycle, days []int, anchor, target time.Time) bool {
	weekday := zone.Weekday(target)
	if c.months > 0 {
		if zone.MonthDiff(anchor, target)%c.months != 0 {
			return false
		}
		if len(days) > 0 {
			// First matching weekday of the month.
			return weekdayAllowed(days, weekday) && zone.Parts(target).Day <= 7
		}
		ap, tp := zone.Parts(anchor), zone.Parts(target)
		want := ap.Day
		if last := tz.DaysIn(tp.Year, tp.Month); want > last {
			want = last
		}
		return tp.Day == want
	}

	if len(days) > 0 && (kind == models.RecurrenceWeekly || kind == models.RecurrenceBiWeekly) {
		if !weekdayAllowed(days, weekday) {
			return false
		}
		weeks := c.days / 7
		return weekIndex(zone, anchor, target)%weeks == 0
	}
	if len(days) > 0 && !weekdayAllowed(days, weekday) {
		return false
	}
	return zone.DayDiff(anchor, target)%c.days == 0
}

// weekIndex counts Sunday-started calendar weeks from anchor to target.
func weekIndex(zone tz.Zone, anchor, target time.Time) int {
	a := zone.AddDays(zone.StartOfDay(anchor), -zone.Weekday(anchor))
	b := zone.AddDays(zone.StartOfDay(target), -zone.Weekday(target))
	return zone.DayDiff(a, b) / 7
}

func weekdayAllowed(days []int, weekday int) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if d == weekday {
			return true
		}
	}
	return false
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	}
	return a
}
