/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package recurrence

import (
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/teambition/rrule-go"
)

var rruleWeekdays = []rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// RRule renders a habit's recurrence as an RFC 5545 rule starting at dtstart.
// Chores and one-off habits have no calendar rule and return false.
func RRule(h models.Habit, dtstart time.Time) (*rrule.ROption, bool) {
	if h.NextDueOverride != nil {
		return nil, false
	}
	kind := models.ParseRecurrence(string(h.Recurrence))
	if kind == models.RecurrenceNone || (h.IsChore() && !cycleFor(h).zero()) {
		return nil, false
	}

	opt := &rrule.ROption{Dtstart: dtstart, Interval: 1}
	switch kind {
	case models.RecurrenceWeekly:
		opt.Freq = rrule.WEEKLY
	case models.RecurrenceBiWeekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = 2
	case models.RecurrenceMonthly:
		opt.Freq = rrule.MONTHLY
	case models.RecurrenceBiMonthly:
		opt.Freq = rrule.MONTHLY
		opt.Interval = 2
	case models.RecurrenceSixMonthly:
		opt.Freq = rrule.MONTHLY
		opt.Interval = 6
	case models.RecurrenceYearly:
		opt.Freq = rrule.YEARLY
	case models.RecurrenceEveryNDays:
		opt.Freq = rrule.DAILY
		if h.IntervalDays > 1 {
			opt.Interval = h.IntervalDays
		}
	default:
		opt.Freq = rrule.DAILY
	}

	for _, d := range h.RecurrenceDays {
		if d >= 0 && d < len(rruleWeekdays) {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
		}
	}
	if opt.Freq == rrule.MONTHLY && len(opt.Byweekday) > 0 {
		// Matching weekdays within the first seven days of the month.
		opt.Bymonthday = []int{1, 2, 3, 4, 5, 6, 7}
	}
	return opt, true
}
