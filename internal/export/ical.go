/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package export renders placed schedule instances as iCalendar feeds.
package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	ical "github.com/emersion/go-ical"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/recurrence"
	"github.com/friendsincode/slotwise/internal/repository"
	"github.com/friendsincode/slotwise/internal/tz"
)

const productID = "-//Friends Incode//slotwise//EN"

// Input is everything one calendar is built from.
type Input struct {
	Instances []models.ScheduleInstance
	Projects  map[string]models.Project
	Habits    map[string]models.Habit
	Now       time.Time
	// HabitSeries folds each habit into one recurring event anchored at its
	// first instance. Habits without a calendar rule stay as single events.
	HabitSeries bool
}

// Build assembles the calendar. Canceled instances are left out.
func Build(in Input) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	stamp := in.Now
	if stamp.IsZero() {
		stamp = time.Now()
	}
	stamp = stamp.UTC()

	instances := make([]models.ScheduleInstance, 0, len(in.Instances))
	for _, inst := range in.Instances {
		if inst.Status != models.StatusCanceled {
			instances = append(instances, inst)
		}
	}
	sort.Slice(instances, func(i, j int) bool {
		if !instances[i].StartUTC.Equal(instances[j].StartUTC) {
			return instances[i].StartUTC.Before(instances[j].StartUTC)
		}
		return instances[i].ID < instances[j].ID
	})

	series := make(map[string]bool)
	for _, inst := range instances {
		event := newEvent(inst, stamp, summary(inst, in))
		if in.HabitSeries && inst.SourceType == models.SourceHabit {
			if series[inst.SourceID] {
				continue
			}
			if h, ok := in.Habits[inst.SourceID]; ok {
				if opt, ok := recurrence.RRule(h, inst.StartUTC); ok {
					series[inst.SourceID] = true
					event.Props.SetText(ical.PropUID, "habit-"+h.ID+"@slotwise")
					rule := ical.NewProp(ical.PropRecurrenceRule)
					rule.Value = opt.RRuleString()
					event.Props.Set(rule)
				}
			}
		}
		cal.Children = append(cal.Children, event.Component)
	}
	return cal
}

func newEvent(inst models.ScheduleInstance, stamp time.Time, title string) *ical.Event {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, inst.ID+"@slotwise")
	event.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
	event.Props.SetDateTime(ical.PropDateTimeStart, inst.StartUTC.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, inst.EndUTC.UTC())
	event.Props.SetText(ical.PropSummary, title)
	event.Props.SetText(ical.PropCategories, string(inst.SourceType))
	if inst.Status == models.StatusCompleted {
		event.Props.SetText(ical.PropStatus, "CONFIRMED")
	} else {
		event.Props.SetText(ical.PropStatus, "TENTATIVE")
	}
	desc := fmt.Sprintf("%d min, energy %s", inst.DurationMin, inst.EnergyResolved)
	if inst.Clipped {
		desc += ", clipped"
	}
	event.Props.SetText(ical.PropDescription, desc)
	return event
}

func summary(inst models.ScheduleInstance, in Input) string {
	switch inst.SourceType {
	case models.SourceProject:
		if p, ok := in.Projects[inst.SourceID]; ok && p.Name != "" {
			return p.Name
		}
	case models.SourceHabit:
		if h, ok := in.Habits[inst.SourceID]; ok && h.Name != "" {
			return h.Name
		}
	}
	return string(inst.SourceType) + " " + inst.SourceID
}

// Write encodes the calendar to w.
func Write(w io.Writer, in Input) error {
	return ical.NewEncoder(w).Encode(Build(in))
}

// Options selects what Export reads.
type Options struct {
	UserID      string
	Zone        tz.Zone
	From        time.Time
	Days        int
	HabitSeries bool
	Now         time.Time
}

// Export loads the instances of [From, From+Days) local days and writes
// them as an iCalendar feed. It returns the number of exported instances.
func Export(ctx context.Context, repo repository.Repository, opts Options, w io.Writer) (int, error) {
	days := opts.Days
	if days <= 0 {
		days = 7
	}
	start := opts.Zone.StartOfDay(opts.From)
	end := opts.Zone.AddDays(start, days)

	instances, err := repo.FetchInstancesForRange(ctx, opts.UserID, start, end)
	if err != nil {
		return 0, fmt.Errorf("fetch instances: %w", err)
	}
	projects, err := repo.FetchProjectsMap(ctx, opts.UserID)
	if err != nil {
		return 0, fmt.Errorf("fetch projects: %w", err)
	}
	habitList, err := repo.FetchHabitsForSchedule(ctx, opts.UserID)
	if err != nil {
		return 0, fmt.Errorf("fetch habits: %w", err)
	}
	habits := make(map[string]models.Habit, len(habitList))
	for _, h := range habitList {
		habits[h.ID] = h
	}

	in := Input{
		Instances:   instances,
		Projects:    projects,
		Habits:      habits,
		Now:         opts.Now,
		HabitSeries: opts.HabitSeries,
	}
	if err := Write(w, in); err != nil {
		return 0, fmt.Errorf("encode calendar: %w", err)
	}
	return len(instances), nil
}
