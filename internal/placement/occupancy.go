/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package placement

import (
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/tz"
)

// Kind classifies an occupied block by what it may overlap.
type Kind int

const (
	KindProject Kind = iota
	KindHabit
	KindSync
)

// KindOf returns the block kind of an item.
func KindOf(item models.Item) Kind {
	switch v := item.(type) {
	case *models.ProjectItem:
		return KindProject
	case *models.HabitItem:
		if v.Habit.IsSync() {
			return KindSync
		}
	}
	return KindHabit
}

// KindOfInstance returns the block kind of a persisted instance.
func KindOfInstance(inst models.ScheduleInstance, syncHabits map[string]bool) Kind {
	if inst.SourceType == models.SourceProject {
		return KindProject
	}
	if syncHabits[inst.SourceID] {
		return KindSync
	}
	return KindHabit
}

// blockedBy lists which kinds a placement of kind k may not overlap.
// Sync habits overlay other habits but never projects.
func blockedBy(k Kind) []Kind {
	switch k {
	case KindProject:
		return []Kind{KindProject, KindHabit, KindSync}
	case KindSync:
		return []Kind{KindProject}
	}
	return []Kind{KindProject, KindHabit}
}

// Occupancy holds the merged busy intervals per local day and kind.
// It belongs to one run.
type Occupancy struct {
	zone tz.Zone
	days map[string]map[Kind]*Set
}

// NewOccupancy constructs an empty occupancy map.
func NewOccupancy(zone tz.Zone) *Occupancy {
	return &Occupancy{zone: zone, days: make(map[string]map[Kind]*Set)}
}

// Register records [start, end) under every local day it touches.
func (o *Occupancy) Register(kind Kind, start, end time.Time) {
	if !end.After(start) {
		return
	}
	iv := Interval{Start: start, End: end}
	for _, key := range o.dayKeys(start, end) {
		byKind, ok := o.days[key]
		if !ok {
			byKind = make(map[Kind]*Set)
			o.days[key] = byKind
		}
		set, ok := byKind[kind]
		if !ok {
			set = &Set{}
			byKind[kind] = set
		}
		set.Add(iv)
	}
}

// Blocking returns the merged intervals inside [start, end) that a
// placement of kind may not overlap.
func (o *Occupancy) Blocking(kind Kind, start, end time.Time) []Interval {
	var out []Interval
	for _, key := range o.dayKeys(start, end) {
		byKind := o.days[key]
		if byKind == nil {
			continue
		}
		for _, k := range blockedBy(kind) {
			if set := byKind[k]; set != nil {
				out = append(out, set.Overlapping(start, end)...)
			}
		}
	}
	return Merge(out)
}

// Day returns every busy interval registered on a local day, all kinds merged.
func (o *Occupancy) Day(key string) []Interval {
	var out []Interval
	for _, set := range o.days[key] {
		out = append(out, set.Intervals()...)
	}
	return Merge(out)
}

// Free reports whether [start, end) is clear for a placement of kind.
func (o *Occupancy) Free(kind Kind, start, end time.Time) bool {
	return len(o.Blocking(kind, start, end)) == 0
}

func (o *Occupancy) dayKeys(start, end time.Time) []string {
	var keys []string
	last := end.Add(-time.Nanosecond)
	for d := o.zone.StartOfDay(start); !d.After(last); d = o.zone.AddDays(d, 1) {
		keys = append(keys, o.zone.DateKey(d))
	}
	return keys
}
