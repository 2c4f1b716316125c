/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "strings"

// Item is a schedulable unit: either a *ProjectItem or a *HabitItem.
// The set of implementations is closed; callers dispatch with a type switch.
type Item interface {
	ItemID() string
	Source() SourceType
	// Minutes is the requested placement length.
	Minutes() int
	RequiredEnergy() Energy
	Priority() float64
	isItem()
}

// ProjectItem is a queued project with its ready work folded in.
type ProjectItem struct {
	Project     Project
	DurationMin int
	Energy      Energy
	Weight      float64
	SkillIDs    []string
	TaskIDs     []string
	// ReuseInstanceID is set when a missed or superseded instance should be
	// rescheduled in place rather than recreated.
	ReuseInstanceID string
}

func (p *ProjectItem) ItemID() string         { return p.Project.ID }
func (p *ProjectItem) Source() SourceType     { return SourceProject }
func (p *ProjectItem) Minutes() int           { return p.DurationMin }
func (p *ProjectItem) RequiredEnergy() Energy { return p.Energy.Normalize() }
func (p *ProjectItem) Priority() float64      { return p.Weight }
func (p *ProjectItem) isItem()                {}

// HabitItem is a habit evaluated as due on some day.
type HabitItem struct {
	Habit Habit
}

func (h *HabitItem) ItemID() string { return h.Habit.ID }
func (h *HabitItem) Source() SourceType {
	return SourceHabit
}
func (h *HabitItem) Minutes() int {
	if h.Habit.DurationMin <= 0 {
		return DefaultHabitMinutes
	}
	return h.Habit.DurationMin
}
func (h *HabitItem) RequiredEnergy() Energy { return h.Habit.EnergyLevel.Normalize() }
func (h *HabitItem) Priority() float64      { return h.Habit.Weight }
func (h *HabitItem) isItem()                {}

// Placement defaults.
const (
	DefaultProjectMinutes = 60
	DefaultHabitMinutes   = 15
)

// HabitTypes returns the habit-type values an item presents to window allow-lists.
func HabitTypes(item Item) []string {
	switch v := item.(type) {
	case *ProjectItem:
		return []string{ProjectTypeTag}
	case *HabitItem:
		t := strings.ToUpper(strings.TrimSpace(string(v.Habit.HabitType)))
		if t == "" {
			t = string(HabitTypeHabit)
		}
		return []string{t}
	}
	return nil
}

// SkillIDs returns the primary and secondary skill ids of an item.
func SkillIDs(item Item) []string {
	switch v := item.(type) {
	case *ProjectItem:
		return compactIDs(v.SkillIDs...)
	case *HabitItem:
		return compactIDs(append([]string{v.Habit.SkillID}, v.Habit.SkillIDs...)...)
	}
	return nil
}

// MonumentIDs returns the primary and secondary monument ids of an item.
func MonumentIDs(item Item) []string {
	switch v := item.(type) {
	case *ProjectItem:
		return compactIDs(v.Project.MonumentID)
	case *HabitItem:
		return compactIDs(append([]string{v.Habit.MonumentID}, v.Habit.MonumentIDs...)...)
	}
	return nil
}

// LocationContext returns the location an item requires, if any.
func LocationContext(item Item) string {
	if h, ok := item.(*HabitItem); ok {
		return strings.TrimSpace(h.Habit.LocationContext)
	}
	return ""
}

// Daylight returns the daylight preference of an item.
func Daylight(item Item) DaylightPreference {
	if h, ok := item.(*HabitItem); ok {
		switch DaylightPreference(strings.ToUpper(strings.TrimSpace(string(h.Habit.Daylight)))) {
		case DaylightDay:
			return DaylightDay
		case DaylightNight:
			return DaylightNight
		}
	}
	return DaylightAny
}

// Anchor returns the window edge an item prefers.
func Anchor(item Item) AnchorPreference {
	if h, ok := item.(*HabitItem); ok && strings.EqualFold(string(h.Habit.Anchor), string(AnchorBack)) {
		return AnchorBack
	}
	return AnchorFront
}

// IsSyncItem reports whether an item may overlap other habits.
func IsSyncItem(item Item) bool {
	h, ok := item.(*HabitItem)
	return ok && h.Habit.IsSync()
}

func compactIDs(ids ...string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
