/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package constraints decides which windows an item may use and narrows a
// window's usable range for location and daylight preferences.
package constraints

import (
	"strings"

	"github.com/friendsincode/slotwise/internal/models"
)

// Rejection names the dimension that excluded a window.
type Rejection string

const (
	RejectNone      Rejection = ""
	RejectHabitType Rejection = "habit_type"
	RejectSkill     Rejection = "skill"
	RejectMonument  Rejection = "monument"
	RejectLocation  Rejection = "location"
	RejectEnergy    Rejection = "energy"
	RejectDaylight  Rejection = "daylight"
)

// Passes reports whether the window's allow-lists admit the item.
func Passes(item models.Item, w models.Window) bool {
	return Check(item, w) == RejectNone
}

// Check returns the first allow-list dimension that rejects the item.
// A restricted dimension with an empty allow-set always rejects.
func Check(item models.Item, w models.Window) Rejection {
	if !dimensionAllows(w.AllowAllHabitTypes, w.AllowedHabitTypes, models.HabitTypes(item), true) {
		return RejectHabitType
	}
	if !dimensionAllows(w.AllowAllSkills, w.AllowedSkillIDs, models.SkillIDs(item), false) {
		return RejectSkill
	}
	if !dimensionAllows(w.AllowAllMonuments, w.AllowedMonumentIDs, models.MonumentIDs(item), false) {
		return RejectMonument
	}
	return RejectNone
}

// dimensionAllows treats a nil allow-all flag as unrestricted.
func dimensionAllows(allowAll *bool, allowed, candidates []string, foldCase bool) bool {
	if allowAll == nil || *allowAll {
		return true
	}
	if len(allowed) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(allowed))
	for _, v := range allowed {
		set[normalize(v, foldCase)] = struct{}{}
	}
	for _, c := range candidates {
		if _, ok := set[normalize(c, foldCase)]; ok {
			return true
		}
	}
	return false
}

func normalize(v string, foldCase bool) string {
	v = strings.TrimSpace(v)
	if foldCase {
		return strings.ToUpper(v)
	}
	return v
}

// LocationMatches reports whether a window satisfies an item's location
// context. Items without a location may use any window.
func LocationMatches(item models.Item, w models.Window) bool {
	want := models.LocationContext(item)
	if want == "" {
		return true
	}
	if !w.HasLocation() {
		return false
	}
	return strings.EqualFold(want, strings.TrimSpace(w.LocationContextValue)) ||
		strings.EqualFold(want, strings.TrimSpace(w.LocationContextName))
}

// EffectiveEnergy applies an optional cap to a window's energy.
func EffectiveEnergy(w models.Window, limit *models.Energy) models.Energy {
	energy := w.EnergyLevel.Normalize()
	if limit != nil {
		return models.MinEnergy(energy, *limit)
	}
	return energy
}

// EnergyFits reports whether the window's effective energy covers the item.
func EnergyFits(item models.Item, w models.Window, limit *models.Energy) bool {
	return EffectiveEnergy(w, limit).Satisfies(item.RequiredEnergy())
}

// Eligible runs every window-level check that does not depend on time.
func Eligible(item models.Item, w models.Window, limit *models.Energy) Rejection {
	if r := Check(item, w); r != RejectNone {
		return r
	}
	if !LocationMatches(item, w) {
		return RejectLocation
	}
	if !EnergyFits(item, w, limit) {
		return RejectEnergy
	}
	return RejectNone
}
