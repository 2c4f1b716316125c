/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package constraints

import (
	"testing"
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/tz"
)

func boolPtr(v bool) *bool { return &v }

func TestCheckAllowLists(t *testing.T) {
	habit := &models.HabitItem{Habit: models.Habit{ID: "h", HabitType: models.HabitTypeChore, SkillID: "s1", MonumentID: "m1"}}
	project := &models.ProjectItem{Project: models.Project{ID: "p", MonumentID: "m2"}, SkillIDs: []string{"s2"}}

	tests := []struct {
		name   string
		item   models.Item
		window models.Window
		want   Rejection
	}{
		{"unrestricted window", habit, models.Window{}, RejectNone},
		{"allow all flags", habit, models.Window{AllowAllHabitTypes: boolPtr(true), AllowAllSkills: boolPtr(true)}, RejectNone},
		{"habit type listed case-insensitively", habit, models.Window{AllowAllHabitTypes: boolPtr(false), AllowedHabitTypes: []string{"chore"}}, RejectNone},
		{"habit type not listed", habit, models.Window{AllowAllHabitTypes: boolPtr(false), AllowedHabitTypes: []string{"HABIT"}}, RejectHabitType},
		{"restricted with empty set fails closed", habit, models.Window{AllowAllSkills: boolPtr(false)}, RejectSkill},
		{"project presents PROJECT type", project, models.Window{AllowAllHabitTypes: boolPtr(false), AllowedHabitTypes: []string{"PROJECT"}}, RejectNone},
		{"project skill intersect", project, models.Window{AllowAllSkills: boolPtr(false), AllowedSkillIDs: []string{"s9", "s2"}}, RejectNone},
		{"monument mismatch", project, models.Window{AllowAllMonuments: boolPtr(false), AllowedMonumentIDs: []string{"m1"}}, RejectMonument},
		{"item without monument on restricted window", &models.HabitItem{Habit: models.Habit{ID: "bare"}}, models.Window{AllowAllMonuments: boolPtr(false), AllowedMonumentIDs: []string{"m1"}}, RejectMonument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Check(tt.item, tt.window); got != tt.want {
				t.Fatalf("Check = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocationAndEnergy(t *testing.T) {
	gym := &models.HabitItem{Habit: models.Habit{ID: "h", LocationContext: "Gym", EnergyLevel: models.EnergyHigh}}
	anywhere := &models.HabitItem{Habit: models.Habit{ID: "h2", EnergyLevel: models.EnergyLow}}

	home := models.Window{LocationContextValue: "home", EnergyLevel: models.EnergyUltra}
	gymWindow := models.Window{LocationContextName: "gym", EnergyLevel: models.EnergyHigh}

	if LocationMatches(gym, home) || !LocationMatches(gym, gymWindow) {
		t.Fatal("location matching broken")
	}
	if LocationMatches(gym, models.Window{}) {
		t.Fatal("item with location must not use an unlocated window")
	}
	if !LocationMatches(anywhere, home) {
		t.Fatal("item without location may use any window")
	}

	if !EnergyFits(gym, gymWindow, nil) {
		t.Fatal("HIGH window should fit HIGH item")
	}
	low := models.EnergyLow
	if EnergyFits(gym, gymWindow, &low) {
		t.Fatal("capped window should not fit HIGH item")
	}
	if got := Eligible(gym, home, nil); got != RejectLocation {
		t.Fatalf("Eligible = %q, want location", got)
	}
	if got := Eligible(anywhere, home, &low); got != RejectNone {
		t.Fatalf("Eligible = %q, want none", got)
	}
}

func TestNarrowDaylightFallback(t *testing.T) {
	sun := NewSun(tz.UTC, nil, nil, 6*time.Hour, 18*time.Hour)
	day := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return day.Add(time.Duration(h) * time.Hour) }

	start, end, ok := sun.Narrow(models.DaylightDay, models.AnchorFront, at(4), at(10))
	if !ok || !start.Equal(at(6)) || !end.Equal(at(10)) {
		t.Fatalf("DAY narrow = %v-%v ok=%v", start, end, ok)
	}

	// 16:00 to 08:00 next day holds one night span, 18:00 to 06:00.
	start, end, ok = sun.Narrow(models.DaylightNight, models.AnchorFront, at(16), at(32))
	if !ok || !start.Equal(at(18)) || !end.Equal(at(30)) {
		t.Fatalf("NIGHT front narrow = %v-%v ok=%v", start, end, ok)
	}

	// 04:00-20:00 has a morning night piece and an evening one.
	start, end, ok = sun.Narrow(models.DaylightNight, models.AnchorBack, at(4), at(20))
	if !ok || !start.Equal(at(18)) || !end.Equal(at(20)) {
		t.Fatalf("NIGHT back narrow = %v-%v ok=%v", start, end, ok)
	}
	start, end, ok = sun.Narrow(models.DaylightNight, models.AnchorFront, at(4), at(20))
	if !ok || !start.Equal(at(4)) || !end.Equal(at(6)) {
		t.Fatalf("NIGHT front narrow = %v-%v ok=%v", start, end, ok)
	}

	if _, _, ok := sun.Narrow(models.DaylightNight, models.AnchorFront, at(9), at(12)); ok {
		t.Fatal("midday window should have no night range")
	}
	if s, e, ok := sun.Narrow(models.DaylightAny, models.AnchorFront, at(9), at(12)); !ok || !s.Equal(at(9)) || !e.Equal(at(12)) {
		t.Fatal("no preference should leave range untouched")
	}
}

func TestSunTimesWithCoordinates(t *testing.T) {
	lat, lon := 51.5, -0.12
	sun := NewSun(tz.Load("Europe/London"), &lat, &lon, 0, 0)
	rise, set := sun.Times(time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC))
	if !set.After(rise) {
		t.Fatalf("sunset %v should follow sunrise %v", set, rise)
	}
	if d := set.Sub(rise); d < 15*time.Hour || d > 18*time.Hour {
		t.Fatalf("London midsummer daylight = %v", d)
	}
}
