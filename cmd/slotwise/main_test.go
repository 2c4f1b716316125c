/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/repository"
	"github.com/friendsincode/slotwise/internal/scheduler"
	"github.com/friendsincode/slotwise/internal/trace"
	"github.com/friendsincode/slotwise/internal/tz"
)

func TestParseAt(t *testing.T) {
	ref := time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{"empty keeps reference", "", ref},
		{"rfc3339", "2026-07-01T09:30:00Z", time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)},
		{"local minute", "2026-07-01 09:30", time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)},
		{"date only", "2026-07-01", time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAt(tt.value, ref, tz.UTC)
			if err != nil {
				t.Fatalf("parseAt: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("parseAt(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseAtNaturalLanguage(t *testing.T) {
	ref := time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)
	got, err := parseAt("tomorrow", ref, tz.UTC)
	if err != nil {
		t.Fatalf("parseAt: %v", err)
	}
	if tz.UTC.DateKey(got) != "2026-06-11" {
		t.Fatalf("tomorrow = %v", got)
	}
}

type fixedSettings struct {
	settings models.UserSettings
	calls    int
}

func (f *fixedSettings) FetchUserSettings(context.Context, string) (models.UserSettings, error) {
	f.calls++
	return f.settings, nil
}

var _ repository.SettingsReader = (*fixedSettings)(nil)

func TestUserZoneOverride(t *testing.T) {
	tests := []struct {
		name     string
		override string
		want     string
	}{
		{"known zone", "Europe/Berlin", "Europe/Berlin"},
		{"unknown zone falls back to UTC", "Mars/Olympus_Mons", "UTC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := &fixedSettings{settings: models.UserSettings{Timezone: "America/New_York"}}
			zone, err := userZone(context.Background(), settings, "u1", tt.override)
			if err != nil {
				t.Fatalf("userZone: %v", err)
			}
			if zone.Name() != tt.want {
				t.Fatalf("zone = %s, want %s", zone.Name(), tt.want)
			}
			if settings.calls != 0 {
				t.Fatalf("override should skip stored settings, got %d calls", settings.calls)
			}
		})
	}
}

func TestUserZoneStoredSetting(t *testing.T) {
	settings := &fixedSettings{settings: models.UserSettings{Timezone: "America/New_York"}}
	zone, err := userZone(context.Background(), settings, "u1", "")
	if err != nil {
		t.Fatalf("userZone: %v", err)
	}
	if zone.Name() != "America/New_York" {
		t.Fatalf("zone = %s", zone.Name())
	}
}

func TestPrintResult(t *testing.T) {
	collector := trace.New(0)
	collector.Record("p1", "PROJECT", "schedule-projects", trace.OutcomePlaced, "", "placed in w1", nil)
	res := &scheduler.RunResult{
		RunID:    "r1",
		UserID:   "u1",
		Mode:     models.ModeRegular,
		Timezone: "UTC",
		DryRun:   true,
		Placed: []models.ScheduleInstance{{
			SourceType: models.SourceProject, SourceID: "p1",
			StartUTC: time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC),
			EndUTC:   time.Date(2026, 6, 10, 10, 0, 0, 0, time.UTC),
		}},
		Failures: []models.ScheduleFailure{{ItemID: "p2", SourceType: models.SourceProject, Reason: models.ReasonNoWindow}},
		Trace:    collector,
	}

	var buf bytes.Buffer
	printResult(&buf, res, tz.UTC, "p1", true)
	out := buf.String()
	for _, want := range []string{
		"[dry-run] run r1 for u1 (REGULAR, UTC)",
		"placed: 1",
		"failed: 1",
		"2026-06-10 Wed 09:00-10:00 PROJECT p1",
		"failed PROJECT p2: NO_WINDOW",
		"trace for p1:",
		"placed in w1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
