/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package seed

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/repository"
	"github.com/friendsincode/slotwise/internal/scheduler"
)

const fixtureYAML = `
user_id: u1
settings:
  timezone: UTC
windows:
  - id: morning
    label: Morning
    energy: HIGH
    start_local: "09:00"
    end_local: "12:00"
  - id: evening
    label: Evening
    energy: LOW
    start_local: "18:00"
    end_local: "20:00"
    days: [1, 2, 3, 4, 5]
projects:
  - id: report
    name: Write report
    energy: HIGH
    weight: 3
  - id: garden
    name: Garden
    energy: LOW
    duration_min: 45
skills:
  report: [writing]
tasks:
  - id: t1
    project_id: report
    name: Outline
    duration_min: 30
  - id: t2
    project_id: report
    name: Draft
    duration_min: 60
    energy: MEDIUM
habits:
  - id: stretch
    name: Stretch
    duration_min: 15
    recurrence: daily
`

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.UserSettings{},
		&models.Window{},
		&models.Project{},
		&models.ProjectSkill{},
		&models.Task{},
		&models.Habit{},
		&models.ScheduleInstance{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestParseFillsDefaults(t *testing.T) {
	fx, err := Parse(strings.NewReader(fixtureYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(fx.Windows) != 2 || len(fx.Projects) != 2 || len(fx.Tasks) != 2 || len(fx.Habits) != 1 {
		t.Fatalf("fixture = %+v", fx)
	}
	for _, task := range fx.Tasks {
		if task.UserID != "u1" || task.Stage != models.TaskStageReady {
			t.Fatalf("task defaults not applied: %+v", task)
		}
	}
	if fx.Windows[1].EnergyLevel != models.EnergyLow || len(fx.Windows[1].Days) != 5 {
		t.Fatalf("evening window = %+v", fx.Windows[1])
	}
	if fx.Settings == nil || fx.Settings.UserID != "u1" {
		t.Fatalf("settings = %+v", fx.Settings)
	}
}

func TestParseRejectsBadFixtures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing user", "windows: []\n"},
		{"bad clock", "user_id: u1\nwindows:\n  - {id: w, start_local: \"9am\", end_local: \"10:00\"}\n"},
		{"bad weekday", "user_id: u1\nwindows:\n  - {id: w, start_local: \"09:00\", end_local: \"10:00\", days: [7]}\n"},
		{"unknown project", "user_id: u1\ntasks:\n  - {id: t, project_id: nope}\n"},
		{"unknown field", "user_id: u1\ncolour: blue\n"},
		{"bad timezone", "user_id: u1\nsettings: {timezone: Mars/Base}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.name == "missing user" && !errors.Is(err, ErrMissingUser) {
				t.Fatalf("err = %v, want ErrMissingUser", err)
			}
		})
	}
}

func TestImportIsRepeatable(t *testing.T) {
	db := newTestDB(t)
	im := NewImporter(db, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		fx, err := Parse(strings.NewReader(fixtureYAML))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		counts, err := im.Import(ctx, fx, false)
		if err != nil {
			t.Fatalf("import %d: %v", i, err)
		}
		if counts.Windows != 2 || counts.Skills != 1 {
			t.Fatalf("counts = %+v", counts)
		}
	}

	var windows, skills int64
	db.Model(&models.Window{}).Count(&windows)
	db.Model(&models.ProjectSkill{}).Count(&skills)
	if windows != 2 || skills != 1 {
		t.Fatalf("rows after two imports: windows=%d skills=%d", windows, skills)
	}

	fx, err := Parse(strings.NewReader("user_id: u1\nwindows:\n  - {id: only, start_local: \"07:00\", end_local: \"08:00\"}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := im.Import(ctx, fx, true); err != nil {
		t.Fatalf("replace import: %v", err)
	}
	db.Model(&models.Window{}).Count(&windows)
	var projects int64
	db.Model(&models.Project{}).Count(&projects)
	if windows != 1 || projects != 0 {
		t.Fatalf("replace left windows=%d projects=%d", windows, projects)
	}
}

func TestSeededFixtureSchedules(t *testing.T) {
	db := newTestDB(t)
	fx, err := Parse(strings.NewReader(fixtureYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := NewImporter(db, zerolog.Nop()).Import(context.Background(), fx, false); err != nil {
		t.Fatalf("import: %v", err)
	}

	svc := scheduler.New(repository.NewGorm(db), scheduler.Options{}, nil, zerolog.Nop())
	// Wednesday morning.
	now := time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)
	res, err := svc.Run(context.Background(), scheduler.RunRequest{UserID: "u1", Now: now, Days: 7})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.FailedCount() != 0 {
		t.Fatalf("failures = %+v", res.Failures)
	}

	var instances []models.ScheduleInstance
	if err := db.Order("start_utc").Find(&instances).Error; err != nil {
		t.Fatalf("list instances: %v", err)
	}
	var report, garden, stretch int
	for _, inst := range instances {
		switch inst.SourceID {
		case "report":
			report++
			if inst.DurationMin != 90 || inst.EnergyResolved != models.EnergyHigh {
				t.Fatalf("report instance = %+v", inst)
			}
		case "garden":
			garden++
		case "stretch":
			stretch++
		}
	}
	if report != 1 || garden != 1 || stretch != 7 {
		t.Fatalf("report=%d garden=%d stretch=%d", report, garden, stretch)
	}
}
