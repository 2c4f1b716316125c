/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"testing"
	"time"

	"github.com/friendsincode/slotwise/internal/config"
	"github.com/friendsincode/slotwise/internal/models"
	"gorm.io/gorm"
)

func TestConnectMigrateSQLite(t *testing.T) {
	cfg := config.Defaults()
	cfg.Environment = "test"
	cfg.DBDSN = ":memory:"

	database, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer Close(database)

	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	inst := models.ScheduleInstance{
		ID:          "i1",
		UserID:      "u1",
		SourceType:  models.SourceProject,
		SourceID:    "p1",
		StartUTC:    start,
		EndUTC:      start.Add(time.Hour),
		DurationMin: 60,
		Status:      "cancelled",
	}
	if err := database.Create(&inst).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	// Re-running migrations is idempotent and normalises legacy spellings.
	if err := Migrate(database); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var got models.ScheduleInstance
	if err := database.First(&got, "id = ?", "i1").Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != models.StatusCanceled {
		t.Fatalf("status = %q, want canceled", got.Status)
	}
	UpdateConnectionMetrics(database)
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.DBBackend = "oracle"
	cfg.DBDSN = "x"
	if _, err := Connect(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{gorm.ErrDuplicatedKey, "duplicate"},
		{errors.New("UNIQUE constraint failed: schedule_instances.id"), "duplicate"},
		{errors.New("overlapping project instances are not allowed for user u1"), "overlap"},
		{errors.New("context deadline exceeded"), "timeout"},
		{errors.New("syntax error"), "query_error"},
	}
	for _, tc := range cases {
		if got := errorKind(tc.err); got != tc.want {
			t.Fatalf("errorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
