/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package repository defines the persistence contract the scheduler runs
// against and a gorm-backed implementation of it.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/tz"
)

var (
	// ErrNotFound is returned when an instance id does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrHabitSourceUnsupported is returned when the store cannot yet hold
	// HABIT instances. EnsureHabitSource may repair it.
	ErrHabitSourceUnsupported = errors.New("repository: habit source type unsupported")
)

// InstanceFields are the writable columns of a schedule instance.
type InstanceFields struct {
	UserID         string
	SourceType     models.SourceType
	SourceID       string
	WindowID       *string
	StartUTC       time.Time
	EndUTC         time.Time
	DurationMin    int
	WeightSnapshot float64
	EnergyResolved models.Energy
	Clipped        bool
}

// Repository is everything a scheduler run reads and writes.
type Repository interface {
	FetchWindowsForDate(ctx context.Context, userID string, date time.Time, zone tz.Zone) ([]models.Window, error)
	FetchReadyTasks(ctx context.Context, userID string) ([]models.Task, error)
	FetchProjectsMap(ctx context.Context, userID string) (map[string]models.Project, error)
	FetchProjectSkillsForProjects(ctx context.Context, projectIDs []string) (map[string][]string, error)
	FetchHabitsForSchedule(ctx context.Context, userID string) ([]models.Habit, error)
	// FetchInstancesForRange returns non-canceled instances overlapping [start, end).
	FetchInstancesForRange(ctx context.Context, userID string, start, end time.Time) ([]models.ScheduleInstance, error)
	// FetchBacklogNeedingSchedule returns missed instances.
	FetchBacklogNeedingSchedule(ctx context.Context, userID string) ([]models.ScheduleInstance, error)
	FetchInstance(ctx context.Context, id string) (models.ScheduleInstance, error)

	CreateInstance(ctx context.Context, fields InstanceFields) (models.ScheduleInstance, error)
	// RescheduleInstance moves an existing instance and resets it to scheduled.
	RescheduleInstance(ctx context.Context, id string, fields InstanceFields) (models.ScheduleInstance, error)
	UpdateInstanceStatus(ctx context.Context, id string, status models.InstanceStatus, completedAt *time.Time) error
	CancelInstances(ctx context.Context, ids []string) error
}

// SettingsReader is implemented by stores that keep per-user settings.
type SettingsReader interface {
	FetchUserSettings(ctx context.Context, userID string) (models.UserSettings, error)
}

// HabitSourceProber is implemented by stores that can repair support for
// HABIT instances after ErrHabitSourceUnsupported.
type HabitSourceProber interface {
	EnsureHabitSource(ctx context.Context) error
}
