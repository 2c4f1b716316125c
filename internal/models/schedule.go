/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"time"
)

// Window is a recurring span of local time during which placement is allowed.
type Window struct {
	ID          string `gorm:"type:varchar(64);primaryKey" json:"id" yaml:"id"`
	UserID      string `gorm:"type:varchar(64);index;not null" json:"user_id" yaml:"user_id"`
	Label       string `json:"label" yaml:"label"`
	EnergyLevel Energy `gorm:"type:varchar(16)" json:"energy" yaml:"energy"`

	// StartLocal and EndLocal are HH:MM wall-clock strings.
	StartLocal string `gorm:"type:varchar(8);not null" json:"start_local" yaml:"start_local"`
	EndLocal   string `gorm:"type:varchar(8);not null" json:"end_local" yaml:"end_local"`

	// Days lists weekdays (0=Sunday) the window applies on. Empty = every day.
	Days []int `gorm:"type:text;serializer:json" json:"days,omitempty" yaml:"days,omitempty"`

	// OnDate makes the window an explicit override for one YYYY-MM-DD day.
	// When any override exists for a day, the recurring pattern is ignored.
	OnDate *string `gorm:"type:varchar(10);index" json:"on_date,omitempty" yaml:"on_date,omitempty"`

	// FromPrevDay is set on the carryover copy of a window that started the
	// previous calendar day and ends after midnight.
	FromPrevDay bool `gorm:"-" json:"from_prev_day,omitempty" yaml:"-"`

	AllowAllHabitTypes *bool    `json:"allow_all_habit_types,omitempty" yaml:"allow_all_habit_types,omitempty"`
	AllowedHabitTypes  []string `gorm:"type:text;serializer:json" json:"allowed_habit_types,omitempty" yaml:"allowed_habit_types,omitempty"`
	AllowAllSkills     *bool    `json:"allow_all_skills,omitempty" yaml:"allow_all_skills,omitempty"`
	AllowedSkillIDs    []string `gorm:"type:text;serializer:json" json:"allowed_skill_ids,omitempty" yaml:"allowed_skill_ids,omitempty"`
	AllowAllMonuments  *bool    `json:"allow_all_monuments,omitempty" yaml:"allow_all_monuments,omitempty"`
	AllowedMonumentIDs []string `gorm:"type:text;serializer:json" json:"allowed_monument_ids,omitempty" yaml:"allowed_monument_ids,omitempty"`

	LocationContextValue string `gorm:"type:varchar(64)" json:"location_context_value,omitempty" yaml:"location_context_value,omitempty"`
	LocationContextName  string `gorm:"type:varchar(128)" json:"location_context_name,omitempty" yaml:"location_context_name,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// TableName returns the table name for GORM.
func (Window) TableName() string {
	return "windows"
}

// AppliesOnWeekday reports whether the recurring pattern covers weekday (0=Sunday).
func (w Window) AppliesOnWeekday(weekday int) bool {
	if len(w.Days) == 0 {
		return true
	}
	for _, d := range w.Days {
		if d == weekday {
			return true
		}
	}
	return false
}

// HasLocation reports whether the window is tied to a location context.
func (w Window) HasLocation() bool {
	return strings.TrimSpace(w.LocationContextValue) != "" || strings.TrimSpace(w.LocationContextName) != ""
}

// Project is a body of work whose ready tasks are placed as one block.
type Project struct {
	ID          string  `gorm:"type:varchar(64);primaryKey" json:"id" yaml:"id"`
	UserID      string  `gorm:"type:varchar(64);index;not null" json:"user_id" yaml:"user_id"`
	Name        string  `json:"name" yaml:"name"`
	EnergyLevel Energy  `gorm:"type:varchar(16)" json:"energy" yaml:"energy"`
	Weight      float64 `json:"weight" yaml:"weight"`
	// DurationMin is used when the project has no ready tasks.
	DurationMin int       `json:"duration_min" yaml:"duration_min"`
	MonumentID  string    `gorm:"type:varchar(64);index" json:"monument_id,omitempty" yaml:"monument_id,omitempty"`
	Completed   bool      `json:"completed" yaml:"completed"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

// TableName returns the table name for GORM.
func (Project) TableName() string {
	return "projects"
}

// ProjectSkill links a project to a skill.
type ProjectSkill struct {
	ProjectID string `gorm:"type:varchar(64);primaryKey" json:"project_id" yaml:"project_id"`
	SkillID   string `gorm:"type:varchar(64);primaryKey" json:"skill_id" yaml:"skill_id"`
}

// TableName returns the table name for GORM.
func (ProjectSkill) TableName() string {
	return "project_skills"
}

// Task stages.
const (
	TaskStageReady = "ready"
	TaskStageDone  = "done"
)

// Task is a unit of work inside a project.
type Task struct {
	ID          string    `gorm:"type:varchar(64);primaryKey" json:"id" yaml:"id"`
	UserID      string    `gorm:"type:varchar(64);index;not null" json:"user_id" yaml:"user_id"`
	ProjectID   string    `gorm:"type:varchar(64);index" json:"project_id" yaml:"project_id"`
	Name        string    `json:"name" yaml:"name"`
	DurationMin int       `json:"duration_min" yaml:"duration_min"`
	EnergyLevel Energy    `gorm:"type:varchar(16)" json:"energy" yaml:"energy"`
	Weight      float64   `json:"weight" yaml:"weight"`
	Stage       string    `gorm:"type:varchar(16);default:ready" json:"stage" yaml:"stage"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

// TableName returns the table name for GORM.
func (Task) TableName() string {
	return "tasks"
}

// Habit is a recurring item evaluated against its recurrence rule each day.
type Habit struct {
	ID          string    `gorm:"type:varchar(64);primaryKey" json:"id" yaml:"id"`
	UserID      string    `gorm:"type:varchar(64);index;not null" json:"user_id" yaml:"user_id"`
	Name        string    `json:"name" yaml:"name"`
	HabitType   HabitType `gorm:"type:varchar(16)" json:"habit_type" yaml:"habit_type"`
	DurationMin int       `json:"duration_min" yaml:"duration_min"`
	EnergyLevel Energy    `gorm:"type:varchar(16)" json:"energy" yaml:"energy"`
	Weight      float64   `json:"weight" yaml:"weight"`

	Recurrence     RecurrenceKind `gorm:"type:varchar(32)" json:"recurrence" yaml:"recurrence"`
	RecurrenceDays []int          `gorm:"type:text;serializer:json" json:"recurrence_days,omitempty" yaml:"recurrence_days,omitempty"`
	// IntervalDays drives "every x days" habits.
	IntervalDays int `json:"interval_days,omitempty" yaml:"interval_days,omitempty"`

	SkillID         string   `gorm:"type:varchar(64)" json:"skill_id,omitempty" yaml:"skill_id,omitempty"`
	SkillIDs        []string `gorm:"type:text;serializer:json" json:"skill_ids,omitempty" yaml:"skill_ids,omitempty"`
	MonumentID      string   `gorm:"type:varchar(64)" json:"monument_id,omitempty" yaml:"monument_id,omitempty"`
	MonumentIDs     []string `gorm:"type:text;serializer:json" json:"monument_ids,omitempty" yaml:"monument_ids,omitempty"`
	LocationContext string   `gorm:"type:varchar(128)" json:"location_context,omitempty" yaml:"location_context,omitempty"`

	Daylight DaylightPreference `gorm:"type:varchar(16)" json:"daylight,omitempty" yaml:"daylight,omitempty"`
	Anchor   AnchorPreference   `gorm:"type:varchar(8)" json:"anchor,omitempty" yaml:"anchor,omitempty"`
	WindowID *string            `gorm:"type:varchar(64)" json:"window_id,omitempty" yaml:"window_id,omitempty"`

	LastCompletedAt *time.Time `json:"last_completed_at,omitempty" yaml:"last_completed_at,omitempty"`
	NextDueOverride *time.Time `json:"next_due_override,omitempty" yaml:"next_due_override,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// TableName returns the table name for GORM.
func (Habit) TableName() string {
	return "habits"
}

// IsSync reports whether the habit may overlap other habits.
func (h Habit) IsSync() bool {
	return strings.EqualFold(string(h.HabitType), string(HabitTypeSync))
}

// IsChore reports whether due dates follow the last completion rather than a calendar phase.
func (h Habit) IsChore() bool {
	return strings.EqualFold(string(h.HabitType), string(HabitTypeChore))
}

// ScheduleInstance is the persisted record of one placement.
type ScheduleInstance struct {
	ID             string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	UserID         string         `gorm:"type:varchar(64);index:idx_instances_user_start;not null" json:"user_id"`
	SourceType     SourceType     `gorm:"type:varchar(16);not null" json:"source_type"`
	SourceID       string         `gorm:"type:varchar(64);index;not null" json:"source_id"`
	WindowID       *string        `gorm:"type:varchar(64)" json:"window_id,omitempty"`
	StartUTC       time.Time      `gorm:"index:idx_instances_user_start;not null" json:"start_utc"`
	EndUTC         time.Time      `gorm:"not null" json:"end_utc"`
	DurationMin    int            `json:"duration_min"`
	Status         InstanceStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	WeightSnapshot float64        `json:"weight_snapshot"`
	EnergyResolved Energy         `gorm:"type:varchar(16)" json:"energy_resolved"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	// Clipped marks a placement truncated to fit its window; end-start may be
	// shorter than DurationMin.
	Clipped   bool      `json:"clipped,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (ScheduleInstance) TableName() string {
	return "schedule_instances"
}

// Active reports whether the instance still occupies time.
func (i ScheduleInstance) Active() bool {
	return i.Status == StatusScheduled || i.Status == StatusCompleted
}

// Duration returns the stored duration.
func (i ScheduleInstance) Duration() time.Duration {
	return time.Duration(i.DurationMin) * time.Minute
}

// UserSettings carries per-user placement context.
type UserSettings struct {
	UserID    string   `gorm:"type:varchar(64);primaryKey" json:"user_id" yaml:"user_id"`
	Timezone  string   `gorm:"type:varchar(64)" json:"timezone" yaml:"timezone"`
	Latitude  *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// TableName returns the table name for GORM.
func (UserSettings) TableName() string {
	return "user_settings"
}
