/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/tz"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Gorm implements Repository on a gorm database.
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps a connected database.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

var (
	_ Repository        = (*Gorm)(nil)
	_ SettingsReader    = (*Gorm)(nil)
	_ HabitSourceProber = (*Gorm)(nil)
)

// FetchWindowsForDate returns the user's recurring windows plus any
// overrides pinned to the date. Weekday filtering happens in the resolver.
func (g *Gorm) FetchWindowsForDate(ctx context.Context, userID string, date time.Time, zone tz.Zone) ([]models.Window, error) {
	var ws []models.Window
	err := g.db.WithContext(ctx).
		Where("user_id = ? AND (on_date IS NULL OR on_date = '' OR on_date = ?)", userID, zone.DateKey(date)).
		Order("start_local ASC, id ASC").
		Find(&ws).Error
	if err != nil {
		return nil, fmt.Errorf("query windows: %w", err)
	}
	return ws, nil
}

// FetchReadyTasks returns tasks in the ready stage.
func (g *Gorm) FetchReadyTasks(ctx context.Context, userID string) ([]models.Task, error) {
	var tasks []models.Task
	err := g.db.WithContext(ctx).
		Where("user_id = ? AND stage = ?", userID, models.TaskStageReady).
		Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("query ready tasks: %w", err)
	}
	return tasks, nil
}

// FetchProjectsMap returns the user's open projects keyed by id.
func (g *Gorm) FetchProjectsMap(ctx context.Context, userID string) (map[string]models.Project, error) {
	var projects []models.Project
	err := g.db.WithContext(ctx).
		Where("user_id = ? AND completed = ?", userID, false).
		Find(&projects).Error
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	out := make(map[string]models.Project, len(projects))
	for _, p := range projects {
		out[p.ID] = p
	}
	return out, nil
}

// FetchProjectSkillsForProjects returns skill ids per project id.
func (g *Gorm) FetchProjectSkillsForProjects(ctx context.Context, projectIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(projectIDs))
	if len(projectIDs) == 0 {
		return out, nil
	}
	var links []models.ProjectSkill
	err := g.db.WithContext(ctx).
		Where("project_id IN ?", projectIDs).
		Order("project_id ASC, skill_id ASC").
		Find(&links).Error
	if err != nil {
		return nil, fmt.Errorf("query project skills: %w", err)
	}
	for _, l := range links {
		out[l.ProjectID] = append(out[l.ProjectID], l.SkillID)
	}
	return out, nil
}

// FetchHabitsForSchedule returns every habit of the user.
func (g *Gorm) FetchHabitsForSchedule(ctx context.Context, userID string) ([]models.Habit, error) {
	var habits []models.Habit
	err := g.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&habits).Error
	if err != nil {
		return nil, fmt.Errorf("query habits: %w", err)
	}
	return habits, nil
}

// FetchInstancesForRange returns non-canceled instances overlapping [start, end).
func (g *Gorm) FetchInstancesForRange(ctx context.Context, userID string, start, end time.Time) ([]models.ScheduleInstance, error) {
	var out []models.ScheduleInstance
	err := g.db.WithContext(ctx).
		Where("user_id = ? AND status <> ? AND start_utc < ? AND end_utc > ?", userID, models.StatusCanceled, end.UTC(), start.UTC()).
		Order("start_utc ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	return out, nil
}

// FetchBacklogNeedingSchedule returns missed instances oldest first.
func (g *Gorm) FetchBacklogNeedingSchedule(ctx context.Context, userID string) ([]models.ScheduleInstance, error) {
	var out []models.ScheduleInstance
	err := g.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.StatusMissed).
		Order("start_utc ASC, id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query backlog: %w", err)
	}
	return out, nil
}

// FetchInstance loads one instance.
func (g *Gorm) FetchInstance(ctx context.Context, id string) (models.ScheduleInstance, error) {
	var inst models.ScheduleInstance
	err := g.db.WithContext(ctx).First(&inst, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return inst, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return inst, fmt.Errorf("query instance: %w", err)
	}
	return inst, nil
}

// CreateInstance inserts a new scheduled instance.
func (g *Gorm) CreateInstance(ctx context.Context, fields InstanceFields) (models.ScheduleInstance, error) {
	inst := models.ScheduleInstance{
		ID:     uuid.NewString(),
		Status: models.StatusScheduled,
	}
	applyFields(&inst, fields)
	if err := g.db.WithContext(ctx).Create(&inst).Error; err != nil {
		if fields.SourceType == models.SourceHabit && mentionsSourceType(err) {
			return models.ScheduleInstance{}, fmt.Errorf("create instance: %w: %v", ErrHabitSourceUnsupported, err)
		}
		return models.ScheduleInstance{}, fmt.Errorf("create instance: %w", err)
	}
	return inst, nil
}

// RescheduleInstance moves an instance and marks it scheduled again.
func (g *Gorm) RescheduleInstance(ctx context.Context, id string, fields InstanceFields) (models.ScheduleInstance, error) {
	var out models.ScheduleInstance
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&out, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("instance %s: %w", id, ErrNotFound)
			}
			return err
		}
		applyFields(&out, fields)
		out.Status = models.StatusScheduled
		out.CompletedAt = nil
		return tx.Save(&out).Error
	})
	if err != nil {
		return models.ScheduleInstance{}, fmt.Errorf("reschedule instance: %w", err)
	}
	return out, nil
}

// UpdateInstanceStatus sets the status and completion time of an instance.
func (g *Gorm) UpdateInstanceStatus(ctx context.Context, id string, status models.InstanceStatus, completedAt *time.Time) error {
	res := g.db.WithContext(ctx).
		Model(&models.ScheduleInstance{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "completed_at": completedAt})
	if res.Error != nil {
		return fmt.Errorf("update instance status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return nil
}

// CancelInstances marks every listed instance canceled.
func (g *Gorm) CancelInstances(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := g.db.WithContext(ctx).
		Model(&models.ScheduleInstance{}).
		Where("id IN ?", ids).
		Update("status", models.StatusCanceled).Error
	if err != nil {
		return fmt.Errorf("cancel instances: %w", err)
	}
	return nil
}

// FetchUserSettings returns the user's settings, or zero settings when none exist.
func (g *Gorm) FetchUserSettings(ctx context.Context, userID string) (models.UserSettings, error) {
	var s models.UserSettings
	err := g.db.WithContext(ctx).First(&s, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.UserSettings{UserID: userID}, nil
	}
	if err != nil {
		return s, fmt.Errorf("query user settings: %w", err)
	}
	return s, nil
}

// EnsureHabitSource drops the legacy source_type check some deployments
// carry and brings the instance table up to date.
func (g *Gorm) EnsureHabitSource(ctx context.Context) error {
	tx := g.db.WithContext(ctx)
	if tx.Dialector.Name() == "postgres" {
		if err := tx.Exec("ALTER TABLE schedule_instances DROP CONSTRAINT IF EXISTS schedule_instances_source_type_check").Error; err != nil {
			return fmt.Errorf("drop source type check: %w", err)
		}
	}
	if err := tx.AutoMigrate(&models.ScheduleInstance{}); err != nil {
		return fmt.Errorf("migrate schedule instances: %w", err)
	}
	return nil
}

func applyFields(inst *models.ScheduleInstance, f InstanceFields) {
	inst.UserID = f.UserID
	inst.SourceType = f.SourceType
	inst.SourceID = f.SourceID
	inst.WindowID = f.WindowID
	inst.StartUTC = f.StartUTC.UTC()
	inst.EndUTC = f.EndUTC.UTC()
	inst.DurationMin = f.DurationMin
	inst.WeightSnapshot = f.WeightSnapshot
	inst.EnergyResolved = f.EnergyResolved
	inst.Clipped = f.Clipped
}

func mentionsSourceType(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "source_type") && (strings.Contains(msg, "check") || strings.Contains(msg, "enum"))
}
