/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/repository"
	"github.com/friendsincode/slotwise/internal/tz"
	"github.com/google/uuid"
)

// WriteKind names a write recorded by a dry run.
type WriteKind string

const (
	WriteCreate     WriteKind = "create"
	WriteReschedule WriteKind = "reschedule"
	WriteStatus     WriteKind = "status"
	WriteCancel     WriteKind = "cancel"
)

// Write is one mutation a dry run held back.
type Write struct {
	Kind       WriteKind
	InstanceID string
	Instance   models.ScheduleInstance
	Status     models.InstanceStatus
}

// DryRun serves reads from the wrapped repository and keeps writes in
// memory, overlaying them on later reads.
type DryRun struct {
	inner repository.Repository

	mu      sync.Mutex
	overlay map[string]models.ScheduleInstance
	writes  []Write
	now     func() time.Time
}

// NewDryRun wraps inner.
func NewDryRun(inner repository.Repository) *DryRun {
	return &DryRun{
		inner:   inner,
		overlay: make(map[string]models.ScheduleInstance),
		now:     time.Now,
	}
}

// Writes returns the recorded writes in order.
func (d *DryRun) Writes() []Write {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Write(nil), d.writes...)
}

func (d *DryRun) FetchWindowsForDate(ctx context.Context, userID string, date time.Time, zone tz.Zone) ([]models.Window, error) {
	return d.inner.FetchWindowsForDate(ctx, userID, date, zone)
}

func (d *DryRun) FetchReadyTasks(ctx context.Context, userID string) ([]models.Task, error) {
	return d.inner.FetchReadyTasks(ctx, userID)
}

func (d *DryRun) FetchProjectsMap(ctx context.Context, userID string) (map[string]models.Project, error) {
	return d.inner.FetchProjectsMap(ctx, userID)
}

func (d *DryRun) FetchProjectSkillsForProjects(ctx context.Context, projectIDs []string) (map[string][]string, error) {
	return d.inner.FetchProjectSkillsForProjects(ctx, projectIDs)
}

func (d *DryRun) FetchHabitsForSchedule(ctx context.Context, userID string) ([]models.Habit, error) {
	return d.inner.FetchHabitsForSchedule(ctx, userID)
}

// FetchUserSettings forwards to the wrapped repository when it keeps settings.
func (d *DryRun) FetchUserSettings(ctx context.Context, userID string) (models.UserSettings, error) {
	if reader, ok := d.inner.(repository.SettingsReader); ok {
		return reader.FetchUserSettings(ctx, userID)
	}
	return models.UserSettings{UserID: userID}, nil
}

func (d *DryRun) FetchInstancesForRange(ctx context.Context, userID string, start, end time.Time) ([]models.ScheduleInstance, error) {
	base, err := d.inner.FetchInstancesForRange(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}
	return d.merge(base, func(inst models.ScheduleInstance) bool {
		return inst.UserID == userID && inst.Status != models.StatusCanceled &&
			inst.StartUTC.Before(end) && inst.EndUTC.After(start)
	}), nil
}

func (d *DryRun) FetchBacklogNeedingSchedule(ctx context.Context, userID string) ([]models.ScheduleInstance, error) {
	base, err := d.inner.FetchBacklogNeedingSchedule(ctx, userID)
	if err != nil {
		return nil, err
	}
	return d.merge(base, func(inst models.ScheduleInstance) bool {
		return inst.UserID == userID && inst.Status == models.StatusMissed
	}), nil
}

func (d *DryRun) FetchInstance(ctx context.Context, id string) (models.ScheduleInstance, error) {
	d.mu.Lock()
	inst, ok := d.overlay[id]
	d.mu.Unlock()
	if ok {
		return inst, nil
	}
	return d.inner.FetchInstance(ctx, id)
}

func (d *DryRun) CreateInstance(_ context.Context, fields repository.InstanceFields) (models.ScheduleInstance, error) {
	now := d.now().UTC()
	inst := models.ScheduleInstance{
		ID:        "dry-" + uuid.NewString(),
		Status:    models.StatusScheduled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyFields(&inst, fields)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.overlay[inst.ID] = inst
	d.writes = append(d.writes, Write{Kind: WriteCreate, InstanceID: inst.ID, Instance: inst, Status: inst.Status})
	return inst, nil
}

func (d *DryRun) RescheduleInstance(ctx context.Context, id string, fields repository.InstanceFields) (models.ScheduleInstance, error) {
	inst, err := d.FetchInstance(ctx, id)
	if err != nil {
		return models.ScheduleInstance{}, err
	}
	applyFields(&inst, fields)
	inst.Status = models.StatusScheduled
	inst.CompletedAt = nil
	inst.UpdatedAt = d.now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.overlay[id] = inst
	d.writes = append(d.writes, Write{Kind: WriteReschedule, InstanceID: id, Instance: inst, Status: inst.Status})
	return inst, nil
}

func (d *DryRun) UpdateInstanceStatus(ctx context.Context, id string, status models.InstanceStatus, completedAt *time.Time) error {
	inst, err := d.FetchInstance(ctx, id)
	if err != nil {
		return err
	}
	inst.Status = status
	inst.CompletedAt = completedAt
	inst.UpdatedAt = d.now().UTC()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.overlay[id] = inst
	d.writes = append(d.writes, Write{Kind: WriteStatus, InstanceID: id, Instance: inst, Status: status})
	return nil
}

func (d *DryRun) CancelInstances(ctx context.Context, ids []string) error {
	for _, id := range ids {
		inst, err := d.FetchInstance(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		inst.Status = models.StatusCanceled
		inst.UpdatedAt = d.now().UTC()
		d.mu.Lock()
		d.overlay[id] = inst
		d.writes = append(d.writes, Write{Kind: WriteCancel, InstanceID: id, Instance: inst, Status: inst.Status})
		d.mu.Unlock()
	}
	return nil
}

// merge replaces base rows with their overlaid versions and adds overlaid
// rows that match keep.
func (d *DryRun) merge(base []models.ScheduleInstance, keep func(models.ScheduleInstance) bool) []models.ScheduleInstance {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[string]bool, len(base))
	out := make([]models.ScheduleInstance, 0, len(base))
	for _, inst := range base {
		seen[inst.ID] = true
		if o, ok := d.overlay[inst.ID]; ok {
			inst = o
		}
		if keep(inst) {
			out = append(out, inst)
		}
	}
	for id, inst := range d.overlay {
		if !seen[id] && keep(inst) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartUTC.Equal(out[j].StartUTC) {
			return out[i].StartUTC.Before(out[j].StartUTC)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func applyFields(inst *models.ScheduleInstance, f repository.InstanceFields) {
	if f.UserID != "" {
		inst.UserID = f.UserID
	}
	if f.SourceType != "" {
		inst.SourceType = f.SourceType
	}
	if f.SourceID != "" {
		inst.SourceID = f.SourceID
	}
	inst.WindowID = f.WindowID
	inst.StartUTC = f.StartUTC
	inst.EndUTC = f.EndUTC
	inst.DurationMin = f.DurationMin
	inst.WeightSnapshot = f.WeightSnapshot
	inst.EnergyResolved = f.EnergyResolved
	inst.Clipped = f.Clipped
}
