/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/repository"
	"github.com/friendsincode/slotwise/internal/tz"
)

// memRepo is an in-memory repository for orchestrator tests.
type memRepo struct {
	mu        sync.Mutex
	windows   []models.Window
	tasks     []models.Task
	projects  map[string]models.Project
	skills    map[string][]string
	habits    []models.Habit
	instances map[string]models.ScheduleInstance
	seq       int

	tasksErr         error
	cancelErr        error
	habitUnsupported bool
	probes           int
	windowFetches    int
}

func newMemRepo() *memRepo {
	return &memRepo{
		projects:  make(map[string]models.Project),
		skills:    make(map[string][]string),
		instances: make(map[string]models.ScheduleInstance),
	}
}

func (m *memRepo) FetchWindowsForDate(_ context.Context, userID string, date time.Time, zone tz.Zone) ([]models.Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windowFetches++
	key := zone.DateKey(date)
	var out []models.Window
	for _, w := range m.windows {
		if w.UserID != userID {
			continue
		}
		if w.OnDate != nil && *w.OnDate != key {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (m *memRepo) FetchReadyTasks(_ context.Context, userID string) ([]models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tasksErr != nil {
		return nil, m.tasksErr
	}
	var out []models.Task
	for _, t := range m.tasks {
		if t.UserID == userID && t.Stage == models.TaskStageReady {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memRepo) FetchProjectsMap(_ context.Context, userID string) (map[string]models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.Project)
	for id, p := range m.projects {
		if p.UserID == userID {
			out[id] = p
		}
	}
	return out, nil
}

func (m *memRepo) FetchProjectSkillsForProjects(_ context.Context, ids []string) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]string)
	for _, id := range ids {
		if skills, ok := m.skills[id]; ok {
			out[id] = append([]string(nil), skills...)
		}
	}
	return out, nil
}

func (m *memRepo) FetchHabitsForSchedule(_ context.Context, userID string) ([]models.Habit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Habit
	for _, h := range m.habits {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memRepo) FetchInstancesForRange(_ context.Context, userID string, start, end time.Time) ([]models.ScheduleInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScheduleInstance
	for _, inst := range m.instances {
		if inst.UserID != userID || inst.Status == models.StatusCanceled {
			continue
		}
		if inst.StartUTC.Before(end) && inst.EndUTC.After(start) {
			out = append(out, inst)
		}
	}
	sortInstances(out)
	return out, nil
}

func (m *memRepo) FetchBacklogNeedingSchedule(_ context.Context, userID string) ([]models.ScheduleInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScheduleInstance
	for _, inst := range m.instances {
		if inst.UserID == userID && inst.Status == models.StatusMissed {
			out = append(out, inst)
		}
	}
	sortInstances(out)
	return out, nil
}

func (m *memRepo) FetchInstance(_ context.Context, id string) (models.ScheduleInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return inst, fmt.Errorf("instance %s: %w", id, repository.ErrNotFound)
	}
	return inst, nil
}

func (m *memRepo) CreateInstance(_ context.Context, f repository.InstanceFields) (models.ScheduleInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.SourceType == models.SourceHabit && m.habitUnsupported {
		return models.ScheduleInstance{}, fmt.Errorf("insert: %w", repository.ErrHabitSourceUnsupported)
	}
	m.seq++
	inst := models.ScheduleInstance{ID: fmt.Sprintf("i%03d", m.seq), Status: models.StatusScheduled}
	applyFields(&inst, f)
	m.instances[inst.ID] = inst
	return inst, nil
}

func (m *memRepo) RescheduleInstance(_ context.Context, id string, f repository.InstanceFields) (models.ScheduleInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return inst, fmt.Errorf("instance %s: %w", id, repository.ErrNotFound)
	}
	applyFields(&inst, f)
	inst.Status = models.StatusScheduled
	inst.CompletedAt = nil
	m.instances[id] = inst
	return inst, nil
}

func (m *memRepo) UpdateInstanceStatus(_ context.Context, id string, status models.InstanceStatus, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return fmt.Errorf("instance %s: %w", id, repository.ErrNotFound)
	}
	inst.Status = status
	inst.CompletedAt = completedAt
	m.instances[id] = inst
	return nil
}

func (m *memRepo) CancelInstances(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	for _, id := range ids {
		if inst, ok := m.instances[id]; ok {
			inst.Status = models.StatusCanceled
			m.instances[id] = inst
		}
	}
	return nil
}

// live returns non-canceled instances ordered by start.
func (m *memRepo) live() []models.ScheduleInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScheduleInstance
	for _, inst := range m.instances {
		if inst.Status != models.StatusCanceled {
			out = append(out, inst)
		}
	}
	sortInstances(out)
	return out
}

func (m *memRepo) put(inst models.ScheduleInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[inst.ID] = inst
}

func (m *memRepo) get(id string) models.ScheduleInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instances[id]
}

// probingRepo adds the habit source probe.
type probingRepo struct {
	*memRepo
}

func (p probingRepo) EnsureHabitSource(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	p.habitUnsupported = false
	return nil
}

func sortInstances(list []models.ScheduleInstance) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartUTC.Equal(list[j].StartUTC) {
			return list[i].StartUTC.Before(list[j].StartUTC)
		}
		return list[i].ID < list[j].ID
	})
}

func bySource(list []models.ScheduleInstance, sourceID string) []models.ScheduleInstance {
	var out []models.ScheduleInstance
	for _, inst := range list {
		if inst.SourceID == sourceID {
			out = append(out, inst)
		}
	}
	return out
}

func window(id, start, end string, energy models.Energy) models.Window {
	return models.Window{ID: id, UserID: "u1", Label: strings.ToUpper(id), EnergyLevel: energy, StartLocal: start, EndLocal: end}
}

func project(id string, energy models.Energy, weight float64, minutes int) models.Project {
	return models.Project{ID: id, UserID: "u1", Name: id, EnergyLevel: energy, Weight: weight, DurationMin: minutes}
}
