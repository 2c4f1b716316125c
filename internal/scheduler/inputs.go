/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"sort"

	"github.com/friendsincode/slotwise/internal/events"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/trace"
	"golang.org/x/sync/errgroup"
)

// fetchMissed marks overdue scheduled instances as missed and loads the
// missed backlog that feeds the project queue.
func (p *pipeline) fetchMissed(ctx context.Context) (events.EventType, events.Payload, error) {
	a := p.a
	cutoff := a.now.Add(-a.opts.MissedGrace)
	recent, err := p.repo.FetchInstancesForRange(ctx, a.userID, a.now.Add(-a.opts.MissedLookback), a.now)
	if err != nil {
		return "", nil, fmt.Errorf("fetch recent instances: %w", err)
	}

	for _, inst := range recent {
		if inst.SourceType == models.SourceHabit && inst.StartUTC.Before(a.today) {
			// Earlier starts anchor recurrence cycles.
			a.ledger.Add(inst.SourceID, inst.StartUTC)
		}
		if inst.Status != models.StatusScheduled || !inst.EndUTC.Before(cutoff) {
			continue
		}
		if err := p.repo.UpdateInstanceStatus(ctx, inst.ID, models.StatusMissed, nil); err != nil {
			a.fail(inst.SourceID, inst.SourceType, models.ReasonError, map[string]any{
				"instance_id": inst.ID,
				"operation":   "mark_missed",
				"error":       err.Error(),
			})
			continue
		}
		a.result.MarkedMissed = append(a.result.MarkedMissed, inst.ID)
		a.record(inst.SourceID, inst.SourceType, StageFetchMissed, trace.OutcomeInfo, string(models.StatusMissed),
			"overdue instance marked missed", map[string]any{"instance_id": inst.ID, "end": inst.EndUTC})
	}

	backlog, err := p.repo.FetchBacklogNeedingSchedule(ctx, a.userID)
	if err != nil {
		return "", nil, fmt.Errorf("fetch missed backlog: %w", err)
	}
	for _, inst := range backlog {
		if inst.SourceType == models.SourceProject {
			a.missed = append(a.missed, inst)
		}
	}
	sort.Slice(a.missed, func(i, j int) bool {
		if !a.missed[i].StartUTC.Equal(a.missed[j].StartUTC) {
			return a.missed[i].StartUTC.After(a.missed[j].StartUTC)
		}
		return a.missed[i].ID < a.missed[j].ID
	})

	return events.EventMissedFetched, events.Payload{
		"marked":  len(a.result.MarkedMissed),
		"backlog": len(a.missed),
	}, nil
}

// fetchInputs loads everything the placement passes read. The independent
// fetches run concurrently; nothing is written until they all return.
func (p *pipeline) fetchInputs(ctx context.Context) (events.EventType, events.Payload, error) {
	a := p.a
	var (
		tasks     []models.Task
		projects  map[string]models.Project
		habits    []models.Habit
		existing  []models.ScheduleInstance
		today     []models.Window
		yesterday []models.Window
	)
	yesterdayStart := a.zone.AddDays(a.today, -1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if today, err = p.repo.FetchWindowsForDate(gctx, a.userID, a.today, a.zone); err != nil {
			return fmt.Errorf("fetch windows: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if yesterday, err = p.repo.FetchWindowsForDate(gctx, a.userID, yesterdayStart, a.zone); err != nil {
			return fmt.Errorf("fetch windows: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if tasks, err = p.repo.FetchReadyTasks(gctx, a.userID); err != nil {
			return fmt.Errorf("fetch ready tasks: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if projects, err = p.repo.FetchProjectsMap(gctx, a.userID); err != nil {
			return fmt.Errorf("fetch projects: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if habits, err = p.repo.FetchHabitsForSchedule(gctx, a.userID); err != nil {
			return fmt.Errorf("fetch habits: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if existing, err = p.repo.FetchInstancesForRange(gctx, a.userID, a.today, a.horizonEnd()); err != nil {
			return fmt.Errorf("fetch instances: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", nil, err
	}

	ids := make([]string, 0, len(projects))
	for id := range projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	skills, err := p.repo.FetchProjectSkillsForProjects(ctx, ids)
	if err != nil {
		return "", nil, fmt.Errorf("fetch project skills: %w", err)
	}

	a.windows.Prime(a.today, today)
	a.windows.Prime(yesterdayStart, yesterday)
	a.tasks = tasks
	if projects != nil {
		a.projects = projects
	}
	if skills != nil {
		a.skills = skills
	}
	a.habits = habits
	for _, h := range habits {
		a.habitByID[h.ID] = h
		if h.IsSync() {
			a.syncHabits[h.ID] = true
		}
	}
	a.existing = existing

	return events.EventInputsFetched, events.Payload{
		"windows":   len(today),
		"tasks":     len(tasks),
		"projects":  len(projects),
		"habits":    len(habits),
		"instances": len(existing),
	}, nil
}

