/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/friendsincode/slotwise/internal/events"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/placement"
	"github.com/friendsincode/slotwise/internal/repository"
	"github.com/friendsincode/slotwise/internal/telemetry"
	"github.com/friendsincode/slotwise/internal/trace"
)

// scheduleProjects walks the queue in order and scans the horizon day by day
// for each project until it fits.
func (p *pipeline) scheduleProjects(ctx context.Context) (events.EventType, events.Payload, error) {
	a := p.a
	placed, failed := 0, 0
	for _, item := range a.queue {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		if a.placedProjects[item.Project.ID] {
			continue
		}
		ok, err := p.placeProject(ctx, item)
		if err != nil {
			return "", nil, err
		}
		if ok {
			placed++
		} else {
			failed++
		}
	}
	return events.EventProjectsScheduled, events.Payload{
		"placed": placed,
		"failed": failed,
		"queued": len(a.queue),
	}, nil
}

// placeProject returns false when the item ended up as a failure. Only
// window fetch errors abort the run.
func (p *pipeline) placeProject(ctx context.Context, item *models.ProjectItem) (bool, error) {
	a := p.a
	misses := 0
	for offset := 0; offset < a.scanDays; offset++ {
		day := a.zone.AddDays(a.today, offset)
		slot, reason, err := a.find(ctx, item, item.DurationMin, day, false)
		if err != nil {
			return false, err
		}
		if reason != "" {
			misses++
			if reason == string(models.ReasonNoFit) {
				a.record(item.Project.ID, models.SourceProject, StageProjects, trace.OutcomeRejected, reason,
					"no gap long enough", map[string]any{"date": a.zone.DateKey(day)})
			}
			continue
		}
		return p.persistProject(ctx, item, slot), nil
	}

	detail := map[string]any{"days_scanned": a.scanDays, "duration_min": item.DurationMin}
	if item.ReuseInstanceID != "" {
		// The old placement no longer fits anywhere; drop it rather than
		// leave it overlapping newer work.
		detail["instance_id"] = item.ReuseInstanceID
		if a.reuse[item.Project.ID] == item.ReuseInstanceID {
			p.cancel(ctx, []cancellation{{
				inst:  models.ScheduleInstance{ID: item.ReuseInstanceID, SourceID: item.Project.ID, SourceType: models.SourceProject},
				cause: CauseStale,
			}})
		}
	}
	a.fail(item.Project.ID, models.SourceProject, models.ReasonNoWindow, detail)
	a.record(item.Project.ID, models.SourceProject, StageProjects, trace.OutcomeFailed, string(models.ReasonNoWindow),
		fmt.Sprintf("no slot within %d days", a.scanDays), map[string]any{"misses": misses})
	return false, nil
}

func (p *pipeline) persistProject(ctx context.Context, item *models.ProjectItem, slot placement.Slot) bool {
	a := p.a
	fields := repository.InstanceFields{
		UserID:         a.userID,
		SourceType:     models.SourceProject,
		SourceID:       item.Project.ID,
		WindowID:       windowID(slot),
		StartUTC:       slot.Start.UTC(),
		EndUTC:         slot.End.UTC(),
		DurationMin:    item.DurationMin,
		WeightSnapshot: item.Weight,
		EnergyResolved: slot.Candidate.Energy,
	}

	var (
		inst   models.ScheduleInstance
		err    error
		action = "created"
	)
	if item.ReuseInstanceID != "" {
		action = "rescheduled"
		inst, err = p.repo.RescheduleInstance(ctx, item.ReuseInstanceID, fields)
		if errors.Is(err, repository.ErrNotFound) {
			action = "created"
			inst, err = p.repo.CreateInstance(ctx, fields)
		}
	} else {
		inst, err = p.repo.CreateInstance(ctx, fields)
	}
	if err != nil {
		a.fail(item.Project.ID, models.SourceProject, models.ReasonError, map[string]any{
			"operation": action,
			"error":     err.Error(),
		})
		a.record(item.Project.ID, models.SourceProject, StageProjects, trace.OutcomeFailed, string(models.ReasonError),
			err.Error(), slotFields(slot))
		return false
	}

	a.commit(placement.KindProject, slot)
	a.result.Placed = append(a.result.Placed, inst)
	if action == "rescheduled" {
		a.result.Rescheduled++
		placedTrace(a, item, StageProjects, slot, trace.OutcomeReused)
	} else {
		placedTrace(a, item, StageProjects, slot, trace.OutcomePlaced)
	}
	telemetry.SchedulerPlacementsTotal.WithLabelValues(string(models.SourceProject), action).Inc()
	return true
}
