/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"sort"

	"github.com/friendsincode/slotwise/internal/events"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/telemetry"
	"github.com/friendsincode/slotwise/internal/trace"
	"github.com/friendsincode/slotwise/internal/tz"
)

// Cancellation causes.
const (
	CauseDuplicate = "duplicate"
	CauseStale     = "stale"
)

type cancellation struct {
	inst  models.ScheduleInstance
	cause string
}

// DedupeKey groups instances that must not coexist. Projects get one live
// instance per horizon; habits one per local day.
func DedupeKey(zone tz.Zone, inst models.ScheduleInstance) string {
	if inst.SourceType == models.SourceHabit {
		return string(models.SourceHabit) + ":" + inst.SourceID + ":" + zone.DateKey(inst.StartUTC)
	}
	return string(inst.SourceType) + ":" + inst.SourceID
}

// dedupe keeps the earliest live instance per key, cancels the extras and
// stale instances, and marks kept time as busy.
func (p *pipeline) dedupe(ctx context.Context) (events.EventType, events.Payload, error) {
	a := p.a
	queued := make(map[string]*models.ProjectItem, len(a.queue))
	for _, item := range a.queue {
		queued[item.Project.ID] = item
	}

	groups := make(map[string][]models.ScheduleInstance)
	for _, inst := range a.existing {
		switch {
		case inst.Status == models.StatusCompleted:
			// Completed work stays busy but never competes for a key,
			// except habits which complete once per day.
			if inst.SourceType != models.SourceHabit {
				a.keep(inst, "completed")
				continue
			}
		case inst.Status != models.StatusScheduled:
			continue
		}
		key := DedupeKey(a.zone, inst)
		groups[key] = append(groups[key], inst)
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var cancels []cancellation
	reused := 0
	for _, key := range keys {
		list := groups[key]
		sort.Slice(list, func(i, j int) bool {
			if !list[i].StartUTC.Equal(list[j].StartUTC) {
				return list[i].StartUTC.Before(list[j].StartUTC)
			}
			return list[i].ID < list[j].ID
		})

		keeper := list[0]
		if a.isStale(keeper) {
			for _, inst := range list {
				if a.settled(inst) {
					a.keep(inst, "settled")
					continue
				}
				cancels = append(cancels, cancellation{inst: inst, cause: CauseStale})
			}
			continue
		}

		if item, ok := queued[keeper.SourceID]; ok && keeper.SourceType == models.SourceProject {
			if !a.settled(keeper) && keeper.DurationMin != item.DurationMin {
				item.ReuseInstanceID = keeper.ID
				a.reuse[item.Project.ID] = keeper.ID
				reused++
				a.record(keeper.SourceID, keeper.SourceType, StageDedupe, trace.OutcomeReused, "duration_changed",
					"instance will be rescheduled in place",
					map[string]any{"instance_id": keeper.ID, "was_min": keeper.DurationMin, "now_min": item.DurationMin})
			} else {
				item.ReuseInstanceID = ""
				a.placedProjects[item.Project.ID] = true
				a.keep(keeper, "keeper")
			}
		} else {
			a.keep(keeper, "keeper")
		}

		for _, inst := range list[1:] {
			if a.settled(inst) {
				a.keep(inst, "settled")
				continue
			}
			cancels = append(cancels, cancellation{inst: inst, cause: CauseDuplicate})
		}
	}

	canceled := p.cancel(ctx, cancels)
	return events.EventDedupeComplete, events.Payload{
		"kept":     a.result.Kept,
		"canceled": canceled,
		"reused":   reused,
	}, nil
}

// isStale reports whether an instance's source no longer needs time.
func (a *arena) isStale(inst models.ScheduleInstance) bool {
	switch inst.SourceType {
	case models.SourceProject:
		project, ok := a.projects[inst.SourceID]
		return !ok || project.Completed
	case models.SourceHabit:
		_, ok := a.habitByID[inst.SourceID]
		return !ok
	}
	return false
}

func (a *arena) keep(inst models.ScheduleInstance, why string) {
	a.registerInstance(inst)
	a.result.Kept++
	telemetry.SchedulerPlacementsTotal.WithLabelValues(string(inst.SourceType), "kept").Inc()
	a.record(inst.SourceID, inst.SourceType, StageDedupe, trace.OutcomeInfo, why, "existing instance kept",
		map[string]any{"instance_id": inst.ID, "start": inst.StartUTC, "end": inst.EndUTC})
}

// cancel cancels in one batch. A failed batch is reported per instance and
// the instances stay busy so nothing is placed over them.
func (p *pipeline) cancel(ctx context.Context, cancels []cancellation) int {
	a := p.a
	if len(cancels) == 0 {
		return 0
	}
	ids := make([]string, len(cancels))
	for i, c := range cancels {
		ids[i] = c.inst.ID
	}
	if err := p.repo.CancelInstances(ctx, ids); err != nil {
		p.logger.Warn().Err(err).Int("count", len(ids)).Msg("cancel instances failed")
		for _, c := range cancels {
			a.registerInstance(c.inst)
			a.fail(c.inst.SourceID, c.inst.SourceType, models.ReasonError, map[string]any{
				"instance_id": c.inst.ID,
				"operation":   "cancel",
				"cause":       c.cause,
				"error":       err.Error(),
			})
		}
		return 0
	}
	for _, c := range cancels {
		a.result.Canceled = append(a.result.Canceled, c.inst.ID)
		telemetry.SchedulerCancellationsTotal.WithLabelValues(c.cause).Inc()
		a.record(c.inst.SourceID, c.inst.SourceType, StageDedupe, trace.OutcomeCanceled, c.cause, "instance canceled",
			map[string]any{"instance_id": c.inst.ID, "start": c.inst.StartUTC})
	}
	return len(cancels)
}
