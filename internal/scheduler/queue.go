/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"math"
	"sort"

	"github.com/friendsincode/slotwise/internal/events"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/trace"
)

// buildQueue folds ready tasks into their projects, applies missed floors
// and run-mode rules, and sorts the result.
func (p *pipeline) buildQueue(context.Context) (events.EventType, events.Payload, error) {
	a := p.a
	items := BuildProjectItems(a.projects, a.tasks, a.skills)

	missedByProject := make(map[string]models.ScheduleInstance)
	for _, inst := range a.missed {
		// a.missed is newest first; keep the newest per project.
		if _, ok := missedByProject[inst.SourceID]; !ok {
			missedByProject[inst.SourceID] = inst
		}
	}

	queue := make([]*models.ProjectItem, 0, len(items))
	for _, item := range items {
		if inst, ok := missedByProject[item.Project.ID]; ok {
			item.Weight = math.Max(item.Weight, inst.WeightSnapshot)
			item.Energy = models.MaxEnergy(item.Energy, inst.EnergyResolved)
			item.ReuseInstanceID = inst.ID
			a.record(item.Project.ID, models.SourceProject, StageBuildQueue, trace.OutcomeInfo, "requeued",
				"missed instance requeued with its snapshot as a floor",
				map[string]any{"instance_id": inst.ID, "weight": item.Weight, "energy": string(item.Energy)})
		}

		if reason, excluded := a.modeExcludes(item); excluded {
			a.filtered(item.Project.ID, models.SourceProject, map[string]any{"mode": string(a.mode), "rule": reason})
			a.record(item.Project.ID, models.SourceProject, StageBuildQueue, trace.OutcomeSkipped,
				string(models.ReasonModeFiltered), "excluded by run mode", map[string]any{"mode": string(a.mode)})
			continue
		}
		if a.mode == models.ModeRush {
			item.DurationMin = RushMinutes(item.DurationMin, a.opts.RushFactor)
		}
		queue = append(queue, item)
	}

	SortQueue(queue)
	a.queue = queue
	return events.EventQueueBuilt, events.Payload{
		"queued":   len(queue),
		"filtered": len(a.result.Filtered),
		"requeued": len(missedByProject),
	}, nil
}

// modeExcludes applies the monument and skill restrictions.
func (a *arena) modeExcludes(item *models.ProjectItem) (string, bool) {
	switch a.mode {
	case models.ModeMonumental:
		if a.monumentID == "" || item.Project.MonumentID != a.monumentID {
			return "monument", true
		}
	case models.ModeSkilled:
		for _, id := range item.SkillIDs {
			if a.skillIDs[id] {
				return "", false
			}
		}
		return "skill", true
	}
	return "", false
}

const defaultTaskMinutes = 15

// BuildProjectItems turns projects and their ready tasks into queue items.
// Completed projects are dropped. A project without ready tasks keeps its
// own duration, or the default when it has none.
func BuildProjectItems(projects map[string]models.Project, tasks []models.Task, skills map[string][]string) []*models.ProjectItem {
	byProject := make(map[string][]models.Task)
	for _, t := range tasks {
		if t.ProjectID == "" || (t.Stage != "" && t.Stage != models.TaskStageReady) {
			continue
		}
		byProject[t.ProjectID] = append(byProject[t.ProjectID], t)
	}

	items := make([]*models.ProjectItem, 0, len(projects))
	for _, project := range projects {
		if project.Completed {
			continue
		}
		item := &models.ProjectItem{
			Project:  project,
			Energy:   project.EnergyLevel.Normalize(),
			Weight:   project.Weight,
			SkillIDs: append([]string(nil), skills[project.ID]...),
		}
		ready := byProject[project.ID]
		sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
		for _, t := range ready {
			minutes := t.DurationMin
			if minutes <= 0 {
				minutes = defaultTaskMinutes
			}
			item.DurationMin += minutes
			item.Weight += t.Weight
			item.Energy = models.MaxEnergy(item.Energy, t.EnergyLevel)
			item.TaskIDs = append(item.TaskIDs, t.ID)
		}
		if len(ready) == 0 {
			item.DurationMin = project.DurationMin
		}
		if item.DurationMin <= 0 {
			item.DurationMin = models.DefaultProjectMinutes
		}
		sort.Strings(item.SkillIDs)
		items = append(items, item)
	}
	return items
}

// SortQueue orders projects by energy descending, weight descending and id
// ascending.
func SortQueue(queue []*models.ProjectItem) {
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if ai, bi := a.Energy.Index(), b.Energy.Index(); ai != bi {
			return ai > bi
		}
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		return a.Project.ID < b.Project.ID
	})
}

// RushMinutes shrinks a duration by factor, rounding up to whole minutes.
func RushMinutes(minutes int, factor float64) int {
	if minutes <= 0 {
		return minutes
	}
	scaled := int(math.Ceil(float64(minutes)*factor - 1e-9))
	if scaled < 1 {
		return 1
	}
	return scaled
}
