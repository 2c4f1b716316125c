/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"time"

	"github.com/friendsincode/slotwise/internal/constraints"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/placement"
	"github.com/friendsincode/slotwise/internal/trace"
)

// dayCandidates resolves the windows of day and narrows each one an item may
// use. rejected counts windows dropped by a constraint, keyed by dimension.
func (a *arena) dayCandidates(ctx context.Context, item models.Item, day time.Time) ([]placement.Candidate, map[string]int, error) {
	occs, err := a.windows.ForDay(ctx, day)
	if err != nil {
		return nil, nil, err
	}
	var pinned string
	if h, ok := item.(*models.HabitItem); ok && h.Habit.WindowID != nil {
		pinned = *h.Habit.WindowID
	}

	rejected := make(map[string]int)
	cands := make([]placement.Candidate, 0, len(occs))
	for _, occ := range occs {
		if pinned != "" && occ.Window.ID != pinned {
			rejected["window"]++
			continue
		}
		if r := constraints.Eligible(item, occ.Window, a.energyCap); r != constraints.RejectNone {
			rejected[string(r)]++
			continue
		}
		start, end, ok := a.availability.Clip(occ)
		if !ok {
			rejected["exhausted"]++
			continue
		}
		start, end, ok = a.sun.Narrow(models.Daylight(item), models.Anchor(item), start, end)
		if !ok {
			rejected[string(constraints.RejectDaylight)]++
			continue
		}
		cands = append(cands, placement.Candidate{
			Occurrence: occ,
			Start:      start,
			End:        end,
			Energy:     constraints.EffectiveEnergy(occ.Window, a.energyCap),
		})
	}
	return cands, rejected, nil
}

// request builds the slot search for an item.
func (a *arena) request(item models.Item, minutes int, clip bool) placement.Request {
	duration := time.Duration(minutes) * time.Minute
	req := placement.Request{
		Kind:      placement.KindOf(item),
		Duration:  duration,
		Energy:    item.RequiredEnergy(),
		NotBefore: a.now,
		Anchor:    models.Anchor(item),
	}
	if clip && a.opts.MinClip > 0 {
		req.MinClip = a.opts.MinClip
		if duration < req.MinClip {
			req.MinClip = duration
		}
	}
	return req
}

// find searches one day for an item. The returned reason explains a miss.
func (a *arena) find(ctx context.Context, item models.Item, minutes int, day time.Time, clip bool) (placement.Slot, string, error) {
	cands, rejected, err := a.dayCandidates(ctx, item, day)
	if err != nil {
		return placement.Slot{}, "", err
	}
	if len(cands) == 0 {
		if len(rejected) == 0 {
			return placement.Slot{}, "no_windows", nil
		}
		return placement.Slot{}, "no_eligible_window", nil
	}
	slot, ok := placement.Find(cands, a.request(item, minutes, clip), a.occupancy)
	if !ok {
		return placement.Slot{}, string(models.ReasonNoFit), nil
	}
	return slot, "", nil
}

func slotFields(slot placement.Slot) map[string]any {
	return map[string]any{
		"window_id": slot.Candidate.Occurrence.Window.ID,
		"start":     slot.Start,
		"end":       slot.End,
		"energy":    string(slot.Candidate.Energy),
		"clipped":   slot.Clipped,
	}
}

func windowID(slot placement.Slot) *string {
	id := slot.Candidate.Occurrence.Window.ID
	if id == "" {
		return nil
	}
	return &id
}

func placedTrace(a *arena, item models.Item, stage Stage, slot placement.Slot, outcome trace.Outcome) {
	a.record(item.ItemID(), item.Source(), stage, outcome, "", "placed", slotFields(slot))
}
