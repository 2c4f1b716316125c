/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/friendsincode/slotwise/internal/events"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/placement"
	"github.com/friendsincode/slotwise/internal/repository"
	"github.com/friendsincode/slotwise/internal/telemetry"
	"github.com/friendsincode/slotwise/internal/trace"
)

const (
	passRegular = "regular"
	passSync    = "sync"
)

// maxHabitInsertAttempts bounds the insert retry around the habit source probe.
const maxHabitInsertAttempts = 2

func (p *pipeline) scheduleRegularHabits(ctx context.Context) (events.EventType, events.Payload, error) {
	placed, failed, err := p.habitPass(ctx, passRegular)
	if err != nil {
		return "", nil, err
	}
	return events.EventHabitPassComplete, events.Payload{"pass": passRegular, "placed": placed, "failed": failed}, nil
}

func (p *pipeline) scheduleSyncHabits(ctx context.Context) (events.EventType, events.Payload, error) {
	placed, failed, err := p.habitPass(ctx, passSync)
	if err != nil {
		return "", nil, err
	}
	return events.EventHabitPassComplete, events.Payload{"pass": passSync, "placed": placed, "failed": failed}, nil
}

// OrderHabits sorts the habits of one pass. Regular habits go by weight
// descending; sync habits by duration descending so the longest one sets a
// window's shared start. Ties break on id.
func OrderHabits(habits []models.Habit, pass string) []models.Habit {
	out := append([]models.Habit(nil), habits...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if pass == passSync {
			ai, bi := (&models.HabitItem{Habit: a}).Minutes(), (&models.HabitItem{Habit: b}).Minutes()
			if ai != bi {
				return ai > bi
			}
		} else if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		return a.ID < b.ID
	})
	return out
}

// habitPass places the due habits of one pass for each day of the habit
// lookahead. Placements are held until persist-habits.
func (p *pipeline) habitPass(ctx context.Context, pass string) (int, int, error) {
	a := p.a
	stage := StageHabitsRegular
	if pass == passSync {
		stage = StageHabitsSync
	}
	var selected []models.Habit
	for _, h := range a.habits {
		if h.IsSync() == (pass == passSync) {
			selected = append(selected, h)
		}
	}
	selected = OrderHabits(selected, pass)

	placed, failed := 0, 0
	for offset := 0; offset < a.habitDays; offset++ {
		day := a.zone.AddDays(a.today, offset)
		// Start shared by sync habits per window occurrence.
		anchors := make(map[string]time.Time)
		for _, h := range selected {
			if err := ctx.Err(); err != nil {
				return placed, failed, err
			}
			due, tag := a.habitDue(h, day)
			if !due {
				a.record(h.ID, models.SourceHabit, stage, trace.OutcomeSkipped, tag, "not due",
					map[string]any{"date": a.zone.DateKey(day)})
				continue
			}

			item := &models.HabitItem{Habit: h}
			minutes := item.Minutes()
			if a.mode == models.ModeRush {
				minutes = RushMinutes(minutes, a.opts.RushFactor)
			}

			var (
				slot   placement.Slot
				ok     bool
				reason string
				err    error
			)
			if pass == passSync {
				slot, ok, err = a.sharedAnchor(ctx, item, minutes, day, anchors)
				if err != nil {
					return placed, failed, err
				}
			}
			if !ok {
				slot, reason, err = a.find(ctx, item, minutes, day, true)
				if err != nil {
					return placed, failed, err
				}
			}
			if reason != "" {
				failed++
				a.fail(h.ID, models.SourceHabit, models.ReasonNoWindow, map[string]any{
					"date":   a.zone.DateKey(day),
					"reason": reason,
				})
				a.record(h.ID, models.SourceHabit, stage, trace.OutcomeFailed, string(models.ReasonNoWindow),
					fmt.Sprintf("no slot on %s (%s)", a.zone.DateKey(day), reason), nil)
				continue
			}

			a.commit(placement.KindOf(item), slot)
			a.ledger.Add(h.ID, slot.Start)
			if pass == passSync {
				if _, seen := anchors[slot.Candidate.Occurrence.Key]; !seen {
					anchors[slot.Candidate.Occurrence.Key] = slot.Start
				}
			}
			a.pending = append(a.pending, pendingHabit{habit: h, slot: slot, minutes: minutes, pass: pass})
			placed++
			placedTrace(a, item, stage, slot, trace.OutcomePlaced)
		}
	}
	return placed, failed, nil
}

// habitDue evaluates recurrence for a habit. A reached override yields a
// single placement; after that the habit waits for the override to move.
func (a *arena) habitDue(h models.Habit, day time.Time) (bool, string) {
	res := a.ledger.Evaluate(h, day)
	if !res.Due {
		return false, res.Tag
	}
	if h.NextDueOverride != nil {
		if last := a.ledger.Last(h.ID, day); last != nil && a.zone.DayDiff(*h.NextDueOverride, *last) >= 0 {
			return false, "override-consumed"
		}
		if a.ledger.Next(h.ID, day) != nil {
			return false, "override-consumed"
		}
	}
	return true, res.Tag
}

// sharedAnchor places a sync habit at the start an earlier sync habit chose
// in the same window, when it still fits there.
func (a *arena) sharedAnchor(ctx context.Context, item models.Item, minutes int, day time.Time, anchors map[string]time.Time) (placement.Slot, bool, error) {
	if len(anchors) == 0 {
		return placement.Slot{}, false, nil
	}
	cands, _, err := a.dayCandidates(ctx, item, day)
	if err != nil {
		return placement.Slot{}, false, err
	}
	duration := time.Duration(minutes) * time.Minute
	for _, c := range cands {
		start, ok := anchors[c.Occurrence.Key]
		if !ok {
			continue
		}
		end := start.Add(duration)
		if start.Before(c.Start) || end.After(c.End) || start.Before(a.now) {
			continue
		}
		if !a.occupancy.Free(placement.KindSync, start, end) {
			continue
		}
		return placement.Slot{Candidate: c, Start: start, End: end}, true, nil
	}
	return placement.Slot{}, false, nil
}

// persistHabits writes the held habit placements.
func (p *pipeline) persistHabits(ctx context.Context) (events.EventType, events.Payload, error) {
	a := p.a
	persisted, failed := 0, 0
	for _, ph := range a.pending {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		fields := repository.InstanceFields{
			UserID:         a.userID,
			SourceType:     models.SourceHabit,
			SourceID:       ph.habit.ID,
			WindowID:       windowID(ph.slot),
			StartUTC:       ph.slot.Start.UTC(),
			EndUTC:         ph.slot.End.UTC(),
			DurationMin:    ph.minutes,
			WeightSnapshot: ph.habit.Weight,
			EnergyResolved: ph.slot.Candidate.Energy,
			Clipped:        ph.slot.Clipped,
		}
		inst, err := p.createHabitInstance(ctx, fields)
		if err != nil {
			failed++
			a.fail(ph.habit.ID, models.SourceHabit, models.ReasonError, map[string]any{
				"operation": "created",
				"date":      a.zone.DateKey(ph.slot.Start),
				"error":     err.Error(),
			})
			a.record(ph.habit.ID, models.SourceHabit, StagePersistHabits, trace.OutcomeFailed,
				string(models.ReasonError), err.Error(), slotFields(ph.slot))
			continue
		}
		persisted++
		a.result.Placed = append(a.result.Placed, inst)
		telemetry.SchedulerPlacementsTotal.WithLabelValues(string(models.SourceHabit), "created").Inc()
	}
	return events.EventHabitsPersisted, events.Payload{"persisted": persisted, "failed": failed}, nil
}

// createHabitInstance inserts a HABIT instance. When the store reports it
// cannot hold habit instances yet, the probe runs once per run and the
// insert is retried.
func (p *pipeline) createHabitInstance(ctx context.Context, fields repository.InstanceFields) (models.ScheduleInstance, error) {
	a := p.a
	var lastErr error
	for attempt := 1; attempt <= maxHabitInsertAttempts; attempt++ {
		inst, err := p.repo.CreateInstance(ctx, fields)
		if err == nil {
			return inst, nil
		}
		lastErr = err
		if !errors.Is(err, repository.ErrHabitSourceUnsupported) || a.habitSourceProbed {
			break
		}
		prober, ok := p.repo.(repository.HabitSourceProber)
		if !ok {
			break
		}
		a.habitSourceProbed = true
		p.logger.Info().Msg("habit source type unsupported, probing store")
		if err := prober.EnsureHabitSource(ctx); err != nil {
			return models.ScheduleInstance{}, fmt.Errorf("ensure habit source: %w", err)
		}
	}
	return models.ScheduleInstance{}, lastErr
}
