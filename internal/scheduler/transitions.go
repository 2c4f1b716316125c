/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/friendsincode/slotwise/internal/events"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/repository"
)

var (
	// ErrInvalidTransition is returned when an instance's status forbids the change.
	ErrInvalidTransition = errors.New("scheduler: invalid status transition")
	// ErrOverlap is returned when a reschedule would overlap another project.
	ErrOverlap = errors.New("scheduler: instance would overlap a project")
)

// Instance loads one instance.
func (s *Service) Instance(ctx context.Context, id string) (models.ScheduleInstance, error) {
	return s.repo.FetchInstance(ctx, id)
}

// Complete marks an instance completed at the given time.
func (s *Service) Complete(ctx context.Context, id string, at time.Time) (models.ScheduleInstance, error) {
	inst, err := s.repo.FetchInstance(ctx, id)
	if err != nil {
		return inst, err
	}
	switch inst.Status {
	case models.StatusCompleted:
		return inst, nil
	case models.StatusCanceled:
		return inst, fmt.Errorf("complete %s: %w: instance is canceled", id, ErrInvalidTransition)
	}
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()
	if err := s.repo.UpdateInstanceStatus(ctx, id, models.StatusCompleted, &at); err != nil {
		return inst, err
	}
	inst.Status = models.StatusCompleted
	inst.CompletedAt = &at
	s.emit(events.EventInstanceCompleted, events.Payload{
		"instance_id": id,
		"user_id":     inst.UserID,
		"source_id":   inst.SourceID,
		"source_type": string(inst.SourceType),
		"at":          at.Format(time.RFC3339),
	})
	s.logger.Info().Str("instance_id", id).Msg("instance completed")
	return inst, nil
}

// Cancel cancels a scheduled or missed instance.
func (s *Service) Cancel(ctx context.Context, id string) (models.ScheduleInstance, error) {
	inst, err := s.repo.FetchInstance(ctx, id)
	if err != nil {
		return inst, err
	}
	switch inst.Status {
	case models.StatusCanceled:
		return inst, nil
	case models.StatusCompleted:
		return inst, fmt.Errorf("cancel %s: %w: instance is completed", id, ErrInvalidTransition)
	}
	if err := s.repo.CancelInstances(ctx, []string{id}); err != nil {
		return inst, err
	}
	inst.Status = models.StatusCanceled
	s.emit(events.EventInstanceCanceled, events.Payload{
		"instance_id": id,
		"user_id":     inst.UserID,
		"source_id":   inst.SourceID,
		"source_type": string(inst.SourceType),
	})
	s.logger.Info().Str("instance_id", id).Msg("instance canceled")
	return inst, nil
}

// Reschedule moves an instance to start, keeping its duration. Projects may
// not land on another live project instance.
func (s *Service) Reschedule(ctx context.Context, id string, start time.Time) (models.ScheduleInstance, error) {
	inst, err := s.repo.FetchInstance(ctx, id)
	if err != nil {
		return inst, err
	}
	if inst.Status == models.StatusCompleted {
		return inst, fmt.Errorf("reschedule %s: %w: instance is completed", id, ErrInvalidTransition)
	}
	length := inst.EndUTC.Sub(inst.StartUTC)
	if !inst.Clipped || length <= 0 {
		length = inst.Duration()
	}
	start = start.UTC()
	end := start.Add(length)

	if inst.SourceType == models.SourceProject {
		others, err := s.repo.FetchInstancesForRange(ctx, inst.UserID, start, end)
		if err != nil {
			return inst, err
		}
		for _, other := range others {
			if other.ID == inst.ID || other.SourceType != models.SourceProject || !other.Active() {
				continue
			}
			return inst, fmt.Errorf("reschedule %s: %w (%s)", id, ErrOverlap, other.ID)
		}
	}

	moved, err := s.repo.RescheduleInstance(ctx, id, repository.InstanceFields{
		UserID:         inst.UserID,
		SourceType:     inst.SourceType,
		SourceID:       inst.SourceID,
		WindowID:       inst.WindowID,
		StartUTC:       start,
		EndUTC:         end,
		DurationMin:    inst.DurationMin,
		WeightSnapshot: inst.WeightSnapshot,
		EnergyResolved: inst.EnergyResolved,
		Clipped:        inst.Clipped,
	})
	if err != nil {
		return inst, err
	}
	s.emit(events.EventInstanceRescheduled, events.Payload{
		"instance_id": id,
		"user_id":     moved.UserID,
		"source_id":   moved.SourceID,
		"start":       moved.StartUTC.Format(time.RFC3339),
		"end":         moved.EndUTC.Format(time.RFC3339),
	})
	s.logger.Info().Str("instance_id", id).Time("start", start).Msg("instance rescheduled")
	return moved, nil
}
