/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduling audits persisted schedule instances for a user.
package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/tz"
)

// Severity grades a violation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Rule names a built-in check.
type Rule string

const (
	RuleOverlap   Rule = "overlap"
	RuleDuration  Rule = "duration"
	RuleDuplicate Rule = "duplicate"
	RuleShort     Rule = "short"
)

// Violation is one broken rule.
type Violation struct {
	Rule        Rule           `json:"rule"`
	Severity    Severity       `json:"severity"`
	Message     string         `json:"message"`
	StartsAt    time.Time      `json:"starts_at"`
	EndsAt      time.Time      `json:"ends_at"`
	AffectedIDs []string       `json:"affected_ids"`
	Details     map[string]any `json:"details,omitempty"`
}

// Result is the outcome of validating a range.
type Result struct {
	Valid      bool        `json:"valid"`
	Errors     []Violation `json:"errors"`
	Warnings   []Violation `json:"warnings"`
	Checked    int         `json:"checked"`
	CheckedAt  time.Time   `json:"checked_at"`
	RangeStart time.Time   `json:"range_start"`
	RangeEnd   time.Time   `json:"range_end"`
}

// Validator validates persisted instances against the placement rules.
type Validator struct {
	db     *gorm.DB
	logger zerolog.Logger
	// MinMinutes flags placements shorter than this as warnings. Zero disables it.
	MinMinutes int
}

// NewValidator creates a new schedule validator.
func NewValidator(db *gorm.DB, logger zerolog.Logger) *Validator {
	return &Validator{
		db:     db,
		logger: logger.With().Str("component", "schedule_validator").Logger(),
	}
}

// Validate checks a user's live instances that intersect [start, end).
func (v *Validator) Validate(ctx context.Context, userID string, zone tz.Zone, start, end time.Time) (*Result, error) {
	var instances []models.ScheduleInstance
	err := v.db.WithContext(ctx).
		Where("user_id = ? AND status IN ? AND start_utc < ? AND end_utc > ?",
			userID, []models.InstanceStatus{models.StatusScheduled, models.StatusCompleted}, end.UTC(), start.UTC()).
		Order("start_utc ASC, id ASC").
		Find(&instances).Error
	if err != nil {
		return nil, fmt.Errorf("fetch instances: %w", err)
	}

	var syncIDs []string
	err = v.db.WithContext(ctx).Model(&models.Habit{}).
		Where("user_id = ? AND UPPER(habit_type) = ?", userID, string(models.HabitTypeSync)).
		Pluck("id", &syncIDs).Error
	if err != nil {
		return nil, fmt.Errorf("fetch sync habits: %w", err)
	}
	syncHabits := make(map[string]bool, len(syncIDs))
	for _, id := range syncIDs {
		syncHabits[id] = true
	}

	result := &Result{
		Valid:      true,
		Errors:     []Violation{},
		Warnings:   []Violation{},
		Checked:    len(instances),
		CheckedAt:  time.Now(),
		RangeStart: start,
		RangeEnd:   end,
	}
	for _, violation := range v.Check(zone, instances, syncHabits) {
		switch violation.Severity {
		case SeverityError:
			result.Errors = append(result.Errors, violation)
			result.Valid = false
		default:
			result.Warnings = append(result.Warnings, violation)
		}
	}
	v.logger.Debug().
		Str("user_id", userID).
		Int("checked", result.Checked).
		Int("errors", len(result.Errors)).
		Int("warnings", len(result.Warnings)).
		Msg("schedule validated")
	return result, nil
}

// Check runs every rule over instances. syncHabits holds the ids of habits
// allowed to overlap other habits.
func (v *Validator) Check(zone tz.Zone, instances []models.ScheduleInstance, syncHabits map[string]bool) []Violation {
	items := make([]models.ScheduleInstance, 0, len(instances))
	for _, inst := range instances {
		if inst.Active() {
			items = append(items, inst)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].StartUTC.Equal(items[j].StartUTC) {
			return items[i].StartUTC.Before(items[j].StartUTC)
		}
		return items[i].ID < items[j].ID
	})

	var out []Violation
	out = append(out, checkOverlaps(items, syncHabits)...)
	out = append(out, checkDurations(items)...)
	out = append(out, checkDuplicates(zone, items)...)
	if v.MinMinutes > 0 {
		out = append(out, checkShort(items, v.MinMinutes)...)
	}
	return out
}

// conflicts reports whether two overlapping instances break the overlap rule.
// Projects may not share time with anything; sync habits may share time with
// habits only.
func conflicts(a, b models.ScheduleInstance, syncHabits map[string]bool) bool {
	if a.SourceType == models.SourceProject || b.SourceType == models.SourceProject {
		return true
	}
	return !syncHabits[a.SourceID] && !syncHabits[b.SourceID]
}

// checkOverlaps detects overlapping items.
func checkOverlaps(items []models.ScheduleInstance, syncHabits map[string]bool) []Violation {
	var violations []Violation
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			a, b := items[i], items[j]
			if !b.StartUTC.Before(a.EndUTC) {
				break
			}
			if !a.EndUTC.After(b.StartUTC) || !conflicts(a, b, syncHabits) {
				continue
			}
			overlapStart := maxTime(a.StartUTC, b.StartUTC)
			overlapEnd := minTime(a.EndUTC, b.EndUTC)
			overlapMinutes := int(overlapEnd.Sub(overlapStart).Minutes())
			violations = append(violations, Violation{
				Rule:     RuleOverlap,
				Severity: SeverityError,
				Message: fmt.Sprintf("%s and %s both run from %s to %s (%d minute overlap)",
					label(a), label(b), overlapStart.Format(time.RFC3339), overlapEnd.Format(time.RFC3339), overlapMinutes),
				StartsAt:    overlapStart,
				EndsAt:      overlapEnd,
				AffectedIDs: []string{a.ID, b.ID},
				Details: map[string]any{
					"overlap_minutes": overlapMinutes,
				},
			})
		}
	}
	return violations
}

// checkDurations flags instances whose span differs from their duration.
// Clipped instances may be shorter but never longer.
func checkDurations(items []models.ScheduleInstance) []Violation {
	var violations []Violation
	for _, inst := range items {
		span := inst.EndUTC.Sub(inst.StartUTC)
		want := inst.Duration()
		ok := span == want
		if inst.Clipped {
			ok = span > 0 && span <= want
		}
		if ok {
			continue
		}
		violations = append(violations, Violation{
			Rule:        RuleDuration,
			Severity:    SeverityError,
			Message:     fmt.Sprintf("%s spans %s but records %d minutes", label(inst), span, inst.DurationMin),
			StartsAt:    inst.StartUTC,
			EndsAt:      inst.EndUTC,
			AffectedIDs: []string{inst.ID},
			Details: map[string]any{
				"span_minutes": int(span.Minutes()),
				"duration_min": inst.DurationMin,
				"clipped":      inst.Clipped,
			},
		})
	}
	return violations
}

// checkDuplicates flags more than one scheduled instance per project, and
// more than one instance per habit per local day.
func checkDuplicates(zone tz.Zone, items []models.ScheduleInstance) []Violation {
	groups := make(map[string][]models.ScheduleInstance)
	var keys []string
	for _, inst := range items {
		var key string
		switch inst.SourceType {
		case models.SourceHabit:
			key = string(inst.SourceType) + ":" + inst.SourceID + ":" + zone.DateKey(inst.StartUTC)
		default:
			if inst.Status != models.StatusScheduled {
				continue
			}
			key = string(inst.SourceType) + ":" + inst.SourceID
		}
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], inst)
	}

	var violations []Violation
	for _, key := range keys {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		ids := make([]string, len(group))
		for i, inst := range group {
			ids[i] = inst.ID
		}
		violations = append(violations, Violation{
			Rule:        RuleDuplicate,
			Severity:    SeverityError,
			Message:     fmt.Sprintf("%s has %d live instances", label(group[0]), len(group)),
			StartsAt:    group[0].StartUTC,
			EndsAt:      group[len(group)-1].EndUTC,
			AffectedIDs: ids,
			Details:     map[string]any{"key": key},
		})
	}
	return violations
}

func checkShort(items []models.ScheduleInstance, minMinutes int) []Violation {
	var violations []Violation
	for _, inst := range items {
		minutes := int(inst.EndUTC.Sub(inst.StartUTC).Minutes())
		if minutes >= minMinutes {
			continue
		}
		violations = append(violations, Violation{
			Rule:        RuleShort,
			Severity:    SeverityWarning,
			Message:     fmt.Sprintf("%s lasts %d minutes", label(inst), minutes),
			StartsAt:    inst.StartUTC,
			EndsAt:      inst.EndUTC,
			AffectedIDs: []string{inst.ID},
			Details: map[string]any{
				"duration_minutes": minutes,
				"min_required":     minMinutes,
			},
		})
	}
	return violations
}

func label(inst models.ScheduleInstance) string {
	return fmt.Sprintf("%s %s (%s)", inst.SourceType, inst.SourceID, inst.ID)
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
