/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"fmt"
	"strings"
)

// Energy is an ordered capacity label shared by windows and items.
type Energy string

const (
	EnergyNo      Energy = "NO"
	EnergyLow     Energy = "LOW"
	EnergyMedium  Energy = "MEDIUM"
	EnergyHigh    Energy = "HIGH"
	EnergyUltra   Energy = "ULTRA"
	EnergyExtreme Energy = "EXTREME"
)

var energyOrder = []Energy{EnergyNo, EnergyLow, EnergyMedium, EnergyHigh, EnergyUltra, EnergyExtreme}

// Index returns the position of e in NO < LOW < MEDIUM < HIGH < ULTRA < EXTREME.
// Unknown or empty values rank as NO.
func (e Energy) Index() int {
	normalized := Energy(strings.ToUpper(strings.TrimSpace(string(e))))
	for i, candidate := range energyOrder {
		if candidate == normalized {
			return i
		}
	}
	return 0
}

// Normalize returns the canonical spelling of e.
func (e Energy) Normalize() Energy {
	return energyOrder[e.Index()]
}

// Satisfies reports whether a window of energy e can host an item needing required.
func (e Energy) Satisfies(required Energy) bool {
	return e.Index() >= required.Index()
}

// ParseEnergy validates an energy label.
func ParseEnergy(value string) (Energy, error) {
	normalized := Energy(strings.ToUpper(strings.TrimSpace(value)))
	for _, candidate := range energyOrder {
		if candidate == normalized {
			return candidate, nil
		}
	}
	return EnergyNo, fmt.Errorf("unknown energy level %q", value)
}

// MaxEnergy returns the higher of two energy levels.
func MaxEnergy(a, b Energy) Energy {
	if b.Index() > a.Index() {
		return b.Normalize()
	}
	return a.Normalize()
}

// MinEnergy returns the lower of two energy levels.
func MinEnergy(a, b Energy) Energy {
	if b.Index() < a.Index() {
		return b.Normalize()
	}
	return a.Normalize()
}

// SourceType identifies what an instance was placed for.
type SourceType string

const (
	SourceProject SourceType = "PROJECT"
	SourceHabit   SourceType = "HABIT"
)

// InstanceStatus is the lifecycle state of a schedule instance.
type InstanceStatus string

const (
	StatusScheduled InstanceStatus = "scheduled"
	StatusCompleted InstanceStatus = "completed"
	StatusMissed    InstanceStatus = "missed"
	StatusCanceled  InstanceStatus = "canceled"
)

// HabitType distinguishes ordinary habits from chores and overlay habits.
type HabitType string

const (
	HabitTypeHabit    HabitType = "HABIT"
	HabitTypeChore    HabitType = "CHORE"
	HabitTypePractice HabitType = "PRACTICE"
	// HabitTypeSync habits may share time with other habits but never with projects.
	HabitTypeSync HabitType = "SYNC"
)

// ProjectTypeTag is the habit-type value projects present to window allow-lists.
const ProjectTypeTag = "PROJECT"

// RecurrenceKind names a habit's repeat cycle.
type RecurrenceKind string

const (
	RecurrenceNone        RecurrenceKind = "none"
	RecurrenceDaily       RecurrenceKind = "daily"
	RecurrenceWeekly      RecurrenceKind = "weekly"
	RecurrenceBiWeekly    RecurrenceKind = "bi-weekly"
	RecurrenceMonthly     RecurrenceKind = "monthly"
	RecurrenceBiMonthly   RecurrenceKind = "bi-monthly"
	RecurrenceSixMonthly  RecurrenceKind = "every 6 months"
	RecurrenceYearly      RecurrenceKind = "yearly"
	RecurrenceEveryNDays  RecurrenceKind = "every x days"
	RecurrenceUnspecified RecurrenceKind = ""
)

// ParseRecurrence maps loose spellings onto a RecurrenceKind.
func ParseRecurrence(value string) RecurrenceKind {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, "_", " ")
	switch v {
	case "", "none", "once":
		return RecurrenceNone
	case "daily", "every day":
		return RecurrenceDaily
	case "weekly", "every week":
		return RecurrenceWeekly
	case "bi-weekly", "biweekly", "bi weekly", "every 2 weeks":
		return RecurrenceBiWeekly
	case "monthly", "every month":
		return RecurrenceMonthly
	case "bi-monthly", "bimonthly", "bi monthly", "every 2 months":
		return RecurrenceBiMonthly
	case "every 6 months", "semiannual", "semi-annual", "6 months":
		return RecurrenceSixMonthly
	case "yearly", "annual", "annually", "every year":
		return RecurrenceYearly
	case "every x days", "every n days", "interval":
		return RecurrenceEveryNDays
	}
	return RecurrenceKind(v)
}

// DaylightPreference restricts a habit to daytime or nighttime.
type DaylightPreference string

const (
	DaylightAny   DaylightPreference = "ALL_DAY"
	DaylightDay   DaylightPreference = "DAY"
	DaylightNight DaylightPreference = "NIGHT"
)

// AnchorPreference selects which edge of a window an item gravitates to.
type AnchorPreference string

const (
	AnchorFront AnchorPreference = "FRONT"
	AnchorBack  AnchorPreference = "BACK"
)

// RunMode alters queue eligibility and placement for a run.
type RunMode string

const (
	ModeRegular    RunMode = "REGULAR"
	ModeRush       RunMode = "RUSH"
	ModeRest       RunMode = "REST"
	ModeMonumental RunMode = "MONUMENTAL"
	ModeSkilled    RunMode = "SKILLED"
)

// ParseRunMode validates a run mode name. Empty means REGULAR.
func ParseRunMode(value string) (RunMode, error) {
	switch mode := RunMode(strings.ToUpper(strings.TrimSpace(value))); mode {
	case "":
		return ModeRegular, nil
	case ModeRegular, ModeRush, ModeRest, ModeMonumental, ModeSkilled:
		return mode, nil
	}
	return ModeRegular, fmt.Errorf("unknown run mode %q", value)
}

// TodayOnly reports whether the mode restricts placement to the current day.
func (m RunMode) TodayOnly() bool {
	return m == ModeMonumental || m == ModeSkilled
}

// FailureReason is the reason code attached to a ScheduleFailure.
type FailureReason string

const (
	// ReasonNoWindow means the horizon was exhausted without a feasible slot.
	ReasonNoWindow FailureReason = "NO_WINDOW"
	// ReasonNoFit is a single day pass with no slot; it is traced, not surfaced.
	ReasonNoFit FailureReason = "NO_FIT"
	// ReasonModeFiltered means the active run mode excluded the item.
	ReasonModeFiltered FailureReason = "MODE_FILTERED"
	// ReasonError wraps a failed repository call.
	ReasonError FailureReason = "error"
)

// ScheduleFailure records why an item was not placed. It is not persisted.
type ScheduleFailure struct {
	ItemID     string         `json:"item_id"`
	SourceType SourceType     `json:"source_type"`
	Reason     FailureReason  `json:"reason"`
	Detail     map[string]any `json:"detail,omitempty"`
}
