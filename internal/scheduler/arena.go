/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"strings"
	"time"

	"github.com/friendsincode/slotwise/internal/constraints"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/placement"
	"github.com/friendsincode/slotwise/internal/recurrence"
	"github.com/friendsincode/slotwise/internal/repository"
	"github.com/friendsincode/slotwise/internal/telemetry"
	"github.com/friendsincode/slotwise/internal/trace"
	"github.com/friendsincode/slotwise/internal/tz"
	"github.com/friendsincode/slotwise/internal/windows"
	"github.com/rs/zerolog"
)

type arenaConfig struct {
	runID    string
	userID   string
	zone     tz.Zone
	now      time.Time
	req      RunRequest
	mode     models.RunMode
	opts     Options
	repo     repository.Repository
	settings models.UserSettings
	logger   zerolog.Logger
}

// pendingHabit is a habit placement held in memory until persist-habits.
type pendingHabit struct {
	habit   models.Habit
	slot    placement.Slot
	minutes int
	pass    string
}

// arena owns every piece of mutable state a run touches. Nothing in it is
// shared between runs.
type arena struct {
	runID  string
	userID string
	zone   tz.Zone
	now    time.Time
	today  time.Time
	mode   models.RunMode
	opts   Options
	logger zerolog.Logger

	// horizonDays bounds reconciliation; scanDays bounds project placement.
	horizonDays int
	scanDays    int
	habitDays   int
	stability   time.Duration
	energyCap   *models.Energy
	monumentID  string
	skillIDs    map[string]bool

	windows      *windows.Cache
	occupancy    *placement.Occupancy
	availability *placement.Availability
	ledger       *recurrence.Ledger
	sun          *constraints.Sun
	trace        *trace.Collector

	// habitSourceProbed is set once EnsureHabitSource has run for this run.
	habitSourceProbed bool

	missed     []models.ScheduleInstance
	tasks      []models.Task
	projects   map[string]models.Project
	skills     map[string][]string
	habits     []models.Habit
	habitByID  map[string]models.Habit
	syncHabits map[string]bool
	existing   []models.ScheduleInstance

	queue []*models.ProjectItem
	// reuse maps a project id to an instance id to reschedule in place.
	reuse map[string]string
	// placedProjects holds projects whose kept instance stays where it is.
	placedProjects map[string]bool
	pending        []pendingHabit

	result *RunResult
}

func newArena(cfg arenaConfig) *arena {
	opts := cfg.opts
	horizon := opts.HorizonDays
	if cfg.req.Days > 0 {
		horizon = cfg.req.Days
	}
	scanDays := horizon
	if cfg.mode.TodayOnly() {
		scanDays = 1
	}
	habitDays := opts.HabitLookaheadDays
	if habitDays > scanDays {
		habitDays = scanDays
	}

	var energyCap *models.Energy
	if cfg.mode == models.ModeRest {
		limit := models.EnergyLow
		energyCap = &limit
	}

	skills := make(map[string]bool, len(cfg.req.SkillIDs))
	for _, id := range cfg.req.SkillIDs {
		if id = strings.TrimSpace(id); id != "" {
			skills[id] = true
		}
	}

	stability := cfg.req.Stability
	if stability < 0 {
		stability = 0
	}

	a := &arena{
		runID:  cfg.runID,
		userID: cfg.userID,
		zone:   cfg.zone,
		now:    cfg.now,
		today:  cfg.zone.StartOfDay(cfg.now),
		mode:   cfg.mode,
		opts:   opts,
		logger: cfg.logger,

		horizonDays: horizon,
		scanDays:    scanDays,
		habitDays:   habitDays,
		stability:   stability,
		energyCap:   energyCap,
		monumentID:  strings.TrimSpace(cfg.req.MonumentID),
		skillIDs:    skills,

		windows:      windows.NewCache(cfg.repo, cfg.userID, cfg.zone, cfg.logger),
		occupancy:    placement.NewOccupancy(cfg.zone),
		availability: placement.NewAvailability(),
		ledger:       recurrence.NewLedger(cfg.zone),
		sun: constraints.NewSun(cfg.zone, cfg.settings.Latitude, cfg.settings.Longitude,
			opts.FallbackSunrise, opts.FallbackSunset),
		trace: trace.New(opts.TraceCapacity),

		projects:       make(map[string]models.Project),
		skills:         make(map[string][]string),
		habitByID:      make(map[string]models.Habit),
		syncHabits:     make(map[string]bool),
		reuse:          make(map[string]string),
		placedProjects: make(map[string]bool),
	}
	a.result = &RunResult{
		RunID:    cfg.runID,
		UserID:   cfg.userID,
		Mode:     cfg.mode,
		Timezone: cfg.zone.Name(),
		Now:      cfg.now,
		DryRun:   cfg.req.DryRun,
		Trace:    a.trace,
	}
	return a
}

// horizonEnd is the exclusive end of the active horizon.
func (a *arena) horizonEnd() time.Time {
	return a.zone.AddDays(a.today, a.horizonDays)
}

// locked reports whether an instance sits inside the stability window.
func (a *arena) locked(inst models.ScheduleInstance) bool {
	if inst.Status != models.StatusScheduled || a.stability <= 0 {
		return false
	}
	return !inst.StartUTC.Before(a.now) && inst.StartUTC.Before(a.now.Add(a.stability))
}

// settled reports whether an instance must never be moved or canceled.
func (a *arena) settled(inst models.ScheduleInstance) bool {
	return inst.Status == models.StatusCompleted || a.locked(inst) || inst.StartUTC.Before(a.now)
}

func (a *arena) fail(item string, source models.SourceType, reason models.FailureReason, detail map[string]any) {
	a.result.Failures = append(a.result.Failures, models.ScheduleFailure{
		ItemID:     item,
		SourceType: source,
		Reason:     reason,
		Detail:     detail,
	})
	telemetry.SchedulerFailuresTotal.WithLabelValues(string(source), string(reason)).Inc()
}

func (a *arena) filtered(item string, source models.SourceType, detail map[string]any) {
	a.result.Filtered = append(a.result.Filtered, models.ScheduleFailure{
		ItemID:     item,
		SourceType: source,
		Reason:     models.ReasonModeFiltered,
		Detail:     detail,
	})
}

func (a *arena) record(itemID string, source models.SourceType, stage Stage, outcome trace.Outcome, reason, message string, fields map[string]any) {
	a.trace.Record(itemID, string(source), string(stage), outcome, reason, message, fields)
}

// registerInstance marks an existing instance's time as busy.
func (a *arena) registerInstance(inst models.ScheduleInstance) {
	a.occupancy.Register(placement.KindOfInstance(inst, a.syncHabits), inst.StartUTC, inst.EndUTC)
	if inst.SourceType == models.SourceHabit {
		a.ledger.Add(inst.SourceID, inst.StartUTC)
	}
}

// commit marks a new placement as busy. Sync placements leave the window
// bounds alone so later sync habits can share them.
func (a *arena) commit(kind placement.Kind, slot placement.Slot) {
	a.occupancy.Register(kind, slot.Start, slot.End)
	if kind != placement.KindSync {
		a.availability.Commit(slot.Candidate.Occurrence.Key, slot.Start, slot.End)
	}
}
