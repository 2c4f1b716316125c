/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler runs one scheduling pass for a user: it requeues missed
// work, reconciles existing instances and places projects and habits into
// the user's windows.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/slotwise/internal/events"
	"github.com/friendsincode/slotwise/internal/logging"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/repository"
	"github.com/friendsincode/slotwise/internal/scheduler/state"
	"github.com/friendsincode/slotwise/internal/telemetry"
	"github.com/friendsincode/slotwise/internal/trace"
	"github.com/friendsincode/slotwise/internal/tz"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Stage names a step of the run state machine.
type Stage string

const (
	StageStart         Stage = "start"
	StageFetchMissed   Stage = "fetch-missed"
	StageFetchInputs   Stage = "fetch-inputs"
	StageBuildQueue    Stage = "build-queue"
	StageDedupe        Stage = "dedupe"
	StageHabitsRegular Stage = "schedule-habits-regular"
	StageProjects      Stage = "schedule-projects"
	StageHabitsSync    Stage = "schedule-habits-sync"
	StagePersistHabits Stage = "persist-habits"
	StageComplete      Stage = "complete"
)

// Error codes carried by RunError.
const (
	CodeConfig     = "config"
	CodeRepository = "repository"
	CodeCanceled   = "canceled"
)

// ErrMissingUser is returned when a run is requested without a user id.
var ErrMissingUser = errors.New("scheduler: user id is required")

// RunError aborts a run. Stage is where it happened.
type RunError struct {
	Stage   Stage
	Code    string
	Message string
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed at %s (%s): %s", e.Stage, e.Code, e.Message)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, err error) *RunError {
	var re *RunError
	if errors.As(err, &re) {
		return re
	}
	code := CodeRepository
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = CodeCanceled
	case errors.Is(err, ErrMissingUser):
		code = CodeConfig
	}
	return &RunError{Stage: stage, Code: code, Message: err.Error(), Err: err}
}

// Options are the service-wide defaults a run starts from.
type Options struct {
	DefaultTimezone    string
	HorizonDays        int
	HabitLookaheadDays int
	MissedGrace        time.Duration
	// MissedLookback bounds how far back scheduled instances are checked
	// for being missed.
	MissedLookback  time.Duration
	RushFactor      float64
	MinClip         time.Duration
	FallbackSunrise time.Duration
	FallbackSunset  time.Duration
	TraceCapacity   int
}

// DefaultOptions returns the recommended options. New fills zero fields
// from them except MissedGrace and MinClip, where zero is meaningful: no
// grace period and no clipped placement.
func DefaultOptions() Options {
	return Options{
		DefaultTimezone:    "UTC",
		HorizonDays:        365,
		HabitLookaheadDays: 7,
		MissedGrace:        15 * time.Minute,
		MissedLookback:     14 * 24 * time.Hour,
		RushFactor:         0.8,
		MinClip:            15 * time.Minute,
		FallbackSunrise:    6 * time.Hour,
		FallbackSunset:     18 * time.Hour,
		TraceCapacity:      20000,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if strings.TrimSpace(o.DefaultTimezone) == "" {
		o.DefaultTimezone = d.DefaultTimezone
	}
	if o.HorizonDays <= 0 {
		o.HorizonDays = d.HorizonDays
	}
	if o.HabitLookaheadDays <= 0 {
		o.HabitLookaheadDays = d.HabitLookaheadDays
	}
	if o.MissedGrace < 0 {
		o.MissedGrace = 0
	}
	if o.MissedLookback <= 0 {
		o.MissedLookback = d.MissedLookback
	}
	if o.RushFactor <= 0 || o.RushFactor > 1 {
		o.RushFactor = d.RushFactor
	}
	if o.MinClip < 0 {
		o.MinClip = 0
	}
	if o.FallbackSunrise <= 0 {
		o.FallbackSunrise = d.FallbackSunrise
	}
	if o.FallbackSunset <= o.FallbackSunrise {
		o.FallbackSunset = d.FallbackSunset
	}
	if o.TraceCapacity <= 0 {
		o.TraceCapacity = d.TraceCapacity
	}
	return o
}

// RunRequest describes one invocation.
type RunRequest struct {
	UserID string
	// RunID is generated when empty.
	RunID string
	// Timezone overrides the user's stored timezone.
	Timezone string
	// Days overrides the project horizon.
	Days int
	// Stability locks scheduled instances starting in [now, now+Stability).
	Stability  time.Duration
	Mode       models.RunMode
	MonumentID string
	SkillIDs   []string
	// Now overrides the reference time.
	Now    time.Time
	DryRun bool
}

// RunResult summarises a finished run.
type RunResult struct {
	RunID    string
	UserID   string
	Mode     models.RunMode
	Timezone string
	Now      time.Time
	DryRun   bool

	Placed       []models.ScheduleInstance
	Kept         int
	Rescheduled  int
	Canceled     []string
	MarkedMissed []string
	Failures     []models.ScheduleFailure
	// Filtered lists items excluded by the run mode. They do not count as failures.
	Filtered []models.ScheduleFailure
	// Writes holds the writes a dry run would have made.
	Writes []Write

	Trace    *trace.Collector
	Duration time.Duration
}

// PlacedCount returns the number of instances created or moved by the run.
func (r *RunResult) PlacedCount() int {
	return len(r.Placed)
}

// FailedCount returns the number of items that could not be placed.
func (r *RunResult) FailedCount() int {
	return len(r.Failures)
}

// Service runs scheduling passes against a repository.
type Service struct {
	repo      repository.Repository
	opts      Options
	publisher events.Publisher
	history   *state.Store
	logger    zerolog.Logger
	now       func() time.Time
}

// New constructs the scheduler service. publisher may be nil.
func New(repo repository.Repository, opts Options, publisher events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		opts:      opts.withDefaults(),
		publisher: publisher,
		history:   state.NewStore(0),
		logger:    logger.With().Str("component", "scheduler").Logger(),
		now:       time.Now,
	}
}

// History returns the summaries of recent runs.
func (s *Service) History() *state.Store {
	return s.history
}

// Options returns the effective service options.
func (s *Service) Options() Options {
	return s.opts
}

// Run executes the full state machine for one user. A returned *RunError
// means the run aborted; per-item problems are reported in the result.
func (s *Service) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	started := time.Now()
	if strings.TrimSpace(req.RunID) == "" {
		req.RunID = uuid.NewString()
	}
	mode := req.Mode
	if mode == "" {
		mode = models.ModeRegular
	}
	logger := logging.ForRun(s.logger, req.RunID, req.UserID)

	ctx, span := telemetry.StartRunSpan(ctx, req.RunID, req.UserID, string(mode))
	defer span.End()

	repo := s.repo
	var dry *DryRun
	if req.DryRun {
		dry = NewDryRun(s.repo)
		repo = dry
	}

	p := &pipeline{svc: s, repo: repo, req: req, mode: mode, logger: logger}
	result, err := p.run(ctx)
	if result != nil {
		result.Duration = time.Since(started)
		if dry != nil {
			result.Writes = dry.Writes()
		}
	}

	telemetry.SchedulerRunDuration.WithLabelValues(string(mode)).Observe(time.Since(started).Seconds())
	if err != nil {
		var re *RunError
		errors.As(err, &re)
		telemetry.RecordError(span, err)
		telemetry.SchedulerRunsTotal.WithLabelValues(string(mode), "error").Inc()
		telemetry.SchedulerErrorsTotal.WithLabelValues(string(re.Stage)).Inc()
		logger.Error().Err(re.Err).Str("stage", string(re.Stage)).Str("code", re.Code).Msg("scheduler run aborted")
		s.emit(events.EventRunError, events.Payload{
			"run_id":  req.RunID,
			"user_id": req.UserID,
			"stage":   string(re.Stage),
			"code":    re.Code,
			"message": re.Message,
		})
		s.history.Add(state.Summary{
			RunID:      req.RunID,
			UserID:     req.UserID,
			Mode:       string(mode),
			FinishedAt: s.now().UTC(),
			Error:      re.Error(),
		})
		return result, re
	}

	telemetry.AddSpanAttributes(span, map[string]any{
		"placed": result.PlacedCount(),
		"failed": result.FailedCount(),
	})
	telemetry.SchedulerRunsTotal.WithLabelValues(string(mode), "ok").Inc()
	s.history.Add(state.Summary{
		RunID:      result.RunID,
		UserID:     result.UserID,
		Mode:       string(mode),
		FinishedAt: s.now().UTC(),
		Placed:     result.PlacedCount(),
		Failed:     result.FailedCount(),
		Canceled:   len(result.Canceled),
		DryRun:     result.DryRun,
	})
	logger.Info().
		Int("placed", result.PlacedCount()).
		Int("failed", result.FailedCount()).
		Int("kept", result.Kept).
		Int("canceled", len(result.Canceled)).
		Dur("duration", result.Duration).
		Msg("scheduler run complete")
	return result, nil
}

func (s *Service) emit(eventType events.EventType, payload events.Payload) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(eventType, payload)
}

// pipeline drives the stages of one run.
type pipeline struct {
	svc    *Service
	repo   repository.Repository
	req    RunRequest
	mode   models.RunMode
	logger zerolog.Logger
	a      *arena
}

type stageFunc func(ctx context.Context) (events.EventType, events.Payload, error)

func (p *pipeline) run(ctx context.Context) (*RunResult, error) {
	steps := []struct {
		stage Stage
		fn    stageFunc
	}{
		{StageStart, p.start},
		{StageFetchMissed, p.fetchMissed},
		{StageFetchInputs, p.fetchInputs},
		{StageBuildQueue, p.buildQueue},
		{StageDedupe, p.dedupe},
		{StageHabitsRegular, p.scheduleRegularHabits},
		{StageProjects, p.scheduleProjects},
		{StageHabitsSync, p.scheduleSyncHabits},
		{StagePersistHabits, p.persistHabits},
		{StageComplete, p.complete},
	}
	for _, step := range steps {
		if err := p.runStage(ctx, step.stage, step.fn); err != nil {
			if p.a != nil {
				return p.a.result, err
			}
			return nil, err
		}
	}
	return p.a.result, nil
}

func (p *pipeline) runStage(ctx context.Context, stage Stage, fn stageFunc) error {
	if err := ctx.Err(); err != nil {
		return stageError(stage, err)
	}
	started := time.Now()
	stageCtx, span := telemetry.StartStageSpan(ctx, string(stage))
	eventType, payload, err := fn(stageCtx)
	finishStage(span, err)
	telemetry.SchedulerStageDuration.WithLabelValues(string(stage)).Observe(time.Since(started).Seconds())
	if err != nil {
		return stageError(stage, err)
	}
	p.logger.Debug().Str("stage", string(stage)).Dur("took", time.Since(started)).Msg("stage complete")
	if eventType != "" {
		if payload == nil {
			payload = events.Payload{}
		}
		payload["run_id"] = p.req.RunID
		payload["user_id"] = p.req.UserID
		payload["stage"] = string(stage)
		p.svc.emit(eventType, payload)
	}
	return nil
}

func finishStage(span oteltrace.Span, err error) {
	telemetry.RecordError(span, err)
	span.End()
}

func (p *pipeline) start(ctx context.Context) (events.EventType, events.Payload, error) {
	if strings.TrimSpace(p.req.UserID) == "" {
		return "", nil, ErrMissingUser
	}
	opts := p.svc.opts
	now := p.req.Now
	if now.IsZero() {
		now = p.svc.now()
	}

	settings := models.UserSettings{UserID: p.req.UserID}
	if reader, ok := p.repo.(repository.SettingsReader); ok {
		stored, err := reader.FetchUserSettings(ctx, p.req.UserID)
		if err != nil {
			return "", nil, fmt.Errorf("fetch user settings: %w", err)
		}
		settings = stored
	}

	zoneName := firstNonEmpty(p.req.Timezone, settings.Timezone, opts.DefaultTimezone)
	zone, ok := tz.LoadStrict(zoneName)
	if !ok {
		p.logger.Warn().Str("timezone", zoneName).Msg("unknown timezone, using UTC")
	}

	p.a = newArena(arenaConfig{
		runID:    p.req.RunID,
		userID:   p.req.UserID,
		zone:     zone,
		now:      now,
		req:      p.req,
		mode:     p.mode,
		opts:     opts,
		repo:     p.repo,
		settings: settings,
		logger:   p.logger,
	})
	return events.EventRunStart, events.Payload{
		"mode":     string(p.mode),
		"timezone": zone.Name(),
		"now":      now.UTC().Format(time.RFC3339),
		"dry_run":  p.req.DryRun,
		"horizon":  p.a.horizonDays,
	}, nil
}

func (p *pipeline) complete(context.Context) (events.EventType, events.Payload, error) {
	a := p.a
	return events.EventRunComplete, events.Payload{
		"placed":   a.result.PlacedCount(),
		"failed":   a.result.FailedCount(),
		"kept":     a.result.Kept,
		"canceled": len(a.result.Canceled),
		"dry_run":  a.result.DryRun,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
