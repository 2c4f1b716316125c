/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/friendsincode/slotwise/internal/events"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/rs/zerolog"
)

// Wednesday 2026-06-10 08:00 UTC.
var testNow = time.Date(2026, 6, 10, 8, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 6, day, hour, minute, 0, 0, time.UTC)
}

func newTestService(repo *memRepo, opts Options, pub events.Publisher) *Service {
	svc := New(repo, opts, pub, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc
}

func baseRequest() RunRequest {
	return RunRequest{UserID: "u1", Timezone: "UTC", Now: testNow}
}

func mustRun(t *testing.T, svc *Service, req RunRequest) *RunResult {
	t.Helper()
	res, err := svc.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return res
}

func assertNoProjectOverlap(t *testing.T, list []models.ScheduleInstance) {
	t.Helper()
	for i := range list {
		for j := i + 1; j < len(list); j++ {
			a, b := list[i], list[j]
			if a.SourceType != models.SourceProject && b.SourceType != models.SourceProject {
				continue
			}
			if a.StartUTC.Before(b.EndUTC) && b.StartUTC.Before(a.EndUTC) {
				t.Fatalf("instances overlap: %s [%s,%s) and %s [%s,%s)",
					a.ID, a.StartUTC, a.EndUTC, b.ID, b.StartUTC, b.EndUTC)
			}
		}
	}
}

func TestRunPlacesProjectsInQueueOrder(t *testing.T) {
	repo := newMemRepo()
	repo.windows = []models.Window{window("w1", "09:00", "12:00", models.EnergyHigh)}
	repo.projects["p-a"] = project("p-a", models.EnergyHigh, 1, 60)
	repo.projects["p-b"] = project("p-b", models.EnergyMedium, 5, 60)
	repo.projects["p-c"] = project("p-c", models.EnergyMedium, 5, 90)

	rec := &events.Recorder{}
	res := mustRun(t, newTestService(repo, Options{}, rec), baseRequest())

	if res.PlacedCount() != 3 || res.FailedCount() != 0 {
		t.Fatalf("placed=%d failed=%d, want 3/0", res.PlacedCount(), res.FailedCount())
	}
	live := repo.live()
	want := map[string][2]time.Time{
		"p-a": {at(10, 9, 0), at(10, 10, 0)},
		"p-b": {at(10, 10, 0), at(10, 11, 0)},
		"p-c": {at(11, 9, 0), at(11, 10, 30)},
	}
	for id, span := range want {
		got := bySource(live, id)
		if len(got) != 1 {
			t.Fatalf("%s: got %d instances, want 1", id, len(got))
		}
		if !got[0].StartUTC.Equal(span[0]) || !got[0].EndUTC.Equal(span[1]) {
			t.Fatalf("%s placed [%s,%s), want [%s,%s)", id, got[0].StartUTC, got[0].EndUTC, span[0], span[1])
		}
		if got[0].Status != models.StatusScheduled {
			t.Fatalf("%s status = %s", id, got[0].Status)
		}
	}
	assertNoProjectOverlap(t, live)

	wantEvents := []events.EventType{
		events.EventRunStart,
		events.EventMissedFetched,
		events.EventInputsFetched,
		events.EventQueueBuilt,
		events.EventDedupeComplete,
		events.EventHabitPassComplete,
		events.EventProjectsScheduled,
		events.EventHabitPassComplete,
		events.EventHabitsPersisted,
		events.EventRunComplete,
	}
	gotEvents := rec.Types()
	if len(gotEvents) != len(wantEvents) {
		t.Fatalf("events = %v, want %v", gotEvents, wantEvents)
	}
	for i := range wantEvents {
		if gotEvents[i] != wantEvents[i] {
			t.Fatalf("event %d = %s, want %s", i, gotEvents[i], wantEvents[i])
		}
	}
	for _, e := range rec.Events() {
		if e.Payload["run_id"] != res.RunID {
			t.Fatalf("event %s run_id = %v, want %s", e.Type, e.Payload["run_id"], res.RunID)
		}
	}

	if last, ok := newTestService(repo, Options{}, nil).History().Last("u1"); ok {
		t.Fatalf("fresh service should have no history, got %+v", last)
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	repo.windows = []models.Window{window("w1", "09:00", "12:00", models.EnergyHigh)}
	repo.projects["p-a"] = project("p-a", models.EnergyHigh, 1, 60)
	repo.projects["p-b"] = project("p-b", models.EnergyMedium, 5, 90)
	repo.habits = []models.Habit{{ID: "h1", UserID: "u1", HabitType: models.HabitTypeHabit, DurationMin: 15, Recurrence: models.RecurrenceDaily}}

	svc := newTestService(repo, Options{HabitLookaheadDays: 3}, nil)
	first := mustRun(t, svc, baseRequest())
	before := repo.live()

	second := mustRun(t, svc, baseRequest())
	if second.PlacedCount() != 0 || len(second.Canceled) != 0 {
		t.Fatalf("rerun placed=%d canceled=%v, want no changes", second.PlacedCount(), second.Canceled)
	}
	if second.Kept != len(before) {
		t.Fatalf("rerun kept=%d, want %d", second.Kept, len(before))
	}
	after := repo.live()
	if len(after) != len(before) {
		t.Fatalf("instances changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID || !before[i].StartUTC.Equal(after[i].StartUTC) {
			t.Fatalf("instance %d moved: %+v -> %+v", i, before[i], after[i])
		}
	}
	if habits := bySource(after, "h1"); len(habits) != 3 {
		t.Fatalf("habit instances = %d, want 3 (one per lookahead day)", len(habits))
	}
	if first.PlacedCount() != len(before) {
		t.Fatalf("first run placed %d, repo holds %d", first.PlacedCount(), len(before))
	}

	history := svc.History().Recent()
	if len(history) != 2 || history[1].Placed != 0 {
		t.Fatalf("history = %+v", history)
	}
}

func TestDedupeKeepsEarliestInstance(t *testing.T) {
	repo := newMemRepo()
	repo.windows = []models.Window{window("w1", "09:00", "12:00", models.EnergyHigh)}
	repo.projects["p1"] = project("p1", models.EnergyHigh, 1, 60)
	for i, day := range []int{13, 11, 12} {
		repo.put(models.ScheduleInstance{
			ID:          []string{"d3", "d1", "d2"}[i],
			UserID:      "u1",
			SourceType:  models.SourceProject,
			SourceID:    "p1",
			StartUTC:    at(day, 9, 0),
			EndUTC:      at(day, 10, 0),
			DurationMin: 60,
			Status:      models.StatusScheduled,
		})
	}

	res := mustRun(t, newTestService(repo, Options{}, nil), baseRequest())
	if res.PlacedCount() != 0 {
		t.Fatalf("placed %d, want 0", res.PlacedCount())
	}
	if len(res.Canceled) != 2 {
		t.Fatalf("canceled = %v, want d2 and d3", res.Canceled)
	}
	if repo.get("d1").Status != models.StatusScheduled {
		t.Fatalf("earliest instance should survive, got %s", repo.get("d1").Status)
	}
	for _, id := range []string{"d2", "d3"} {
		if repo.get(id).Status != models.StatusCanceled {
			t.Fatalf("%s status = %s, want canceled", id, repo.get(id).Status)
		}
	}
}

func TestDedupeCancelsStaleProjectInstances(t *testing.T) {
	repo := newMemRepo()
	repo.windows = []models.Window{window("w1", "09:00", "12:00", models.EnergyHigh)}
	repo.put(models.ScheduleInstance{
		ID: "gone", UserID: "u1", SourceType: models.SourceProject, SourceID: "deleted",
		StartUTC: at(11, 9, 0), EndUTC: at(11, 10, 0), DurationMin: 60, Status: models.StatusScheduled,
	})

	res := mustRun(t, newTestService(repo, Options{}, nil), baseRequest())
	if len(res.Canceled) != 1 || res.Canceled[0] != "gone" {
		t.Fatalf("canceled = %v, want [gone]", res.Canceled)
	}
}

func TestMissedInstanceRequeuedWithSnapshotFloor(t *testing.T) {
	repo := newMemRepo()
	repo.windows = []models.Window{window("w1", "09:00", "12:00", models.EnergyHigh)}
	repo.projects["p1"] = project("p1", models.EnergyLow, 1, 60)
	repo.put(models.ScheduleInstance{
		ID: "m1", UserID: "u1", SourceType: models.SourceProject, SourceID: "p1",
		StartUTC: at(9, 9, 0), EndUTC: at(9, 10, 0), DurationMin: 60,
		Status: models.StatusScheduled, WeightSnapshot: 50, EnergyResolved: models.EnergyHigh,
	})

	res := mustRun(t, newTestService(repo, Options{}, nil), baseRequest())
	if len(res.MarkedMissed) != 1 || res.MarkedMissed[0] != "m1" {
		t.Fatalf("marked missed = %v, want [m1]", res.MarkedMissed)
	}
	if res.PlacedCount() != 1 || res.Rescheduled != 1 {
		t.Fatalf("placed=%d rescheduled=%d, want 1/1", res.PlacedCount(), res.Rescheduled)
	}
	got := repo.get("m1")
	if got.Status != models.StatusScheduled || !got.StartUTC.Equal(at(10, 9, 0)) {
		t.Fatalf("m1 = %+v, want scheduled today at 09:00", got)
	}
	if got.WeightSnapshot != 50 {
		t.Fatalf("weight snapshot = %v, want floor of 50", got.WeightSnapshot)
	}
	if len(repo.live()) != 1 {
		t.Fatalf("requeue should reuse the missed row, got %d live rows", len(repo.live()))
	}
}

func TestStabilityWindowLocksInstances(t *testing.T) {
	seed := func() *memRepo {
		repo := newMemRepo()
		repo.windows = []models.Window{window("w1", "09:00", "12:00", models.EnergyHigh)}
		repo.projects["p1"] = project("p1", models.EnergyHigh, 1, 60)
		repo.put(models.ScheduleInstance{
			ID: "i1", UserID: "u1", SourceType: models.SourceProject, SourceID: "p1",
			StartUTC: at(10, 9, 0), EndUTC: at(10, 9, 30), DurationMin: 30, Status: models.StatusScheduled,
		})
		return repo
	}

	tests := []struct {
		name      string
		stability time.Duration
		wantEnd   time.Time
		wantMoves int
	}{
		{"locked inside stability window", 2 * time.Hour, at(10, 9, 30), 0},
		{"resized without stability", 0, at(10, 10, 0), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := seed()
			req := baseRequest()
			req.Stability = tt.stability
			res := mustRun(t, newTestService(repo, Options{}, nil), req)
			if res.Rescheduled != tt.wantMoves {
				t.Fatalf("rescheduled = %d, want %d", res.Rescheduled, tt.wantMoves)
			}
			got := repo.get("i1")
			if !got.EndUTC.Equal(tt.wantEnd) {
				t.Fatalf("i1 end = %s, want %s", got.EndUTC, tt.wantEnd)
			}
			if len(repo.live()) != 1 {
				t.Fatalf("live rows = %d, want 1", len(repo.live()))
			}
		})
	}
}

func TestRunModes(t *testing.T) {
	tests := []struct {
		name     string
		mode     models.RunMode
		monument string
		skills   []string
		setup    func(*memRepo)
		check    func(*testing.T, *memRepo, *RunResult)
	}{
		{
			name: "rush shrinks durations",
			mode: models.ModeRush,
			setup: func(r *memRepo) {
				r.projects["p1"] = project("p1", models.EnergyHigh, 1, 60)
			},
			check: func(t *testing.T, r *memRepo, res *RunResult) {
				got := bySource(r.live(), "p1")
				if len(got) != 1 || got[0].EndUTC.Sub(got[0].StartUTC) != 48*time.Minute {
					t.Fatalf("rush placement = %+v, want 48 minutes", got)
				}
			},
		},
		{
			name: "rest caps window energy",
			mode: models.ModeRest,
			setup: func(r *memRepo) {
				r.projects["low"] = project("low", models.EnergyLow, 1, 60)
				r.projects["hard"] = project("hard", models.EnergyMedium, 1, 60)
			},
			check: func(t *testing.T, r *memRepo, res *RunResult) {
				low := bySource(r.live(), "low")
				if len(low) != 1 || low[0].EnergyResolved != models.EnergyLow {
					t.Fatalf("low placement = %+v, want resolved LOW", low)
				}
				if len(bySource(r.live(), "hard")) != 0 {
					t.Fatalf("medium project must not be placed in rest mode")
				}
				if res.FailedCount() != 1 || res.Failures[0].Reason != models.ReasonNoWindow {
					t.Fatalf("failures = %+v, want one NO_WINDOW", res.Failures)
				}
			},
		},
		{
			name:     "monumental keeps one monument",
			mode:     models.ModeMonumental,
			monument: "m1",
			setup: func(r *memRepo) {
				in := project("in", models.EnergyHigh, 1, 60)
				in.MonumentID = "m1"
				out := project("out", models.EnergyHigh, 9, 60)
				out.MonumentID = "m2"
				r.projects["in"] = in
				r.projects["out"] = out
			},
			check: func(t *testing.T, r *memRepo, res *RunResult) {
				if len(bySource(r.live(), "in")) != 1 || len(bySource(r.live(), "out")) != 0 {
					t.Fatalf("monumental placed %+v", r.live())
				}
				if len(res.Filtered) != 1 || res.Filtered[0].ItemID != "out" {
					t.Fatalf("filtered = %+v, want [out]", res.Filtered)
				}
				if res.FailedCount() != 0 {
					t.Fatalf("mode filtering must not count as failure: %+v", res.Failures)
				}
			},
		},
		{
			name:   "skilled keeps matching skills",
			mode:   models.ModeSkilled,
			skills: []string{"s1"},
			setup: func(r *memRepo) {
				r.projects["match"] = project("match", models.EnergyHigh, 1, 60)
				r.projects["other"] = project("other", models.EnergyHigh, 1, 60)
				r.skills["match"] = []string{"s1", "s2"}
				r.skills["other"] = []string{"s3"}
			},
			check: func(t *testing.T, r *memRepo, res *RunResult) {
				if len(bySource(r.live(), "match")) != 1 || len(bySource(r.live(), "other")) != 0 {
					t.Fatalf("skilled placed %+v", r.live())
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			repo.windows = []models.Window{window("w1", "09:00", "12:00", models.EnergyHigh)}
			tt.setup(repo)
			req := baseRequest()
			req.Days = 2
			req.Mode = tt.mode
			req.MonumentID = tt.monument
			req.SkillIDs = tt.skills
			res := mustRun(t, newTestService(repo, Options{}, nil), req)
			if res.Mode != tt.mode {
				t.Fatalf("mode = %s, want %s", res.Mode, tt.mode)
			}
			tt.check(t, repo, res)
		})
	}
}

func TestNoWindowWhenHorizonExhausted(t *testing.T) {
	repo := newMemRepo()
	repo.windows = []models.Window{window("w1", "09:00", "12:00", models.EnergyHigh)}
	repo.projects["big"] = project("big", models.EnergyHigh, 1, 240)

	req := baseRequest()
	req.Days = 3
	res := mustRun(t, newTestService(repo, Options{}, nil), req)
	if res.FailedCount() != 1 {
		t.Fatalf("failures = %+v, want 1", res.Failures)
	}
	f := res.Failures[0]
	if f.ItemID != "big" || f.Reason != models.ReasonNoWindow {
		t.Fatalf("failure = %+v", f)
	}
	if f.Detail["days_scanned"] != 3 {
		t.Fatalf("days_scanned = %v, want 3", f.Detail["days_scanned"])
	}
	if len(res.Trace.Explain("big")) == 0 {
		t.Fatalf("expected trace lines for big")
	}
	if len(repo.live()) != 0 {
		t.Fatalf("nothing should be persisted")
	}
}

func TestSyncHabitsShareStartAndAvoidProjects(t *testing.T) {
	repo := newMemRepo()
	repo.windows = []models.Window{window("w1", "09:00", "12:00", models.EnergyHigh)}
	repo.projects["p1"] = project("p1", models.EnergyHigh, 1, 60)
	repo.habits = []models.Habit{
		{ID: "h-r", UserID: "u1", HabitType: models.HabitTypeHabit, DurationMin: 30, Recurrence: models.RecurrenceDaily},
		{ID: "s2", UserID: "u1", HabitType: models.HabitTypeSync, DurationMin: 20, Recurrence: models.RecurrenceDaily},
		{ID: "s1", UserID: "u1", HabitType: models.HabitTypeSync, DurationMin: 30, Recurrence: models.RecurrenceDaily},
	}

	req := baseRequest()
	req.Days = 1
	res := mustRun(t, newTestService(repo, Options{}, nil), req)
	if res.FailedCount() != 0 {
		t.Fatalf("failures = %+v", res.Failures)
	}
	live := repo.live()
	assertNoProjectOverlap(t, live)

	regular := bySource(live, "h-r")
	proj := bySource(live, "p1")
	s1, s2 := bySource(live, "s1"), bySource(live, "s2")
	if len(regular) != 1 || len(proj) != 1 || len(s1) != 1 || len(s2) != 1 {
		t.Fatalf("unexpected placements: %+v", live)
	}
	if !regular[0].StartUTC.Equal(at(10, 9, 0)) || !proj[0].StartUTC.Equal(at(10, 9, 30)) {
		t.Fatalf("habit at %s, project at %s", regular[0].StartUTC, proj[0].StartUTC)
	}
	if !s1[0].StartUTC.Equal(s2[0].StartUTC) {
		t.Fatalf("sync habits should share a start: %s vs %s", s1[0].StartUTC, s2[0].StartUTC)
	}
	if !s1[0].StartUTC.Equal(at(10, 10, 30)) {
		t.Fatalf("sync start = %s, want 10:30", s1[0].StartUTC)
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	got := Options{}.withDefaults()
	want := DefaultOptions()
	if got.HorizonDays != want.HorizonDays || got.HabitLookaheadDays != want.HabitLookaheadDays || got.RushFactor != want.RushFactor {
		t.Fatalf("zero options = %+v", got)
	}
	if got.MinClip != 0 || got.MissedGrace != 0 {
		t.Fatalf("zero MinClip and MissedGrace should stay zero, got %v and %v", got.MinClip, got.MissedGrace)
	}
	if got := (Options{MinClip: -time.Minute}).withDefaults(); got.MinClip != 0 {
		t.Fatalf("negative MinClip = %v", got.MinClip)
	}
}

func TestHabitClippedIntoShortWindow(t *testing.T) {
	repo := newMemRepo()
	repo.windows = []models.Window{window("w1", "09:00", "09:40", models.EnergyLow)}
	repo.habits = []models.Habit{
		{ID: "h1", UserID: "u1", HabitType: models.HabitTypeHabit, DurationMin: 60, Recurrence: models.RecurrenceDaily},
	}
	req := baseRequest()
	req.Days = 1

	res := mustRun(t, newTestService(repo, Options{}, nil), req)
	if res.PlacedCount() != 0 || len(repo.live()) != 0 {
		t.Fatalf("zero MinClip should leave the habit unplaced, got %+v", repo.live())
	}

	res = mustRun(t, newTestService(repo, Options{MinClip: 15 * time.Minute}, nil), req)
	if res.FailedCount() != 0 {
		t.Fatalf("failures = %+v", res.Failures)
	}
	got := bySource(repo.live(), "h1")
	if len(got) != 1 {
		t.Fatalf("h1 instances = %+v", got)
	}
	inst := got[0]
	if !inst.Clipped || inst.DurationMin != 60 {
		t.Fatalf("clipped=%v duration=%d, want true/60", inst.Clipped, inst.DurationMin)
	}
	if !inst.StartUTC.Equal(at(10, 9, 0)) || !inst.EndUTC.Equal(at(10, 9, 40)) {
		t.Fatalf("placed [%s,%s), want [09:00,09:40)", inst.StartUTC, inst.EndUTC)
	}
	if inst.EndUTC.Sub(inst.StartUTC) >= inst.Duration() {
		t.Fatalf("clipped span should be shorter than the requested duration")
	}
}

func TestBackAnchoredHabitTakesLatestWindow(t *testing.T) {
	repo := newMemRepo()
	repo.windows = []models.Window{
		window("morning", "08:00", "10:00", models.EnergyLow),
		window("evening", "18:00", "20:00", models.EnergyLow),
	}
	repo.habits = []models.Habit{
		{ID: "h-back", UserID: "u1", HabitType: models.HabitTypeHabit, DurationMin: 30, Recurrence: models.RecurrenceDaily, Anchor: models.AnchorBack},
		{ID: "h-front", UserID: "u1", HabitType: models.HabitTypeHabit, DurationMin: 30, Recurrence: models.RecurrenceDaily},
	}
	req := baseRequest()
	req.Days = 1

	res := mustRun(t, newTestService(repo, Options{}, nil), req)
	if res.FailedCount() != 0 {
		t.Fatalf("failures = %+v", res.Failures)
	}
	live := repo.live()
	back, front := bySource(live, "h-back"), bySource(live, "h-front")
	if len(back) != 1 || len(front) != 1 {
		t.Fatalf("unexpected placements: %+v", live)
	}
	if back[0].WindowID == nil || *back[0].WindowID != "evening" || !back[0].StartUTC.Equal(at(10, 19, 30)) {
		t.Fatalf("back-anchored habit at %s, want evening 19:30", back[0].StartUTC)
	}
	if front[0].WindowID == nil || *front[0].WindowID != "morning" || !front[0].StartUTC.Equal(at(10, 8, 0)) {
		t.Fatalf("front-anchored habit at %s, want morning 08:00", front[0].StartUTC)
	}
}

func TestPersistHabitsProbesOnce(t *testing.T) {
	habits := []models.Habit{
		{ID: "h1", UserID: "u1", DurationMin: 15, Recurrence: models.RecurrenceDaily, Weight: 2},
		{ID: "h2", UserID: "u1", DurationMin: 15, Recurrence: models.RecurrenceDaily, Weight: 1},
	}

	t.Run("retry after probe", func(t *testing.T) {
		mem := newMemRepo()
		mem.windows = []models.Window{window("w1", "09:00", "12:00", models.EnergyHigh)}
		mem.habits = habits
		mem.habitUnsupported = true

		svc := New(probingRepo{mem}, Options{}, nil, zerolog.Nop())
		req := baseRequest()
		req.Days = 1
		res, err := svc.Run(context.Background(), req)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if mem.probes != 1 {
			t.Fatalf("probes = %d, want 1", mem.probes)
		}
		if res.PlacedCount() != 2 || res.FailedCount() != 0 {
			t.Fatalf("placed=%d failures=%+v", res.PlacedCount(), res.Failures)
		}
	})

	t.Run("no prober", func(t *testing.T) {
		mem := newMemRepo()
		mem.windows = []models.Window{window("w1", "09:00", "12:00", models.EnergyHigh)}
		mem.habits = habits
		mem.habitUnsupported = true

		req := baseRequest()
		req.Days = 1
		res := mustRun(t, newTestService(mem, Options{}, nil), req)
		if res.FailedCount() != 2 {
			t.Fatalf("failures = %+v, want 2", res.Failures)
		}
		for _, f := range res.Failures {
			if f.Reason != models.ReasonError {
				t.Fatalf("reason = %s, want error", f.Reason)
			}
		}
	})
}

func TestDryRunLeavesRepositoryUntouched(t *testing.T) {
	repo := newMemRepo()
	repo.windows = []models.Window{window("w1", "09:00", "12:00", models.EnergyHigh)}
	repo.projects["p1"] = project("p1", models.EnergyHigh, 1, 60)
	repo.put(models.ScheduleInstance{
		ID: "dup", UserID: "u1", SourceType: models.SourceProject, SourceID: "gone",
		StartUTC: at(11, 9, 0), EndUTC: at(11, 10, 0), DurationMin: 60, Status: models.StatusScheduled,
	})

	req := baseRequest()
	req.DryRun = true
	res := mustRun(t, newTestService(repo, Options{}, nil), req)
	if !res.DryRun || res.PlacedCount() != 1 {
		t.Fatalf("dry run placed=%d dry=%v", res.PlacedCount(), res.DryRun)
	}
	kinds := map[WriteKind]int{}
	for _, w := range res.Writes {
		kinds[w.Kind]++
	}
	if kinds[WriteCreate] != 1 || kinds[WriteCancel] != 1 {
		t.Fatalf("writes = %+v", res.Writes)
	}
	if live := repo.live(); len(live) != 1 || live[0].ID != "dup" {
		t.Fatalf("repository mutated: %+v", live)
	}
}

func TestRunErrors(t *testing.T) {
	t.Run("missing user", func(t *testing.T) {
		rec := &events.Recorder{}
		_, err := newTestService(newMemRepo(), Options{}, rec).Run(context.Background(), RunRequest{})
		var re *RunError
		if !errors.As(err, &re) {
			t.Fatalf("err = %v, want *RunError", err)
		}
		if re.Stage != StageStart || re.Code != CodeConfig || !errors.Is(err, ErrMissingUser) {
			t.Fatalf("run error = %+v", re)
		}
		types := rec.Types()
		if len(types) != 1 || types[0] != events.EventRunError {
			t.Fatalf("events = %v, want [run.error]", types)
		}
	})

	t.Run("repository failure", func(t *testing.T) {
		repo := newMemRepo()
		repo.tasksErr = errors.New("db down")
		svc := newTestService(repo, Options{}, nil)
		_, err := svc.Run(context.Background(), baseRequest())
		var re *RunError
		if !errors.As(err, &re) {
			t.Fatalf("err = %v, want *RunError", err)
		}
		if re.Stage != StageFetchInputs || re.Code != CodeRepository {
			t.Fatalf("run error = %+v", re)
		}
		last, ok := svc.History().Last("u1")
		if !ok || last.Error == "" {
			t.Fatalf("history should record the failure, got %+v", last)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestService(newMemRepo(), Options{}, nil).Run(ctx, baseRequest())
		var re *RunError
		if !errors.As(err, &re) || re.Code != CodeCanceled {
			t.Fatalf("err = %v, want canceled RunError", err)
		}
	})
}

func TestUnknownTimezoneFallsBackToUTC(t *testing.T) {
	repo := newMemRepo()
	req := baseRequest()
	req.Timezone = "Mars/Olympus"
	res := mustRun(t, newTestService(repo, Options{}, nil), req)
	if res.Timezone != "UTC" {
		t.Fatalf("timezone = %s, want UTC", res.Timezone)
	}
}
