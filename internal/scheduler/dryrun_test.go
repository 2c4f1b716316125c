/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"strings"
	"testing"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/repository"
)

func TestDryRunOverlay(t *testing.T) {
	mem := newMemRepo()
	mem.put(models.ScheduleInstance{
		ID: "x", UserID: "u1", SourceType: models.SourceProject, SourceID: "p1",
		StartUTC: at(11, 9, 0), EndUTC: at(11, 10, 0), DurationMin: 60, Status: models.StatusScheduled,
	})
	dry := NewDryRun(mem)
	ctx := context.Background()

	created, err := dry.CreateInstance(ctx, repository.InstanceFields{
		UserID: "u1", SourceType: models.SourceProject, SourceID: "p2",
		StartUTC: at(11, 11, 0), EndUTC: at(11, 12, 0), DurationMin: 60,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(created.ID, "dry-") {
		t.Fatalf("created id = %s", created.ID)
	}
	if err := dry.UpdateInstanceStatus(ctx, "x", models.StatusMissed, nil); err != nil {
		t.Fatalf("update status: %v", err)
	}

	inRange, err := dry.FetchInstancesForRange(ctx, "u1", at(11, 0, 0), at(12, 0, 0))
	if err != nil {
		t.Fatalf("fetch range: %v", err)
	}
	if len(inRange) != 2 || inRange[0].ID != "x" || inRange[1].ID != created.ID {
		t.Fatalf("range = %+v", inRange)
	}
	backlog, err := dry.FetchBacklogNeedingSchedule(ctx, "u1")
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	if len(backlog) != 1 || backlog[0].ID != "x" {
		t.Fatalf("backlog = %+v", backlog)
	}

	if err := dry.CancelInstances(ctx, []string{created.ID, "nope"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	inRange, _ = dry.FetchInstancesForRange(ctx, "u1", at(11, 0, 0), at(12, 0, 0))
	if len(inRange) != 1 {
		t.Fatalf("canceled overlay rows must disappear, got %+v", inRange)
	}

	if mem.get("x").Status != models.StatusScheduled || len(mem.live()) != 1 {
		t.Fatalf("wrapped repository was written to")
	}
	writes := dry.Writes()
	want := []WriteKind{WriteCreate, WriteStatus, WriteCancel}
	if len(writes) != len(want) {
		t.Fatalf("writes = %+v", writes)
	}
	for i, kind := range want {
		if writes[i].Kind != kind {
			t.Fatalf("write %d = %s, want %s", i, writes[i].Kind, kind)
		}
	}
}
