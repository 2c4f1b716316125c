/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logbuffer

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestWriterCapturesRunFields(t *testing.T) {
	buf := New(10)
	logger := zerolog.New(NewWriter(buf, nil)).With().Timestamp().Logger()

	logger.Info().Str("component", "scheduler").Str("run_id", "r1").Str("user_id", "u1").Int("placed", 2).Msg("run complete")
	logger.Warn().Str("run_id", "r2").Str("user_id", "u2").Msg("no window")

	all := buf.All()
	if len(all) != 2 {
		t.Fatalf("entries = %d", len(all))
	}
	first := all[0]
	if first.Level != "info" || first.Component != "scheduler" || first.RunID != "r1" || first.UserID != "u1" {
		t.Fatalf("first entry = %+v", first)
	}
	if first.Fields["placed"] != float64(2) {
		t.Fatalf("fields = %v", first.Fields)
	}
	if first.Timestamp.IsZero() {
		t.Fatalf("timestamp missing")
	}
}

func TestQuery(t *testing.T) {
	buf := New(3)
	for _, e := range []LogEntry{
		{Level: "info", UserID: "u1", RunID: "r1", Message: "start"},
		{Level: "warn", UserID: "u1", RunID: "r1", Message: "No window for p1"},
		{Level: "info", UserID: "u2", RunID: "r2", Message: "start"},
		{Level: "info", UserID: "u1", RunID: "r3", Message: "start"},
	} {
		buf.Add(e)
	}

	tests := []struct {
		name   string
		params QueryParams
		want   []string
	}{
		{"capacity evicts oldest", QueryParams{}, []string{"r1", "r2", "r3"}},
		{"by user", QueryParams{UserID: "u1"}, []string{"r1", "r3"}},
		{"by run", QueryParams{RunID: "r2"}, []string{"r2"}},
		{"search ignores case", QueryParams{Search: "no WINDOW"}, []string{"r1"}},
		{"newest first with limit", QueryParams{Descending: true, Limit: 2}, []string{"r3", "r2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buf.Query(tt.params)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d", len(got), len(tt.want))
			}
			for i, e := range got {
				if e.RunID != tt.want[i] {
					t.Fatalf("entry %d run = %s, want %s", i, e.RunID, tt.want[i])
				}
			}
		})
	}

	if stats := buf.Stats(); stats.Count != 3 || stats.LevelCount["warn"] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
