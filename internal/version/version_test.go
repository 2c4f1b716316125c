/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package version

import (
	"strings"
	"testing"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.3", "1.2.3", 0},
		{"v1.2.3", "1.2.4", -1},
		{"1.10.0", "1.9.9", 1},
		{"0.1.0-dev", "0.1.0", 0},
		{"2", "1.9", 1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Fatalf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestInfoString(t *testing.T) {
	info := Info{Version: "1.0.0", Commit: "0123456789abcdef", Modified: true, GoVersion: "go1.24.0"}
	got := info.String()
	if got != "slotwise 1.0.0 (0123456789ab, modified) go1.24.0" {
		t.Fatalf("String() = %q", got)
	}
	if !strings.HasPrefix(Get().String(), "slotwise "+Version) {
		t.Fatalf("Get().String() = %q", Get().String())
	}
}
