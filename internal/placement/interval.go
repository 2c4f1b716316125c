/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package placement finds non-overlapping slots for items inside resolved
// windows and keeps the per-run bookkeeping of what is already taken.
package placement

import (
	"sort"
	"time"
)

// Interval is a half-open [Start, End) range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Empty reports whether the interval covers no time.
func (iv Interval) Empty() bool {
	return !iv.End.After(iv.Start)
}

// Overlaps reports whether two intervals share any instant.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && iv.End.After(other.Start)
}

// Set is a sorted list of merged, non-touching intervals.
type Set struct {
	items []Interval
}

// Add inserts an interval, merging anything it overlaps or touches.
func (s *Set) Add(iv Interval) {
	if iv.Empty() {
		return
	}
	merged := make([]Interval, 0, len(s.items)+1)
	inserted := false
	for _, cur := range s.items {
		switch {
		case cur.End.Before(iv.Start):
			merged = append(merged, cur)
		case iv.End.Before(cur.Start):
			if !inserted {
				merged = append(merged, iv)
				inserted = true
			}
			merged = append(merged, cur)
		default:
			iv = Interval{Start: minTime(cur.Start, iv.Start), End: maxTime(cur.End, iv.End)}
		}
	}
	if !inserted {
		merged = append(merged, iv)
	}
	s.items = merged
}

// Overlapping returns the intervals intersecting [start, end), in order.
func (s *Set) Overlapping(start, end time.Time) []Interval {
	probe := Interval{Start: start, End: end}
	var out []Interval
	for _, cur := range s.items {
		if cur.Overlaps(probe) {
			out = append(out, cur)
		}
	}
	return out
}

// Intervals returns a copy of the merged intervals.
func (s *Set) Intervals() []Interval {
	return append([]Interval(nil), s.items...)
}

// Len returns the number of merged intervals.
func (s *Set) Len() int {
	return len(s.items)
}

// Merge normalizes arbitrary intervals into sorted non-overlapping ones.
func Merge(in []Interval) []Interval {
	sorted := append([]Interval(nil), in...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	var out []Interval
	for _, iv := range sorted {
		if iv.Empty() {
			continue
		}
		if n := len(out); n > 0 && !out[n-1].End.Before(iv.Start) {
			out[n-1].End = maxTime(out[n-1].End, iv.End)
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Gaps walks the blocks from lo and returns the free ranges inside [lo, hi).
func Gaps(lo, hi time.Time, blocks []Interval) []Interval {
	var out []Interval
	cursor := lo
	for _, b := range Merge(blocks) {
		if !b.End.After(cursor) {
			continue
		}
		if !b.Start.Before(hi) {
			break
		}
		if b.Start.After(cursor) {
			out = append(out, Interval{Start: cursor, End: b.Start})
		}
		cursor = maxTime(cursor, b.End)
	}
	if cursor.Before(hi) {
		out = append(out, Interval{Start: cursor, End: hi})
	}
	return out
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
