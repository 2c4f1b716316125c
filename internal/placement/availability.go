/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package placement

import (
	"time"

	"github.com/friendsincode/slotwise/internal/windows"
)

// Bounds is the remaining [Front, Back) of one window instance.
type Bounds struct {
	Front time.Time
	Back  time.Time
}

// Availability tracks shrinking bounds per window occurrence key.
// It belongs to one run.
type Availability struct {
	bounds map[string]*Bounds
}

// NewAvailability constructs an empty availability map.
func NewAvailability() *Availability {
	return &Availability{bounds: make(map[string]*Bounds)}
}

// Get returns the bounds for an occurrence, initialising them from the
// window's full resolved range on first use.
func (a *Availability) Get(occ windows.Occurrence) *Bounds {
	if b, ok := a.bounds[occ.Key]; ok {
		return b
	}
	b := &Bounds{Front: occ.OpenedAt, Back: occ.End}
	a.bounds[occ.Key] = b
	return b
}

// Clip intersects the occurrence's usable range with its current bounds.
func (a *Availability) Clip(occ windows.Occurrence) (time.Time, time.Time, bool) {
	b := a.Get(occ)
	start := maxTime(occ.Start, b.Front)
	end := minTime(occ.End, b.Back)
	return start, end, end.After(start)
}

// Commit narrows the bounds when a placement sits flush against an edge.
// Placements in the middle of a window leave the bounds alone; occupancy
// covers them.
func (a *Availability) Commit(key string, start, end time.Time) {
	b, ok := a.bounds[key]
	if !ok {
		return
	}
	if !start.After(b.Front) && end.After(b.Front) {
		b.Front = end
	}
	if !end.Before(b.Back) && start.Before(b.Back) {
		b.Back = start
	}
	if b.Back.Before(b.Front) {
		b.Back = b.Front
	}
}
