/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package placement

import (
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/windows"
)

// Candidate is a window occurrence already narrowed to the range an item
// may use.
type Candidate struct {
	Occurrence windows.Occurrence
	Start      time.Time
	End        time.Time
	// Energy is the window's effective energy after run-mode caps.
	Energy models.Energy
}

// Request describes one slot search.
type Request struct {
	Kind      Kind
	Duration  time.Duration
	Energy    models.Energy
	NotBefore time.Time
	Anchor    models.AnchorPreference
	// MinClip enables clipped placement into the largest gap of at least
	// this length when no full-length gap exists. Zero disables clipping.
	MinClip time.Duration
}

// Slot is a chosen placement.
type Slot struct {
	Candidate Candidate
	Start     time.Time
	End       time.Time
	Clipped   bool
}

type fit struct {
	cand    Candidate
	start   time.Time
	gap     int
	clipped bool
	length  time.Duration
}

// Find returns the best slot across candidates. Within a window FRONT takes
// the earliest gap and BACK the latest; across windows FRONT keeps the
// earliest start and BACK the latest, ties going to the closest energy
// match and then the window key.
func Find(cands []Candidate, req Request, occ *Occupancy) (Slot, bool) {
	if req.Duration <= 0 {
		return Slot{}, false
	}
	var best *fit
	for _, cand := range cands {
		f, ok := fitIn(cand, req, occ)
		if !ok {
			continue
		}
		if best == nil || better(f, *best, req.Anchor) {
			chosen := f
			best = &chosen
		}
	}
	if best != nil {
		return Slot{Candidate: best.cand, Start: best.start, End: best.start.Add(req.Duration)}, true
	}
	if req.MinClip <= 0 {
		return Slot{}, false
	}
	return findClipped(cands, req, occ)
}

// Gaps returns the free ranges of a candidate for a request.
func (c Candidate) Gaps(req Request, occ *Occupancy) []Interval {
	lo := maxTime(c.Start, req.NotBefore)
	if !c.End.After(lo) {
		return nil
	}
	return Gaps(lo, c.End, occ.Blocking(req.Kind, lo, c.End))
}

func fitIn(cand Candidate, req Request, occ *Occupancy) (fit, bool) {
	gaps := cand.Gaps(req, occ)
	energyGap := cand.Energy.Index() - req.Energy.Index()
	if req.Anchor == models.AnchorBack {
		for i := len(gaps) - 1; i >= 0; i-- {
			if gaps[i].Duration() >= req.Duration {
				return fit{cand: cand, start: gaps[i].End.Add(-req.Duration), gap: energyGap}, true
			}
		}
		return fit{}, false
	}
	for _, g := range gaps {
		if g.Duration() >= req.Duration {
			return fit{cand: cand, start: g.Start, gap: energyGap}, true
		}
	}
	return fit{}, false
}

func better(a, b fit, anchor models.AnchorPreference) bool {
	if !a.start.Equal(b.start) {
		if anchor == models.AnchorBack {
			return a.start.After(b.start)
		}
		return a.start.Before(b.start)
	}
	if a.gap != b.gap {
		return a.gap < b.gap
	}
	return a.cand.Occurrence.Key < b.cand.Occurrence.Key
}

func findClipped(cands []Candidate, req Request, occ *Occupancy) (Slot, bool) {
	var best *fit
	for _, cand := range cands {
		for _, g := range cand.Gaps(req, occ) {
			if g.Duration() < req.MinClip {
				continue
			}
			f := fit{cand: cand, start: g.Start, length: g.Duration(), clipped: true}
			if best == nil || f.length > best.length || (f.length == best.length && f.start.Before(best.start)) {
				chosen := f
				best = &chosen
			}
		}
	}
	if best == nil {
		return Slot{}, false
	}
	return Slot{Candidate: best.cand, Start: best.start, End: best.start.Add(best.length), Clipped: true}, true
}
