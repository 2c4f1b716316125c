/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package constraints

import (
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/tz"
	"github.com/nathan-osman/go-sunrise"
)

// Sun derives daylight ranges from coordinates, falling back to fixed local
// clock times when coordinates are missing or the sun never rises or sets.
type Sun struct {
	zone         tz.Zone
	lat, lon     *float64
	fallbackRise time.Duration
	fallbackSet  time.Duration
	cache        map[string][2]time.Time
}

// NewSun constructs a sun calculator. fallbackRise and fallbackSet are
// offsets from local midnight.
func NewSun(zone tz.Zone, lat, lon *float64, fallbackRise, fallbackSet time.Duration) *Sun {
	if fallbackRise <= 0 {
		fallbackRise = 6 * time.Hour
	}
	if fallbackSet <= fallbackRise {
		fallbackSet = 18 * time.Hour
	}
	return &Sun{
		zone:         zone,
		lat:          lat,
		lon:          lon,
		fallbackRise: fallbackRise,
		fallbackSet:  fallbackSet,
		cache:        make(map[string][2]time.Time),
	}
}

// Times returns sunrise and sunset for the local calendar day containing day.
func (s *Sun) Times(day time.Time) (time.Time, time.Time) {
	key := s.zone.DateKey(day)
	if cached, ok := s.cache[key]; ok {
		return cached[0], cached[1]
	}
	start := s.zone.StartOfDay(day)
	rise := s.zone.At(start, s.fallbackRise)
	set := s.zone.At(start, s.fallbackSet)
	if s.lat != nil && s.lon != nil {
		p := s.zone.Parts(start)
		r, st := sunrise.SunriseSunset(*s.lat, *s.lon, p.Year, p.Month, p.Day)
		if !r.IsZero() && !st.IsZero() && st.After(r) {
			rise, set = r, st
		}
	}
	s.cache[key] = [2]time.Time{rise, set}
	return rise, set
}

type span struct {
	start, end time.Time
}

// Narrow restricts [start, end) to the daylight preference and picks the
// piece nearest the anchor edge. ok is false when nothing remains.
func (s *Sun) Narrow(pref models.DaylightPreference, anchor models.AnchorPreference, start, end time.Time) (time.Time, time.Time, bool) {
	if !end.After(start) {
		return start, end, false
	}
	if pref != models.DaylightDay && pref != models.DaylightNight {
		return start, end, true
	}

	var days []span
	for d := s.zone.AddDays(s.zone.StartOfDay(start), -1); d.Before(end); d = s.zone.AddDays(d, 1) {
		rise, set := s.Times(d)
		days = append(days, span{rise, set})
	}

	var pieces []span
	if pref == models.DaylightDay {
		for _, d := range days {
			lo, hi := maxTime(start, d.start), minTime(end, d.end)
			if hi.After(lo) {
				pieces = append(pieces, span{lo, hi})
			}
		}
	} else {
		cursor := start
		for _, d := range days {
			if !d.end.After(cursor) {
				continue
			}
			if d.start.After(cursor) {
				pieces = append(pieces, span{cursor, minTime(d.start, end)})
			}
			cursor = maxTime(cursor, d.end)
			if !cursor.Before(end) {
				break
			}
		}
		if cursor.Before(end) {
			pieces = append(pieces, span{cursor, end})
		}
	}

	if len(pieces) == 0 {
		return start, end, false
	}
	chosen := pieces[0]
	if anchor == models.AnchorBack {
		chosen = pieces[len(pieces)-1]
	}
	return chosen.start, chosen.end, true
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
