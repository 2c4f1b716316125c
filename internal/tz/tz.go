/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package tz provides wall-clock date arithmetic in an explicit IANA zone.
// Nothing here reads the host's local zone.
package tz

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar-day key format used across the scheduler.
const DateLayout = "2006-01-02"

// Zone is a loaded IANA location. The zero value behaves as UTC.
type Zone struct {
	name string
	loc  *time.Location
}

// UTC is the fallback zone.
var UTC = Zone{name: "UTC", loc: time.UTC}

// Load resolves an IANA zone name. Unknown or empty names fall back to UTC.
func Load(name string) Zone {
	name = strings.TrimSpace(name)
	if name == "" {
		return UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return UTC
	}
	return Zone{name: loc.String(), loc: loc}
}

// LoadStrict is like Load but reports whether the name was recognised.
func LoadStrict(name string) (Zone, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return UTC, false
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return UTC, false
	}
	return Zone{name: loc.String(), loc: loc}, true
}

// Name returns the zone identifier.
func (z Zone) Name() string {
	if z.loc == nil {
		return "UTC"
	}
	return z.name
}

// Location returns the underlying location.
func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

// Parts are local calendar fields of an instant.
type Parts struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

// Parts returns the local wall-clock fields of t in the zone.
func (z Zone) Parts(t time.Time) Parts {
	local := t.In(z.Location())
	return Parts{
		Year:   local.Year(),
		Month:  local.Month(),
		Day:    local.Day(),
		Hour:   local.Hour(),
		Minute: local.Minute(),
		Second: local.Second(),
	}
}

func (p Parts) naive() time.Time {
	return time.Date(p.Year, p.Month, p.Day, p.Hour, p.Minute, p.Second, 0, time.UTC)
}

// FromParts builds the instant whose wall clock in the zone equals p.
//
// The candidate is formatted back into the zone and any drift from the
// intended wall clock is re-applied. Wall times inside a DST gap resolve
// to the first instant after the gap.
func (z Zone) FromParts(p Parts) time.Time {
	want := p.naive()
	candidate := time.Date(p.Year, p.Month, p.Day, p.Hour, p.Minute, p.Second, 0, z.Location())
	for i := 0; i < 2; i++ {
		drift := z.Parts(candidate).naive().Sub(want)
		if drift == 0 {
			return candidate
		}
		corrected := candidate.Add(-drift)
		if z.Parts(corrected).naive().Equal(want) {
			return corrected
		}
		if drift > 0 {
			return candidate
		}
		candidate = corrected
	}
	return candidate
}

// StartOfDay returns local midnight of the day containing t.
func (z Zone) StartOfDay(t time.Time) time.Time {
	p := z.Parts(t)
	return z.FromParts(Parts{Year: p.Year, Month: p.Month, Day: p.Day})
}

// AddDays moves t by n calendar days keeping the local time of day.
func (z Zone) AddDays(t time.Time, n int) time.Time {
	p := z.Parts(t)
	shifted := time.Date(p.Year, p.Month, p.Day+n, 0, 0, 0, 0, time.UTC)
	return z.FromParts(Parts{
		Year:   shifted.Year(),
		Month:  shifted.Month(),
		Day:    shifted.Day(),
		Hour:   p.Hour,
		Minute: p.Minute,
		Second: p.Second,
	})
}

// AddMonths moves t by n calendar months, clamping the day to the
// length of the target month (Jan 31 + 1 month = Feb 28/29).
func (z Zone) AddMonths(t time.Time, n int) time.Time {
	p := z.Parts(t)
	first := time.Date(p.Year, p.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	day := p.Day
	if last := DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return z.FromParts(Parts{
		Year:   first.Year(),
		Month:  first.Month(),
		Day:    day,
		Hour:   p.Hour,
		Minute: p.Minute,
		Second: p.Second,
	})
}

// Weekday returns the local day of week, 0 = Sunday.
func (z Zone) Weekday(t time.Time) int {
	return int(t.In(z.Location()).Weekday())
}

// DayDiff returns the number of calendar days from a to b in the zone.
func (z Zone) DayDiff(a, b time.Time) int {
	pa, pb := z.Parts(a), z.Parts(b)
	da := time.Date(pa.Year, pa.Month, pa.Day, 0, 0, 0, 0, time.UTC)
	db := time.Date(pb.Year, pb.Month, pb.Day, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// MonthDiff returns the number of calendar months from a to b, ignoring days.
func (z Zone) MonthDiff(a, b time.Time) int {
	pa, pb := z.Parts(a), z.Parts(b)
	return (pb.Year-pa.Year)*12 + int(pb.Month) - int(pa.Month)
}

// SameDay reports whether a and b fall on the same local calendar day.
func (z Zone) SameDay(a, b time.Time) bool {
	return z.DayDiff(a, b) == 0
}

// DateKey formats the local calendar day of t.
func (z Zone) DateKey(t time.Time) string {
	return t.In(z.Location()).Format(DateLayout)
}

// ParseDate returns local midnight of a YYYY-MM-DD key.
func (z Zone) ParseDate(key string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(key))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", key, err)
	}
	return z.FromParts(Parts{Year: d.Year(), Month: d.Month(), Day: d.Day()}), nil
}

// At returns the instant of a local time-of-day on the calendar day of day.
// Offsets past 24h roll into following days.
func (z Zone) At(day time.Time, offset time.Duration) time.Time {
	p := z.Parts(day)
	total := int(offset / time.Second)
	extraDays := total / 86400
	rem := total % 86400
	base := time.Date(p.Year, p.Month, p.Day+extraDays, 0, 0, 0, 0, time.UTC)
	return z.FromParts(Parts{
		Year:   base.Year(),
		Month:  base.Month(),
		Day:    base.Day(),
		Hour:   rem / 3600,
		Minute: (rem % 3600) / 60,
		Second: rem % 60,
	})
}

// DaysIn returns the number of days in a month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseClock parses "HH:MM" or "HH:MM:SS" into an offset from midnight.
// "24:00" is accepted as end of day.
func ParseClock(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid clock value %q", value)
		}
		nums[i] = n
	}
	if nums[0] > 24 || nums[1] > 59 || nums[2] > 59 || (nums[0] == 24 && (nums[1] > 0 || nums[2] > 0)) {
		return 0, fmt.Errorf("clock value out of range %q", value)
	}
	return time.Duration(nums[0])*time.Hour + time.Duration(nums[1])*time.Minute + time.Duration(nums[2])*time.Second, nil
}
