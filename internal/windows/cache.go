/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package windows

import (
	"context"
	"fmt"
	"time"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/tz"
	"github.com/rs/zerolog"
)

// Source loads the raw windows that may apply on a date.
type Source interface {
	FetchWindowsForDate(ctx context.Context, userID string, date time.Time, zone tz.Zone) ([]models.Window, error)
}

// Cache memoises raw window fetches and resolved occurrences per date key.
// A Cache belongs to one run and must not be shared across users.
type Cache struct {
	source   Source
	userID   string
	zone     tz.Zone
	logger   zerolog.Logger
	raw      map[string][]models.Window
	resolved map[string][]Occurrence
}

// NewCache constructs a run-scoped window cache.
func NewCache(source Source, userID string, zone tz.Zone, logger zerolog.Logger) *Cache {
	return &Cache{
		source:   source,
		userID:   userID,
		zone:     zone,
		logger:   logger.With().Str("component", "windows").Logger(),
		raw:      make(map[string][]models.Window),
		resolved: make(map[string][]Occurrence),
	}
}

// Prime seeds the raw windows for a date, e.g. from an earlier concurrent fetch.
func (c *Cache) Prime(date time.Time, ws []models.Window) {
	c.raw[c.zone.DateKey(date)] = ws
}

// ForDay returns the occurrences valid on the calendar day containing day.
func (c *Cache) ForDay(ctx context.Context, day time.Time) ([]Occurrence, error) {
	key := c.zone.DateKey(day)
	if occ, ok := c.resolved[key]; ok {
		return occ, nil
	}
	dayStart := c.zone.StartOfDay(day)
	today, err := c.fetch(ctx, dayStart)
	if err != nil {
		return nil, err
	}
	yesterday, err := c.fetch(ctx, c.zone.AddDays(dayStart, -1))
	if err != nil {
		return nil, err
	}
	occ := Resolve(dayStart, c.zone, today, yesterday)
	skipped := 0
	for _, w := range Applicable(today, dayStart, c.zone) {
		if _, _, ok := span(w, dayStart, c.zone); !ok {
			skipped++
		}
	}
	if skipped > 0 {
		c.logger.Warn().Str("date", key).Int("skipped", skipped).Msg("windows with invalid clock values ignored")
	}
	c.resolved[key] = occ
	return occ, nil
}

func (c *Cache) fetch(ctx context.Context, date time.Time) ([]models.Window, error) {
	key := c.zone.DateKey(date)
	if ws, ok := c.raw[key]; ok {
		return ws, nil
	}
	ws, err := c.source.FetchWindowsForDate(ctx, c.userID, date, c.zone)
	if err != nil {
		return nil, fmt.Errorf("fetch windows for %s: %w", key, err)
	}
	c.raw[key] = ws
	return ws, nil
}
