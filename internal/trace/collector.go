/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package trace records per-item placement diagnostics for operators.
// Nothing recorded here feeds back into placement decisions.
package trace

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Outcome classifies a trace entry.
type Outcome string

const (
	OutcomePlaced   Outcome = "placed"
	OutcomeReused   Outcome = "reused"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
	OutcomeInfo     Outcome = "info"
)

// Entry is a single diagnostic record.
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Seq        int            `json:"seq"`
	ItemID     string         `json:"item_id"`
	SourceType string         `json:"source_type,omitempty"`
	Stage      string         `json:"stage"`
	Outcome    Outcome        `json:"outcome"`
	Reason     string         `json:"reason,omitempty"`
	Message    string         `json:"message"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Collector is a thread-safe ring buffer of trace entries.
type Collector struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
	seq      int
	now      func() time.Time
}

// New creates a collector holding at most capacity entries.
func New(capacity int) *Collector {
	if capacity <= 0 {
		capacity = 20000
	}
	return &Collector{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// Add appends an entry, evicting the oldest when full.
func (c *Collector) Add(entry Entry) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	entry.Seq = c.seq
	if entry.Timestamp.IsZero() {
		entry.Timestamp = c.now()
	}
	c.entries[c.head] = entry
	c.head = (c.head + 1) % c.capacity
	if c.count < c.capacity {
		c.count++
	}
}

// Record is shorthand for Add.
func (c *Collector) Record(itemID, sourceType, stage string, outcome Outcome, reason, message string, fields map[string]any) {
	c.Add(Entry{
		ItemID:     itemID,
		SourceType: sourceType,
		Stage:      stage,
		Outcome:    outcome,
		Reason:     reason,
		Message:    message,
		Fields:     fields,
	})
}

// All returns entries in insertion order.
func (c *Collector) All() []Entry {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Entry, c.count)
	start := 0
	if c.count == c.capacity {
		start = c.head
	}
	for i := 0; i < c.count; i++ {
		result[i] = c.entries[(start+i)%c.capacity]
	}
	return result
}

// QueryParams filters entries.
type QueryParams struct {
	ItemID     string
	Stage      string
	Outcome    Outcome
	Search     string
	Limit      int
	Descending bool
}

// Query returns entries matching every non-empty filter.
func (c *Collector) Query(params QueryParams) []Entry {
	var filtered []Entry
	for _, entry := range c.All() {
		if params.ItemID != "" && entry.ItemID != params.ItemID {
			continue
		}
		if params.Stage != "" && entry.Stage != params.Stage {
			continue
		}
		if params.Outcome != "" && entry.Outcome != params.Outcome {
			continue
		}
		if params.Search != "" && !strings.Contains(strings.ToLower(entry.Message), strings.ToLower(params.Search)) {
			continue
		}
		filtered = append(filtered, entry)
	}
	if params.Descending {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}
	if params.Limit > 0 && len(filtered) > params.Limit {
		filtered = filtered[:params.Limit]
	}
	return filtered
}

// Explain renders the entries for one item as human-readable lines.
func (c *Collector) Explain(itemID string) []string {
	entries := c.Query(QueryParams{ItemID: itemID})
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		var b strings.Builder
		fmt.Fprintf(&b, "[%s] %s", e.Stage, e.Outcome)
		if e.Reason != "" {
			fmt.Fprintf(&b, " (%s)", e.Reason)
		}
		if e.Message != "" {
			b.WriteString(": ")
			b.WriteString(e.Message)
		}
		if len(e.Fields) > 0 {
			keys := make([]string, 0, len(e.Fields))
			for k := range e.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
			}
		}
		lines = append(lines, b.String())
	}
	return lines
}

// Stats summarises the collector.
type Stats struct {
	Total     int             `json:"total"`
	Capacity  int             `json:"capacity"`
	ByOutcome map[Outcome]int `json:"by_outcome"`
	Items     int             `json:"items"`
}

// Stats returns counts by outcome and distinct item.
func (c *Collector) Stats() Stats {
	all := c.All()
	stats := Stats{Total: len(all), ByOutcome: make(map[Outcome]int)}
	if c != nil {
		stats.Capacity = c.capacity
	}
	items := make(map[string]struct{})
	for _, e := range all {
		stats.ByOutcome[e.Outcome]++
		if e.ItemID != "" {
			items[e.ItemID] = struct{}{}
		}
	}
	stats.Items = len(items)
	return stats
}
