/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package state

import (
	"sync"
	"time"
)

// Summary records the outcome of one scheduler run.
type Summary struct {
	RunID      string    `json:"run_id"`
	UserID     string    `json:"user_id"`
	Mode       string    `json:"mode"`
	FinishedAt time.Time `json:"finished_at"`
	Placed     int       `json:"placed"`
	Failed     int       `json:"failed"`
	Canceled   int       `json:"canceled"`
	DryRun     bool      `json:"dry_run"`
	Error      string    `json:"error,omitempty"`
}

// Store keeps the most recent run summaries in memory.
type Store struct {
	mu       sync.RWMutex
	recent   []Summary
	capacity int
}

// NewStore creates a run history store. capacity <= 0 means 256.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 256
	}
	return &Store{recent: make([]Summary, 0, 64), capacity: capacity}
}

// Add registers a finished run, evicting the oldest beyond capacity.
func (s *Store) Add(run Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, run)
	if over := len(s.recent) - s.capacity; over > 0 {
		s.recent = append(s.recent[:0], s.recent[over:]...)
	}
}

// Recent returns a snapshot of tracked runs, oldest first.
func (s *Store) Recent() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, len(s.recent))
	copy(out, s.recent)
	return out
}

// Last returns the latest run for a user.
func (s *Store) Last(userID string) (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.recent) - 1; i >= 0; i-- {
		if s.recent[i].UserID == userID {
			return s.recent[i], true
		}
	}
	return Summary{}, false
}

// Prune removes runs that finished before cutoff.
func (s *Store) Prune(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := s.recent[:0]
	for _, run := range s.recent {
		if run.FinishedAt.After(cutoff) {
			filtered = append(filtered, run)
		}
	}
	s.recent = filtered
}
