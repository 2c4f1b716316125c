/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package seed imports YAML fixtures of windows, projects, tasks and habits.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/tz"
)

// ErrMissingUser is returned when a fixture names no user.
var ErrMissingUser = errors.New("seed: fixture has no user_id")

// Fixture is one user's scheduling inputs.
type Fixture struct {
	UserID   string               `yaml:"user_id"`
	Settings *models.UserSettings `yaml:"settings,omitempty"`
	Windows  []models.Window      `yaml:"windows"`
	Projects []models.Project     `yaml:"projects"`
	// Skills maps a project id to its skill ids.
	Skills map[string][]string `yaml:"skills,omitempty"`
	Tasks  []models.Task       `yaml:"tasks"`
	Habits []models.Habit      `yaml:"habits"`
}

// Counts reports how many rows an import wrote.
type Counts struct {
	Windows  int
	Projects int
	Skills   int
	Tasks    int
	Habits   int
}

// LoadFile reads a fixture from path.
func LoadFile(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a fixture and fills in defaults: the fixture user on every
// row, generated ids, and the ready stage for tasks.
func Parse(r io.Reader) (*Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if err := fx.normalize(); err != nil {
		return nil, err
	}
	return &fx, nil
}

func (fx *Fixture) normalize() error {
	fx.UserID = strings.TrimSpace(fx.UserID)
	if fx.UserID == "" {
		return ErrMissingUser
	}
	if fx.Settings != nil {
		fx.Settings.UserID = fx.UserID
		if fx.Settings.Timezone != "" {
			if _, ok := tz.LoadStrict(fx.Settings.Timezone); !ok {
				return fmt.Errorf("settings: unknown timezone %q", fx.Settings.Timezone)
			}
		}
	}
	for i := range fx.Windows {
		w := &fx.Windows[i]
		w.UserID = fx.UserID
		if w.ID == "" {
			w.ID = uuid.NewString()
		}
		if _, err := tz.ParseClock(w.StartLocal); err != nil {
			return fmt.Errorf("window %s: start %q: %w", w.ID, w.StartLocal, err)
		}
		if _, err := tz.ParseClock(w.EndLocal); err != nil {
			return fmt.Errorf("window %s: end %q: %w", w.ID, w.EndLocal, err)
		}
		for _, d := range w.Days {
			if d < 0 || d > 6 {
				return fmt.Errorf("window %s: weekday %d out of range", w.ID, d)
			}
		}
		if w.OnDate != nil {
			if _, err := tz.UTC.ParseDate(*w.OnDate); err != nil {
				return fmt.Errorf("window %s: on_date %q: %w", w.ID, *w.OnDate, err)
			}
		}
	}
	projectIDs := make(map[string]bool, len(fx.Projects))
	for i := range fx.Projects {
		p := &fx.Projects[i]
		p.UserID = fx.UserID
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		projectIDs[p.ID] = true
	}
	for projectID := range fx.Skills {
		if !projectIDs[projectID] {
			return fmt.Errorf("skills: unknown project %q", projectID)
		}
	}
	for i := range fx.Tasks {
		t := &fx.Tasks[i]
		t.UserID = fx.UserID
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.Stage == "" {
			t.Stage = models.TaskStageReady
		}
		if t.ProjectID != "" && !projectIDs[t.ProjectID] {
			return fmt.Errorf("task %s: unknown project %q", t.ID, t.ProjectID)
		}
	}
	for i := range fx.Habits {
		h := &fx.Habits[i]
		h.UserID = fx.UserID
		if h.ID == "" {
			h.ID = uuid.NewString()
		}
	}
	return nil
}

// Importer writes fixtures through gorm.
type Importer struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewImporter creates an importer.
func NewImporter(db *gorm.DB, logger zerolog.Logger) *Importer {
	return &Importer{db: db, logger: logger.With().Str("component", "seed").Logger()}
}

// Import upserts every row of the fixture in one transaction. With replace
// set, the user's existing inputs are deleted first; schedule instances are
// never touched.
func (im *Importer) Import(ctx context.Context, fx *Fixture, replace bool) (Counts, error) {
	var counts Counts
	err := im.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if replace {
			if err := deleteUserInputs(tx, fx.UserID); err != nil {
				return err
			}
		}
		upsert := tx.Clauses(clause.OnConflict{UpdateAll: true})

		if fx.Settings != nil {
			if err := upsert.Create(fx.Settings).Error; err != nil {
				return fmt.Errorf("settings: %w", err)
			}
		}
		if len(fx.Windows) > 0 {
			if err := upsert.Create(&fx.Windows).Error; err != nil {
				return fmt.Errorf("windows: %w", err)
			}
		}
		if len(fx.Projects) > 0 {
			if err := upsert.Create(&fx.Projects).Error; err != nil {
				return fmt.Errorf("projects: %w", err)
			}
		}
		var links []models.ProjectSkill
		for projectID, skills := range fx.Skills {
			for _, skillID := range skills {
				links = append(links, models.ProjectSkill{ProjectID: projectID, SkillID: skillID})
			}
		}
		if len(links) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error; err != nil {
				return fmt.Errorf("project skills: %w", err)
			}
		}
		if len(fx.Tasks) > 0 {
			if err := upsert.Create(&fx.Tasks).Error; err != nil {
				return fmt.Errorf("tasks: %w", err)
			}
		}
		if len(fx.Habits) > 0 {
			if err := upsert.Create(&fx.Habits).Error; err != nil {
				return fmt.Errorf("habits: %w", err)
			}
		}
		counts = Counts{
			Windows:  len(fx.Windows),
			Projects: len(fx.Projects),
			Skills:   len(links),
			Tasks:    len(fx.Tasks),
			Habits:   len(fx.Habits),
		}
		return nil
	})
	if err != nil {
		return Counts{}, err
	}
	im.logger.Info().
		Str("user_id", fx.UserID).
		Int("windows", counts.Windows).
		Int("projects", counts.Projects).
		Int("tasks", counts.Tasks).
		Int("habits", counts.Habits).
		Bool("replace", replace).
		Msg("fixture imported")
	return counts, nil
}

func deleteUserInputs(tx *gorm.DB, userID string) error {
	var projectIDs []string
	if err := tx.Model(&models.Project{}).Where("user_id = ?", userID).Pluck("id", &projectIDs).Error; err != nil {
		return fmt.Errorf("list projects: %w", err)
	}
	if len(projectIDs) > 0 {
		if err := tx.Where("project_id IN ?", projectIDs).Delete(&models.ProjectSkill{}).Error; err != nil {
			return fmt.Errorf("delete project skills: %w", err)
		}
	}
	for _, model := range []any{&models.Task{}, &models.Project{}, &models.Habit{}, &models.Window{}} {
		if err := tx.Where("user_id = ?", userID).Delete(model).Error; err != nil {
			return fmt.Errorf("delete %T: %w", model, err)
		}
	}
	return nil
}
