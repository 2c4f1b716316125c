/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/slotwise/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.UserSettings{},
		&models.Window{},
		&models.Project{},
		&models.ProjectSkill{},
		&models.Task{},
		&models.Habit{},
		&models.ScheduleInstance{},
	); err != nil {
		return err
	}

	if err := applyPostgresProjectOverlapGuard(database); err != nil {
		return err
	}
	if err := normalizeLegacyStatuses(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresProjectOverlapGuard rejects overlapping non-canceled PROJECT
// instances for the same user at the database level.
func applyPostgresProjectOverlapGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_project_instance_overlap()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.end_utc < NEW.start_utc THEN
    RAISE EXCEPTION 'schedule instance end must not precede start'
      USING ERRCODE = '23514';
  END IF;

  IF NEW.source_type <> 'PROJECT' OR NEW.status = 'canceled' THEN
    RETURN NEW;
  END IF;

  IF EXISTS (
    SELECT 1
    FROM schedule_instances si
    WHERE si.user_id = NEW.user_id
      AND si.id <> NEW.id
      AND si.source_type = 'PROJECT'
      AND si.status <> 'canceled'
      AND tstzrange(si.start_utc, si.end_utc, '[)') && tstzrange(NEW.start_utc, NEW.end_utc, '[)')
  ) THEN
    RAISE EXCEPTION 'overlapping project instances are not allowed for user %', NEW.user_id
      USING ERRCODE = '23514';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_project_instance_overlap ON schedule_instances;

CREATE TRIGGER trg_prevent_project_instance_overlap
BEFORE INSERT OR UPDATE OF user_id, start_utc, end_utc, status
ON schedule_instances
FOR EACH ROW
EXECUTE FUNCTION prevent_project_instance_overlap();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres project overlap guard: %w", err)
	}

	return nil
}

// normalizeLegacyStatuses rewrites spellings older importers wrote.
func normalizeLegacyStatuses(database *gorm.DB) error {
	if err := database.Exec("UPDATE schedule_instances SET status = ? WHERE LOWER(TRIM(status)) = ?", models.StatusCanceled, "cancelled").Error; err != nil {
		return fmt.Errorf("normalize legacy canceled status: %w", err)
	}
	if err := database.Exec("UPDATE schedule_instances SET source_type = UPPER(source_type) WHERE source_type IN ?", []string{"project", "habit"}).Error; err != nil {
		return fmt.Errorf("normalize legacy source types: %w", err)
	}
	return nil
}
