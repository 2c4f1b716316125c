/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotwise/internal/db"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/repository"
	"github.com/friendsincode/slotwise/internal/scheduler"
	"github.com/friendsincode/slotwise/internal/tz"
)

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Change the status of a placed instance",
}

var instanceCompleteCmd = &cobra.Command{
	Use:   "complete <instance-id>",
	Short: "Mark an instance completed",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstance(actionComplete),
}

var instanceCancelCmd = &cobra.Command{
	Use:   "cancel <instance-id>",
	Short: "Cancel a scheduled or missed instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstance(actionCancel),
}

var instanceRescheduleCmd = &cobra.Command{
	Use:   "reschedule <instance-id>",
	Short: "Move an instance to a new start, keeping its duration",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstance(actionReschedule),
}

const (
	actionComplete   = "complete"
	actionCancel     = "cancel"
	actionReschedule = "reschedule"
)

// Instance flags
var (
	instanceUser     string
	instanceAt       string
	instanceTimezone string
)

func init() {
	rootCmd.AddCommand(instanceCmd)
	instanceCmd.AddCommand(instanceCompleteCmd, instanceCancelCmd, instanceRescheduleCmd)

	instanceCmd.PersistentFlags().StringVar(&instanceUser, "user", "", "Owner of the instance (required)")
	instanceCmd.PersistentFlags().StringVar(&instanceTimezone, "timezone", "", "IANA timezone for --at (default the user's setting)")
	instanceCmd.MarkPersistentFlagRequired("user")
	instanceCompleteCmd.Flags().StringVar(&instanceAt, "at", "", "Completion time (default now)")
	instanceRescheduleCmd.Flags().StringVar(&instanceAt, "at", "", "New start: RFC3339, \"2006-01-02 15:04\" or natural language (required)")
	instanceRescheduleCmd.MarkFlagRequired("at")
}

func runInstance(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		ctx := context.Background()

		database, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close(database)
		repo := repository.NewGorm(database)

		zone, err := userZone(ctx, repo, instanceUser, instanceTimezone)
		if err != nil {
			return err
		}
		var when time.Time
		if instanceAt != "" {
			if when, err = parseAt(instanceAt, time.Now(), zone); err != nil {
				return err
			}
		}

		publisher, closePublisher, err := newPublisher()
		if err != nil {
			return err
		}
		defer closePublisher()

		svc := scheduler.New(repo, schedulerOptions(), publisher, logger)
		inst, err := applyTransition(ctx, svc, instanceUser, action, args[0], when)
		if err != nil {
			return err
		}
		printInstance(cmd.OutOrStdout(), inst, zone)
		return nil
	}
}

// applyTransition runs action on the instance after checking that userID
// owns it.
func applyTransition(ctx context.Context, svc *scheduler.Service, userID, action, id string, when time.Time) (models.ScheduleInstance, error) {
	inst, err := svc.Instance(ctx, id)
	if err != nil {
		return inst, err
	}
	if inst.UserID != userID {
		return inst, fmt.Errorf("instance %s: %w", id, repository.ErrNotFound)
	}
	switch action {
	case actionComplete:
		return svc.Complete(ctx, id, when)
	case actionCancel:
		return svc.Cancel(ctx, id)
	case actionReschedule:
		if when.IsZero() {
			return inst, fmt.Errorf("reschedule %s: a start time is required", id)
		}
		return svc.Reschedule(ctx, id, when)
	}
	return inst, fmt.Errorf("unknown action %q", action)
}

func printInstance(w io.Writer, inst models.ScheduleInstance, zone tz.Zone) {
	start := inst.StartUTC.In(zone.Location())
	end := inst.EndUTC.In(zone.Location())
	fmt.Fprintf(w, "%s %s %s %s %s-%s %s\n", inst.ID, inst.SourceType, inst.SourceID,
		start.Format(tz.DateLayout), start.Format("15:04"), end.Format("15:04"), inst.Status)
}
