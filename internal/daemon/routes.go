/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/slotwise/internal/auth"
	"github.com/friendsincode/slotwise/internal/logbuffer"
	"github.com/friendsincode/slotwise/internal/models"
	"github.com/friendsincode/slotwise/internal/repository"
	"github.com/friendsincode/slotwise/internal/runlock"
	"github.com/friendsincode/slotwise/internal/scheduler"
	"github.com/friendsincode/slotwise/internal/telemetry"
)

// triggerRequest is the optional body of a run trigger.
type triggerRequest struct {
	DryRun           bool     `json:"dry_run"`
	Days             int      `json:"days"`
	Timezone         string   `json:"timezone"`
	StabilityMinutes int      `json:"stability_minutes"`
	Mode             string   `json:"mode"`
	MonumentID       string   `json:"monument_id"`
	SkillIDs         []string `json:"skill_ids"`
}

type failureResponse struct {
	ItemID     string         `json:"item_id"`
	SourceType string         `json:"source_type"`
	Reason     string         `json:"reason"`
	Detail     map[string]any `json:"detail,omitempty"`
}

type runResponse struct {
	RunID        string            `json:"run_id"`
	UserID       string            `json:"user_id"`
	Mode         string            `json:"mode"`
	DryRun       bool              `json:"dry_run"`
	Placed       int               `json:"placed"`
	Kept         int               `json:"kept"`
	Rescheduled  int               `json:"rescheduled"`
	Canceled     int               `json:"canceled"`
	MarkedMissed int               `json:"marked_missed"`
	Failures     []failureResponse `json:"failures"`
	Filtered     int               `json:"filtered"`
	DurationMS   int64             `json:"duration_ms"`
}

func (d *Daemon) configureRoutes() {
	d.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "users": len(d.Users())})
	})

	d.router.Handle("/metrics", telemetry.Handler())

	d.router.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware([]byte(d.cfg.JWTSigningKey)))
		r.Route("/runs/{userID}", func(r chi.Router) {
			r.Use(auth.RequireUser(func(r *http.Request) string {
				return chi.URLParam(r, "userID")
			}))
			r.Post("/", d.handleTrigger)
			r.Get("/last", d.handleLast)
			r.Get("/logs", d.handleLogs)
		})
		r.Route("/users/{userID}/instances/{instanceID}", func(r chi.Router) {
			r.Use(auth.RequireUser(func(r *http.Request) string {
				return chi.URLParam(r, "userID")
			}))
			r.Get("/", d.handleInstance)
			r.Post("/complete", d.handleComplete)
			r.Post("/cancel", d.handleCancel)
			r.Post("/reschedule", d.handleReschedule)
		})
	})
}

func (d *Daemon) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !d.limiter.Allow() {
		w.Header().Set("Retry-After", "10")
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}

	var body triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mode, err := models.ParseRunMode(body.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := scheduler.RunRequest{
		UserID:     chi.URLParam(r, "userID"),
		Timezone:   body.Timezone,
		Days:       body.Days,
		Stability:  time.Duration(body.StabilityMinutes) * time.Minute,
		Mode:       mode,
		MonumentID: body.MonumentID,
		SkillIDs:   body.SkillIDs,
		DryRun:     body.DryRun,
	}
	res, err := d.RunUser(r.Context(), req, "http")
	if err != nil {
		var runErr *scheduler.RunError
		switch {
		case errors.Is(err, runlock.ErrHeld):
			writeError(w, http.StatusConflict, "a run is already in progress for this user")
		case errors.As(err, &runErr) && runErr.Code == scheduler.CodeConfig:
			writeError(w, http.StatusBadRequest, runErr.Message)
		default:
			d.logger.Error().Err(err).Str("user_id", req.UserID).Msg("triggered run failed")
			writeError(w, http.StatusInternalServerError, "run failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(res))
}

func (d *Daemon) handleLast(w http.ResponseWriter, r *http.Request) {
	summary, ok := d.svc.History().Last(chi.URLParam(r, "userID"))
	if !ok {
		writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (d *Daemon) handleLogs(w http.ResponseWriter, r *http.Request) {
	if d.logs == nil {
		writeError(w, http.StatusNotFound, "log capture disabled")
		return
	}
	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries := d.logs.Query(logbuffer.QueryParams{
		UserID:     chi.URLParam(r, "userID"),
		RunID:      r.URL.Query().Get("run_id"),
		Level:      r.URL.Query().Get("level"),
		Search:     r.URL.Query().Get("q"),
		Limit:      limit,
		Descending: true,
	})
	if entries == nil {
		entries = []logbuffer.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type transitionRequest struct {
	At    *time.Time `json:"at"`
	Start *time.Time `json:"start"`
}

// ownedInstance loads the instance named in the path and checks it belongs
// to the path user. It writes the error response when it returns false.
func (d *Daemon) ownedInstance(w http.ResponseWriter, r *http.Request) (models.ScheduleInstance, bool) {
	inst, err := d.svc.Instance(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil || inst.UserID != chi.URLParam(r, "userID") {
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			d.writeTransitionError(w, err)
			return inst, false
		}
		writeError(w, http.StatusNotFound, "instance not found")
		return inst, false
	}
	return inst, true
}

func decodeTransition(w http.ResponseWriter, r *http.Request) (transitionRequest, bool) {
	var body transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return body, false
	}
	return body, true
}

func (d *Daemon) writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "instance not found")
	case errors.Is(err, scheduler.ErrInvalidTransition), errors.Is(err, scheduler.ErrOverlap):
		writeError(w, http.StatusConflict, err.Error())
	default:
		d.logger.Error().Err(err).Msg("instance transition failed")
		writeError(w, http.StatusInternalServerError, "transition failed")
	}
}

func (d *Daemon) handleInstance(w http.ResponseWriter, r *http.Request) {
	inst, ok := d.ownedInstance(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (d *Daemon) handleComplete(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeTransition(w, r)
	if !ok {
		return
	}
	if _, ok := d.ownedInstance(w, r); !ok {
		return
	}
	var at time.Time
	if body.At != nil {
		at = *body.At
	}
	inst, err := d.svc.Complete(r.Context(), chi.URLParam(r, "instanceID"), at)
	if err != nil {
		d.writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (d *Daemon) handleCancel(w http.ResponseWriter, r *http.Request) {
	if _, ok := d.ownedInstance(w, r); !ok {
		return
	}
	inst, err := d.svc.Cancel(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		d.writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (d *Daemon) handleReschedule(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeTransition(w, r)
	if !ok {
		return
	}
	if body.Start == nil {
		writeError(w, http.StatusBadRequest, "start is required")
		return
	}
	if _, ok := d.ownedInstance(w, r); !ok {
		return
	}
	inst, err := d.svc.Reschedule(r.Context(), chi.URLParam(r, "instanceID"), *body.Start)
	if err != nil {
		d.writeTransitionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func toRunResponse(res *scheduler.RunResult) runResponse {
	out := runResponse{
		RunID:        res.RunID,
		UserID:       res.UserID,
		Mode:         string(res.Mode),
		DryRun:       res.DryRun,
		Placed:       res.PlacedCount(),
		Kept:         res.Kept,
		Rescheduled:  res.Rescheduled,
		Canceled:     len(res.Canceled),
		MarkedMissed: len(res.MarkedMissed),
		Failures:     make([]failureResponse, 0, len(res.Failures)),
		Filtered:     len(res.Filtered),
		DurationMS:   res.Duration.Milliseconds(),
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, failureResponse{
			ItemID:     f.ItemID,
			SourceType: string(f.SourceType),
			Reason:     string(f.Reason),
			Detail:     f.Detail,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
