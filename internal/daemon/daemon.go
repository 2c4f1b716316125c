/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package daemon runs the scheduler periodically for configured users and
// serves an HTTP API to trigger runs on demand.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/friendsincode/slotwise/internal/config"
	"github.com/friendsincode/slotwise/internal/logbuffer"
	"github.com/friendsincode/slotwise/internal/runlock"
	"github.com/friendsincode/slotwise/internal/scheduler"
	"github.com/friendsincode/slotwise/internal/telemetry"
)

// cronParser accepts five or six field specs plus descriptors like "@every 15m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

const (
	// tickParallelism bounds how many users one cron tick runs at once.
	tickParallelism  = 4
	historyRetention = 7 * 24 * time.Hour
)

// Daemon owns the cron loop and the HTTP servers.
type Daemon struct {
	cfg    *config.Config
	svc    *scheduler.Service
	locker runlock.Locker
	logger zerolog.Logger
	logs   *logbuffer.Buffer

	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server

	cron *cron.Cron

	mu       sync.Mutex
	users    []string
	cronSpec string
	entryID  cron.EntryID
	limiter  *rate.Limiter

	closers []func() error

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New builds a daemon around an existing scheduler service. locker may be
// nil, in which case runs are only serialised within this process.
func New(cfg *config.Config, svc *scheduler.Service, locker runlock.Locker, logger zerolog.Logger) (*Daemon, error) {
	if locker == nil {
		locker = runlock.NewLocal()
	}
	d := &Daemon{
		cfg:     cfg,
		svc:     svc,
		locker:  locker,
		logger:  logger.With().Str("component", "daemon").Logger(),
		users:   append([]string(nil), cfg.DaemonUsers...),
		limiter: newLimiter(cfg.TriggerPerMinute),
		cron:    cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC)),
	}

	if err := d.schedule(cfg.DaemonCron); err != nil {
		return nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(2 * time.Minute))
	d.router = router
	d.configureRoutes()

	d.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           otelhttp.NewHandler(d.router, "slotwise-daemon"),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.MetricsBind != "" && cfg.MetricsBind != cfg.HTTPAddr() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		d.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 15 * time.Second,
		}
	}
	return d, nil
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

// SetLogBuffer exposes captured logs through the run log endpoint.
func (d *Daemon) SetLogBuffer(buf *logbuffer.Buffer) {
	d.logs = buf
}

// Handler returns the HTTP handler without the tracing wrapper.
func (d *Daemon) Handler() http.Handler {
	return d.router
}

// Users returns the users the cron loop schedules.
func (d *Daemon) Users() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.users...)
}

// schedule replaces the cron entry when spec differs from the current one.
func (d *Daemon) schedule(spec string) error {
	if spec == "" {
		spec = config.Defaults().DaemonCron
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if spec == d.cronSpec && d.entryID != 0 {
		return nil
	}
	id, err := d.cron.AddFunc(spec, d.tick)
	if err != nil {
		return fmt.Errorf("daemon cron %q: %w", spec, err)
	}
	if d.entryID != 0 {
		d.cron.Remove(d.entryID)
	}
	d.entryID = id
	d.cronSpec = spec
	return nil
}

// Reload applies the reloadable parts of cfg: users, cron spec and the
// trigger rate. A bad cron spec keeps the previous one.
func (d *Daemon) Reload(cfg *config.Config) {
	d.mu.Lock()
	d.users = append([]string(nil), cfg.DaemonUsers...)
	if cfg.TriggerPerMinute > 0 {
		d.limiter.SetLimit(rate.Every(time.Minute / time.Duration(cfg.TriggerPerMinute)))
		d.limiter.SetBurst(cfg.TriggerPerMinute)
	} else {
		d.limiter.SetLimit(rate.Inf)
	}
	d.mu.Unlock()

	if err := d.schedule(cfg.DaemonCron); err != nil {
		d.logger.Warn().Err(err).Msg("cron spec rejected, keeping previous")
	}
	d.logger.Info().Strs("users", cfg.DaemonUsers).Str("cron", cfg.DaemonCron).Msg("daemon config applied")
}

// RunUser runs the scheduler for one user under the user's run lease.
// runlock.ErrHeld is returned untouched when another run holds the lease.
func (d *Daemon) RunUser(ctx context.Context, req scheduler.RunRequest, trigger string) (*scheduler.RunResult, error) {
	release, err := d.locker.Acquire(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			d.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("release run lease")
		}
	}()

	if req.Stability == 0 {
		req.Stability = d.cfg.Stability
	}
	res, err := d.svc.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	d.logger.Info().
		Str("trigger", trigger).
		Str("user_id", req.UserID).
		Str("run_id", res.RunID).
		Int("placed", res.PlacedCount()).
		Int("failed", res.FailedCount()).
		Dur("duration", res.Duration).
		Msg("run finished")
	return res, nil
}

// tick runs every configured user once.
func (d *Daemon) tick() {
	ctx := context.Background()
	d.RunAll(ctx)
	d.svc.History().Prune(time.Now().Add(-historyRetention))
}

// RunAll runs each configured user. Lease contention is skipped silently;
// other failures are logged. It returns the number of users that ran.
func (d *Daemon) RunAll(ctx context.Context) int {
	users := d.Users()
	var (
		mu  sync.Mutex
		ran int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tickParallelism)
	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			_, err := d.RunUser(gctx, scheduler.RunRequest{UserID: userID}, "cron")
			switch {
			case err == nil:
				mu.Lock()
				ran++
				mu.Unlock()
			case errors.Is(err, runlock.ErrHeld):
				d.logger.Debug().Str("user_id", userID).Msg("run already in progress")
			default:
				d.logger.Error().Err(err).Str("user_id", userID).Msg("scheduled run failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return ran
}

// Start launches the cron loop, the HTTP servers and the config watcher.
func (d *Daemon) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.bgCancel = cancel

	d.cron.Start()
	d.logger.Info().Str("cron", d.cronSpec).Strs("users", d.Users()).Msg("cron loop started")

	d.bgWG.Add(1)
	go func() {
		defer d.bgWG.Done()
		d.logger.Info().Str("addr", d.httpServer.Addr).Msg("http listening")
		if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	if d.metricsServer != nil {
		d.bgWG.Add(1)
		go func() {
			defer d.bgWG.Done()
			d.logger.Info().Str("addr", d.metricsServer.Addr).Msg("metrics listening")
			if err := d.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	if d.cfg.ConfigFile != "" {
		d.bgWG.Add(1)
		go func() {
			defer d.bgWG.Done()
			if err := config.Watch(ctx, d.cfg.ConfigFile, d.logger, d.Reload); err != nil {
				d.logger.Warn().Err(err).Msg("config watcher stopped")
			}
		}()
	}
}

// Shutdown stops accepting requests, waits for running jobs and releases
// registered resources in reverse order.
func (d *Daemon) Shutdown(ctx context.Context) error {
	cronDone := d.cron.Stop()

	var firstErr error
	if err := d.httpServer.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if d.metricsServer != nil {
		if err := d.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	select {
	case <-cronDone.Done():
	case <-ctx.Done():
		d.logger.Warn().Msg("shutdown deadline hit while runs were in flight")
	}

	if d.bgCancel != nil {
		d.bgCancel()
		d.bgWG.Wait()
		d.bgCancel = nil
	}

	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook run by Shutdown.
func (d *Daemon) DeferClose(fn func() error) {
	d.closers = append(d.closers, fn)
}
