/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/slotwise/internal/tz"
	"github.com/pelletier/go-toml/v2"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// ErrMissingDSN is returned when no database DSN is configured.
var ErrMissingDSN = errors.New("SLOTWISE_DB_DSN must be provided")

// Config covers process level configuration read from environment variables
// and an optional TOML file. Environment variables win over the file.
type Config struct {
	Environment string
	ConfigFile  string

	DBBackend DatabaseBackend
	DBDSN     string

	// Scheduler defaults; CLI flags override per run.
	DefaultTimezone    string
	HorizonDays        int
	HabitLookaheadDays int
	MissedGrace        time.Duration
	Stability          time.Duration
	RushFactor         float64
	MinClip            time.Duration
	FallbackSunrise    time.Duration
	FallbackSunset     time.Duration

	// Per-user run lease
	LockEnabled   bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration
	InstanceID    string

	// Run progress fan-out. Empty disables publishing.
	NATSURL     string
	NATSSubject string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Daemon
	HTTPBind         string
	HTTPPort         int
	MetricsBind      string
	DaemonCron       string
	DaemonUsers      []string
	JWTSigningKey    string
	TriggerPerMinute int
}

// fileConfig mirrors the TOML layout. Zero values leave defaults alone.
type fileConfig struct {
	Environment string `toml:"environment"`
	Database    struct {
		Backend string `toml:"backend"`
		DSN     string `toml:"dsn"`
	} `toml:"database"`
	Scheduler struct {
		Timezone           string  `toml:"timezone"`
		HorizonDays        int     `toml:"horizon_days"`
		HabitLookaheadDays int     `toml:"habit_lookahead_days"`
		MissedGraceMinutes int     `toml:"missed_grace_minutes"`
		StabilityMinutes   int     `toml:"stability_minutes"`
		RushFactor         float64 `toml:"rush_factor"`
		MinClipMinutes     int     `toml:"min_clip_minutes"`
		FallbackSunrise    string  `toml:"fallback_sunrise"`
		FallbackSunset     string  `toml:"fallback_sunset"`
	} `toml:"scheduler"`
	Lock struct {
		Enabled    *bool  `toml:"enabled"`
		RedisAddr  string `toml:"redis_addr"`
		Password   string `toml:"redis_password"`
		DB         int    `toml:"redis_db"`
		TTLSeconds int    `toml:"ttl_seconds"`
	} `toml:"lock"`
	NATS struct {
		URL     string `toml:"url"`
		Subject string `toml:"subject"`
	} `toml:"nats"`
	Tracing struct {
		Enabled    *bool   `toml:"enabled"`
		Endpoint   string  `toml:"endpoint"`
		SampleRate float64 `toml:"sample_rate"`
	} `toml:"tracing"`
	Daemon struct {
		HTTPBind         string   `toml:"http_bind"`
		HTTPPort         int      `toml:"http_port"`
		MetricsBind      string   `toml:"metrics_bind"`
		Cron             string   `toml:"cron"`
		Users            []string `toml:"users"`
		JWTSigningKey    string   `toml:"jwt_signing_key"`
		TriggerPerMinute int      `toml:"trigger_per_minute"`
	} `toml:"daemon"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Environment:        "development",
		DBBackend:          DatabaseSQLite,
		DefaultTimezone:    "UTC",
		HorizonDays:        365,
		HabitLookaheadDays: 7,
		MissedGrace:        15 * time.Minute,
		RushFactor:         0.8,
		MinClip:            15 * time.Minute,
		FallbackSunrise:    6 * time.Hour,
		FallbackSunset:     18 * time.Hour,
		RedisAddr:          "localhost:6379",
		LockTTL:            2 * time.Minute,
		NATSSubject:        "slotwise.runs",
		OTLPEndpoint:       "localhost:4317",
		TracingSampleRate:  1.0,
		HTTPBind:           "0.0.0.0",
		HTTPPort:           8080,
		MetricsBind:        "127.0.0.1:9000",
		DaemonCron:         "@every 15m",
		TriggerPerMinute:   6,
	}
}

// Load reads the optional config file and environment variables, applies
// defaults, and validates the result.
func Load() (*Config, error) {
	cfg := Defaults()
	cfg.ConfigFile = getEnvAny([]string{"SLOTWISE_CONFIG_FILE", "SLOTWISE_CONFIG"}, "")
	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads only the given TOML file on top of the defaults and the
// environment. It is used by the daemon's reload path.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	cfg.ConfigFile = path
	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Environment, fc.Environment)
	setString((*string)(&c.DBBackend), fc.Database.Backend)
	setString(&c.DBDSN, fc.Database.DSN)

	s := fc.Scheduler
	setString(&c.DefaultTimezone, s.Timezone)
	setInt(&c.HorizonDays, s.HorizonDays)
	setInt(&c.HabitLookaheadDays, s.HabitLookaheadDays)
	setMinutes(&c.MissedGrace, s.MissedGraceMinutes)
	setMinutes(&c.Stability, s.StabilityMinutes)
	setMinutes(&c.MinClip, s.MinClipMinutes)
	if s.RushFactor > 0 {
		c.RushFactor = s.RushFactor
	}
	if err := setClock(&c.FallbackSunrise, s.FallbackSunrise); err != nil {
		return err
	}
	if err := setClock(&c.FallbackSunset, s.FallbackSunset); err != nil {
		return err
	}

	if fc.Lock.Enabled != nil {
		c.LockEnabled = *fc.Lock.Enabled
	}
	setString(&c.RedisAddr, fc.Lock.RedisAddr)
	setString(&c.RedisPassword, fc.Lock.Password)
	setInt(&c.RedisDB, fc.Lock.DB)
	if fc.Lock.TTLSeconds > 0 {
		c.LockTTL = time.Duration(fc.Lock.TTLSeconds) * time.Second
	}

	setString(&c.NATSURL, fc.NATS.URL)
	setString(&c.NATSSubject, fc.NATS.Subject)

	if fc.Tracing.Enabled != nil {
		c.TracingEnabled = *fc.Tracing.Enabled
	}
	setString(&c.OTLPEndpoint, fc.Tracing.Endpoint)
	if fc.Tracing.SampleRate > 0 {
		c.TracingSampleRate = fc.Tracing.SampleRate
	}

	d := fc.Daemon
	setString(&c.HTTPBind, d.HTTPBind)
	setInt(&c.HTTPPort, d.HTTPPort)
	setString(&c.MetricsBind, d.MetricsBind)
	setString(&c.DaemonCron, d.Cron)
	if len(d.Users) > 0 {
		c.DaemonUsers = d.Users
	}
	setString(&c.JWTSigningKey, d.JWTSigningKey)
	setInt(&c.TriggerPerMinute, d.TriggerPerMinute)
	return nil
}

func (c *Config) applyEnv() error {
	c.Environment = getEnvAny([]string{"SLOTWISE_ENV"}, c.Environment)
	c.DBBackend = DatabaseBackend(getEnvAny([]string{"SLOTWISE_DB_BACKEND"}, string(c.DBBackend)))
	c.DBDSN = getEnvAny([]string{"SLOTWISE_DB_DSN", "DATABASE_URL"}, c.DBDSN)

	c.DefaultTimezone = getEnvAny([]string{"SLOTWISE_TIMEZONE"}, c.DefaultTimezone)
	c.HorizonDays = getEnvIntAny([]string{"SLOTWISE_HORIZON_DAYS"}, c.HorizonDays)
	c.HabitLookaheadDays = getEnvIntAny([]string{"SLOTWISE_HABIT_LOOKAHEAD_DAYS"}, c.HabitLookaheadDays)
	c.MissedGrace = getEnvMinutesAny([]string{"SLOTWISE_MISSED_GRACE_MINUTES"}, c.MissedGrace)
	c.Stability = getEnvMinutesAny([]string{"SLOTWISE_STABILITY_MINUTES"}, c.Stability)
	c.MinClip = getEnvMinutesAny([]string{"SLOTWISE_MIN_CLIP_MINUTES"}, c.MinClip)
	c.RushFactor = getEnvFloatAny([]string{"SLOTWISE_RUSH_FACTOR"}, c.RushFactor)
	if err := setClock(&c.FallbackSunrise, getEnvAny([]string{"SLOTWISE_FALLBACK_SUNRISE"}, "")); err != nil {
		return err
	}
	if err := setClock(&c.FallbackSunset, getEnvAny([]string{"SLOTWISE_FALLBACK_SUNSET"}, "")); err != nil {
		return err
	}

	c.LockEnabled = getEnvBoolAny([]string{"SLOTWISE_LOCK_ENABLED"}, c.LockEnabled)
	c.RedisAddr = getEnvAny([]string{"SLOTWISE_REDIS_ADDR"}, c.RedisAddr)
	c.RedisPassword = getEnvAny([]string{"SLOTWISE_REDIS_PASSWORD"}, c.RedisPassword)
	c.RedisDB = getEnvIntAny([]string{"SLOTWISE_REDIS_DB"}, c.RedisDB)
	if secs := getEnvIntAny([]string{"SLOTWISE_LOCK_TTL_SECONDS"}, 0); secs > 0 {
		c.LockTTL = time.Duration(secs) * time.Second
	}
	c.InstanceID = getEnvAny([]string{"SLOTWISE_INSTANCE_ID", "HOSTNAME"}, c.InstanceID)

	c.NATSURL = getEnvAny([]string{"SLOTWISE_NATS_URL", "NATS_URL"}, c.NATSURL)
	c.NATSSubject = getEnvAny([]string{"SLOTWISE_NATS_SUBJECT"}, c.NATSSubject)

	c.TracingEnabled = getEnvBoolAny([]string{"SLOTWISE_TRACING_ENABLED"}, c.TracingEnabled)
	c.OTLPEndpoint = getEnvAny([]string{"SLOTWISE_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"}, c.OTLPEndpoint)
	c.TracingSampleRate = getEnvFloatAny([]string{"SLOTWISE_TRACING_SAMPLE_RATE"}, c.TracingSampleRate)

	c.HTTPBind = getEnvAny([]string{"SLOTWISE_HTTP_BIND"}, c.HTTPBind)
	c.HTTPPort = getEnvIntAny([]string{"SLOTWISE_HTTP_PORT"}, c.HTTPPort)
	c.MetricsBind = getEnvAny([]string{"SLOTWISE_METRICS_BIND"}, c.MetricsBind)
	c.DaemonCron = getEnvAny([]string{"SLOTWISE_DAEMON_CRON"}, c.DaemonCron)
	if users := getEnvAny([]string{"SLOTWISE_DAEMON_USERS"}, ""); users != "" {
		c.DaemonUsers = splitList(users)
	}
	c.JWTSigningKey = getEnvAny([]string{"SLOTWISE_JWT_SIGNING_KEY"}, c.JWTSigningKey)
	c.TriggerPerMinute = getEnvIntAny([]string{"SLOTWISE_TRIGGER_PER_MINUTE"}, c.TriggerPerMinute)
	return nil
}

// Validate checks settings every command needs.
func (c *Config) Validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if strings.TrimSpace(c.DBDSN) == "" {
		return ErrMissingDSN
	}
	if c.HorizonDays < 1 {
		return fmt.Errorf("horizon days must be positive, got %d", c.HorizonDays)
	}
	if c.HabitLookaheadDays < 1 {
		return fmt.Errorf("habit lookahead days must be positive, got %d", c.HabitLookaheadDays)
	}
	if c.RushFactor <= 0 || c.RushFactor > 1 {
		return fmt.Errorf("rush factor must be in (0, 1], got %v", c.RushFactor)
	}
	if c.FallbackSunset <= c.FallbackSunrise {
		return fmt.Errorf("fallback sunset must be after sunrise")
	}
	if _, ok := tz.LoadStrict(c.DefaultTimezone); !ok {
		return fmt.Errorf("unknown default timezone %q", c.DefaultTimezone)
	}
	return nil
}

// ValidateDaemon checks the extra settings the daemon requires.
func (c *Config) ValidateDaemon() error {
	if c.JWTSigningKey == "" {
		return fmt.Errorf("SLOTWISE_JWT_SIGNING_KEY must be provided for the daemon")
	}
	if strings.TrimSpace(c.DaemonCron) == "" {
		return fmt.Errorf("SLOTWISE_DAEMON_CRON must not be empty")
	}
	return nil
}

// HTTPAddr returns the daemon listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setMinutes(dst *time.Duration, v int) {
	if v > 0 {
		*dst = time.Duration(v) * time.Minute
	}
}

func setClock(dst *time.Duration, v string) error {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := tz.ParseClock(v)
	if err != nil {
		return fmt.Errorf("fallback clock: %w", err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

func getEnvMinutesAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
				return time.Duration(parsed) * time.Minute
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
