/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package runlock guarantees at most one scheduler run per user at a time.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/slotwise/internal/telemetry"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultKeyPrefix = "slotwise:run:"
	defaultTTL       = 2 * time.Minute
)

// ErrHeld is returned when another run holds the user's lease.
var ErrHeld = errors.New("runlock: lease held by another run")

// Release gives a lease back.
type Release func(ctx context.Context) error

// Locker hands out per-user leases.
type Locker interface {
	Acquire(ctx context.Context, userID string) (Release, error)
}

// redisClient is the subset of the go-redis client a lease needs.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Config configures the Redis lease.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	// TTL bounds how long a crashed run can block the user.
	TTL        time.Duration
	InstanceID string
}

// Redis implements Locker with SET NX leases renewed while the run lives.
type Redis struct {
	client     redisClient
	closer     func() error
	logger     zerolog.Logger
	prefix     string
	ttl        time.Duration
	instanceID string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg Config, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("connected to Redis for run leases")
	r := newRedis(client, cfg, logger)
	r.closer = client.Close
	return r, nil
}

func newRedis(client redisClient, cfg Config, logger zerolog.Logger) *Redis {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	return &Redis{
		client:     client,
		logger:     logger.With().Str("component", "runlock").Logger(),
		prefix:     cfg.KeyPrefix,
		ttl:        cfg.TTL,
		instanceID: cfg.InstanceID,
	}
}

// Key returns the Redis key guarding a user.
func (r *Redis) Key(userID string) string {
	return r.prefix + userID
}

// Acquire takes the user's lease or returns ErrHeld. The lease is renewed
// in the background until released.
func (r *Redis) Acquire(ctx context.Context, userID string) (Release, error) {
	key := r.Key(userID)
	token := r.instanceID + ":" + uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("set lease: %w", err)
	}
	if !ok {
		telemetry.RunLockContentionTotal.Inc()
		holder, _ := r.client.Get(ctx, key).Result()
		r.logger.Info().Str("user_id", userID).Str("holder", holder).Msg("run lease busy")
		return nil, fmt.Errorf("user %s: %w", userID, ErrHeld)
	}

	renewCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.renewLoop(renewCtx, key, token)
	}()

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			stop()
			<-done
			err = r.release(ctx, key, token)
		})
		return err
	}
	return release, nil
}

func (r *Redis) renewLoop(ctx context.Context, key, token string) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.renew(ctx, key, token); err != nil {
				r.logger.Warn().Err(err).Str("key", key).Msg("lease renewal failed")
			}
		}
	}
}

// renew extends the lease only while we still own it.
func (r *Redis) renew(ctx context.Context, key, token string) error {
	current, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("lease expired")
	}
	if err != nil {
		return fmt.Errorf("get lease: %w", err)
	}
	if current != token {
		return fmt.Errorf("lease taken over by %s", current)
	}
	if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	return nil
}

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

func (r *Redis) release(ctx context.Context, key, token string) error {
	if err := r.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

// Local implements Locker inside one process.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal constructs an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// Acquire takes the user's lease or returns ErrHeld.
func (l *Local) Acquire(_ context.Context, userID string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[userID]; ok {
		telemetry.RunLockContentionTotal.Inc()
		return nil, fmt.Errorf("user %s: %w", userID, ErrHeld)
	}
	l.held[userID] = struct{}{}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, userID)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
