/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package runlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type fakeRedis struct {
	mu      sync.Mutex
	values  map[string]string
	expires int
	setErr  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string)}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Expire(_ context.Context, key string, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires++
	_, ok := f.values[key]
	return redis.NewBoolResult(ok, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeRedis) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	return ok
}

func TestRedisLeaseIsExclusivePerUser(t *testing.T) {
	client := newFakeRedis()
	locker := newRedis(client, Config{InstanceID: "node-a"}, zerolog.Nop())
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "u1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !client.has("slotwise:run:u1") {
		t.Fatal("lease key not written")
	}
	if _, err := locker.Acquire(ctx, "u1"); !errors.Is(err, ErrHeld) {
		t.Fatalf("second acquire err = %v, want ErrHeld", err)
	}
	other, err := locker.Acquire(ctx, "u2")
	if err != nil {
		t.Fatalf("other user should not contend: %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := release(ctx); err != nil {
		t.Fatalf("double release: %v", err)
	}
	if client.has("slotwise:run:u1") {
		t.Fatal("release should delete the key")
	}
	if _, err := locker.Acquire(ctx, "u1"); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	_ = other(ctx)
}

func TestRedisReleaseLeavesForeignLease(t *testing.T) {
	client := newFakeRedis()
	locker := newRedis(client, Config{}, zerolog.Nop())
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "u1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// Lease expired and another node took it.
	client.mu.Lock()
	client.values["slotwise:run:u1"] = "node-b:token"
	client.mu.Unlock()

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !client.has("slotwise:run:u1") {
		t.Fatal("release must not delete a lease it no longer owns")
	}
	if err := locker.renew(ctx, "slotwise:run:u1", "mine"); err == nil {
		t.Fatal("renew should refuse a foreign lease")
	}
}

func TestRedisLeaseRenewsWhileHeld(t *testing.T) {
	client := newFakeRedis()
	locker := newRedis(client, Config{TTL: 30 * time.Millisecond}, zerolog.Nop())
	release, err := locker.Acquire(context.Background(), "u1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	_ = release(context.Background())

	client.mu.Lock()
	renewed := client.expires
	client.mu.Unlock()
	if renewed == 0 {
		t.Fatal("expected at least one renewal")
	}
}

func TestRedisAcquireSurfacesErrors(t *testing.T) {
	client := newFakeRedis()
	client.setErr = errors.New("connection refused")
	locker := newRedis(client, Config{}, zerolog.Nop())
	if _, err := locker.Acquire(context.Background(), "u1"); err == nil || errors.Is(err, ErrHeld) {
		t.Fatalf("err = %v, want a transport error", err)
	}
}

func TestLocalLocker(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()
	release, err := l.Acquire(ctx, "u1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.Acquire(ctx, "u1"); !errors.Is(err, ErrHeld) {
		t.Fatalf("err = %v", err)
	}
	_ = release(ctx)
	if _, err := l.Acquire(ctx, "u1"); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
}
