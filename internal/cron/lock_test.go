package cron

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memoryRedis struct {
	values map[string]string
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func TestRedisLockIsExclusiveAndOwnerScoped(t *testing.T) {
	store := &memoryRedis{values: map[string]string{}}
	ctx := context.Background()

	first, err := NewRedisLock(store, "mp:lock:cron", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, _ := NewRedisLock(store, "mp:lock:cron", time.Minute)

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire should win, got %v %v", ok, err)
	}
	if ok, err := second.Acquire(ctx); err != nil || ok {
		t.Fatalf("second acquire should lose, got %v %v", ok, err)
	}
	holder, err := second.Holder(ctx)
	if err != nil || holder != first.owner {
		t.Fatalf("holder should report the first owner, got %q %v", holder, err)
	}
	if !strings.HasPrefix(holder, first.instance+"/") {
		t.Fatalf("holder should carry the instance name, got %q", holder)
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release by non-owner: %v", err)
	}
	if _, ok := store.values["mp:lock:cron"]; !ok {
		t.Fatal("non-owner release must not drop the lock")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if holder, _ := first.Holder(ctx); holder != "" {
		t.Fatalf("expected free lock, got holder %q", holder)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("lock should be free after owner release")
	}
}

func TestRedisLockReleaseAfterExpiryKeepsNewOwner(t *testing.T) {
	store := &memoryRedis{values: map[string]string{}}
	ctx := context.Background()

	first, _ := NewRedisLock(store, "mp:lock:cron", time.Minute)
	second, _ := NewRedisLock(store, "mp:lock:cron", time.Minute)
	if ok, _ := first.Acquire(ctx); !ok {
		t.Fatal("first acquire should win")
	}

	// Simulate TTL expiry and a takeover by another replica.
	delete(store.values, "mp:lock:cron")
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("second acquire should win after expiry")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if store.values["mp:lock:cron"] != second.owner {
		t.Fatal("stale owner must not release the new holder's lock")
	}
}
