package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryExpiry(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemory(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if err := store.Set(ctx, "k", "v", 10*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	now = now.Add(9 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatal("expected hit one second before expiry")
	}

	now = now.Add(2 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expected miss after expiry")
	}
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	now := time.Now()
	store := NewMemory(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	store.Set(ctx, "k", "v", 0)
	now = now.Add(100 * time.Hour)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatal("zero-ttl entry should not expire")
	}
}

func TestMemoryCapEvictsOldest(t *testing.T) {
	now := time.Now()
	store := NewMemory(WithMaxEntries(3), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		store.Set(ctx, key, "v", 0)
		now = now.Add(time.Second)
	}
	store.Set(ctx, "d", "v", 0)

	if store.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", store.Len())
	}
	if _, ok, _ := store.Get(ctx, "a"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, ok, _ := store.Get(ctx, "d"); !ok {
		t.Fatal("newest entry missing")
	}
}

func TestMemoryInvalidatePrefix(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	store.Set(ctx, "catalog:automations", "x", 0)
	store.Set(ctx, "catalog:procedures", "y", 0)
	store.Set(ctx, "kb:deposito", "z", 0)

	if err := store.Invalidate(ctx, "catalog:"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "catalog:automations"); ok {
		t.Fatal("catalog key survived invalidation")
	}
	if _, ok, _ := store.Get(ctx, "kb:deposito"); !ok {
		t.Fatal("unrelated key was removed")
	}
}

func TestRedisStore(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	store := NewRedis(client)
	ctx := context.Background()

	if err := store.Set(ctx, "idem:abc", "resolved", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := store.Get(ctx, "idem:abc")
	if err != nil || !ok || value != "resolved" {
		t.Fatalf("get = %q, %v, %v", value, ok, err)
	}

	srv.FastForward(2 * time.Minute)
	if _, ok, _ := store.Get(ctx, "idem:abc"); ok {
		t.Fatal("expected miss after ttl")
	}

	store.Set(ctx, "idem:x", "1", 0)
	store.Set(ctx, "idem:y", "2", 0)
	store.Set(ctx, "other", "3", 0)
	if err := store.Invalidate(ctx, "idem:"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "idem:x"); ok {
		t.Fatal("prefixed key survived invalidation")
	}
	if _, ok, _ := store.Get(ctx, "other"); !ok {
		t.Fatal("unrelated key was removed")
	}
}
