package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteCache(t *testing.T, ttl time.Duration, maxSize int) (*SQLiteQueryCache, *stepClock) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	c, err := NewSQLiteQueryCache(dbPath, ttl, maxSize)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })

	clock := newStepClock()
	c.now = clock.Now
	return c, clock
}

func TestSQLitePutAndGet(t *testing.T) {
	c, _ := newTestSQLiteCache(t, time.Hour, 10)
	ctx := context.Background()

	if err := c.Put(ctx, "k", []byte(`{"response":"hello"}`)); err != nil {
		t.Fatal(err)
	}

	data, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(data) != `{"response":"hello"}` {
		t.Errorf("unexpected response: %s", data)
	}

	if _, ok, _ := c.Get(ctx, "other"); ok {
		t.Error("expected cache miss for unknown key")
	}
}

func TestSQLiteTTLExpiration(t *testing.T) {
	c, clock := newTestSQLiteCache(t, time.Second, 10)
	ctx := context.Background()

	if err := c.Put(ctx, "k", []byte("data")); err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Second)

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("expected cache miss after TTL expiration")
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 0 {
		t.Errorf("expected expired row to be deleted, entries=%d", stats.Entries)
	}
}

func TestSQLiteEvictsOldest(t *testing.T) {
	c, clock := newTestSQLiteCache(t, time.Hour, 2)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		if err := c.Put(ctx, k, []byte(k)); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
	}

	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("expected a to be evicted")
	}
	for _, k := range []string{"b", "c"} {
		if _, ok, _ := c.Get(ctx, k); !ok {
			t.Errorf("expected %s to survive", k)
		}
	}

	stats, _ := c.Stats(ctx)
	if stats.Entries != 2 {
		t.Errorf("expected 2 entries, got %d", stats.Entries)
	}
}

func TestSQLiteEvictionTieBreak(t *testing.T) {
	// The clock never moves, so only insertion order separates the rows.
	c, _ := newTestSQLiteCache(t, time.Hour, 2)
	ctx := context.Background()

	for _, k := range []string{"first", "second", "third"} {
		if err := c.Put(ctx, k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	if _, ok, _ := c.Get(ctx, "first"); ok {
		t.Error("expected first to be evicted")
	}
	if _, ok, _ := c.Get(ctx, "second"); !ok {
		t.Error("expected second to survive")
	}
}

func TestSQLiteNoopAndPurge(t *testing.T) {
	ctx := context.Background()

	noop, _ := newTestSQLiteCache(t, time.Hour, 0)
	if err := noop.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := noop.Get(ctx, "k"); ok {
		t.Error("no-op cache must never hit")
	}

	c, clock := newTestSQLiteCache(t, time.Second, 10)
	_ = c.Put(ctx, "old", []byte("1"))
	clock.Advance(2 * time.Second)
	_ = c.Put(ctx, "new", []byte("2"))

	n, err := c.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged row, got %d", n)
	}
}
