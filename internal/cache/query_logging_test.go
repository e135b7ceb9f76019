package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"assistgate/internal/metrics"
	"assistgate/pkg/logging/logging"
)

type failingCache struct{ err error }

func (f failingCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, f.err }
func (f failingCache) Put(context.Context, string, []byte) error         { return f.err }
func (f failingCache) Stats(context.Context) (Stats, error)              { return Stats{}, f.err }

func observedContext() (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logging.WithLogger(context.Background(), zap.New(core)), logs
}

func TestLoggingQueryCache_LogsHitAndMiss(t *testing.T) {
	ctx, logs := observedContext()

	inner, err := NewMemoryQueryCache(time.Minute, 10)
	if err != nil {
		t.Fatal(err)
	}
	c := NewLoggingQueryCache(inner, "memory-logtest")
	key := BuildQueryKey("hello", "v1").String()

	_, _, _ = c.Get(ctx, key)
	_ = c.Put(ctx, key, []byte("world"))
	_, _, _ = c.Get(ctx, key)

	gets := logs.FilterMessage("query_cache_get").All()
	if len(gets) != 2 {
		t.Fatalf("expected 2 get logs, got %d", len(gets))
	}
	if r := gets[0].ContextMap()["cache_result"]; r != "miss" {
		t.Errorf("first get: expected miss, got %v", r)
	}
	if r := gets[1].ContextMap()["cache_result"]; r != "hit" {
		t.Errorf("second get: expected hit, got %v", r)
	}
	if v := gets[1].ContextMap()["version_id"]; v != "v1" {
		t.Errorf("expected version_id field, got %v", v)
	}
	if logs.FilterMessage("query_cache_put").Len() != 1 {
		t.Error("expected one put log")
	}

	if got := testutil.ToFloat64(metrics.QueryCacheResults.WithLabelValues("memory-logtest", "hit")); got != 1 {
		t.Errorf("expected 1 hit recorded, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.QueryCacheResults.WithLabelValues("memory-logtest", "miss")); got != 1 {
		t.Errorf("expected 1 miss recorded, got %v", got)
	}
}

func TestLoggingQueryCache_PassesErrorsThrough(t *testing.T) {
	ctx, logs := observedContext()
	boom := errors.New("backend down")
	c := NewLoggingQueryCache(failingCache{err: boom}, "failing-logtest")

	if _, _, err := c.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if err := c.Put(ctx, "k", nil); !errors.Is(err, boom) {
		t.Fatalf("expected backend error, got %v", err)
	}

	if n := logs.FilterLevelExact(zapcore.ErrorLevel).Len(); n != 2 {
		t.Errorf("expected 2 error logs, got %d", n)
	}

	// failingCache does not purge; the decorator reports nothing removed.
	n, err := c.(Purger).PurgeExpired(ctx)
	if err != nil || n != 0 {
		t.Errorf("expected no-op purge, got %d, %v", n, err)
	}
}
