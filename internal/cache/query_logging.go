package cache

import (
	"context"
	"strings"
	"time"

	"assistgate/internal/metrics"
	"assistgate/pkg/logging/logging"

	"go.uber.org/zap"
)

// LoggingQueryCache wraps a QueryCache with logging + metrics.
type LoggingQueryCache struct {
	inner   QueryCache
	backend string
}

// NewLoggingQueryCache returns a cache that logs and records metrics.
func NewLoggingQueryCache(inner QueryCache, backend string) QueryCache {
	return &LoggingQueryCache{inner: inner, backend: backend}
}

func (c *LoggingQueryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.QueryCacheResults.WithLabelValues(c.backend, result).Inc()

	fields := append(c.keyFields(key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	)

	logger := logging.L(ctx)
	if err != nil {
		logger.Error("query_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("query_cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingQueryCache) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := c.inner.Put(ctx, key, value)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	fields := append(c.keyFields(key),
		zap.Int("value_bytes", len(value)),
		zap.Float64("latency_ms", latencyMs),
	)

	logger := logging.L(ctx)
	if err != nil {
		metrics.QueryCacheResults.WithLabelValues(c.backend, "put_error").Inc()
		logger.Error("query_cache_put", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("query_cache_put", fields...)
	}

	return err
}

func (c *LoggingQueryCache) Stats(ctx context.Context) (Stats, error) {
	return c.inner.Stats(ctx)
}

// PurgeExpired forwards to the wrapped cache when it supports purging.
func (c *LoggingQueryCache) PurgeExpired(ctx context.Context) (int, error) {
	p, ok := c.inner.(Purger)
	if !ok {
		return 0, nil
	}
	return p.PurgeExpired(ctx)
}

func (c *LoggingQueryCache) keyFields(key string) []zap.Field {
	fields := []zap.Field{
		zap.String("cache_backend", c.backend),
		zap.String("cache_key", key),
	}
	if parts, ok := parseQueryKey(key); ok {
		fields = append(fields,
			zap.String("version_id", parts.VersionID),
			zap.String("hash", parts.Hash),
		)
	}
	return fields
}

// Expecting: query:<VERSION_ID>:<HASH>
func parseQueryKey(key string) (QueryKey, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "query" {
		return QueryKey{}, false
	}
	return QueryKey{VersionID: parts[1], Hash: parts[2]}, true
}
