package cache

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"assistgate/internal/errdefs"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

type Config struct {
	Backend    string
	TTL        time.Duration
	MaxSize    int
	Prefix     string
	SQLitePath string
}

// NewQueryCache builds the backend named by cfg.Backend. The returned closer
// releases backend resources and is never nil.
func NewQueryCache(cfg Config, redisClient *redis.Client) (QueryCache, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		c, err := NewMemoryQueryCache(cfg.TTL, cfg.MaxSize)
		if err != nil {
			return nil, nil, err
		}
		return c, nopCloser{}, nil
	case BackendRedis:
		c, err := NewRedisQueryCache(redisClient, RedisConfig{
			Prefix:  cfg.Prefix,
			TTL:     cfg.TTL,
			MaxSize: cfg.MaxSize,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, nopCloser{}, nil
	case BackendSQLite:
		c, err := NewSQLiteQueryCache(cfg.SQLitePath, cfg.TTL, cfg.MaxSize)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown cache backend %q", errdefs.ErrConfiguration, cfg.Backend)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
