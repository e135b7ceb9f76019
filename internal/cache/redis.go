package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// putScript inserts or re-stamps one entry and evicts the oldest entries when
// a new key would overflow max size. Creation order lives in a sorted set
// scored by a counter, so equal wall-clock times keep insertion order.
//
// KEYS: index, seq, entry. ARGV: member, value, ttl_ms, max_size, entry_prefix.
var putScript = redis.NewScript(`
local member = ARGV[1]
local maxSize = tonumber(ARGV[4])
if not redis.call('ZSCORE', KEYS[1], member) then
  while redis.call('ZCARD', KEYS[1]) >= maxSize do
    local oldest = redis.call('ZRANGE', KEYS[1], 0, 0)
    if #oldest == 0 then break end
    redis.call('ZREM', KEYS[1], oldest[1])
    redis.call('DEL', ARGV[5] .. oldest[1])
  end
end
local seq = redis.call('INCR', KEYS[2])
redis.call('ZADD', KEYS[1], seq, member)
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[3], ARGV[2], 'PX', ARGV[3])
else
  redis.call('DEL', KEYS[3])
end
return seq
`)

// forgetScript drops an index member whose entry has expired.
// KEYS: index, entry. ARGV: member.
var forgetScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 0 then
  return redis.call('ZREM', KEYS[1], ARGV[1])
end
return 0
`)

// purgeScript removes every index member whose entry has expired.
// KEYS: index. ARGV: entry_prefix.
var purgeScript = redis.NewScript(`
local removed = 0
for _, m in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do
  if redis.call('EXISTS', ARGV[1] .. m) == 0 then
    redis.call('ZREM', KEYS[1], m)
    removed = removed + 1
  end
end
return removed
`)

// RedisQueryCache implements QueryCache using Redis. Entry expiry is enforced
// by Redis itself (PX); the sorted-set index is cleaned lazily.
type RedisQueryCache struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	maxSize int
	hits    atomic.Int64
	misses  atomic.Int64
}

type RedisConfig struct {
	Prefix  string
	TTL     time.Duration
	MaxSize int
}

// NewRedisQueryCache creates a Redis-backed cache.
func NewRedisQueryCache(client *redis.Client, config RedisConfig) (*RedisQueryCache, error) {
	if client == nil {
		return nil, errors.New("redis query cache: client is nil")
	}
	if err := validateLimits(config.TTL, config.MaxSize); err != nil {
		return nil, err
	}
	return &RedisQueryCache{
		client:  client,
		prefix:  config.Prefix,
		ttl:     config.TTL,
		maxSize: config.MaxSize,
	}, nil
}

// key builds the final Redis key with prefix.
func (c *RedisQueryCache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *RedisQueryCache) indexKey() string    { return c.key("index") }
func (c *RedisQueryCache) seqKey() string      { return c.key("seq") }
func (c *RedisQueryCache) entryPrefix() string { return c.key("entry:") }

// Get retrieves a value from Redis cache.
// On Redis error, it returns (nil, false, err) so caller can log and treat as miss.
func (c *RedisQueryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("context error: %w", err)
	}
	if c.maxSize == 0 {
		c.misses.Add(1)
		return nil, false, nil
	}

	entryKey := c.entryPrefix() + key

	res, err := c.client.Get(ctx, entryKey).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		if err := forgetScript.Run(ctx, c.client, []string{c.indexKey(), entryKey}, key).Err(); err != nil {
			return nil, false, fmt.Errorf("redis forget failed: %w", err)
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	c.hits.Add(1)
	return res, true, nil
}

// Put stores a value and applies the eviction rules atomically.
func (c *RedisQueryCache) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	if c.maxSize == 0 {
		return nil
	}

	keys := []string{c.indexKey(), c.seqKey(), c.entryPrefix() + key}
	err := putScript.Run(ctx, c.client, keys,
		key, value, ttlMillis(c.ttl), c.maxSize, c.entryPrefix(),
	).Err()
	if err != nil {
		return fmt.Errorf("redis put failed: %w", err)
	}
	return nil
}

// ttlMillis rounds up so a sub-millisecond remainder never shortens an entry.
func ttlMillis(ttl time.Duration) int64 {
	ms := ttl.Milliseconds()
	if ttl%time.Millisecond != 0 {
		ms++
	}
	return ms
}

func (c *RedisQueryCache) Stats(ctx context.Context) (Stats, error) {
	count, err := c.client.ZCard(ctx, c.indexKey()).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("redis stats failed: %w", err)
	}
	return newStats(int(count), c.maxSize, c.hits.Load(), c.misses.Load()), nil
}

// PurgeExpired drops index members whose entries Redis has already expired.
func (c *RedisQueryCache) PurgeExpired(ctx context.Context) (int, error) {
	n, err := purgeScript.Run(ctx, c.client, []string{c.indexKey()}, c.entryPrefix()).Int()
	if err != nil {
		return 0, fmt.Errorf("redis purge failed: %w", err)
	}
	return n, nil
}

// Ping checks if Redis connection is healthy.
func (c *RedisQueryCache) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return c.client.Ping(ctx).Err()
}
