package cache

import (
	"context"
	"fmt"
	"math"
	"time"

	"assistgate/internal/errdefs"
)

// QueryKey identifies one cached response.
// Hash is sha256 of the normalized query text.
type QueryKey struct {
	VersionID string
	Hash      string
}

// String converts the structured key into the final string used in Redis/map/sqlite.
func (k QueryKey) String() string {
	// query:<VERSION_ID>:<HASH_HEX>
	return fmt.Sprintf("query:%s:%s", k.VersionID, k.Hash)
}

// QueryCache is the interface used by the orchestrator.
//
// Entries are visible while now-created_at < TTL. When a new key would push
// the cache past its max size, the entry with the oldest created_at is
// evicted first, whether or not it has expired. Put on an existing key
// re-stamps created_at. A max size of 0 turns the cache into a no-op.
type QueryCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Stats(ctx context.Context) (Stats, error)
}

// Purger is implemented by backends that can drop expired entries in bulk.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Stats reports occupancy and lookup counters.
type Stats struct {
	Entries     int     `json:"entries"`
	MaxSize     int     `json:"max_size"`
	Utilization float64 `json:"utilization"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
}

func newStats(entries, maxSize int, hits, misses int64) Stats {
	return Stats{
		Entries:     entries,
		MaxSize:     maxSize,
		Utilization: utilization(entries, maxSize),
		Hits:        hits,
		Misses:      misses,
	}
}

// utilization returns entries/maxSize*100 rounded to two decimals.
func utilization(entries, maxSize int) float64 {
	if maxSize <= 0 {
		return 0
	}
	return math.Round(float64(entries)/float64(maxSize)*100*100) / 100
}

func validateLimits(ttl time.Duration, maxSize int) error {
	if ttl < 0 {
		return fmt.Errorf("%w: cache ttl must not be negative, got %s", errdefs.ErrConfiguration, ttl)
	}
	if maxSize < 0 {
		return fmt.Errorf("%w: cache max_size must not be negative, got %d", errdefs.ErrConfiguration, maxSize)
	}
	return nil
}
