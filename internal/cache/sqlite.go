package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const createQueryCacheTable = `
CREATE TABLE IF NOT EXISTS query_cache (
	cache_key  TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	seq        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_cache_created ON query_cache (created_at, seq);
`

// SQLiteQueryCache is a QueryCache backed by a single SQLite file.
// created_at is stored as unix nanoseconds; seq breaks ties in insertion order.
type SQLiteQueryCache struct {
	mu      sync.Mutex
	db      *sql.DB
	ttl     time.Duration
	maxSize int
	hits    atomic.Int64
	misses  atomic.Int64
	now     func() time.Time
}

// NewSQLiteQueryCache opens (or creates) the cache database at dbPath.
func NewSQLiteQueryCache(dbPath string, ttl time.Duration, maxSize int) (*SQLiteQueryCache, error) {
	if err := validateLimits(ttl, maxSize); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createQueryCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &SQLiteQueryCache{db: db, ttl: ttl, maxSize: maxSize, now: time.Now}, nil
}

// Get returns a live entry. Expired rows are deleted on the way out.
func (c *SQLiteQueryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.maxSize == 0 {
		c.misses.Add(1)
		return nil, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var value []byte
	var createdAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT value, created_at FROM query_cache WHERE cache_key = ?`, key,
	).Scan(&value, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	if c.now().Sub(time.Unix(0, createdAt)) >= c.ttl {
		c.misses.Add(1)
		if _, err := c.db.ExecContext(ctx, `DELETE FROM query_cache WHERE cache_key = ?`, key); err != nil {
			return nil, false, fmt.Errorf("cache expire: %w", err)
		}
		return nil, false, nil
	}

	c.hits.Add(1)
	return value, true, nil
}

// Put inserts or re-stamps key inside one transaction, evicting the oldest
// row first when a new key would overflow max size.
func (c *SQLiteQueryCache) Put(ctx context.Context, key string, value []byte) (err error) {
	if c.maxSize == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_cache WHERE cache_key = ?`, key).Scan(&exists)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}

	if exists == 0 {
		var count int
		if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_cache`).Scan(&count); err != nil {
			return fmt.Errorf("cache put: %w", err)
		}
		if count >= c.maxSize {
			_, err = tx.ExecContext(ctx, `DELETE FROM query_cache WHERE cache_key IN (
				SELECT cache_key FROM query_cache ORDER BY created_at, seq LIMIT ?)`, count-c.maxSize+1)
			if err != nil {
				return fmt.Errorf("cache evict: %w", err)
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO query_cache (cache_key, value, created_at, seq)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM query_cache))
		ON CONFLICT(cache_key) DO UPDATE SET
			value = excluded.value,
			created_at = excluded.created_at,
			seq = excluded.seq`,
		key, value, c.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats returns cache occupancy and performance counters.
func (c *SQLiteQueryCache) Stats(ctx context.Context) (Stats, error) {
	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM query_cache`).Scan(&count); err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	return newStats(count, c.maxSize, c.hits.Load(), c.misses.Load()), nil
}

// PurgeExpired deletes every row older than the TTL.
func (c *SQLiteQueryCache) PurgeExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl).UnixNano()
	res, err := c.db.ExecContext(ctx, `DELETE FROM query_cache WHERE created_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	return int(n), nil
}

// Close releases the database connection.
func (c *SQLiteQueryCache) Close() error {
	return c.db.Close()
}
