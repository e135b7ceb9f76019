package session

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"assistgate/internal/errdefs"
)

// EvictionStrategy selects which session goes when the store is full.
type EvictionStrategy string

const (
	EvictOldest            EvictionStrategy = "oldest"
	EvictLeastRecentlyUsed EvictionStrategy = "least-recently-used"
)

const (
	DefaultMaxSessions      = 10
	DefaultEvictionStrategy = EvictOldest
)

var ErrNotFound = errors.New("session not found")

// ParseEvictionStrategy accepts "oldest" and "least-recently-used"
// (underscores allowed). Both evict the least recently touched session.
func ParseEvictionStrategy(s string) (EvictionStrategy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "", string(EvictOldest):
		return EvictOldest, nil
	case string(EvictLeastRecentlyUsed):
		return EvictLeastRecentlyUsed, nil
	default:
		return "", fmt.Errorf("%w: unknown eviction strategy %q", errdefs.ErrConfiguration, s)
	}
}

// Session is a snapshot of one user's state. Mutating it does not affect the store.
type Session struct {
	UserID      string         `json:"user_id"`
	Context     map[string]any `json:"context"`
	CreatedAt   time.Time      `json:"created_at"`
	LastTouched time.Time      `json:"last_touched"`
}

type Config struct {
	MaxSessions      int
	EvictionStrategy string
}

type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is a bounded in-memory session table.
//
// Sessions sit in an LRU list in touch order. Eviction removes the session
// with the smallest LastTouched; equal timestamps go to the earlier touch.
// Reads through GetOrCreate and Get never reorder the list.
type Store struct {
	mu          sync.Mutex
	sessions    *simplelru.LRU[string, *Session]
	maxSessions int
	strategy    EvictionStrategy
	now         func() time.Time
}

// NewStore validates cfg and returns an empty store.
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if cfg.MaxSessions <= 0 {
		return nil, fmt.Errorf("%w: max_sessions must be positive, got %d", errdefs.ErrConfiguration, cfg.MaxSessions)
	}
	strategy, err := ParseEvictionStrategy(cfg.EvictionStrategy)
	if err != nil {
		return nil, err
	}

	// Capacity is enforced by evictLocked; the list itself never evicts.
	lru, err := simplelru.NewLRU[string, *Session](cfg.MaxSessions+1, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrConfiguration, err)
	}

	s := &Store{
		sessions:    lru,
		maxSessions: cfg.MaxSessions,
		strategy:    strategy,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create starts (or resets) the session for userID with an empty context.
func (s *Store) Create(userID string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.createLocked(userID))
}

// GetOrCreate returns the existing session without touching it, or creates one.
func (s *Store) GetOrCreate(userID string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.getOrCreateLocked(userID))
}

// Get returns the session for userID without creating or touching it.
func (s *Store) Get(userID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions.Peek(userID)
	if !ok {
		return Session{}, ErrNotFound
	}
	return clone(sess), nil
}

// Update shallow-merges partial into the user's context and touches the session.
func (s *Store) Update(userID string, partial map[string]any) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(userID)
	maps.Copy(sess.Context, partial)
	sess.LastTouched = s.now()
	s.sessions.Add(userID, sess)
	return clone(sess)
}

// Remove deletes the session if present.
func (s *Store) Remove(userID string) {
	s.mu.Lock()
	s.sessions.Remove(userID)
	s.mu.Unlock()
}

// Clear drops every session.
func (s *Store) Clear() {
	s.mu.Lock()
	s.sessions.Purge()
	s.mu.Unlock()
}

// ListActive returns the ids of all held sessions, least recently touched first.
func (s *Store) ListActive() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Keys()
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions.Len()
}

func (s *Store) MaxSessions() int { return s.maxSessions }

func (s *Store) Strategy() EvictionStrategy { return s.strategy }

// LoadPercentage is Count / MaxSessions * 100, rounded to two decimals.
func (s *Store) LoadPercentage() float64 {
	return Percentage(s.Count(), s.maxSessions)
}

func (s *Store) getOrCreateLocked(userID string) *Session {
	if sess, ok := s.sessions.Peek(userID); ok {
		return sess
	}
	return s.createLocked(userID)
}

func (s *Store) createLocked(userID string) *Session {
	if !s.sessions.Contains(userID) {
		s.evictLocked()
	}
	now := s.now()
	sess := &Session{
		UserID:      userID,
		Context:     make(map[string]any),
		CreatedAt:   now,
		LastTouched: now,
	}
	s.sessions.Add(userID, sess)
	return sess
}

func (s *Store) evictLocked() {
	switch s.strategy {
	case EvictOldest, EvictLeastRecentlyUsed:
		for s.sessions.Len() >= s.maxSessions {
			victim, ok := s.leastRecentlyTouchedLocked()
			if !ok {
				return
			}
			s.sessions.Remove(victim)
		}
	default:
		// NewStore rejects unknown strategies; reaching here is a programming error.
		panic(fmt.Sprintf("session: unhandled eviction strategy %q", s.strategy))
	}
}

// leastRecentlyTouchedLocked scans in list order so that a clock which does
// not advance between touches still yields the earliest-touched session.
func (s *Store) leastRecentlyTouchedLocked() (string, bool) {
	var (
		victim string
		oldest time.Time
		found  bool
	)
	for _, id := range s.sessions.Keys() {
		sess, _ := s.sessions.Peek(id)
		if !found || sess.LastTouched.Before(oldest) {
			victim, oldest, found = id, sess.LastTouched, true
		}
	}
	return victim, found
}

func clone(s *Session) Session {
	c := *s
	c.Context = maps.Clone(s.Context)
	if c.Context == nil {
		c.Context = make(map[string]any)
	}
	return c
}

// Percentage returns n/total*100 rounded to two decimals, or 0 when total <= 0.
func Percentage(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*100*100) / 100
}
