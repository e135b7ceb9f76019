// Package orchestrator dispatches tagged requests to the compute provider,
// optionally through the query cache, and records exchanges in user sessions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"assistgate/internal/cache"
	"assistgate/internal/session"
)

type Action string

const (
	ActionDirectCompute Action = "direct-compute"
	ActionCachedCompute Action = "cached-compute"
)

// legacy tags accepted as exact aliases
var actionAliases = map[string]Action{
	string(ActionDirectCompute): ActionDirectCompute,
	string(ActionCachedCompute): ActionCachedCompute,
	"query_llm":                 ActionDirectCompute,
	"cached_query":              ActionCachedCompute,
}

var ErrUnrecognizedAction = errors.New("unrecognized action")

// ParseAction resolves a wire tag to an Action.
func ParseAction(tag string) (Action, error) {
	a, ok := actionAliases[tag]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnrecognizedAction, tag)
	}
	return a, nil
}

// Computer produces a response for a prompt. Errors are passed through to
// callers of Process as-is.
type Computer interface {
	Compute(ctx context.Context, prompt string) (string, error)
}

type Request struct {
	Action string `json:"action"`
	Prompt string `json:"prompt"`
	UserID string `json:"user_id,omitempty"`
}

type Response struct {
	Action Action `json:"action"`
	Output string `json:"output"`
	Cached bool   `json:"cached"`
}

// Stats is the combined view of session and cache occupancy.
type Stats struct {
	Sessions   SessionStats `json:"sessions"`
	CacheStats cache.Stats  `json:"cache_stats"`
	CacheError string       `json:"cache_error,omitempty"`
	VersionID  string       `json:"version_id"`
}

type SessionStats struct {
	Count          int      `json:"count"`
	MaxSessions    int      `json:"max_sessions"`
	LoadPercentage float64  `json:"load_percentage"`
	UserIDs        []string `json:"user_ids"`
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	sessions  *session.Store
	cache     cache.QueryCache
	computer  Computer
	versionID string
	flights   singleflight.Group

	flightTimeout time.Duration
}

type Option func(*Orchestrator)

// WithFlightTimeout bounds a shared cached-compute call. The call outlives
// the caller that started it, so it needs its own deadline; zero means none.
func WithFlightTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.flightTimeout = d }
}

func New(sessions *session.Store, c cache.QueryCache, computer Computer, versionID string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions:  sessions,
		cache:     c,
		computer:  computer,
		versionID: versionID,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process validates req, dispatches it and, for requests that carry a user
// id, merges the exchange into that user's session. Nothing is touched when
// validation fails.
func (o *Orchestrator) Process(ctx context.Context, req Request) (Response, error) {
	action, err := ParseAction(req.Action)
	if err != nil {
		return Response{}, err
	}

	var resp Response
	switch action {
	case ActionDirectCompute:
		resp, err = o.direct(ctx, req.Prompt)
	case ActionCachedCompute:
		resp, err = o.cached(ctx, req.Prompt)
	}
	if err != nil {
		return Response{}, err
	}

	if req.UserID != "" {
		o.sessions.Update(req.UserID, map[string]any{
			"last_action":   string(action),
			"last_query":    req.Prompt,
			"last_response": resp.Output,
		})
	}
	return resp, nil
}

func (o *Orchestrator) direct(ctx context.Context, prompt string) (Response, error) {
	out, err := o.computer.Compute(ctx, prompt)
	if err != nil {
		return Response{}, err
	}
	return Response{Action: ActionDirectCompute, Output: out}, nil
}

func (o *Orchestrator) cached(ctx context.Context, prompt string) (Response, error) {
	key := cache.BuildQueryKey(prompt, o.versionID).String()

	// read errors count as a miss
	if value, hit, err := o.cache.Get(ctx, key); err == nil && hit {
		return Response{Action: ActionCachedCompute, Output: string(value), Cached: true}, nil
	}

	// The shared call is detached from the starter's cancellation; each
	// caller waits on its own ctx.
	ch := o.flights.DoChan(key, func() (any, error) {
		fctx, cancel := o.flightContext(ctx)
		defer cancel()

		out, err := o.computer.Compute(fctx, prompt)
		if err != nil {
			return nil, err
		}
		// a failed write still serves the computed value
		_ = o.cache.Put(fctx, key, []byte(out))
		return out, nil
	})

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Response{}, res.Err
		}
		return Response{Action: ActionCachedCompute, Output: res.Val.(string)}, nil
	}
}

func (o *Orchestrator) flightContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if o.flightTimeout > 0 {
		return context.WithTimeout(detached, o.flightTimeout)
	}
	return context.WithCancel(detached)
}

// Stats reports session load and cache occupancy. A cache backend failure
// is reported in CacheError rather than failing the call.
func (o *Orchestrator) Stats(ctx context.Context) Stats {
	st := Stats{
		Sessions: SessionStats{
			Count:          o.sessions.Count(),
			MaxSessions:    o.sessions.MaxSessions(),
			LoadPercentage: o.sessions.LoadPercentage(),
			UserIDs:        o.sessions.ListActive(),
		},
		VersionID: o.versionID,
	}
	cs, err := o.cache.Stats(ctx)
	if err != nil {
		st.CacheError = err.Error()
	} else {
		st.CacheStats = cs
	}
	return st
}

// Sessions exposes the store for session-management endpoints.
func (o *Orchestrator) Sessions() *session.Store { return o.sessions }
