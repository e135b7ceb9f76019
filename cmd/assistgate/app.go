package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"assistgate/internal/cache"
	"assistgate/internal/config"
	"assistgate/internal/llm"
	"assistgate/internal/orchestrator"
	"assistgate/internal/session"
)

// app holds the wired core shared by serve and ask.
type app struct {
	sessions     *session.Store
	cache        cache.QueryCache
	orchestrator *orchestrator.Orchestrator
	closers      []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}

	sessions, err := session.NewStore(cfg.SessionStore())
	if err != nil {
		return nil, err
	}
	a.sessions = sessions

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.Cache.Backend == cache.BackendRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, redisClient)

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
	}

	// ----- Query cache -----
	qc, closer, err := cache.NewQueryCache(cfg.QueryCache(), redisClient)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closer)
	a.cache = cache.NewLoggingQueryCache(qc, cfg.Cache.Backend)

	// ----- Compute provider -----
	llmCfg := cfg.LLM()
	computer, err := llm.NewComputer(llmCfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if c, ok := computer.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.orchestrator = orchestrator.New(sessions, a.cache, computer, cfg.Server.VersionID,
		orchestrator.WithFlightTimeout(llmCfg.WithDefaults().UpstreamTimeout),
	)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
