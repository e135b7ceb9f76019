package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"assistgate/internal/cache"
	"assistgate/internal/httpserver"
	"assistgate/internal/metrics"
)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, load)
		},
	}
}

func runServe(ctx context.Context, load configLoader) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(true); err != nil {
		return err
	}

	// ----- Logger -----
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("loaded config",
		zap.String("port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("version_id", cfg.Server.VersionID),
		zap.String("provider", cfg.Provider.Type),
		zap.Int("max_sessions", cfg.Sessions.MaxSessions),
	)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer a.Close()

	// ----- Metrics -----
	metrics.Register()
	if err := metrics.RegisterSessionGauge(prometheus.DefaultRegisterer, a.sessions); err != nil {
		return err
	}

	// ----- Expired entry sweeper -----
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	var sweeperDone <-chan struct{}
	if p, ok := a.cache.(cache.Purger); ok {
		sweeperDone = cache.StartSweeper(sweepCtx, p, cfg.Cache.SweepInterval, logger)
	}
	defer func() {
		stopSweep()
		if sweeperDone != nil {
			<-sweeperDone
		}
	}()

	// ----- HTTP server -----
	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: httpserver.NewRouter(logger, a.orchestrator, httpserver.Options{
			RequestTimeout: cfg.Server.RequestTimeout,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway", zap.String("addr", srv.Addr))

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ----- Graceful shutdown -----
	select {
	case err, ok := <-serveErr:
		if ok {
			logger.Error("server error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
