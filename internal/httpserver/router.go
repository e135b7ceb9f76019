package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"assistgate/internal/handlers"
	"assistgate/internal/metrics"
	"assistgate/internal/middleware"
	"assistgate/internal/orchestrator"
)

type Options struct {
	RequestTimeout time.Duration // 0 disables
	MaxBodyBytes   int64
}

// NewRouter wires middleware and routes around o.
func NewRouter(baseLogger *zap.Logger, o *orchestrator.Orchestrator, opts Options) *chi.Mux {
	r := chi.NewRouter()

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(opts.RequestTimeout))
	if opts.MaxBodyBytes > 0 {
		r.Use(chimw.RequestSize(opts.MaxBodyBytes))
	}

	requests := handlers.NewRequestHandler(o)
	sessions := handlers.NewSessionHandler(o.Sessions())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/requests", requests.Process)
		r.Get("/stats", handlers.Stats(o))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessions.Create)
			r.Get("/", sessions.List)
			r.Delete("/", sessions.Clear)
			r.Get("/{userID}", sessions.Get)
			r.Patch("/{userID}", sessions.Update)
			r.Delete("/{userID}", sessions.Remove)
		})
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}
