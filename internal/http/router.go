package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"gitea.jw6.us/james/calsched/internal/auth"
	"gitea.jw6.us/james/calsched/internal/config"
	"gitea.jw6.us/james/calsched/internal/http/ratelimit"
	"gitea.jw6.us/james/calsched/internal/metrics"
)

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Engine Engine
	Policy AutoProcessor
	Auth   *auth.Service
	Health HealthChecker
	Logger *zap.Logger
}

// Router is the HTTP entry point. Run must be started to expire idle rate
// limiter entries.
type Router struct {
	http.Handler

	limiters []*ratelimit.Limiter
}

// Run sweeps the rate limiters until ctx is cancelled.
func (rt *Router) Run(ctx context.Context) {
	for _, l := range rt.limiters {
		go l.Run(ctx)
	}
}

// NewRouter wires all HTTP routes.
func NewRouter(cfg *config.Config, deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	// Per address before authentication: 50 requests per second, burst of 100
	ipRateLimiter := ratelimit.New(rate.Limit(50), 100, 5*time.Minute, cfg.TrustedProxies)
	// Authenticated owners: 20 requests per second, burst of 50 (mail gateways batch deliveries)
	ownerRateLimiter := ratelimit.New(rate.Limit(20), 50, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if deps.Health != nil {
			if err := deps.Health.HealthCheck(ctx); err != nil {
				logger.Warn("readiness check failed", zap.Error(err))
				http.Error(w, "unready", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	defaultLocale := language.English
	if tag, err := language.Parse(cfg.DefaultLocale); err == nil {
		defaultLocale = tag
	}
	h := &itipHandler{
		engine:        deps.Engine,
		policy:        deps.Policy,
		logger:        logger,
		defaultLocale: defaultLocale,
	}

	r.Route("/api/v1/itip", func(r chi.Router) {
		r.Use(ipRateLimiter.Middleware())
		r.Use(deps.Auth.RequireToken)
		r.Use(ownerRateLimiter.Middleware())

		r.Post("/analyze", h.Analyze)
		r.Post("/process", h.Process)
		r.Get("/messages/{id}/status", h.GetStatus)
		r.Delete("/messages/{id}/status", h.ResetStatus)
	})

	return &Router{Handler: r, limiters: []*ratelimit.Limiter{ipRateLimiter, ownerRateLimiter}}
}
