// Package httpapi assembles the service's HTTP surface.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"partnerhub/internal/platform/metrics"
	"partnerhub/internal/platform/middleware"
	"partnerhub/pkg/platform/httputil"
	"partnerhub/pkg/platform/middleware/internalauth"
	"partnerhub/pkg/platform/middleware/metadata"
	"partnerhub/pkg/platform/middleware/requesttime"
)

const healthTimeout = 2 * time.Second

// Registrar mounts a feature's routes.
type Registrar interface {
	Register(r chi.Router)
}

// InternalRegistrar mounts routes that require the internal token.
type InternalRegistrar interface {
	RegisterInternal(r chi.Router)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Logger        *slog.Logger
	Registry      *prometheus.Registry
	InternalToken string
	Public        []Registrar
	Internal      []InternalRegistrar
	// Streams are long-lived endpoints guarded like internal routes but
	// mounted at the root.
	Streams      []Registrar
	HealthChecks map[string]HealthCheck
}

// NewRouter applies the shared middleware chain and mounts every feature.
// Internal routes live under /internal.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))

	r.Get("/healthz", healthHandler(cfg.HealthChecks))
	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Registry))
	}

	for _, reg := range cfg.Public {
		reg.Register(r)
	}

	guard := internalauth.RequireInternalToken(cfg.InternalToken, cfg.Logger)
	r.Route("/internal", func(r chi.Router) {
		r.Use(guard)
		for _, reg := range cfg.Internal {
			reg.RegisterInternal(r)
		}
	})
	r.Group(func(r chi.Router) {
		r.Use(guard)
		for _, reg := range cfg.Streams {
			reg.Register(r)
		}
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler runs every check concurrently. Any failure answers 503.
func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		results := make(map[string]string, len(names))
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, name := range names {
			wg.Add(1)
			go func() {
				defer wg.Done()
				status := "ok"
				if err := checks[name](ctx); err != nil {
					status = "unavailable"
				}
				mu.Lock()
				results[name] = status
				mu.Unlock()
			}()
		}
		wg.Wait()

		resp := healthResponse{Status: "ok", Checks: results}
		code := http.StatusOK
		for _, status := range results {
			if status != "ok" {
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		httputil.WriteJSON(w, code, resp)
	}
}
