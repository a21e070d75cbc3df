package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drugquery/drugquery/internal/auth"
	"github.com/drugquery/drugquery/internal/config"
	"github.com/drugquery/drugquery/internal/observability"
	"github.com/drugquery/drugquery/internal/pipeline"
	"github.com/drugquery/drugquery/internal/ui"
)

const staticPrefix = "/static/"

type ReadinessCheck func(ctx context.Context) error

// Asker is the question pipeline as seen by the HTTP layer.
type Asker interface {
	Ask(ctx context.Context, question string) (pipeline.Outcome, error)
	SchemaContext() string
	MaxQuestionLength() int
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Service           Asker
}

type handler struct {
	cfg    config.Config
	deps   Dependencies
	logger *slog.Logger
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &handler{cfg: cfg, deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(observability.TraceMiddleware, observability.MetricsMiddleware)
	if deps.Logger != nil {
		r.Use(observability.LoggingMiddleware(deps.Logger))
	}
	r.Use(Recover(logger))

	limit := passthrough
	if cfg.RateLimit.Enabled {
		limiter := newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		limit = limiter.Middleware
	}

	if cfg.HTTP.UIEnabled {
		r.Get("/", h.handleIndex)
		r.With(limit).Post("/query", h.handleQueryForm)
		r.Handle(staticPrefix+"*", ui.StaticHandler(staticPrefix))
	}

	r.Route("/v1", func(r chi.Router) {
		if len(cfg.HTTP.CORSOrigins) > 0 {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: cfg.HTTP.CORSOrigins,
				AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
				AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Trace-ID"},
				ExposedHeaders: []string{"X-Trace-ID", "Retry-After"},
				MaxAge:         300,
			}))
		}

		r.Get("/health", h.handleHealth)
		r.Get("/ready", h.handleReady)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())

		r.Group(func(r chi.Router) {
			r.Use(h.protect())
			r.Use(auth.RequireRole(auth.RoleQueryReader))
			r.Get("/schema", h.handleSchema)
			r.With(limit).Post("/ask", h.handleAsk)
		})
	})

	return r
}

func (h *handler) protect() func(http.Handler) http.Handler {
	if !h.cfg.Auth.Required {
		return passthrough
	}
	if h.deps.AuthMiddleware == nil {
		h.logger.Error("auth required but auth middleware missing")
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		}
	}
	return h.deps.AuthMiddleware
}

func passthrough(next http.Handler) http.Handler { return next }

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": h.cfg.Service.Name})
}

func (h *handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.deps.Readiness == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
		return
	}
	timeout := h.deps.DependencyTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	if err := h.deps.Readiness(ctx); err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (h *handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	if h.deps.Service == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schema_context":      h.deps.Service.SchemaContext(),
		"max_question_length": h.deps.Service.MaxQuestionLength(),
	})
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
