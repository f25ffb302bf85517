package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/mailtrack/internal/pkg/logger"
	"github.com/ignite/mailtrack/internal/tracking"
)

// RouterConfig carries the optional pieces of the router.
type RouterConfig struct {
	AllowedOrigins []string
	// Limiter, when set, guards the open and click endpoints.
	Limiter *RateLimiter
}

// SetupRoutes builds the HTTP surface: mail send and log endpoints, the
// tracking pixel and click redirect, and the health check.
func SetupRoutes(h *Handlers, track *tracking.Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api/mail", func(r chi.Router) {
		r.Post("/send", h.SendEmail)
		r.Get("/logs", h.GetLogs)
		r.Delete("/logs", h.ClearLogs)
		r.Get("/stats", h.GetStats)

		r.Group(func(r chi.Router) {
			if cfg.Limiter != nil {
				r.Use(cfg.Limiter.Middleware)
			}
			track.Register(r)
		})
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
