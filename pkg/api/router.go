package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stridecast/server/pkg/infrastructure/sentry"
)

// NewRouter wires the full route tree. Everything under /api requires a
// session; the auth handshake and health check do not.
func NewRouter(h *Handler, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))

	r.Get("/healthz", Healthz)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/strava", h.Authorize)
		r.Get("/strava/callback", h.Callback)
		r.Post("/signout", h.Signout)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(RequireSession(h.sessionSecret))
		r.Post("/sync", h.Sync)
		r.Get("/runs", h.ListRuns)
		r.Get("/runs/{id}", h.GetRun)
		r.Get("/runs/{id}/export.fit", h.ExportFit)
		r.Post("/videos", h.CreateVideo)
		r.Get("/videos/{id}", h.GetVideo)
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("Request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// recoverer converts panics into 500s and reports them to Sentry.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("Panic in handler", "path", r.URL.Path, "panic", rec)
					err, ok := rec.(error)
					if !ok {
						err = fmt.Errorf("panic: %v", rec)
					}
					sentry.CaptureException(err, map[string]interface{}{"path": r.URL.Path}, logger)
					writeError(w, http.StatusInternalServerError, "server_error", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
