package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cin-dennis/ocr-engine/internal/observability"
	"github.com/cin-dennis/ocr-engine/internal/service"
)

// HealthChecker reports readiness of a backing dependency.
type HealthChecker func(ctx context.Context) error

// RouterOptions configures the HTTP router.
type RouterOptions struct {
	RequestTimeout time.Duration
	MaxUploadBytes int64
	ReadyChecks    []HealthChecker
}

// NewRouter creates the API router with all routes configured.
func NewRouter(logger *observability.Logger, svc *service.DocumentService, opts RouterOptions) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 120 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(opts.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"ocr-engine"}`))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		for _, check := range opts.ReadyChecks {
			if err := check(r.Context()); err != nil {
				logger.Warn().Err(err).Msg("readiness check failed")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ready"}`))
	})

	handler := NewDocumentHandler(logger, svc, opts.MaxUploadBytes)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", handler.Upload)
			r.Get("/{documentId}", handler.GetDocument)
			r.Get("/{documentId}/results", handler.GetResults)
		})
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/{taskId}", handler.GetTask)
		})
	})

	return r
}
