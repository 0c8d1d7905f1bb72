package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"speech-session-service/internal/orchestrator"
)

// Status is what the router needs from the running loop.
type Status interface {
	Running() bool
}

// LastReport exposes the most recent session report.
type LastReport interface {
	Get() *orchestrator.Report
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(status Status, last LastReport, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if status == nil || !status.Running() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1/sessions", func(r chi.Router) {
		r.Get("/last", func(w http.ResponseWriter, _ *http.Request) {
			var report *orchestrator.Report
			if last != nil {
				report = last.Get()
			}
			if report == nil {
				http.Error(w, `{"error": "no session reported yet"}`, http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(report)
		})
	})

	return r
}
