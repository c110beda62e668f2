// Package httpapi exposes the engine's read-only status surface over HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bjornslib/attractor/pkg/guardian"
)

// StatusProvider reports the state of every supervised pipeline.
type StatusProvider interface {
	Status() []guardian.Snapshot
}

// NewHandler builds the status router. The registry is optional; without it
// the /metrics endpoint is omitted.
func NewHandler(provider StatusProvider, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, provider.Status())
	})

	r.Get("/pipelines/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		for _, snap := range provider.Status() {
			if snap.PipelineID == id {
				writeJSON(w, http.StatusOK, snap)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown pipeline: " + id})
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
