// Package server exposes health and metrics endpoints.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Readiness reports whether the feeder has completed a poll cycle.
type Readiness interface {
	Ready() bool
}

// NewRouter constructs a ServeMux with health and metrics routes registered.
func NewRouter(r Readiness, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/healthz", health)
	mux.HandleFunc("/readyz", ready(r))

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return mux
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func ready(r Readiness) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if r == nil || !r.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "starting",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ready",
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
