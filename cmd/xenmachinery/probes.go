package main

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

// setupProbesServer creates an HTTP server for health probes (liveness and readiness).
// The readiness probe fails while ready is false.
func setupProbesServer(config *Config, ready *atomic.Bool) *http.Server {
	mux := http.NewServeMux()

	// Register liveness probe handler
	mux.HandleFunc(config.ProbesServer.LivenessPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Register readiness probe handler
	mux.HandleFunc(config.ProbesServer.ReadinessPath, func(w http.ResponseWriter, _ *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT READY"))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &http.Server{ //nolint:exhaustruct
		Addr:    fmt.Sprintf(":%d", config.ProbesServer.Port),
		Handler: mux,
	}
}
