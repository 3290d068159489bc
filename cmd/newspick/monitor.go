package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/deusflow/newspick/internal/metrics"
)

// statsFunc reports per-run embedding statistics; it may be nil.
type statsFunc func() map[string]interface{}

func newMonitoringMux(m *metrics.Metrics, embeddings statsFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(m, embeddings))
	mux.Handle("/metrics", m.Handler())
	return mux
}

func startMonitoringServer(ctx context.Context, addr string, m *metrics.Metrics, embeddings statsFunc, log *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMonitoringMux(m, embeddings),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting monitoring server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("monitoring server error", "error", err)
	}
}

func healthHandler(m *metrics.Metrics, embeddings statsFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		stats := m.GetStats()

		status := "ok"
		code := http.StatusOK
		if !m.IsHealthy() {
			status = "error"
			code = http.StatusServiceUnavailable
		}

		response := map[string]interface{}{
			"status":     status,
			"last_run":   stats["last_run_time"],
			"last_error": stats["last_error"],
		}
		if embeddings != nil {
			if es := embeddings(); es != nil {
				response["embeddings"] = es
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(response)
	}
}
