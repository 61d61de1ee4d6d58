package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// StatusFunc returns the value served at /status and whether the daemon is healthy.
type StatusFunc func() (status any, healthy bool)

// NewRouter serves /metrics, /healthz and /status.
func NewRouter(reg *Registry, status StatusFunc) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(10 * time.Second))

	router.Handle("/metrics", reg.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, healthy := status()
		if !healthy {
			http.Error(w, "degraded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	})
	router.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		s, _ := status()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return router
}

const shutdownTimeout = 5 * time.Second

// Serve listens on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
