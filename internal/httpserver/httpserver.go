// Package httpserver wraps net/http.Server with the graceful-shutdown
// lifecycle the teacher's common/server gives every long-running HTTP
// process. No command in this module imports it: cmd/coordinator serves
// its RPC surface through echo directly, and wonderctl runs no server.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wonderhq/coordinator/internal/logger"
)

// Server wraps an http.Server, serving handler until ctx is cancelled and
// then draining outstanding requests within shutdownTimeout.
type Server struct {
	httpServer      *http.Server
	log             *logger.Logger
	name            string
	shutdownTimeout time.Duration
}

// New builds a Server listening on port, serving handler.
func New(name string, port int, handler http.Handler, log *logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log:             log,
		name:            name,
		shutdownTimeout: 30 * time.Second,
	}
}

// WithShutdownTimeout overrides how long Start waits for in-flight
// requests to finish once ctx is cancelled.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Start runs the server until ctx is cancelled, then attempts a graceful
// shutdown before returning. Unlike the teacher's version (which listens
// for OS signals itself), shutdown is driven by ctx, so a caller can tie
// the server to the same signal-derived context as its other long-running
// components.
func (s *Server) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)

	go func() {
		s.log.Info(fmt.Sprintf("%s starting", s.name), "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("%s: %w", s.name, err)
			return
		}
		serverErrors <- nil
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
	}

	s.log.Info(fmt.Sprintf("%s shutting down", s.name))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("graceful shutdown failed", "name", s.name, "error", err)
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("%s: could not stop server: %w", s.name, closeErr)
		}
	}

	s.log.Info(fmt.Sprintf("%s shutdown complete", s.name))
	return ctx.Err()
}

// HealthHandler returns a simple liveness handler.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}
}
