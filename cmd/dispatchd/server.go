package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"dispatchd/internal/constants"
	"dispatchd/internal/metrics"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Pinger is anything the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the operational HTTP surface: liveness, readiness and a metrics
// snapshot. The product's web application and CRUD API live elsewhere.
type Server struct {
	router *mux.Router
	logger *logrus.Logger
	store  Pinger
	queue  Pinger
	server *http.Server
}

func NewServer(addr string, store, queue Pinger, logger *logrus.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: logger,
		store:  store,
		queue:  queue,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.logger.WithField("address", s.server.Addr).Info("Starting ops server")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func (s *Server) handleReady() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := map[string]string{"database": "ok", "queue": "ok"}
		code := http.StatusOK

		if err := s.store.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("Readiness check failed: database")
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if err := s.queue.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("Readiness check failed: queue")
			status["queue"] = err.Error()
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}

// handleMetrics returns the current metrics snapshot
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")

		if err := encoder.Encode(metrics.GetAllMetrics()); err != nil {
			s.logger.WithError(err).Error("Failed to encode metrics response")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
	}
}
