// Package api is the reference remote task API. It keeps tasks in memory and
// speaks the JSON envelope the sync engine's client expects.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server is the HTTP task API server.
type Server struct {
	config      Config
	http        *http.Server
	store       *MemStore
	metrics     *Metrics
	rateLimiter *RateLimiter
	listener    net.Listener
	cancel      context.CancelFunc
}

// NewServer creates a new Server with the given config and an empty task set.
func NewServer(cfg Config) *Server {
	s := &Server{
		config:      cfg,
		store:       NewMemStore(),
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
	}
	if s.config.MaxBodyBytes <= 0 {
		s.config.MaxBodyBytes = 1 << 20
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Store exposes the backing task store, mainly for seeding in tests.
func (s *Server) Store() *MemStore { return s.store }

// Metrics returns the server's metrics collector.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Addr returns the bound listen address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.ListenAddr
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("cleanup panic", "panic", r)
			}
		}()
		s.rateLimiter.runCleanup(ctx, 5*time.Minute)
	}()

	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.http.Shutdown(ctx)
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// Tasks
	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PUT /api/tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	mux.HandleFunc("PATCH /api/tasks/{id}/toggle", s.handleToggleTask)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	return chain(mux,
		observe(s.metrics),
		recoverPanics,
		s.CORSMiddleware,
		limitBody(s.config.MaxBodyBytes),
		rateLimitMiddleware(s.rateLimiter, s.config.RateLimit),
		simulateLatency(s.config.Latency),
	)
}

// handleHealth returns a health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
