// Package api provides the operator HTTP endpoints for health, cache statistics and metrics
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ballhead/ballhead/internal/cache"
	"github.com/ballhead/ballhead/pkg/health"
)

// StatsSource provides cache statistics
type StatsSource interface {
	Stats() cache.Stats
}

// HealthChecker reports whether the origin can currently serve reads
type HealthChecker interface {
	HealthCheck() error
}

// ComponentReporter reports the health of background components such as warm sets
type ComponentReporter interface {
	Overall() health.State
	Components() []health.ComponentHealth
}

// Server provides HTTP API endpoints for operators
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	cache      StatsSource
	readiness  HealthChecker
	components ComponentReporter
	metrics    http.Handler
	config     ServerConfig
	logger     *slog.Logger
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8080")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown in Run
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// Dependencies are the components the server reports on. Nil members are skipped.
type Dependencies struct {
	Cache      StatsSource
	Readiness  HealthChecker
	Components ComponentReporter
	Metrics    http.Handler
	Logger     *slog.Logger
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:         "localhost:8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Dependencies) *Server {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cache:      deps.Cache,
		readiness:  deps.Readiness,
		components: deps.Components,
		metrics:    deps.Metrics,
		config:     config,
		logger:     logger.With("component", "api"),
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)

	// Cache endpoints
	mux.HandleFunc("/cache/stats", s.handleCacheStats)

	// Metrics endpoint (if configured)
	if s.metrics != nil {
		mux.HandleFunc("/metrics", s.handleMetrics)
	}

	// Info endpoint
	mux.HandleFunc("/info", s.handleInfo)

	s.handler = s.loggingMiddleware(mux)

	s.httpServer = &http.Server{
		Addr:              config.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: config.ReadTimeout,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting API server", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// Run serves until ctx ends, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Health endpoint handlers

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Liveness probe - is the process serving requests?
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Readiness probe - can reads reach the origin? Warm-set health is
	// reported alongside but does not affect the status code.
	body := map[string]interface{}{
		"ready":     true,
		"timestamp": time.Now(),
	}
	if s.components != nil {
		body["status"] = s.components.Overall()
		body["warm_sets"] = s.components.Components()
	}

	if s.readiness == nil {
		body["note"] = "Origin health checking not configured"
		s.respondJSON(w, http.StatusOK, body)
		return
	}

	if err := s.readiness.HealthCheck(); err != nil {
		body["ready"] = false
		body["reason"] = err.Error()
		s.respondJSON(w, http.StatusServiceUnavailable, body)
		return
	}

	s.respondJSON(w, http.StatusOK, body)
}

// Cache endpoint handlers

type cacheStatsResponse struct {
	HitRate      string    `json:"hit_rate"`
	Hits         int64     `json:"hits"`
	Misses       int64     `json:"misses"`
	APICalls     int64     `json:"api_calls"`
	AvgAPITimeMs float64   `json:"avg_api_time_ms"`
	CacheSize    int       `json:"cache_size"`
	Uptime       string    `json:"uptime"`
	LastReset    time.Time `json:"last_reset"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.cache == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Cache not configured")
		return
	}

	stats := s.cache.Stats()
	s.respondJSON(w, http.StatusOK, cacheStatsResponse{
		HitRate:      stats.HitRate,
		Hits:         stats.Hits,
		Misses:       stats.Misses,
		APICalls:     stats.APICalls,
		AvgAPITimeMs: float64(stats.AvgAPITime) / float64(time.Millisecond),
		CacheSize:    stats.CacheSize,
		Uptime:       stats.Uptime.Truncate(time.Second).String(),
		LastReset:    stats.LastReset,
		Timestamp:    time.Now(),
	})
}

// Info endpoint

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	endpoints := []string{
		"/health/live",
		"/health/ready",
		"/cache/stats",
		"/info",
	}
	if s.metrics != nil {
		endpoints = append(endpoints, "/metrics")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "Ballhead sheet cache",
		"timestamp": time.Now(),
		"endpoints": endpoints,
	})
}

// Metrics endpoint

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.metrics.ServeHTTP(w, r)
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("API request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// Helper methods

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Error encoding JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
