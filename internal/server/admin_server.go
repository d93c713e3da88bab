// Package server runs the admin HTTP surface of a ledger node: probes,
// Prometheus metrics and the source chain API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/devrev/pairdb/ledger-node/internal/handler"
	"github.com/devrev/pairdb/ledger-node/internal/health"
	"github.com/devrev/pairdb/ledger-node/internal/metrics"
	"github.com/devrev/pairdb/ledger-node/internal/middleware"
	"github.com/devrev/pairdb/ledger-node/internal/storage/diskmanager"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// DiskStatsProvider reports disk usage for the system gauges
type DiskStatsProvider interface {
	GetDiskUsage() diskmanager.DiskUsageStats
}

// AdminServerConfig holds configuration for the admin server
type AdminServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MetricsPath is left unrouted when empty
	MetricsPath string
	// StatsInterval is how often system gauges are refreshed
	StatsInterval time.Duration
}

// AdminServer serves health, metrics and chain endpoints over HTTP
type AdminServer struct {
	cfg        AdminServerConfig
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	metrics    *metrics.Metrics
	disk       DiskStatsProvider
	logger     *zap.Logger

	listener net.Listener
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewAdminServer wires the routes. gatherer, m and disk may be nil; chain
// routes are skipped when chainHandler is nil.
func NewAdminServer(
	cfg *AdminServerConfig,
	checker *health.HealthChecker,
	chainHandler *handler.ChainHandler,
	gatherer prometheus.Gatherer,
	m *metrics.Metrics,
	disk DiskStatsProvider,
	logger *zap.Logger,
) *AdminServer {
	c := *cfg
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 15 * time.Second
	}

	s := &AdminServer{
		cfg:      c,
		router:   mux.NewRouter(),
		metrics:  m,
		disk:     disk,
		logger:   logger,
		stopChan: make(chan struct{}),
	}

	s.router.HandleFunc("/health", checker.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", checker.ReadinessHandler).Methods(http.MethodGet)
	if gatherer != nil && c.MetricsPath != "" {
		s.router.Handle(c.MetricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if chainHandler != nil {
		chainHandler.RegisterRoutes(s.router)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, r, http.StatusNotFound, "endpoint not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.handler = middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID,
		middleware.Logging(logger),
	)(s.router)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", c.Host, c.Port),
		Handler:      s.handler,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler
func (s *AdminServer) Handler() http.Handler {
	return s.handler
}

// Addr returns the bound address once started, else the configured one
func (s *AdminServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Start binds the listener and serves in the background
func (s *AdminServer) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln

	s.logger.Info("Starting admin server", zap.String("addr", s.Addr()))

	if s.metrics != nil {
		s.wg.Add(1)
		go s.collectSystemMetrics()
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Admin server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the collector and drains in-flight requests
func (s *AdminServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping admin server")

	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown failed: %w", err)
	}
	return nil
}

func (s *AdminServer) collectSystemMetrics() {
	defer s.wg.Done()

	s.updateSystemMetrics()
	ticker := time.NewTicker(s.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.updateSystemMetrics()
		case <-s.stopChan:
			return
		}
	}
}

func (s *AdminServer) updateSystemMetrics() {
	var used, available int64
	if s.disk != nil {
		usage := s.disk.GetDiskUsage()
		available = int64(usage.AvailableBytes)
		used = int64(usage.TotalBytes) - available
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.metrics.UpdateSystemStats(used, available, int64(memStats.Alloc), runtime.NumGoroutine())
}

func writeRouteError(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(handler.ErrorResponse{
		Status:    "error",
		ErrorCode: "InvalidRequest",
		Message:   message,
		RequestID: middleware.GetRequestID(r.Context()),
	})
}
