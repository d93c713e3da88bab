package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devrev/pairdb/ledger-node/internal/chain"
	"github.com/devrev/pairdb/ledger-node/internal/kv"
	"github.com/devrev/pairdb/ledger-node/internal/model"
	"github.com/devrev/pairdb/ledger-node/internal/storage/diskmanager"
	"go.uber.org/zap"
)

// DiskUsageProvider reports cached disk usage
type DiskUsageProvider interface {
	GetDiskUsage() diskmanager.DiskUsageStats
}

// HealthChecker performs health checks for the ledger node
type HealthChecker struct {
	nodeID   string
	dataDir  string
	interval time.Duration
	disk     DiskUsageProvider
	env      *kv.Env
	logger   *zap.Logger

	mu          sync.RWMutex
	lastCheck   time.Time
	status      model.NodeStatus
	metrics     model.HealthMetrics
	checks      map[string]CheckResult
	livenessOK  bool
	readinessOK bool
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string            `json:"name"`
	Status    model.CheckStatus `json:"status"`
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	NodeID   string
	DataDir  string
	Interval time.Duration
	Disk     DiskUsageProvider
	Env      *kv.Env
}

// NewHealthChecker creates a new health checker. Readiness stays false
// until the first round of checks passes.
func NewHealthChecker(cfg *HealthCheckConfig, logger *zap.Logger) *HealthChecker {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthChecker{
		nodeID:     cfg.NodeID,
		dataDir:    cfg.DataDir,
		interval:   interval,
		disk:       cfg.Disk,
		env:        cfg.Env,
		logger:     logger,
		checks:     make(map[string]CheckResult),
		livenessOK: true,
		status:     model.NodeStatusHealthy,
	}
}

// Start runs checks until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.RunChecks()

	for {
		select {
		case <-ticker.C:
			h.RunChecks()
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs every check once and updates the node status
func (h *HealthChecker) RunChecks() {
	var metrics model.HealthMetrics
	results := []CheckResult{
		h.checkDataDirAccessible(),
		h.checkDiskSpace(&metrics),
		h.checkStoreReadable(&metrics),
	}

	allHealthy := true
	allReady := true
	for _, r := range results {
		if r.Status != model.CheckHealthy {
			allHealthy = false
		}
		if r.Status == model.CheckCritical {
			allReady = false
		}
	}

	status := model.NodeStatusHealthy
	switch {
	case !allReady:
		status = model.NodeStatusUnhealthy
	case !allHealthy:
		status = model.NodeStatusDegraded
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, r := range results {
		h.checks[r.Name] = r
	}
	h.lastCheck = time.Now()
	h.metrics = metrics
	h.status = status
	h.livenessOK = true
	h.readinessOK = allReady

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("readiness", h.readinessOK))
}

func result(name string, status model.CheckStatus, format string, args ...interface{}) CheckResult {
	return CheckResult{
		Name:      name,
		Status:    status,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}

// checkDiskSpace checks if disk space is sufficient
func (h *HealthChecker) checkDiskSpace(m *model.HealthMetrics) CheckResult {
	if h.disk == nil {
		return result("disk_space", model.CheckHealthy, "Disk monitoring disabled")
	}
	usage := h.disk.GetDiskUsage()
	m.DiskUsage = usage.UsagePercent

	switch {
	case usage.IsCircuitBroken:
		return result("disk_space", model.CheckCritical, "Disk usage critical: %.2f%%", usage.UsagePercent)
	case usage.IsThrottled:
		return result("disk_space", model.CheckWarning, "Disk usage high: %.2f%%", usage.UsagePercent)
	}
	return result("disk_space", model.CheckHealthy, "Disk usage: %.2f%%, available: %.2f GB",
		usage.UsagePercent, float64(usage.AvailableBytes)/1024/1024/1024)
}

// checkDataDirAccessible checks if data directory is accessible and writable
func (h *HealthChecker) checkDataDirAccessible() CheckResult {
	info, err := os.Stat(h.dataDir)
	if err != nil {
		return result("data_dir_accessible", model.CheckCritical, "Data directory not accessible: %v", err)
	}
	if !info.IsDir() {
		return result("data_dir_accessible", model.CheckCritical, "Data path is not a directory")
	}

	f, err := os.CreateTemp(h.dataDir, ".health_check_*")
	if err != nil {
		return result("data_dir_accessible", model.CheckCritical, "Cannot write to data directory: %v", err)
	}
	f.Close()
	os.Remove(filepath.Clean(f.Name()))

	return result("data_dir_accessible", model.CheckHealthy, "Data directory is accessible and writable")
}

// checkStoreReadable opens a snapshot and reads the chain tail
func (h *HealthChecker) checkStoreReadable(m *model.HealthMetrics) CheckResult {
	if h.env == nil {
		return result("store_readable", model.CheckCritical, "Store is not open")
	}
	err := h.env.WithReader(func(r *kv.Reader) error {
		seq, err := chain.Open(r)
		if err != nil {
			return err
		}
		m.ChainLength = seq.NextIndex()
		_, m.HasHead = seq.Head()
		return nil
	})
	if err != nil {
		return result("store_readable", model.CheckCritical, "Cannot read chain head: %v", err)
	}
	return result("store_readable", model.CheckHealthy, "Chain has %d items", m.ChainLength)
}

// IsLive returns whether the node is live (liveness probe)
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the node is ready (readiness probe)
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the current health status
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statusLocked()
}

func (h *HealthChecker) statusLocked() model.HealthStatus {
	return model.HealthStatus{
		NodeID:    h.nodeID,
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
		Metrics:   h.metrics,
	}
}

// GetChecks returns a copy of all check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// SetReadiness manually sets readiness status (for graceful shutdown)
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	live := h.livenessOK
	status := h.statusLocked()
	h.mu.RUnlock()

	writeProbe(w, live, map[string]interface{}{
		"healthy": live,
		"status":  status.Status,
		"node_id": status.NodeID,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.readinessOK
	status := h.statusLocked()
	checks := make([]CheckResult, 0, len(h.checks))
	for _, c := range h.checks {
		checks = append(checks, c)
	}
	h.mu.RUnlock()

	writeProbe(w, ready, map[string]interface{}{
		"ready":   ready,
		"status":  status.Status,
		"metrics": status.Metrics,
		"checks":  checks,
	})
}

func writeProbe(w http.ResponseWriter, ok bool, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(body)
}
