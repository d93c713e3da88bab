package diskmanager

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/devrev/pairdb/ledger-node/internal/errors"
	"go.uber.org/zap"
)

// Usage is a point-in-time reading of the filesystem holding the data dir
type Usage struct {
	TotalBytes     uint64
	AvailableBytes uint64
}

// UsagePercent returns the used share of the filesystem
func (u Usage) UsagePercent() float64 {
	if u.TotalBytes == 0 {
		return 0
	}
	return float64(u.TotalBytes-u.AvailableBytes) / float64(u.TotalBytes) * 100.0
}

// StatFunc reads filesystem usage for a directory
type StatFunc func(dir string) (Usage, error)

// Statfs reads usage with statfs(2)
func Statfs(dir string) (Usage, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return Usage{}, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	return Usage{
		TotalBytes:     stat.Blocks * uint64(stat.Bsize),
		AvailableBytes: stat.Bavail * uint64(stat.Bsize),
	}, nil
}

// DiskManager monitors disk space and gates commits before they open the
// write transaction
type DiskManager struct {
	dataDir       string
	logger        *zap.Logger
	stat          StatFunc
	checkInterval time.Duration

	// Thresholds, in percent
	warningThreshold        float64
	throttleThreshold       float64
	circuitBreakerThreshold float64

	mu              sync.Mutex
	lastCheck       time.Time
	usage           Usage
	isThrottled     bool
	isCircuitBroken bool
}

// DiskManagerConfig holds configuration for disk manager
type DiskManagerConfig struct {
	DataDir                 string
	CheckInterval           time.Duration
	WarningThreshold        float64
	ThrottleThreshold       float64
	CircuitBreakerThreshold float64
	// Stat defaults to Statfs
	Stat StatFunc
}

// DefaultConfig returns default disk manager configuration
func DefaultConfig(dataDir string) *DiskManagerConfig {
	return &DiskManagerConfig{
		DataDir:                 dataDir,
		CheckInterval:           10 * time.Second,
		WarningThreshold:        80.0,
		ThrottleThreshold:       90.0,
		CircuitBreakerThreshold: 95.0,
	}
}

// NewDiskManager creates a new disk manager with specified thresholds
func NewDiskManager(cfg *DiskManagerConfig, logger *zap.Logger) (*DiskManager, error) {
	if cfg.DataDir == "" {
		return nil, errors.InvalidArgument("data directory is required", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	stat := cfg.Stat
	if stat == nil {
		stat = Statfs
	}

	dm := &DiskManager{
		dataDir:                 cfg.DataDir,
		logger:                  logger,
		stat:                    stat,
		checkInterval:           cfg.CheckInterval,
		warningThreshold:        cfg.WarningThreshold,
		throttleThreshold:       cfg.ThrottleThreshold,
		circuitBreakerThreshold: cfg.CircuitBreakerThreshold,
	}

	if err := dm.ForceCheck(); err != nil {
		logger.Warn("Initial disk space check failed", zap.Error(err))
	}

	return dm, nil
}

// CheckBeforeWrite checks if a write of the given size can proceed.
// Returns an error if the write should be rejected.
func (dm *DiskManager) CheckBeforeWrite(estimatedBytes uint64) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.refreshLocked()
	pct := dm.usage.UsagePercent()

	if dm.isCircuitBroken {
		return errors.DiskFull(pct, dm.usage.AvailableBytes).
			WithDetail("circuit_broken", true)
	}

	// Small writes still go through while throttled
	if dm.isThrottled && estimatedBytes > dm.usage.AvailableBytes/10 {
		return errors.DiskThrottled(pct).
			WithDetail("estimated_bytes", estimatedBytes)
	}

	if estimatedBytes > dm.usage.AvailableBytes {
		return errors.DiskFull(pct, dm.usage.AvailableBytes).
			WithDetail("estimated_bytes", estimatedBytes)
	}

	return nil
}

func (dm *DiskManager) refreshLocked() {
	if time.Since(dm.lastCheck) <= dm.checkInterval {
		return
	}
	if err := dm.checkLocked(); err != nil {
		dm.logger.Warn("Disk space check failed", zap.Error(err))
	}
}

// checkLocked reads current usage and updates state. Must be called with
// mu held.
func (dm *DiskManager) checkLocked() error {
	usage, err := dm.stat(dm.dataDir)
	if err != nil {
		return err
	}
	pct := usage.UsagePercent()

	dm.usage = usage
	dm.lastCheck = time.Now()

	previouslyThrottled := dm.isThrottled
	previouslyBroken := dm.isCircuitBroken

	dm.isCircuitBroken = pct >= dm.circuitBreakerThreshold
	dm.isThrottled = pct >= dm.throttleThreshold && !dm.isCircuitBroken

	fields := []zap.Field{
		zap.Float64("usage_percent", pct),
		zap.Uint64("available_bytes", usage.AvailableBytes),
	}

	switch {
	case dm.isCircuitBroken && !previouslyBroken:
		dm.logger.Error("Disk circuit breaker ENGAGED",
			append(fields, zap.Float64("threshold", dm.circuitBreakerThreshold))...)
	case !dm.isCircuitBroken && previouslyBroken:
		dm.logger.Info("Disk circuit breaker DISENGAGED", fields...)
	}

	switch {
	case dm.isThrottled && !previouslyThrottled:
		dm.logger.Warn("Disk write throttling ENABLED",
			append(fields, zap.Float64("threshold", dm.throttleThreshold))...)
	case !dm.isThrottled && previouslyThrottled:
		dm.logger.Info("Disk write throttling DISABLED", fields...)
	}

	if pct >= dm.warningThreshold && !dm.isThrottled && !dm.isCircuitBroken {
		dm.logger.Warn("Disk usage warning",
			append(fields, zap.Float64("warning_threshold", dm.warningThreshold))...)
	}

	return nil
}

// GetDiskUsage returns current disk usage statistics
func (dm *DiskManager) GetDiskUsage() DiskUsageStats {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.refreshLocked()

	return DiskUsageStats{
		UsagePercent:    dm.usage.UsagePercent(),
		TotalBytes:      dm.usage.TotalBytes,
		AvailableBytes:  dm.usage.AvailableBytes,
		IsThrottled:     dm.isThrottled,
		IsCircuitBroken: dm.isCircuitBroken,
		LastCheck:       dm.lastCheck,
	}
}

// ForceCheck forces an immediate disk space check
func (dm *DiskManager) ForceCheck() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.checkLocked()
}

// DiskUsageStats contains disk usage statistics
type DiskUsageStats struct {
	UsagePercent    float64
	TotalBytes      uint64
	AvailableBytes  uint64
	IsThrottled     bool
	IsCircuitBroken bool
	LastCheck       time.Time
}
