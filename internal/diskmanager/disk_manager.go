package diskmanager

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/otree/internal/errors"
)

// DiskManager tracks free space under the data directory and rejects data file
// writes that would fill it
type DiskManager struct {
	dataDir       string
	logger        *zap.Logger
	statfs        func(dir string) (total, available uint64, err error)
	checkInterval time.Duration

	// Thresholds, in percent of the filesystem
	warningThreshold        float64
	throttleThreshold       float64
	circuitBreakerThreshold float64

	mu                   sync.Mutex
	lastCheck            time.Time
	cachedUsagePercent   float64
	cachedAvailableBytes uint64
	isThrottled          bool
	isCircuitBroken      bool
}

// DiskManagerConfig holds configuration for disk manager
type DiskManagerConfig struct {
	DataDir                 string
	CheckInterval           time.Duration
	WarningThreshold        float64
	ThrottleThreshold       float64
	CircuitBreakerThreshold float64
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
		return nil, fmt.Errorf("data directory is required")
	}
	dm := &DiskManager{
		dataDir:                 cfg.DataDir,
		logger:                  logger,
		statfs:                  statfs,
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

func statfs(dir string) (total, available uint64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, 0, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	return stat.Blocks * uint64(stat.Bsize), stat.Bavail * uint64(stat.Bsize), nil
}

// CheckBeforeWrite reports whether a save writing about estimatedBytes of data
// files may proceed. A full disk is Unavailable; a write that does not fit is
// ResourceExhausted.
func (dm *DiskManager) CheckBeforeWrite(estimatedBytes uint64) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if time.Since(dm.lastCheck) > dm.checkInterval {
		if err := dm.checkDiskSpace(); err != nil {
			dm.logger.Warn("Disk space check failed", zap.Error(err))
		}
	}

	if dm.isCircuitBroken {
		return errors.Unavailable(fmt.Sprintf("disk usage at %.2f%%, data writes suspended", dm.cachedUsagePercent), nil).
			WithDetail("usage_percent", dm.cachedUsagePercent).
			WithDetail("available_bytes", dm.cachedAvailableBytes)
	}

	// while throttled only small saves get through
	if dm.isThrottled && estimatedBytes > dm.cachedAvailableBytes/10 {
		return errors.NewIndexError(errors.ErrCodeResourceExhausted,
			fmt.Sprintf("disk usage at %.2f%%, large saves throttled", dm.cachedUsagePercent), nil).
			WithDetail("estimated_bytes", estimatedBytes).
			WithDetail("available_bytes", dm.cachedAvailableBytes)
	}

	if estimatedBytes > dm.cachedAvailableBytes {
		return errors.NewIndexError(errors.ErrCodeResourceExhausted,
			fmt.Sprintf("insufficient space: need %d bytes, have %d bytes", estimatedBytes, dm.cachedAvailableBytes), nil).
			WithDetail("estimated_bytes", estimatedBytes).
			WithDetail("available_bytes", dm.cachedAvailableBytes)
	}
	return nil
}

// checkDiskSpace refreshes usage and state. Callers hold mu.
func (dm *DiskManager) checkDiskSpace() error {
	totalBytes, availableBytes, err := dm.statfs(dm.dataDir)
	if err != nil {
		return err
	}
	if totalBytes == 0 {
		return fmt.Errorf("filesystem at %s reports zero size", dm.dataDir)
	}
	usagePercent := float64(totalBytes-availableBytes) / float64(totalBytes) * 100.0

	dm.cachedUsagePercent = usagePercent
	dm.cachedAvailableBytes = availableBytes
	dm.lastCheck = time.Now()

	previouslyThrottled := dm.isThrottled
	previouslyBroken := dm.isCircuitBroken

	dm.isCircuitBroken = usagePercent >= dm.circuitBreakerThreshold
	dm.isThrottled = usagePercent >= dm.throttleThreshold && !dm.isCircuitBroken

	switch {
	case dm.isCircuitBroken && !previouslyBroken:
		dm.logger.Error("Disk circuit breaker ENGAGED",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", availableBytes),
			zap.Float64("threshold", dm.circuitBreakerThreshold))
	case !dm.isCircuitBroken && previouslyBroken:
		dm.logger.Info("Disk circuit breaker DISENGAGED",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", availableBytes))
	}

	switch {
	case dm.isThrottled && !previouslyThrottled:
		dm.logger.Warn("Disk write throttling ENABLED",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", availableBytes),
			zap.Float64("threshold", dm.throttleThreshold))
	case !dm.isThrottled && previouslyThrottled:
		dm.logger.Info("Disk write throttling DISABLED",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", availableBytes))
	}

	if usagePercent >= dm.warningThreshold && !dm.isThrottled && !dm.isCircuitBroken {
		dm.logger.Warn("Disk usage warning",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", availableBytes),
			zap.Float64("warning_threshold", dm.warningThreshold))
	}
	return nil
}

// DiskUsageStats contains disk usage statistics
type DiskUsageStats struct {
	UsagePercent    float64
	AvailableBytes  uint64
	IsThrottled     bool
	IsCircuitBroken bool
	LastCheck       time.Time
}

// GetDiskUsage returns the last observed usage
func (dm *DiskManager) GetDiskUsage() DiskUsageStats {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return DiskUsageStats{
		UsagePercent:    dm.cachedUsagePercent,
		AvailableBytes:  dm.cachedAvailableBytes,
		IsThrottled:     dm.isThrottled,
		IsCircuitBroken: dm.isCircuitBroken,
		LastCheck:       dm.lastCheck,
	}
}

// ForceCheck forces an immediate disk space check
func (dm *DiskManager) ForceCheck() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.checkDiskSpace()
}
