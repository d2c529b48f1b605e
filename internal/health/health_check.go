package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Status is the overall state of the process
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const (
	checkHealthy  = "healthy"
	checkWarning  = "warning"
	checkCritical = "critical"
)

// Probe reports whether a dependency can serve requests
type Probe func(ctx context.Context) error

// Dependency is an external collaborator checked on every round
type Dependency struct {
	Name string
	// Critical dependencies take the process out of rotation when they fail
	Critical bool
	Probe    Probe
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	DataDir      string
	Interval     time.Duration
	ProbeTimeout time.Duration
	Dependencies []Dependency
	// GRPC, when set, mirrors readiness into the standard gRPC health service
	GRPC *grpchealth.Server
}

// HealthChecker periodically checks the data directory and the log and
// idempotency backends
type HealthChecker struct {
	cfg         HealthCheckConfig
	logger      *zap.Logger
	mu          sync.RWMutex
	lastCheck   time.Time
	status      Status
	checks      map[string]CheckResult
	livenessOK  bool
	readinessOK bool
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(cfg HealthCheckConfig, logger *zap.Logger) *HealthChecker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	return &HealthChecker{
		cfg:         cfg,
		logger:      logger,
		checks:      make(map[string]CheckResult),
		livenessOK:  true,
		readinessOK: true,
		status:      StatusHealthy,
	}
}

// Start runs checks until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			h.RunChecks(ctx)
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs one round of checks and updates liveness and readiness
func (h *HealthChecker) RunChecks(ctx context.Context) {
	results := []CheckResult{
		h.checkDiskSpace(),
		h.checkDataDirAccessible(),
		h.checkFileDescriptors(),
	}
	critical := map[string]bool{}
	for _, dep := range h.cfg.Dependencies {
		results = append(results, h.checkDependency(ctx, dep))
		critical[dep.Name] = dep.Critical
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCheck = time.Now()
	allHealthy, allReady := true, true
	for _, result := range results {
		h.checks[result.Name] = result
		if result.Status != checkHealthy {
			allHealthy = false
			if result.Status == checkCritical {
				allReady = false
			}
		}
	}

	switch {
	case allHealthy:
		h.status = StatusHealthy
	case allReady:
		h.status = StatusDegraded
	default:
		h.status = StatusUnhealthy
	}
	h.livenessOK = true
	h.readinessOK = allReady
	h.publish()

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("liveness", h.livenessOK),
		zap.Bool("readiness", h.readinessOK))
}

// publish copies readiness into the gRPC health service. Callers hold mu.
func (h *HealthChecker) publish() {
	if h.cfg.GRPC == nil {
		return
	}
	st := healthpb.HealthCheckResponse_SERVING
	if !h.readinessOK {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.cfg.GRPC.SetServingStatus("", st)
}

func (h *HealthChecker) checkDependency(ctx context.Context, dep Dependency) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
	defer cancel()

	if err := dep.Probe(ctx); err != nil {
		st := checkWarning
		if dep.Critical {
			st = checkCritical
		}
		return CheckResult{
			Name:      dep.Name,
			Status:    st,
			Message:   fmt.Sprintf("%s unreachable: %v", dep.Name, err),
			Timestamp: time.Now(),
		}
	}
	return CheckResult{
		Name:      dep.Name,
		Status:    checkHealthy,
		Message:   fmt.Sprintf("%s reachable", dep.Name),
		Timestamp: time.Now(),
	}
}

// checkDiskSpace checks if disk space is sufficient
func (h *HealthChecker) checkDiskSpace() CheckResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(h.cfg.DataDir, &stat); err != nil {
		return CheckResult{
			Name:      "disk_space",
			Status:    checkCritical,
			Message:   fmt.Sprintf("Failed to stat filesystem: %v", err),
			Timestamp: time.Now(),
		}
	}

	available := stat.Bavail * uint64(stat.Bsize)
	total := stat.Blocks * uint64(stat.Bsize)
	used := total - (stat.Bfree * uint64(stat.Bsize))
	usagePercent := float64(used) / float64(total) * 100

	switch {
	case usagePercent > 95:
		return CheckResult{
			Name:      "disk_space",
			Status:    checkCritical,
			Message:   fmt.Sprintf("Disk usage critical: %.2f%%", usagePercent),
			Timestamp: time.Now(),
		}
	case usagePercent > 90:
		return CheckResult{
			Name:      "disk_space",
			Status:    checkWarning,
			Message:   fmt.Sprintf("Disk usage high: %.2f%%", usagePercent),
			Timestamp: time.Now(),
		}
	}

	return CheckResult{
		Name:      "disk_space",
		Status:    checkHealthy,
		Message:   fmt.Sprintf("Disk usage: %.2f%%, available: %.2f GB", usagePercent, float64(available)/1024/1024/1024),
		Timestamp: time.Now(),
	}
}

// checkDataDirAccessible checks that data files can still be written
func (h *HealthChecker) checkDataDirAccessible() CheckResult {
	info, err := os.Stat(h.cfg.DataDir)
	if err != nil {
		return CheckResult{
			Name:      "data_dir_accessible",
			Status:    checkCritical,
			Message:   fmt.Sprintf("Data directory not accessible: %v", err),
			Timestamp: time.Now(),
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Name:      "data_dir_accessible",
			Status:    checkCritical,
			Message:   "Data path is not a directory",
			Timestamp: time.Now(),
		}
	}

	testFile := filepath.Join(h.cfg.DataDir, fmt.Sprintf(".health_check_%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		return CheckResult{
			Name:      "data_dir_accessible",
			Status:    checkCritical,
			Message:   fmt.Sprintf("Cannot write to data directory: %v", err),
			Timestamp: time.Now(),
		}
	}
	f.Close()
	os.Remove(testFile)

	return CheckResult{
		Name:      "data_dir_accessible",
		Status:    checkHealthy,
		Message:   "Data directory is accessible and writable",
		Timestamp: time.Now(),
	}
}

// checkFileDescriptors warns when most descriptors are in use. Parquet writes
// hold one descriptor per cube in flight.
func (h *HealthChecker) checkFileDescriptors() CheckResult {
	var rlimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlimit); err != nil {
		return CheckResult{
			Name:      "file_descriptors",
			Status:    checkWarning,
			Message:   fmt.Sprintf("Failed to get rlimit: %v", err),
			Timestamp: time.Now(),
		}
	}

	// Linux only; elsewhere the limit alone is reported
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return CheckResult{
			Name:      "file_descriptors",
			Status:    checkHealthy,
			Message:   fmt.Sprintf("Soft limit: %d, hard limit: %d", rlimit.Cur, rlimit.Max),
			Timestamp: time.Now(),
		}
	}

	openFDs := uint64(len(entries))
	usagePercent := float64(openFDs) / float64(rlimit.Cur) * 100
	if usagePercent > 90 {
		return CheckResult{
			Name:      "file_descriptors",
			Status:    checkWarning,
			Message:   fmt.Sprintf("File descriptor usage high: %.2f%% (%d/%d)", usagePercent, openFDs, rlimit.Cur),
			Timestamp: time.Now(),
		}
	}

	return CheckResult{
		Name:      "file_descriptors",
		Status:    checkHealthy,
		Message:   fmt.Sprintf("File descriptor usage: %.2f%% (%d/%d)", usagePercent, openFDs, rlimit.Cur),
		Timestamp: time.Now(),
	}
}

// IsLive returns whether the process is live (liveness probe)
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the process can take writes (readiness probe)
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// Status returns the overall status of the last round
func (h *HealthChecker) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// GetChecks returns all check results
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
	h.publish()
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	live, status := h.livenessOK, h.status
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !live {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy": live,
		"status":  status,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready, status := h.readinessOK, h.status
	checks := make([]CheckResult, 0, len(h.checks))
	for _, c := range h.checks {
		if c.Status != checkHealthy {
			checks = append(checks, c)
		}
	}
	h.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":    ready,
		"status":   status,
		"failures": checks,
	})
}
