package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/conneroisu/wasmscope/internal/logging"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Critical    bool                   `json:"critical"`
}

// HealthChecker defines the interface for health check functions
type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
	Name() string
	IsCritical() bool
}

// HealthCheckFunc is a function that implements HealthChecker
type HealthCheckFunc struct {
	name     string
	checkFn  func(ctx context.Context) HealthCheck
	critical bool
}

// Check executes the health check function
func (h *HealthCheckFunc) Check(ctx context.Context) HealthCheck {
	return h.checkFn(ctx)
}

// Name returns the health check name
func (h *HealthCheckFunc) Name() string {
	return h.name
}

// IsCritical returns whether this check is critical
func (h *HealthCheckFunc) IsCritical() bool {
	return h.critical
}

// NewHealthCheckFunc creates a new health check function
func NewHealthCheckFunc(
	name string,
	critical bool,
	checkFn func(ctx context.Context) HealthCheck,
) *HealthCheckFunc {
	return &HealthCheckFunc{
		name:     name,
		checkFn:  checkFn,
		critical: critical,
	}
}

// HealthMonitor runs registered checks on demand.
type HealthMonitor struct {
	checks    map[string]HealthChecker
	mutex     sync.RWMutex
	logger    logging.Logger
	timeout   time.Duration
	version   string
	startTime time.Time
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks"`
	Summary   HealthSummary          `json:"summary"`
	GoVersion string                 `json:"go_version"`
}

// HealthSummary provides a summary of health check results
type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Degraded  int `json:"degraded"`
	Unknown   int `json:"unknown"`
	Critical  int `json:"critical"`
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(logger logging.Logger, version string) *HealthMonitor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HealthMonitor{
		checks:    make(map[string]HealthChecker),
		logger:    logger.WithComponent("health_monitor"),
		timeout:   5 * time.Second,
		version:   version,
		startTime: time.Now(),
	}
}

// RegisterCheck registers a health check
func (hm *HealthMonitor) RegisterCheck(checker HealthChecker) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	hm.checks[checker.Name()] = checker
	hm.logger.Debug(context.Background(), "Registered health check",
		"name", checker.Name(),
		"critical", checker.IsCritical())
}

// Check runs every registered check concurrently and aggregates the results.
func (hm *HealthMonitor) Check(ctx context.Context) HealthResponse {
	hm.mutex.RLock()
	checks := make([]HealthChecker, 0, len(hm.checks))
	for _, checker := range hm.checks {
		checks = append(checks, checker)
	}
	hm.mutex.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	var wg sync.WaitGroup
	resultsChan := make(chan HealthCheck, len(checks))
	for _, checker := range checks {
		wg.Add(1)
		go func(checker HealthChecker) {
			defer wg.Done()
			start := time.Now()
			result := checker.Check(ctx)
			result.Name = checker.Name()
			result.Critical = checker.IsCritical()
			result.Duration = time.Since(start)
			result.LastChecked = time.Now()
			resultsChan <- result
		}(checker)
	}
	wg.Wait()
	close(resultsChan)

	results := make(map[string]HealthCheck, len(checks))
	for result := range resultsChan {
		results[result.Name] = result
		if result.Status != HealthStatusHealthy {
			hm.logger.Warn(ctx, nil, "Health check failed",
				"name", result.Name,
				"status", string(result.Status),
				"message", result.Message)
		}
	}

	return HealthResponse{
		Status:    overallStatus(results),
		Timestamp: time.Now(),
		Version:   hm.version,
		Uptime:    time.Since(hm.startTime).Round(time.Second).String(),
		Checks:    results,
		Summary:   summarize(results),
		GoVersion: runtime.Version(),
	}
}

func summarize(checks map[string]HealthCheck) HealthSummary {
	summary := HealthSummary{Total: len(checks)}
	for _, check := range checks {
		switch check.Status {
		case HealthStatusHealthy:
			summary.Healthy++
		case HealthStatusUnhealthy:
			summary.Unhealthy++
		case HealthStatusDegraded:
			summary.Degraded++
		default:
			summary.Unknown++
		}
		if check.Critical {
			summary.Critical++
		}
	}
	return summary
}

// overallStatus is unhealthy if any critical check is unhealthy, degraded
// if any check is not healthy, and healthy otherwise.
func overallStatus(checks map[string]HealthCheck) HealthStatus {
	status := HealthStatusHealthy
	for _, check := range checks {
		if check.Status == HealthStatusUnhealthy && check.Critical {
			return HealthStatusUnhealthy
		}
		if check.Status != HealthStatusHealthy {
			status = HealthStatusDegraded
		}
	}
	return status
}

// HTTPHandler serves the aggregated health as JSON.
func (hm *HealthMonitor) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		switch health.Status {
		case HealthStatusHealthy, HealthStatusDegraded:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(health); err != nil {
			hm.logger.Error(r.Context(), err, "Failed to encode health response")
		}
	}
}

// WatchRootHealthChecker checks that the watch root is still a readable directory.
func WatchRootHealthChecker(root string) HealthChecker {
	return NewHealthCheckFunc("watch_root", true, func(ctx context.Context) HealthCheck {
		info, err := os.Stat(root)
		if err != nil {
			return HealthCheck{Status: HealthStatusUnhealthy, Message: fmt.Sprintf("Cannot stat watch root: %v", err)}
		}
		if !info.IsDir() {
			return HealthCheck{Status: HealthStatusUnhealthy, Message: "Watch root is not a directory"}
		}
		if _, err := os.ReadDir(root); err != nil {
			return HealthCheck{Status: HealthStatusUnhealthy, Message: fmt.Sprintf("Cannot read watch root: %v", err)}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: "Watch root is accessible"}
	})
}

// PipelineHealthChecker reports on the watcher pipeline through running,
// which returns whether the event loop is alive, and failed, which returns
// the number of records whose last analysis failed.
func PipelineHealthChecker(running func() bool, failed func() int) HealthChecker {
	return NewHealthCheckFunc("pipeline", true, func(ctx context.Context) HealthCheck {
		if !running() {
			return HealthCheck{Status: HealthStatusUnhealthy, Message: "Watcher is not running"}
		}
		n := failed()
		if n > 0 {
			return HealthCheck{
				Status:   HealthStatusDegraded,
				Message:  fmt.Sprintf("%d component(s) failed analysis", n),
				Metadata: map[string]interface{}{"failed": n},
			}
		}
		return HealthCheck{Status: HealthStatusHealthy, Message: "Watcher is running"}
	})
}

// MemoryHealthChecker checks heap usage against a soft limit.
func MemoryHealthChecker(maxHeap uint64) HealthChecker {
	return NewHealthCheckFunc("memory", false, func(ctx context.Context) HealthCheck {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		check := HealthCheck{
			Status:   HealthStatusHealthy,
			Message:  "Memory usage is normal",
			Metadata: map[string]interface{}{"heap_alloc": mem.HeapAlloc, "goroutines": runtime.NumGoroutine()},
		}
		if maxHeap > 0 && mem.HeapAlloc > maxHeap {
			check.Status = HealthStatusDegraded
			check.Message = fmt.Sprintf("High memory usage: %d bytes", mem.HeapAlloc)
		}
		return check
	})
}
