// Package health aggregates liveness checks from the process's components.
// The poller registers fetch freshness, the engine registers checkpoint
// freshness, and the health endpoint reports the combined view.
package health

import (
	"sync"

	"pnl_monitor/internal/core"
)

// HealthManager collects named check functions and evaluates them on
// demand. It implements core.IHealthMonitor.
type HealthManager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

// NewHealthManager creates an empty health manager.
func NewHealthManager(logger core.ILogger) *HealthManager {
	if logger == nil {
		return &HealthManager{
			checks: make(map[string]func() error),
		}
	}
	return &HealthManager{
		logger: logger.WithField("component", "health_manager"),
		checks: make(map[string]func() error),
	}
}

// Register adds a health check for a component. Re-registering replaces
// the previous check.
func (hm *HealthManager) Register(component string, check func() error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checks[component] = check
}

// GetStatus evaluates every registered check and returns a per-component
// status string.
func (hm *HealthManager) GetStatus() map[string]string {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	status := make(map[string]string)
	for component, check := range hm.checks {
		if err := check(); err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

// IsHealthy reports whether every registered check passes.
func (hm *HealthManager) IsHealthy() bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	for _, check := range hm.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}
