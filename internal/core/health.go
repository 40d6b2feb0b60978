package core

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthChecker reports the poller's liveness from coordinator state,
// token validity, and snapshot freshness.
type HealthChecker struct {
	coordinator *Coordinator
	tokens      TokenKeeper
	interval    time.Duration

	mu     sync.RWMutex
	status HealthStatus
}

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Status      string    `json:"status"` // "pass", "fail", "warn"
	Message     string    `json:"message,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// NewHealthChecker creates a health checker over a running coordinator.
// The poll interval bounds how stale a snapshot may be before the checker
// degrades.
func NewHealthChecker(coordinator *Coordinator, tokens TokenKeeper, interval time.Duration) *HealthChecker {
	return &HealthChecker{
		coordinator: coordinator,
		tokens:      tokens,
		interval:    interval,
		status: HealthStatus{
			Status: "healthy",
			Checks: make(map[string]CheckResult),
		},
	}
}

// CheckHealth performs all health checks.
func (h *HealthChecker) CheckHealth() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	checks := map[string]CheckResult{
		"coordinator": h.checkCoordinator(now),
		"token":       h.checkToken(now),
		"snapshot":    h.checkSnapshot(now),
	}

	overallStatus := "healthy"
	for _, check := range checks {
		if check.Status == "fail" {
			overallStatus = "unhealthy"
			break
		} else if check.Status == "warn" {
			overallStatus = "degraded"
		}
	}

	h.status = HealthStatus{
		Status:    overallStatus,
		Timestamp: now,
		Checks:    checks,
	}
	return h.status
}

// GetStatus returns the most recently computed health status.
func (h *HealthChecker) GetStatus() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *HealthChecker) checkCoordinator(now time.Time) CheckResult {
	state := h.coordinator.State()
	switch state {
	case StateNeedsReauth:
		return CheckResult{
			Status:      "fail",
			Message:     "re-authorization required",
			LastChecked: now,
		}
	case StateFailed:
		message := "last poll cycle failed"
		if err := h.coordinator.LastError(); err != nil {
			message = fmt.Sprintf("last poll cycle failed: %v", err)
		}
		return CheckResult{
			Status:      "warn",
			Message:     message,
			LastChecked: now,
		}
	default:
		return CheckResult{
			Status:      "pass",
			Message:     fmt.Sprintf("coordinator %s", state),
			LastChecked: now,
		}
	}
}

func (h *HealthChecker) checkToken(now time.Time) CheckResult {
	session := h.tokens.Session()
	if session.Expired(now) {
		return CheckResult{
			Status:      "fail",
			Message:     "access token expired",
			LastChecked: now,
		}
	}
	if h.tokens.NeedsRefresh(now) {
		return CheckResult{
			Status:      "warn",
			Message:     "access token near expiry",
			LastChecked: now,
		}
	}
	return CheckResult{
		Status:      "pass",
		LastChecked: now,
	}
}

func (h *HealthChecker) checkSnapshot(now time.Time) CheckResult {
	snapshot := h.coordinator.Snapshot()
	if snapshot == nil {
		return CheckResult{
			Status:      "warn",
			Message:     "no snapshot published yet",
			LastChecked: now,
		}
	}

	age := now.Sub(snapshot.FetchedAt)
	if age > 3*h.interval {
		return CheckResult{
			Status:      "warn",
			Message:     fmt.Sprintf("snapshot is %s old", age.Round(time.Second)),
			LastChecked: now,
		}
	}
	return CheckResult{
		Status:      "pass",
		Message:     fmt.Sprintf("%d devices across %d homes", len(snapshot.Devices), len(snapshot.Homes)),
		LastChecked: now,
	}
}

// ServeHealth provides an HTTP handler for health checks.
func (h *HealthChecker) ServeHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := h.CheckHealth()

		w.Header().Set("Content-Type", "application/json")
		if status.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
