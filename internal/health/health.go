package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/store"
)

// HealthChecker provides health check endpoints
type HealthChecker struct {
	store  store.TenantStore
	logger *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(tenantStore store.TenantStore, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		store:  tenantStore,
		logger: logger,
	}
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:    "alive",
		Timestamp: time.Now().Unix(),
	})
}

// ReadinessHandler handles readiness probe requests by pinging the backing store
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	status := HealthStatus{Timestamp: time.Now().Unix(), Checks: checks}

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("store health check failed", zap.Error(err))
		checks["store"] = "unhealthy: " + err.Error()
		status.Status = "not_ready"
		writeStatus(w, http.StatusServiceUnavailable, status)
		return
	}

	checks["store"] = "healthy"
	status.Status = "ready"
	writeStatus(w, http.StatusOK, status)
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
