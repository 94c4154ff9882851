// Package handler implements the relay's client-facing HTTP handlers.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/httperr"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/metrics"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/middleware"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/model"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/service"
)

// Handlers bundles the poll and diagnostics handlers.
type Handlers struct {
	subscriptions *service.SubscriptionService
	events        *service.EventService
	tenants       *service.TenantService
	errh          *httperr.Handler
	metrics       *metrics.Metrics
	logger        *zap.Logger
	version       string
	revision      string
	smartAppID    string
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(
	subscriptions *service.SubscriptionService,
	events *service.EventService,
	tenants *service.TenantService,
	errh *httperr.Handler,
	m *metrics.Metrics,
	logger *zap.Logger,
	version, revision, smartAppID string,
) *Handlers {
	return &Handlers{
		subscriptions: subscriptions,
		events:        events,
		tenants:       tenants,
		errh:          errh,
		metrics:       m,
		logger:        logger,
		version:       version,
		revision:      revision,
		smartAppID:    smartAppID,
	}
}

// PollRequest is the body of a client poll: the authoritative device list the
// client wants events for, and the poll timeout in milliseconds.
type PollRequest struct {
	DeviceIDs *[]string `json:"deviceIds"`
	Timeout   *int      `json:"timeout"`
}

// PollResponse mirrors the Homebridge plugin's webhook protocol.
type PollResponse struct {
	Timeout bool                `json:"timeout"`
	Events  []model.DeviceEvent `json:"events"`
}

// ClientRequest reconciles the tenant's upstream subscriptions against the
// declared device list and drains the tenant's buffered events. The poll
// timeout caps the whole operation; expiry yields an empty timeout response
// rather than an error, matching the client protocol.
func (h *Handlers) ClientRequest(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	tenantID := middleware.WebhookToken(r.Context())

	var req PollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.metrics.RecordPoll("rejected")
		h.errh.WriteErrorResponse(w, http.StatusBadRequest, httperr.ErrorCodeInvalidRequest,
			"malformed poll request body", requestID)
		return
	}
	if req.DeviceIDs == nil {
		h.metrics.RecordPoll("rejected")
		h.errh.WriteErrorResponse(w, http.StatusBadRequest, httperr.ErrorCodeInvalidRequest,
			"request body deviceIds field absent or malformed", requestID)
		return
	}
	if req.Timeout == nil || *req.Timeout <= 0 {
		h.metrics.RecordPoll("rejected")
		h.errh.WriteErrorResponse(w, http.StatusBadRequest, httperr.ErrorCodeInvalidRequest,
			"request body timeout field absent or malformed", requestID)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(*req.Timeout)*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := h.subscriptions.Reconcile(ctx, tenantID, *req.DeviceIDs)
	h.metrics.RecordReconcile(time.Since(start).Seconds())

	if err == nil {
		var events []model.DeviceEvent
		events, err = h.events.Drain(ctx, tenantID)
		if err == nil {
			h.metrics.RecordPoll("ok")
			h.metrics.EventsDrainedTotal.Add(float64(len(events)))
			h.writeJSON(w, http.StatusOK, PollResponse{Timeout: false, Events: events})
			return
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		h.metrics.RecordPoll("timeout")
		h.writeJSON(w, http.StatusOK, PollResponse{Timeout: true, Events: []model.DeviceEvent{}})
		return
	}

	h.metrics.RecordPoll("error")
	h.errh.HandleError(w, r, err)
}

// VersionResponse is the body of the version endpoint.
type VersionResponse struct {
	Version    string `json:"version"`
	Revision   string `json:"revision"`
	SmartAppID string `json:"smartAppId"`
}

// Version reports the build and SmartApp identity.
func (h *Handlers) Version(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, VersionResponse{
		Version:    h.version,
		Revision:   h.revision,
		SmartAppID: h.smartAppID,
	})
}

// StoreStatsResponse is the body of the diagnostics endpoint.
type StoreStatsResponse struct {
	InstalledAppsCount int64 `json:"installedAppsCount"`
}

// StoreStats reports the number of installed application instances.
func (h *Handlers) StoreStats(w http.ResponseWriter, r *http.Request) {
	count, err := h.tenants.TenantCount(r.Context())
	if err != nil {
		h.errh.HandleError(w, r, err)
		return
	}
	h.metrics.UpdateTenantsActive(count)
	h.writeJSON(w, http.StatusOK, StoreStatsResponse{InstalledAppsCount: count})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
