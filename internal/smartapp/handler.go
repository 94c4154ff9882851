package smartapp

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/metrics"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/model"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/service"
)

// Handler dispatches SmartApp lifecycle callbacks to the tenant and event
// services.
type Handler struct {
	tenants *service.TenantService
	events  *service.EventService
	metrics *metrics.Metrics
	appName string
	logger  *zap.Logger
}

// NewHandler creates a new lifecycle webhook handler
func NewHandler(
	tenants *service.TenantService,
	events *service.EventService,
	m *metrics.Metrics,
	appName string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		tenants: tenants,
		events:  events,
		metrics: m,
		appName: appName,
		logger:  logger,
	}
}

// HandleLifecycle processes one lifecycle callback.
func (h *Handler) HandleLifecycle(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("malformed lifecycle request", zap.Error(err))
		http.Error(w, "malformed lifecycle request", http.StatusBadRequest)
		return
	}

	h.logger.Debug("lifecycle callback received",
		zap.String("lifecycle", string(req.Lifecycle)),
		zap.String("execution_id", req.ExecutionID))

	var (
		response interface{}
		err      error
	)

	switch req.Lifecycle {
	case LifecyclePing:
		response = h.handlePing(&req)
	case LifecycleConfirmation:
		response = h.handleConfirmation(&req)
	case LifecycleConfiguration:
		response, err = h.handleConfiguration(&req)
	case LifecycleInstall:
		response, err = h.handleInstall(r, &req)
	case LifecycleUpdate:
		response, err = h.handleUpdate(r, &req)
	case LifecycleUninstall:
		response, err = h.handleUninstall(r, &req)
	case LifecycleEvent:
		response, err = h.handleEvent(r, &req)
	default:
		h.metrics.RecordLifecycle(string(req.Lifecycle), "rejected")
		http.Error(w, "unsupported lifecycle", http.StatusBadRequest)
		return
	}

	if err != nil {
		var missing missingDataError
		if errors.As(err, &missing) {
			h.metrics.RecordLifecycle(string(req.Lifecycle), "rejected")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.metrics.RecordLifecycle(string(req.Lifecycle), "error")
		h.logger.Error("lifecycle callback failed",
			zap.String("lifecycle", string(req.Lifecycle)),
			zap.String("execution_id", req.ExecutionID),
			zap.Error(err))
		http.Error(w, "lifecycle processing failed", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordLifecycle(string(req.Lifecycle), "ok")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func (h *Handler) handlePing(req *Request) interface{} {
	challenge := ""
	if req.PingData != nil {
		challenge = req.PingData.Challenge
	}
	return map[string]interface{}{
		"pingData": PingData{Challenge: challenge},
	}
}

// handleConfirmation logs the confirmation URL; registration confirmation is
// completed out-of-band by the operator.
func (h *Handler) handleConfirmation(req *Request) interface{} {
	if req.ConfirmationData != nil {
		h.logger.Info("webhook confirmation requested",
			zap.String("app_id", req.ConfirmationData.AppID),
			zap.String("confirmation_url", req.ConfirmationData.ConfirmationURL))
		return map[string]interface{}{
			"targetUrl": req.ConfirmationData.ConfirmationURL,
		}
	}
	return map[string]interface{}{}
}

// handleConfiguration answers with a single static page: the relay has no
// user-facing configuration.
func (h *Handler) handleConfiguration(req *Request) (interface{}, error) {
	if req.ConfigData == nil {
		return nil, errMissingData("configurationData")
	}
	switch req.ConfigData.Phase {
	case "INITIALIZE":
		return map[string]interface{}{
			"configurationData": map[string]interface{}{
				"initialize": map[string]interface{}{
					"name":        h.appName,
					"description": h.appName,
					"id":          "app",
					"permissions": []string{"r:devices:*", "r:locations:*"},
					"firstPageId": "1",
				},
			},
		}, nil
	default:
		return map[string]interface{}{
			"configurationData": map[string]interface{}{
				"page": map[string]interface{}{
					"pageId":   "1",
					"name":     h.appName,
					"complete": true,
					"sections": []interface{}{},
				},
			},
		}, nil
	}
}

func (h *Handler) handleInstall(r *http.Request, req *Request) (interface{}, error) {
	if req.InstallData == nil {
		return nil, errMissingData("installData")
	}
	err := h.tenants.OnInstalled(r.Context(),
		req.InstallData.InstalledApp.InstalledAppID,
		req.InstallData.AuthToken,
		req.InstallData.RefreshToken)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"installData": map[string]interface{}{}}, nil
}

// handleUpdate doubles as the token-refresh callback: credentials are
// overwritten unconditionally.
func (h *Handler) handleUpdate(r *http.Request, req *Request) (interface{}, error) {
	if req.UpdateData == nil {
		return nil, errMissingData("updateData")
	}
	err := h.tenants.OnInstalled(r.Context(),
		req.UpdateData.InstalledApp.InstalledAppID,
		req.UpdateData.AuthToken,
		req.UpdateData.RefreshToken)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"updateData": map[string]interface{}{}}, nil
}

func (h *Handler) handleUninstall(r *http.Request, req *Request) (interface{}, error) {
	if req.UninstallData == nil {
		return nil, errMissingData("uninstallData")
	}
	if err := h.tenants.OnUninstalled(r.Context(), req.UninstallData.InstalledApp.InstalledAppID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"uninstallData": map[string]interface{}{}}, nil
}

// handleEvent buffers the short projection of every device event in the
// batch, keyed by upstream event id.
func (h *Handler) handleEvent(r *http.Request, req *Request) (interface{}, error) {
	if req.EventData == nil {
		return nil, errMissingData("eventData")
	}
	tenantID := req.EventData.InstalledApp.InstalledAppID

	for _, event := range req.EventData.Events {
		if event.EventType != EventTypeDevice || event.DeviceEvent == nil {
			continue
		}
		deviceEvent := event.DeviceEvent
		err := h.events.Append(r.Context(), tenantID, deviceEvent.EventID, model.DeviceEvent{
			DeviceID:    deviceEvent.DeviceID,
			Value:       deviceEvent.ValueString(),
			ComponentID: deviceEvent.ComponentID,
			Capability:  deviceEvent.Capability,
			Attribute:   deviceEvent.Attribute,
		})
		if err != nil {
			return nil, err
		}
		h.metrics.EventsBufferedTotal.Inc()
	}
	return map[string]interface{}{"eventData": map[string]interface{}{}}, nil
}

type missingDataError string

func (e missingDataError) Error() string {
	return "lifecycle request missing " + string(e)
}

func errMissingData(field string) error {
	return missingDataError(field)
}
