// Package httperr maps relay errors to HTTP status codes and renders the
// standard JSON error body.
package httperr

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/service"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/store"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/upstream"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	ErrorCodeInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrorCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrorCodeUnknownTenant   ErrorCode = "UNKNOWN_TENANT"
	ErrorCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrorCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrorCodeUpstreamFailure ErrorCode = "UPSTREAM_FAILURE"
	ErrorCodeInternalError   ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// Handler provides error handling functionality.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{logger: logger}
}

// HandleError classifies an error and writes the matching HTTP response.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := Classify(err)
	requestID := r.Header.Get("X-Request-ID")

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.Error(err))
	}

	h.WriteErrorResponse(w, status, code, err.Error(), requestID)
}

// Classify maps an error to its HTTP status and error code.
func Classify(err error) (int, ErrorCode) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, service.ErrUnknownTenant):
		return http.StatusForbidden, ErrorCodeUnknownTenant
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrorCodeNotFound
	case errors.Is(err, upstream.ErrUpstream):
		return http.StatusBadGateway, ErrorCodeUpstreamFailure
	default:
		return http.StatusInternalServerError, ErrorCodeInternalError
	}
}

// WriteErrorResponse writes the standard JSON error body.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, status int, code ErrorCode, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Status:    "error",
		ErrorCode: code,
		Message:   message,
		RequestID: requestID,
	})
}
