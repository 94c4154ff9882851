// Package middleware provides the HTTP middleware chain for the relay.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/httperr"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/service"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// RequestIDKey is the context key for request ID.
	RequestIDKey ContextKey = "request_id"
	// WebhookTokenKey is the context key for the authenticated webhook token.
	WebhookTokenKey ContextKey = "webhook_token"
)

// WebhookToken returns the authenticated token stored by BearerAuth, or "".
func WebhookToken(ctx context.Context) string {
	token, _ := ctx.Value(WebhookTokenKey).(string)
	return token
}

// RequestID adds a unique request ID to each request.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)
		r.Header.Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logging logs HTTP request details.
func Logging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			logger.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", r.Header.Get("X-Request-ID")),
				zap.String("remote_addr", r.RemoteAddr))
		})
	}
}

// Recovery recovers from panics and returns a 500 error.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.String("request_id", r.Header.Get("X-Request-ID")),
						zap.String("path", r.URL.Path))

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					w.Write([]byte(`{"status":"error","error_code":"INTERNAL_ERROR","message":"internal server error"}`))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// BearerAuth authenticates polling requests: the bearer token must map to a
// live tenant. Missing token -> 401, unknown tenant -> 403. The validated
// token is stored in the request context for downstream handlers.
func BearerAuth(tenants *service.TenantService, errh *httperr.Handler, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")

			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				logger.Warn("missing webhook token", zap.String("request_id", requestID))
				errh.WriteErrorResponse(w, http.StatusUnauthorized, httperr.ErrorCodeUnauthorized,
					"missing webhook token", requestID)
				return
			}

			known, err := tenants.IsKnownTenant(r.Context(), token)
			if err != nil {
				errh.HandleError(w, r, err)
				return
			}
			if !known {
				logger.Warn("webhook token does not match any installed application",
					zap.String("request_id", requestID))
				errh.WriteErrorResponse(w, http.StatusForbidden, httperr.ErrorCodeUnknownTenant,
					service.ErrUnknownTenant.Error(), requestID)
				return
			}

			ctx := context.WithValue(r.Context(), WebhookTokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the opaque token from an Authorization header. The
// Homebridge plugin sends "Bearer: <token>", standard clients "Bearer <token>".
func bearerToken(header string) string {
	token := strings.TrimSpace(header)
	for _, prefix := range []string{"Bearer:", "Bearer"} {
		if strings.HasPrefix(token, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(token, prefix))
		}
	}
	return token
}

// TokenRateLimiter rate-limits poll requests per webhook token, so one noisy
// client cannot starve other tenants.
type TokenRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
	logger   *zap.Logger
	errh     *httperr.Handler
}

// NewTokenRateLimiter creates a per-token rate limiter middleware.
func NewTokenRateLimiter(requestsPerSecond float64, burstSize int, errh *httperr.Handler, logger *zap.Logger) *TokenRateLimiter {
	return &TokenRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burstSize,
		logger:   logger,
		errh:     errh,
	}
}

// Limit applies rate limiting keyed by the authenticated webhook token.
func (rl *TokenRateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := WebhookToken(r.Context())
		if !rl.limiter(token).Allow() {
			requestID := r.Header.Get("X-Request-ID")
			rl.logger.Warn("rate limit exceeded",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))

			w.Header().Set("Retry-After", "1")
			rl.errh.WriteErrorResponse(w, http.StatusTooManyRequests, httperr.ErrorCodeRateLimited,
				"rate limit exceeded", requestID)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *TokenRateLimiter) limiter(token string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, ok := rl.limiters[token]
	if !ok {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.limiters[token] = limiter
	}
	return limiter
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Chain chains multiple middleware functions.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
