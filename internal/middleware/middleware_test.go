package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/httperr"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/service"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/store"
)

func TestBearerToken(t *testing.T) {
	// The Homebridge plugin sends a non-standard "Bearer:" prefix.
	assert.Equal(t, "tok-1", bearerToken("Bearer: tok-1"))
	assert.Equal(t, "tok-1", bearerToken("Bearer:tok-1"))
	assert.Equal(t, "tok-1", bearerToken("Bearer tok-1"))
	assert.Equal(t, "tok-1", bearerToken("tok-1"))
	assert.Equal(t, "tok-1", bearerToken("  Bearer tok-1  "))
	assert.Equal(t, "", bearerToken(""))
	assert.Equal(t, "", bearerToken("Bearer"))
	assert.Equal(t, "", bearerToken("Bearer:"))
}

func newAuthMiddleware(t *testing.T) func(http.Handler) http.Handler {
	t.Helper()
	s := store.NewMemoryStore()
	logger := zap.NewNop()
	tenants := service.NewTenantService(s, service.NewCredentialService(s, logger), logger)
	require.NoError(t, s.RegisterTenant(context.Background(), "tok-1"))
	return BearerAuth(tenants, httperr.NewHandler(logger), logger)
}

func TestBearerAuth(t *testing.T) {
	auth := newAuthMiddleware(t)

	var seenToken string
	protected := auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenToken = WebhookToken(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/clientrequest", nil)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/clientrequest", nil)
		req.Header.Set("Authorization", "Bearer: tok-unknown")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("known tenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/clientrequest", nil)
		req.Header.Set("Authorization", "Bearer: tok-1")
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "tok-1", seenToken)
	})
}

func TestRequestID(t *testing.T) {
	var captured string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = r.Context().Value(RequestIDKey).(string)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generated when absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.NotEmpty(t, captured)
		assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))
	})

	t.Run("preserved when supplied", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Request-ID", "req-42")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "req-42", captured)
		assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestTokenRateLimiter(t *testing.T) {
	logger := zap.NewNop()
	rl := NewTokenRateLimiter(1, 2, httperr.NewHandler(logger), logger)

	h := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	poll := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/clientrequest", nil)
		req = req.WithContext(context.WithValue(req.Context(), WebhookTokenKey, token))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// Burst of 2 passes, the third is throttled.
	assert.Equal(t, http.StatusOK, poll("tok-1"))
	assert.Equal(t, http.StatusOK, poll("tok-1"))
	assert.Equal(t, http.StatusTooManyRequests, poll("tok-1"))

	// Other tokens have their own buckets.
	assert.Equal(t, http.StatusOK, poll("tok-2"))
}
