package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/model"
)

func newTestSession(t *testing.T, handler http.Handler) (Session, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewHTTPClient(server.URL, 5*time.Second, zap.NewNop())
	return client.Session("app-1", model.Credentials{AuthToken: "tok-1"}), server
}

func TestSubscribeToDevices_OneRequestPerDevice(t *testing.T) {
	var requests []subscriptionRequest
	session, _ := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/installedapps/app-1/subscriptions", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body subscriptionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		requests = append(requests, body)
		w.WriteHeader(http.StatusOK)
	}))

	entries := NewDeviceConfigEntries([]string{"d1", "d2"})
	require.NoError(t, session.SubscribeToDevices(context.Background(), entries, "*", "*", "handler"))

	require.Len(t, requests, 2)
	assert.Equal(t, "DEVICE", requests[0].SourceType)
	assert.Equal(t, "d1", requests[0].Device.DeviceID)
	assert.Equal(t, "main", requests[0].Device.ComponentID)
	assert.Equal(t, "*", requests[0].Device.Capability)
	assert.Equal(t, "*", requests[0].Device.Attribute)
	assert.True(t, requests[0].Device.StateChangeOnly)
	assert.Equal(t, "handler", requests[0].Device.SubscriptionName)
	assert.Equal(t, "d2", requests[1].Device.DeviceID)
}

func TestSubscribeToDevices_FailureAbortsBatch(t *testing.T) {
	var calls int
	session, _ := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			http.Error(w, `{"error":"limit exceeded"}`, http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	entries := NewDeviceConfigEntries([]string{"d1", "d2", "d3"})
	err := session.SubscribeToDevices(context.Background(), entries, "*", "*", "handler")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, 2, calls)
}

func TestListSubscriptions(t *testing.T) {
	session, _ := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/installedapps/app-1/subscriptions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{"id":"s1","sourceType":"DEVICE","device":{"deviceId":"d1","componentId":"main"}},
			{"id":"s2","sourceType":"DEVICE"}
		]}`))
	}))

	subscriptions, err := session.ListSubscriptions(context.Background())
	require.NoError(t, err)
	require.Len(t, subscriptions, 2)
	assert.Equal(t, "s1", subscriptions[0].ID)
	require.NotNil(t, subscriptions[0].Device)
	assert.Equal(t, "d1", subscriptions[0].Device.DeviceID)
	assert.Nil(t, subscriptions[1].Device)
}

func TestDeleteSubscription(t *testing.T) {
	var path string
	session, _ := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, session.DeleteSubscription(context.Background(), "s1"))
	assert.Equal(t, "/installedapps/app-1/subscriptions/s1", path)
}

func TestNonSuccessStatusMapsToErrUpstream(t *testing.T) {
	session, _ := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))

	_, err := session.ListSubscriptions(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "status 401")
}

func TestNewDeviceConfigEntries(t *testing.T) {
	entries := NewDeviceConfigEntries([]string{"d1"})
	require.Len(t, entries, 1)
	assert.Equal(t, "DEVICE", entries[0].ValueType)
	assert.Equal(t, "d1", entries[0].DeviceConfig.DeviceID)
	assert.Equal(t, "main", entries[0].DeviceConfig.ComponentID)
	assert.Equal(t, []string{"r"}, entries[0].DeviceConfig.Permissions)
}
