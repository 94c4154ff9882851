package smartapp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/metrics"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/model"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/service"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/store"
)

// Prometheus collectors register against the default registry once per test
// binary, so all tests share one Metrics instance.
var testMetrics = metrics.NewMetrics()

type handlerFixture struct {
	handler *Handler
	store   *store.MemoryStore
	tenants *service.TenantService
	events  *service.EventService
}

func newHandlerFixture() *handlerFixture {
	s := store.NewMemoryStore()
	logger := zap.NewNop()
	credentials := service.NewCredentialService(s, logger)
	tenants := service.NewTenantService(s, credentials, logger)
	events := service.NewEventService(s, logger)
	return &handlerFixture{
		handler: NewHandler(tenants, events, testMetrics, "test-relay", logger),
		store:   s,
		tenants: tenants,
		events:  events,
	}
}

func (f *handlerFixture) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	f.handler.HandleLifecycle(rec, req)
	return rec
}

func TestHandleLifecycle_PingEchoesChallenge(t *testing.T) {
	f := newHandlerFixture()

	rec := f.post(t, `{"lifecycle":"PING","executionId":"x1","pingData":{"challenge":"c-123"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		PingData PingData `json:"pingData"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "c-123", resp.PingData.Challenge)
}

func TestHandleLifecycle_ConfirmationReturnsTargetURL(t *testing.T) {
	f := newHandlerFixture()

	rec := f.post(t, `{"lifecycle":"CONFIRMATION","confirmationData":{"appId":"app","confirmationUrl":"https://api.smartthings.com/confirm?x=1"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://api.smartthings.com/confirm?x=1", resp["targetUrl"])
}

func TestHandleLifecycle_InstallRegistersTenant(t *testing.T) {
	f := newHandlerFixture()

	rec := f.post(t, `{"lifecycle":"INSTALL","installData":{"authToken":"a1","refreshToken":"r1","installedApp":{"installedAppId":"t1","locationId":"l1"}}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	known, err := f.tenants.IsKnownTenant(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, known)

	creds, err := f.store.Credentials(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, model.Credentials{AuthToken: "a1", RefreshToken: "r1"}, creds)
}

func TestHandleLifecycle_UpdateRotatesCredentials(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()
	require.NoError(t, f.tenants.OnInstalled(ctx, "t1", "a1", "r1"))

	rec := f.post(t, `{"lifecycle":"UPDATE","updateData":{"authToken":"a2","refreshToken":"r2","installedApp":{"installedAppId":"t1"}}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	creds, err := f.store.Credentials(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "a2", creds.AuthToken)
}

func TestHandleLifecycle_UninstallPurgesTenant(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()
	require.NoError(t, f.tenants.OnInstalled(ctx, "t1", "a1", "r1"))

	rec := f.post(t, `{"lifecycle":"UNINSTALL","uninstallData":{"installedApp":{"installedAppId":"t1"}}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	known, err := f.tenants.IsKnownTenant(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, known)
}

func TestHandleLifecycle_EventBuffersDeviceEvents(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()
	require.NoError(t, f.tenants.OnInstalled(ctx, "t1", "a1", "r1"))

	rec := f.post(t, `{"lifecycle":"EVENT","eventData":{
		"installedApp":{"installedAppId":"t1"},
		"events":[
			{"eventType":"DEVICE_EVENT","deviceEvent":{"eventId":"e1","deviceId":"d1","componentId":"main","capability":"switch","attribute":"switch","value":"on"}},
			{"eventType":"DEVICE_EVENT","deviceEvent":{"eventId":"e2","deviceId":"d2","componentId":"main","capability":"switchLevel","attribute":"level","value":42}},
			{"eventType":"TIMER_EVENT"}
		]}}`)

	require.Equal(t, http.StatusOK, rec.Code)

	events, err := f.events.Drain(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, events, 2)

	byDevice := map[string]model.DeviceEvent{}
	for _, e := range events {
		byDevice[e.DeviceID] = e
	}
	assert.Equal(t, "on", byDevice["d1"].Value)
	assert.Equal(t, "42", byDevice["d2"].Value)
}

func TestHandleLifecycle_ConfigurationPhases(t *testing.T) {
	f := newHandlerFixture()

	rec := f.post(t, `{"lifecycle":"CONFIGURATION","configurationData":{"installedAppId":"t1","phase":"INITIALIZE"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "initialize")

	rec = f.post(t, `{"lifecycle":"CONFIGURATION","configurationData":{"installedAppId":"t1","phase":"PAGE","pageId":"1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "page")
}

func TestHandleLifecycle_MissingDataIsBadRequest(t *testing.T) {
	f := newHandlerFixture()

	rec := f.post(t, `{"lifecycle":"INSTALL"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.post(t, `{"lifecycle":"EVENT"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLifecycle_RejectsUnknownLifecycle(t *testing.T) {
	f := newHandlerFixture()

	rec := f.post(t, `{"lifecycle":"EXECUTE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLifecycle_RejectsMalformedBody(t *testing.T) {
	f := newHandlerFixture()

	rec := f.post(t, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeviceEventValueString(t *testing.T) {
	e := &DeviceEvent{Value: json.RawMessage(`"on"`)}
	assert.Equal(t, "on", e.ValueString())

	e = &DeviceEvent{Value: json.RawMessage(`72.5`)}
	assert.Equal(t, "72.5", e.ValueString())

	e = &DeviceEvent{Value: json.RawMessage(`true`)}
	assert.Equal(t, "true", e.ValueString())
}
