package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/model"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/store"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/upstream"
)

func TestTenantService_InstallAndUninstall(t *testing.T) {
	s := store.NewMemoryStore()
	logger := zap.NewNop()
	credentials := NewCredentialService(s, logger)
	tenants := NewTenantService(s, credentials, logger)
	ctx := context.Background()

	known, err := tenants.IsKnownTenant(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, known)

	require.NoError(t, tenants.OnInstalled(ctx, "t1", "a1", "r1"))

	known, err = tenants.IsKnownTenant(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, known)

	creds, err := credentials.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.Credentials{AuthToken: "a1", RefreshToken: "r1"}, creds)

	require.NoError(t, tenants.OnUninstalled(ctx, "t1"))

	known, err = tenants.IsKnownTenant(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, known)

	_, err = credentials.Get(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTenantService_ReinstallOverwritesCredentials(t *testing.T) {
	s := store.NewMemoryStore()
	logger := zap.NewNop()
	credentials := NewCredentialService(s, logger)
	tenants := NewTenantService(s, credentials, logger)
	ctx := context.Background()

	require.NoError(t, tenants.OnInstalled(ctx, "t1", "a1", "r1"))
	require.NoError(t, tenants.OnInstalled(ctx, "t1", "a2", "r2"))

	count, err := tenants.TenantCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	creds, err := credentials.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "a2", creds.AuthToken)
	assert.Equal(t, "r2", creds.RefreshToken)
}

func TestTenantService_UninstallUnknownTenantIsNoop(t *testing.T) {
	s := store.NewMemoryStore()
	logger := zap.NewNop()
	tenants := NewTenantService(s, NewCredentialService(s, logger), logger)

	require.NoError(t, tenants.OnUninstalled(context.Background(), "ghost"))
}

// Walks the whole tenant lifecycle: install, redelivered event, subscription
// convergence across two polls, uninstall.
func TestTenantLifecycleEndToEnd(t *testing.T) {
	s := store.NewMemoryStore()
	logger := zap.NewNop()
	session := &MockSession{}
	credentials := NewCredentialService(s, logger)
	tenants := NewTenantService(s, credentials, logger)
	events := NewEventService(s, logger)
	subscriptions := NewSubscriptionService(s, credentials, &fakeClient{session: session}, logger)
	ctx := context.Background()

	require.NoError(t, tenants.OnInstalled(ctx, "t1", "a1", "r1"))

	event := model.DeviceEvent{DeviceID: "d1", Value: "on", ComponentID: "main", Capability: "switch", Attribute: "switch"}
	require.NoError(t, events.Append(ctx, "t1", "e1", event))
	require.NoError(t, events.Append(ctx, "t1", "e1", event))

	drained, err := events.Drain(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, drained, 1)
	assert.Equal(t, event, drained[0])

	session.On("SubscribeToDevices", mock.Anything, mock.MatchedBy(func(entries []upstream.DeviceConfigEntry) bool {
		return len(entries) == 2
	}), "*", "*", DeviceEventHandlerName).Return(nil).Once()
	require.NoError(t, subscriptions.Reconcile(ctx, "t1", []string{"d1", "d2"}))
	assert.Equal(t, []string{"d1", "d2"}, subscribedIDs(t, s, "t1"))

	session.On("ListSubscriptions", mock.Anything).Return([]upstream.Subscription{
		{ID: "s1", Device: &upstream.DeviceSubscriptionDetail{DeviceID: "d1"}},
		{ID: "s2", Device: &upstream.DeviceSubscriptionDetail{DeviceID: "d2"}},
	}, nil).Once()
	session.On("DeleteSubscription", mock.Anything, "s1").Return(nil).Once()
	require.NoError(t, subscriptions.Reconcile(ctx, "t1", []string{"d2"}))
	assert.Equal(t, []string{"d2"}, subscribedIDs(t, s, "t1"))
	session.AssertExpectations(t)

	require.NoError(t, tenants.OnUninstalled(ctx, "t1"))

	known, err := tenants.IsKnownTenant(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, known)

	drained, err = events.Drain(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, drained)
}
