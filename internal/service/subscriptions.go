package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/store"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/upstream"
)

// DeviceEventHandlerName scopes every subscription this service creates. It
// is shared with the lifecycle event registration so that pushed events can
// be matched back to the relay.
const DeviceEventHandlerName = "HSWSDeviceEventHandler"

// Subscriptions use wildcard capability and attribute: the relay forwards
// every state change, clients filter.
const wildcard = "*"

// SubscriptionService keeps each tenant's upstream device subscriptions in
// sync with the device list its polling client declares on every poll.
type SubscriptionService struct {
	store       store.TenantStore
	credentials *CredentialService
	upstream    upstream.Client
	logger      *zap.Logger

	// Reconciliation is serialized per tenant: two in-flight polls for the
	// same tenant would otherwise diff against stale views of the subscribed
	// set. Lock entries are never reclaimed; tenant cardinality is small.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSubscriptionService creates a new subscription reconciler
func NewSubscriptionService(
	tenantStore store.TenantStore,
	credentials *CredentialService,
	upstreamClient upstream.Client,
	logger *zap.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		store:       tenantStore,
		credentials: credentials,
		upstream:    upstreamClient,
		logger:      logger,
		locks:       make(map[string]*sync.Mutex),
	}
}

// Reconcile diffs the client's declared device list against the persisted
// subscribed set and issues the minimal upstream calls to converge them.
//
// The diff is computed from one consistent read of the persisted set, so a
// device id can never appear in both the add and remove deltas. When both
// deltas are empty, which is the common case on every poll, no upstream call
// is made. On subscribe failure the persisted set is left unchanged and the
// error propagates: the next poll re-supplies the declared list and retries
// the same delta. Partial unsubscribe failure is tolerated: only the
// successfully removed ids leave the persisted set.
func (s *SubscriptionService) Reconcile(ctx context.Context, tenantID string, declaredDeviceIDs []string) error {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	subscribed, err := s.store.SubscribedDeviceIDs(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to read subscribed devices for tenant %s: %w", tenantID, err)
	}

	toAdd, toRemove := diffDeviceIDs(declaredDeviceIDs, subscribed)
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return nil
	}

	creds, err := s.credentials.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	session := s.upstream.Session(tenantID, creds)

	if len(toAdd) > 0 {
		if err := s.subscribeDevices(ctx, session, tenantID, toAdd); err != nil {
			return err
		}
	}
	if len(toRemove) > 0 {
		if err := s.unsubscribeDevices(ctx, session, tenantID, toRemove); err != nil {
			return err
		}
	}
	return nil
}

// subscribeDevices issues one batched subscribe call for the whole delta and
// persists it only on success.
func (s *SubscriptionService) subscribeDevices(ctx context.Context, session upstream.Session, tenantID string, toAdd []string) error {
	s.logger.Debug("subscribing to newly declared devices",
		zap.String("tenant_id", tenantID),
		zap.Int("device_count", len(toAdd)))

	entries := upstream.NewDeviceConfigEntries(toAdd)
	if err := session.SubscribeToDevices(ctx, entries, wildcard, wildcard, DeviceEventHandlerName); err != nil {
		return fmt.Errorf("failed to subscribe tenant %s to declared devices: %w", tenantID, err)
	}

	if err := s.store.AddSubscribedDeviceIDs(ctx, tenantID, toAdd); err != nil {
		return fmt.Errorf("failed to persist subscribed devices for tenant %s: %w", tenantID, err)
	}

	s.logger.Info("subscribed to device events",
		zap.String("tenant_id", tenantID),
		zap.Int("device_count", len(toAdd)))
	return nil
}

// unsubscribeDevices lists the upstream subscriptions, deletes the ones whose
// device id is in the remove delta, and persists only the ids whose delete
// succeeded. A malformed listing entry (no usable id or device id) is left
// as-is. Individual delete failures are logged and retried on the next poll.
func (s *SubscriptionService) unsubscribeDevices(ctx context.Context, session upstream.Session, tenantID string, toRemove []string) error {
	subscriptions, err := session.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions for tenant %s: %w", tenantID, err)
	}

	removeSet := make(map[string]struct{}, len(toRemove))
	for _, id := range toRemove {
		removeSet[id] = struct{}{}
	}

	var removed []string
	for _, subscription := range subscriptions {
		if subscription.ID == "" || subscription.Device == nil || subscription.Device.DeviceID == "" {
			continue
		}
		deviceID := subscription.Device.DeviceID
		if _, ok := removeSet[deviceID]; !ok {
			continue
		}
		if err := session.DeleteSubscription(ctx, subscription.ID); err != nil {
			s.logger.Warn("failed to delete device subscription, will retry on next poll",
				zap.String("tenant_id", tenantID),
				zap.String("device_id", deviceID),
				zap.String("subscription_id", subscription.ID),
				zap.Error(err))
			continue
		}
		removed = append(removed, deviceID)
	}

	if len(removed) == 0 {
		return nil
	}
	if err := s.store.RemoveSubscribedDeviceIDs(ctx, tenantID, removed); err != nil {
		return fmt.Errorf("failed to persist unsubscribed devices for tenant %s: %w", tenantID, err)
	}

	s.logger.Info("unsubscribed from device events",
		zap.String("tenant_id", tenantID),
		zap.Int("device_count", len(removed)))
	return nil
}

// tenantLock returns the mutex serializing reconciliation for one tenant.
func (s *SubscriptionService) tenantLock(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[tenantID] = lock
	}
	return lock
}

// diffDeviceIDs computes toAdd = declared - subscribed and
// toRemove = subscribed - declared from a single view of both sets.
func diffDeviceIDs(declared []string, subscribed map[string]struct{}) (toAdd, toRemove []string) {
	declaredSet := make(map[string]struct{}, len(declared))
	for _, id := range declared {
		if id == "" {
			continue
		}
		declaredSet[id] = struct{}{}
	}

	for id := range declaredSet {
		if _, ok := subscribed[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}
	for id := range subscribed {
		if _, ok := declaredSet[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	return toAdd, toRemove
}
