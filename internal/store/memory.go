package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/model"
)

// MemoryStore implements TenantStore using in-memory maps. It is used in
// tests and as a development fallback when no Redis host is configured; it
// does not survive restarts.
type MemoryStore struct {
	mu          sync.RWMutex
	tenants     map[string]struct{}
	credentials map[string]model.Credentials
	subscribed  map[string]map[string]struct{}
	events      map[string]map[string]bufferedEvent

	// now is replaceable in tests to exercise TTL expiry.
	now func() time.Time
}

type bufferedEvent struct {
	event     model.DeviceEvent
	expiresAt time.Time
}

// NewMemoryStore creates a new in-memory tenant store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:     make(map[string]struct{}),
		credentials: make(map[string]model.Credentials),
		subscribed:  make(map[string]map[string]struct{}),
		events:      make(map[string]map[string]bufferedEvent),
		now:         time.Now,
	}
}

// RegisterTenant adds the tenant id to the known-tenant set.
func (s *MemoryStore) RegisterTenant(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenantID] = struct{}{}
	return nil
}

// DeregisterTenant removes the tenant id from the known-tenant set.
func (s *MemoryStore) DeregisterTenant(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tenants, tenantID)
	return nil
}

// IsRegistered checks membership of the known-tenant set.
func (s *MemoryStore) IsRegistered(_ context.Context, tenantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tenants[tenantID]
	return ok, nil
}

// TenantCount returns the number of registered tenants.
func (s *MemoryStore) TenantCount(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.tenants)), nil
}

// SetCredentials stores the tenant's token pair, overwriting any prior pair.
func (s *MemoryStore) SetCredentials(_ context.Context, tenantID string, creds model.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[tenantID] = creds
	return nil
}

// Credentials retrieves the tenant's token pair.
func (s *MemoryStore) Credentials(_ context.Context, tenantID string) (model.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds, ok := s.credentials[tenantID]
	if !ok {
		return model.Credentials{}, fmt.Errorf("credentials for tenant %s: %w", tenantID, ErrNotFound)
	}
	return creds, nil
}

// SubscribedDeviceIDs reads the persisted subscribed-device set.
func (s *MemoryStore) SubscribedDeviceIDs(_ context.Context, tenantID string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make(map[string]struct{}, len(s.subscribed[tenantID]))
	for id := range s.subscribed[tenantID] {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// AddSubscribedDeviceIDs adds device ids to the persisted subscribed set.
func (s *MemoryStore) AddSubscribedDeviceIDs(_ context.Context, tenantID string, deviceIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subscribed[tenantID]
	if !ok {
		set = make(map[string]struct{})
		s.subscribed[tenantID] = set
	}
	for _, id := range deviceIDs {
		set[id] = struct{}{}
	}
	return nil
}

// RemoveSubscribedDeviceIDs removes device ids from the persisted subscribed set.
func (s *MemoryStore) RemoveSubscribedDeviceIDs(_ context.Context, tenantID string, deviceIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range deviceIDs {
		delete(s.subscribed[tenantID], id)
	}
	return nil
}

// AddEvent buffers a device event under its upstream event id with the given TTL.
func (s *MemoryStore) AddEvent(_ context.Context, tenantID, eventID string, event model.DeviceEvent, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue, ok := s.events[tenantID]
	if !ok {
		queue = make(map[string]bufferedEvent)
		s.events[tenantID] = queue
	}
	queue[eventID] = bufferedEvent{event: event, expiresAt: s.now().Add(ttl)}
	return nil
}

// DrainEvents removes and returns all unexpired buffered events for the tenant.
func (s *MemoryStore) DrainEvents(_ context.Context, tenantID string) ([]model.DeviceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.events[tenantID]
	events := make([]model.DeviceEvent, 0, len(queue))
	now := s.now()
	for _, buffered := range queue {
		if now.After(buffered.expiresAt) {
			continue
		}
		events = append(events, buffered.event)
	}
	delete(s.events, tenantID)
	return events, nil
}

// PurgeTenant deletes every per-tenant entry.
func (s *MemoryStore) PurgeTenant(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, tenantID)
	delete(s.subscribed, tenantID)
	delete(s.events, tenantID)
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
