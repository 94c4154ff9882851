package store

import (
	"context"
	"errors"
	"time"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// TenantStore is the durable backing store for all per-tenant relay state:
// the global set of known tenant ids, per-tenant credentials, the persisted
// subscribed-device-id set and the pending device event queue.
//
// All tenant state lives in the store, never in process memory, so that a
// restart cannot diverge the subscription state from what SmartThings holds.
type TenantStore interface {
	// Known-tenant registry
	RegisterTenant(ctx context.Context, tenantID string) error
	DeregisterTenant(ctx context.Context, tenantID string) error
	IsRegistered(ctx context.Context, tenantID string) (bool, error)
	TenantCount(ctx context.Context) (int64, error)

	// Credentials
	SetCredentials(ctx context.Context, tenantID string, creds model.Credentials) error
	Credentials(ctx context.Context, tenantID string) (model.Credentials, error)

	// Subscribed device ids
	SubscribedDeviceIDs(ctx context.Context, tenantID string) (map[string]struct{}, error)
	AddSubscribedDeviceIDs(ctx context.Context, tenantID string, deviceIDs []string) error
	RemoveSubscribedDeviceIDs(ctx context.Context, tenantID string, deviceIDs []string) error

	// Pending event queue. AddEvent is idempotent per eventID: a duplicate
	// push overwrites the same record instead of creating a second entry.
	AddEvent(ctx context.Context, tenantID, eventID string, event model.DeviceEvent, ttl time.Duration) error
	DrainEvents(ctx context.Context, tenantID string) ([]model.DeviceEvent, error)

	// PurgeTenant removes every per-tenant key: credentials, subscribed set,
	// event index and all pending event records.
	PurgeTenant(ctx context.Context, tenantID string) error

	// Health check
	Ping(ctx context.Context) error
	Close() error
}
