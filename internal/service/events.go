package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/model"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/store"
)

// EventTTL bounds storage growth from abandoned tenants: a buffered event
// expires after this window even if never drained.
const EventTTL = 7 * 24 * time.Hour

// EventService buffers device events per tenant until a polling client
// drains them.
type EventService struct {
	store  store.TenantStore
	logger *zap.Logger
}

// NewEventService creates a new event service
func NewEventService(tenantStore store.TenantStore, logger *zap.Logger) *EventService {
	return &EventService{
		store:  tenantStore,
		logger: logger,
	}
}

// Append buffers a device event for the tenant, keyed by the upstream event
// id so a redelivered event overwrites itself instead of duplicating.
//
// An event arriving for an unregistered tenant is dropped with a warning and
// no error: deliveries race uninstall notifications and that race is expected.
func (s *EventService) Append(ctx context.Context, tenantID, eventID string, event model.DeviceEvent) error {
	registered, err := s.store.IsRegistered(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to check tenant %s before buffering event: %w", tenantID, err)
	}
	if !registered {
		s.logger.Warn("dropping device event for unknown tenant",
			zap.String("tenant_id", tenantID),
			zap.String("event_id", eventID),
			zap.String("device_id", event.DeviceID))
		return nil
	}

	if err := s.store.AddEvent(ctx, tenantID, eventID, event, EventTTL); err != nil {
		return fmt.Errorf("failed to buffer event %s for tenant %s: %w", eventID, tenantID, err)
	}

	s.logger.Debug("buffered device event",
		zap.String("tenant_id", tenantID),
		zap.String("event_id", eventID),
		zap.String("device_id", event.DeviceID),
		zap.String("attribute", event.Attribute))
	return nil
}

// Drain atomically removes and returns all buffered events for the tenant,
// in no guaranteed order. An unknown tenant or an empty buffer both yield an
// empty slice, never an error.
func (s *EventService) Drain(ctx context.Context, tenantID string) ([]model.DeviceEvent, error) {
	events, err := s.store.DrainEvents(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to drain events for tenant %s: %w", tenantID, err)
	}
	return events, nil
}
