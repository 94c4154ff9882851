package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/model"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/store"
)

// TenantService manages the lifecycle of per-tenant state. A tenant either
// has all of its state present (registered id, credentials, subscribed set,
// queue) or none of it: NONEXISTENT -> ACTIVE -> NONEXISTENT, no intermediate
// stages.
type TenantService struct {
	store       store.TenantStore
	credentials *CredentialService
	logger      *zap.Logger
}

// NewTenantService creates a new tenant lifecycle service
func NewTenantService(tenantStore store.TenantStore, credentials *CredentialService, logger *zap.Logger) *TenantService {
	return &TenantService{
		store:       tenantStore,
		credentials: credentials,
		logger:      logger,
	}
}

// OnInstalled creates the tenant: registers the id in the known-tenant set
// and stores its credentials. The subscribed set and event queue start empty
// by absence. Install notifications can be redelivered, so calling this twice
// with the same id leaves exactly one tenant record with the latest
// credentials.
func (s *TenantService) OnInstalled(ctx context.Context, tenantID, authToken, refreshToken string) error {
	if err := s.store.RegisterTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("failed to register tenant %s: %w", tenantID, err)
	}
	if err := s.credentials.Set(ctx, tenantID, model.Credentials{
		AuthToken:    authToken,
		RefreshToken: refreshToken,
	}); err != nil {
		return err
	}

	s.logger.Info("tenant installed", zap.String("tenant_id", tenantID))
	return nil
}

// OnUninstalled destroys the tenant: removes the id from the known-tenant set
// and deletes every per-tenant key, buffered events included. Uninstalling a
// tenant that does not exist is not an error.
func (s *TenantService) OnUninstalled(ctx context.Context, tenantID string) error {
	if err := s.store.DeregisterTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("failed to deregister tenant %s: %w", tenantID, err)
	}
	if err := s.store.PurgeTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("failed to purge tenant %s: %w", tenantID, err)
	}

	s.logger.Info("tenant uninstalled", zap.String("tenant_id", tenantID))
	return nil
}

// IsKnownTenant reports whether the presented token maps to a live tenant.
// Used to authenticate polling requests before any other tenant operation.
func (s *TenantService) IsKnownTenant(ctx context.Context, tenantID string) (bool, error) {
	known, err := s.store.IsRegistered(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to check tenant %s: %w", tenantID, err)
	}
	return known, nil
}

// TenantCount returns the number of live tenants, for diagnostics.
func (s *TenantService) TenantCount(ctx context.Context) (int64, error) {
	count, err := s.store.TenantCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count tenants: %w", err)
	}
	return count, nil
}
