package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/model"
	"github.com/duddu/homebridge-smartthings-webhook-server/internal/store"
)

// CredentialService stores the per-tenant token pair needed to re-establish
// an authenticated SmartThings session. The refresh token rotates more often
// than any other tenant state, so Set is an unconditional overwrite.
type CredentialService struct {
	store  store.TenantStore
	logger *zap.Logger
}

// NewCredentialService creates a new credential service
func NewCredentialService(tenantStore store.TenantStore, logger *zap.Logger) *CredentialService {
	return &CredentialService{
		store:  tenantStore,
		logger: logger,
	}
}

// Get retrieves the tenant's token pair. The error wraps store.ErrNotFound
// when the tenant has no stored credentials.
func (s *CredentialService) Get(ctx context.Context, tenantID string) (model.Credentials, error) {
	creds, err := s.store.Credentials(ctx, tenantID)
	if err != nil {
		return model.Credentials{}, fmt.Errorf("failed to get credentials for tenant %s: %w", tenantID, err)
	}
	return creds, nil
}

// Set overwrites the tenant's token pair. Called at install time and on every
// token refresh callback.
func (s *CredentialService) Set(ctx context.Context, tenantID string, creds model.Credentials) error {
	if err := s.store.SetCredentials(ctx, tenantID, creds); err != nil {
		return fmt.Errorf("failed to set credentials for tenant %s: %w", tenantID, err)
	}
	s.logger.Debug("stored credentials", zap.String("tenant_id", tenantID))
	return nil
}
