package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/model"
)

const keyPrefix = "hsws"

// Hash field names for credentials and event records.
const (
	fieldAuthToken    = "authToken"
	fieldRefreshToken = "refreshToken"
	fieldDeviceID     = "deviceId"
	fieldValue        = "value"
	fieldComponentID  = "componentId"
	fieldCapability   = "capability"
	fieldAttribute    = "attribute"
)

// RedisStore implements TenantStore backed by Redis. Per-tenant state is
// partitioned by key: the store itself serializes access to any given key, so
// the client is safe for concurrent use by many in-flight tenant operations.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed tenant store and verifies connectivity.
func NewRedisStore(host string, port int, password string, db int, tlsEnabled bool, logger *zap.Logger) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	}
	if tlsEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, logger: logger}, nil
}

// RegisterTenant adds the tenant id to the global known-tenant set.
func (s *RedisStore) RegisterTenant(ctx context.Context, tenantID string) error {
	if err := s.client.SAdd(ctx, s.tenantsKey(), tenantID).Err(); err != nil {
		return fmt.Errorf("redis: register tenant %s: %w", tenantID, err)
	}
	return nil
}

// DeregisterTenant removes the tenant id from the global known-tenant set.
func (s *RedisStore) DeregisterTenant(ctx context.Context, tenantID string) error {
	if err := s.client.SRem(ctx, s.tenantsKey(), tenantID).Err(); err != nil {
		return fmt.Errorf("redis: deregister tenant %s: %w", tenantID, err)
	}
	return nil
}

// IsRegistered checks membership of the global known-tenant set.
func (s *RedisStore) IsRegistered(ctx context.Context, tenantID string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.tenantsKey(), tenantID).Result()
	if err != nil {
		return false, fmt.Errorf("redis: check tenant %s: %w", tenantID, err)
	}
	return ok, nil
}

// TenantCount returns the number of registered tenants.
func (s *RedisStore) TenantCount(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, s.tenantsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count tenants: %w", err)
	}
	return n, nil
}

// SetCredentials stores the tenant's token pair, overwriting any prior pair.
func (s *RedisStore) SetCredentials(ctx context.Context, tenantID string, creds model.Credentials) error {
	err := s.client.HSet(ctx, s.credentialsKey(tenantID), map[string]interface{}{
		fieldAuthToken:    creds.AuthToken,
		fieldRefreshToken: creds.RefreshToken,
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: set credentials for tenant %s: %w", tenantID, err)
	}
	return nil
}

// Credentials retrieves the tenant's token pair. Returns ErrNotFound when the
// tenant has no stored credentials.
func (s *RedisStore) Credentials(ctx context.Context, tenantID string) (model.Credentials, error) {
	fields, err := s.client.HGetAll(ctx, s.credentialsKey(tenantID)).Result()
	if err != nil {
		return model.Credentials{}, fmt.Errorf("redis: get credentials for tenant %s: %w", tenantID, err)
	}
	if len(fields) == 0 {
		return model.Credentials{}, fmt.Errorf("credentials for tenant %s: %w", tenantID, ErrNotFound)
	}
	return model.Credentials{
		AuthToken:    fields[fieldAuthToken],
		RefreshToken: fields[fieldRefreshToken],
	}, nil
}

// SubscribedDeviceIDs reads the persisted subscribed-device set.
func (s *RedisStore) SubscribedDeviceIDs(ctx context.Context, tenantID string) (map[string]struct{}, error) {
	members, err := s.client.SMembers(ctx, s.subscriptionsKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get subscribed devices for tenant %s: %w", tenantID, err)
	}
	ids := make(map[string]struct{}, len(members))
	for _, id := range members {
		ids[id] = struct{}{}
	}
	return ids, nil
}

// AddSubscribedDeviceIDs adds device ids to the persisted subscribed set.
func (s *RedisStore) AddSubscribedDeviceIDs(ctx context.Context, tenantID string, deviceIDs []string) error {
	if len(deviceIDs) == 0 {
		return nil
	}
	if err := s.client.SAdd(ctx, s.subscriptionsKey(tenantID), toMembers(deviceIDs)...).Err(); err != nil {
		return fmt.Errorf("redis: add subscribed devices for tenant %s: %w", tenantID, err)
	}
	return nil
}

// RemoveSubscribedDeviceIDs removes device ids from the persisted subscribed set.
func (s *RedisStore) RemoveSubscribedDeviceIDs(ctx context.Context, tenantID string, deviceIDs []string) error {
	if len(deviceIDs) == 0 {
		return nil
	}
	if err := s.client.SRem(ctx, s.subscriptionsKey(tenantID), toMembers(deviceIDs)...).Err(); err != nil {
		return fmt.Errorf("redis: remove subscribed devices for tenant %s: %w", tenantID, err)
	}
	return nil
}

// AddEvent buffers a device event under its upstream event id with the given
// TTL. The event-id index set gets its TTL refreshed on every append so that
// an abandoned tenant's queue expires as a whole.
func (s *RedisStore) AddEvent(ctx context.Context, tenantID, eventID string, event model.DeviceEvent, ttl time.Duration) error {
	eventKey := s.eventKey(tenantID, eventID)
	indexKey := s.eventIndexKey(tenantID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, eventKey, map[string]interface{}{
		fieldDeviceID:    event.DeviceID,
		fieldValue:       event.Value,
		fieldComponentID: event.ComponentID,
		fieldCapability:  event.Capability,
		fieldAttribute:   event.Attribute,
	})
	pipe.Expire(ctx, eventKey, ttl)
	pipe.SAdd(ctx, indexKey, eventID)
	pipe.Expire(ctx, indexKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: add event %s for tenant %s: %w", eventID, tenantID, err)
	}
	return nil
}

// DrainEvents atomically removes and returns all buffered events for the
// tenant, in no guaranteed order. Event records whose TTL elapsed since they
// were indexed are dropped from the index and skipped. Returns an empty slice,
// never an error, when the tenant has no buffer.
func (s *RedisStore) DrainEvents(ctx context.Context, tenantID string) ([]model.DeviceEvent, error) {
	indexKey := s.eventIndexKey(tenantID)

	eventIDs, err := s.scanMembers(ctx, indexKey)
	if err != nil {
		return nil, fmt.Errorf("redis: scan event index for tenant %s: %w", tenantID, err)
	}

	events := make([]model.DeviceEvent, 0, len(eventIDs))
	for _, eventID := range eventIDs {
		eventKey := s.eventKey(tenantID, eventID)
		fields, err := s.client.HGetAll(ctx, eventKey).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: read event %s for tenant %s: %w", eventID, tenantID, err)
		}
		if len(fields) == 0 {
			// Expired record, drop the dangling index entry.
			if err := s.client.SRem(ctx, indexKey, eventID).Err(); err != nil {
				return nil, fmt.Errorf("redis: prune event index for tenant %s: %w", tenantID, err)
			}
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, eventKey)
		pipe.SRem(ctx, indexKey, eventID)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("redis: remove event %s for tenant %s: %w", eventID, tenantID, err)
		}

		events = append(events, model.DeviceEvent{
			DeviceID:    fields[fieldDeviceID],
			Value:       fields[fieldValue],
			ComponentID: fields[fieldComponentID],
			Capability:  fields[fieldCapability],
			Attribute:   fields[fieldAttribute],
		})
	}
	return events, nil
}

// PurgeTenant deletes every per-tenant key, including all pending event records.
func (s *RedisStore) PurgeTenant(ctx context.Context, tenantID string) error {
	keys := []string{
		s.credentialsKey(tenantID),
		s.subscriptionsKey(tenantID),
		s.eventIndexKey(tenantID),
	}

	iter := s.client.Scan(ctx, 0, fmt.Sprintf("%s:%s:events:*", keyPrefix, tenantID), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis: scan event keys for tenant %s: %w", tenantID, err)
	}

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: purge tenant %s: %w", tenantID, err)
	}
	return nil
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// scanMembers collects all members of a set via SSCAN.
func (s *RedisStore) scanMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	iter := s.client.SScan(ctx, key, 0, "", 0).Iterator()
	for iter.Next(ctx) {
		members = append(members, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

func (s *RedisStore) tenantsKey() string {
	return fmt.Sprintf("%s:tenants", keyPrefix)
}

func (s *RedisStore) credentialsKey(tenantID string) string {
	return fmt.Sprintf("%s:%s:credentials", keyPrefix, tenantID)
}

func (s *RedisStore) subscriptionsKey(tenantID string) string {
	return fmt.Sprintf("%s:%s:subscriptions", keyPrefix, tenantID)
}

func (s *RedisStore) eventIndexKey(tenantID string) string {
	return fmt.Sprintf("%s:%s:events", keyPrefix, tenantID)
}

func (s *RedisStore) eventKey(tenantID, eventID string) string {
	return fmt.Sprintf("%s:%s:events:%s", keyPrefix, tenantID, eventID)
}

func toMembers(ids []string) []interface{} {
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return members
}
