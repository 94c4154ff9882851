// Package upstream is the narrow boundary to the SmartThings subscriptions
// API. The reconciler only ever talks to a Session; everything behind it
// (auth headers, endpoint shapes, fan-out) is this package's business.
package upstream

import (
	"context"
	"errors"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/model"
)

// ErrUpstream is returned when the SmartThings API rejects a
// subscribe/unsubscribe/list call.
var ErrUpstream = errors.New("upstream subscription API error")

// DeviceConfigEntry describes one device to subscribe to, in the shape the
// SmartThings subscriptions endpoint expects.
type DeviceConfigEntry struct {
	ValueType    string       `json:"valueType"`
	DeviceConfig DeviceConfig `json:"deviceConfig"`
}

// DeviceConfig identifies the device component covered by a subscription.
type DeviceConfig struct {
	DeviceID    string   `json:"deviceId"`
	ComponentID string   `json:"componentId"`
	Permissions []string `json:"permissions"`
}

// Subscription is one upstream subscription record as listed by the API.
// Entries whose id or device detail is missing are malformed and must be
// ignored for deletion purposes.
type Subscription struct {
	ID         string                    `json:"id"`
	SourceType string                    `json:"sourceType"`
	Device     *DeviceSubscriptionDetail `json:"device,omitempty"`
}

// DeviceSubscriptionDetail is the device-scoped portion of a subscription.
type DeviceSubscriptionDetail struct {
	DeviceID         string `json:"deviceId"`
	ComponentID      string `json:"componentId,omitempty"`
	Capability       string `json:"capability,omitempty"`
	Attribute        string `json:"attribute,omitempty"`
	StateChangeOnly  bool   `json:"stateChangeOnly,omitempty"`
	SubscriptionName string `json:"subscriptionName,omitempty"`
}

// Session is an authenticated view of one installed app's subscriptions.
//
// SubscribeToDevices covers the whole batch in one call at this boundary; the
// HTTP implementation may fan out internally because the REST API takes one
// subscription resource per device. There is no batched delete: the API only
// removes subscriptions one id at a time.
type Session interface {
	SubscribeToDevices(ctx context.Context, entries []DeviceConfigEntry, capability, attribute, handlerName string) error
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	DeleteSubscription(ctx context.Context, subscriptionID string) error
}

// Client produces authenticated sessions from a tenant's cached credentials.
type Client interface {
	Session(tenantID string, creds model.Credentials) Session
}

// NewDeviceConfigEntries builds subscription config entries for a batch of
// device ids, main component, read permission.
func NewDeviceConfigEntries(deviceIDs []string) []DeviceConfigEntry {
	entries := make([]DeviceConfigEntry, 0, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		entries = append(entries, DeviceConfigEntry{
			ValueType: "DEVICE",
			DeviceConfig: DeviceConfig{
				DeviceID:    deviceID,
				ComponentID: "main",
				Permissions: []string{"r"},
			},
		})
	}
	return entries
}
