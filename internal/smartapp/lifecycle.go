// Package smartapp decodes SmartThings SmartApp lifecycle callbacks and
// dispatches them to the tenant and event services. Only the lifecycle phases
// the relay needs are handled; configuration pages are answered with a
// minimal static response and OAuth token issuance stays with SmartThings.
package smartapp

import "encoding/json"

// Lifecycle identifies the phase of a SmartApp callback.
type Lifecycle string

// Lifecycle phases delivered to the webhook endpoint.
const (
	LifecyclePing          Lifecycle = "PING"
	LifecycleConfirmation  Lifecycle = "CONFIRMATION"
	LifecycleConfiguration Lifecycle = "CONFIGURATION"
	LifecycleInstall       Lifecycle = "INSTALL"
	LifecycleUpdate        Lifecycle = "UPDATE"
	LifecycleUninstall     Lifecycle = "UNINSTALL"
	LifecycleEvent         Lifecycle = "EVENT"
)

// Request is the envelope of every lifecycle callback. Exactly one of the
// data fields is set, matching the Lifecycle value.
type Request struct {
	Lifecycle        Lifecycle         `json:"lifecycle"`
	ExecutionID      string            `json:"executionId"`
	PingData         *PingData         `json:"pingData,omitempty"`
	ConfirmationData *ConfirmationData `json:"confirmationData,omitempty"`
	ConfigData       *ConfigData       `json:"configurationData,omitempty"`
	InstallData      *InstallData      `json:"installData,omitempty"`
	UpdateData       *UpdateData       `json:"updateData,omitempty"`
	UninstallData    *UninstallData    `json:"uninstallData,omitempty"`
	EventData        *EventData        `json:"eventData,omitempty"`
}

// PingData carries the challenge to echo back.
type PingData struct {
	Challenge string `json:"challenge"`
}

// ConfirmationData carries the URL SmartThings expects to be confirmed
// out-of-band when the webhook is first registered.
type ConfirmationData struct {
	AppID           string `json:"appId"`
	ConfirmationURL string `json:"confirmationUrl"`
}

// ConfigData describes a configuration page request.
type ConfigData struct {
	InstalledAppID string `json:"installedAppId"`
	Phase          string `json:"phase"`
	PageID         string `json:"pageId"`
}

// InstalledApp identifies one installed application instance.
type InstalledApp struct {
	InstalledAppID string `json:"installedAppId"`
	LocationID     string `json:"locationId"`
}

// InstallData carries the credentials granted to a fresh install.
type InstallData struct {
	AuthToken    string       `json:"authToken"`
	RefreshToken string       `json:"refreshToken"`
	InstalledApp InstalledApp `json:"installedApp"`
}

// UpdateData carries rotated credentials for an existing install.
type UpdateData struct {
	AuthToken    string       `json:"authToken"`
	RefreshToken string       `json:"refreshToken"`
	InstalledApp InstalledApp `json:"installedApp"`
}

// UninstallData identifies the install being removed.
type UninstallData struct {
	InstalledApp InstalledApp `json:"installedApp"`
}

// EventData carries a batch of events pushed for one install.
type EventData struct {
	InstalledApp InstalledApp `json:"installedApp"`
	Events       []Event      `json:"events"`
}

// Event is one entry of an EVENT callback.
type Event struct {
	EventType   string       `json:"eventType"`
	DeviceEvent *DeviceEvent `json:"deviceEvent,omitempty"`
}

// EventTypeDevice marks device state change events.
const EventTypeDevice = "DEVICE_EVENT"

// DeviceEvent is the full upstream device event; the relay buffers only a
// short projection of it. Value is kept raw because SmartThings sends
// whatever JSON type the attribute has.
type DeviceEvent struct {
	EventID          string          `json:"eventId"`
	DeviceID         string          `json:"deviceId"`
	ComponentID      string          `json:"componentId"`
	Capability       string          `json:"capability"`
	Attribute        string          `json:"attribute"`
	Value            json.RawMessage `json:"value"`
	SubscriptionName string          `json:"subscriptionName"`
}

// ValueString renders the raw attribute value the way polling clients expect:
// JSON strings unquoted, everything else verbatim.
func (e *DeviceEvent) ValueString() string {
	var s string
	if err := json.Unmarshal(e.Value, &s); err == nil {
		return s
	}
	return string(e.Value)
}
