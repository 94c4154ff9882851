package model

// Credentials holds the token pair needed to re-establish an authenticated
// session with the SmartThings API on behalf of an installed app.
type Credentials struct {
	AuthToken    string `json:"authToken"`
	RefreshToken string `json:"refreshToken"`
}

// DeviceEvent is the normalized projection of a SmartThings device event that
// gets buffered for polling clients. Events are state snapshots, not an
// ordered log: consumers must treat Value as last-known-state per device.
type DeviceEvent struct {
	DeviceID    string `json:"deviceId"`
	Value       string `json:"value"`
	ComponentID string `json:"componentId"`
	Capability  string `json:"capability"`
	Attribute   string `json:"attribute"`
}
