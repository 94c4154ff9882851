package service

import "errors"

// ErrUnknownTenant is returned when a presented token does not map to a live
// tenant. It surfaces to the HTTP layer as an auth failure and is never
// retried internally.
var ErrUnknownTenant = errors.New("unknown tenant")
