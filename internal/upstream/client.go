package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/duddu/homebridge-smartthings-webhook-server/internal/model"
)

// DefaultBaseURL is the SmartThings REST API root.
const DefaultBaseURL = "https://api.smartthings.com/v1"

// HTTPClient implements Client over the SmartThings REST API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient creates a SmartThings API client.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Session returns an authenticated session for the installed app identified
// by tenantID.
func (c *HTTPClient) Session(tenantID string, creds model.Credentials) Session {
	return &httpSession{
		client:         c,
		installedAppID: tenantID,
		authToken:      creds.AuthToken,
	}
}

type httpSession struct {
	client         *HTTPClient
	installedAppID string
	authToken      string
}

// subscriptionRequest is the POST body for creating one device subscription.
type subscriptionRequest struct {
	SourceType string                   `json:"sourceType"`
	Device     DeviceSubscriptionDetail `json:"device"`
}

type subscriptionList struct {
	Items []Subscription `json:"items"`
}

// SubscribeToDevices creates one subscription per config entry. Any failure
// aborts the batch: the caller must not persist the batch as subscribed.
func (s *httpSession) SubscribeToDevices(ctx context.Context, entries []DeviceConfigEntry, capability, attribute, handlerName string) error {
	for _, entry := range entries {
		body := subscriptionRequest{
			SourceType: "DEVICE",
			Device: DeviceSubscriptionDetail{
				DeviceID:         entry.DeviceConfig.DeviceID,
				ComponentID:      entry.DeviceConfig.ComponentID,
				Capability:       capability,
				Attribute:        attribute,
				StateChangeOnly:  true,
				SubscriptionName: handlerName,
			},
		}
		if err := s.do(ctx, http.MethodPost, s.subscriptionsPath(), body, nil); err != nil {
			return fmt.Errorf("subscribe device %s: %w", entry.DeviceConfig.DeviceID, err)
		}
	}
	return nil
}

// ListSubscriptions returns all subscriptions of the installed app.
func (s *httpSession) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	var list subscriptionList
	if err := s.do(ctx, http.MethodGet, s.subscriptionsPath(), nil, &list); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return list.Items, nil
}

// DeleteSubscription removes one subscription by id.
func (s *httpSession) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	path := fmt.Sprintf("%s/%s", s.subscriptionsPath(), subscriptionID)
	if err := s.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (s *httpSession) subscriptionsPath() string {
	return fmt.Sprintf("/installedapps/%s/subscriptions", s.installedAppID)
}

// do runs one authenticated API call and decodes the response into out when
// out is non-nil. Non-2xx statuses map to ErrUpstream.
func (s *httpSession) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.client.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.authToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUpstream, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.client.logger.Debug("upstream call rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrUpstream, method, path, resp.StatusCode, detail)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode %s %s response: %v", ErrUpstream, method, path, err)
		}
	}
	return nil
}
