package relay_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/couchsync/go/clients"
	"github.com/mcdev12/couchsync/go/internal/models"
)

// DefaultTimeout bounds every relay request.
const DefaultTimeout = 10 * time.Second

type RelayClient struct {
	*clients.BaseClient
	apiKey  string
	timeout time.Duration
}

func NewRelayClient(baseURL, apiKey string) *RelayClient {
	client := &RelayClient{
		BaseClient: clients.NewBaseClient(baseURL),
		apiKey:     apiKey,
		timeout:    DefaultTimeout,
	}

	client.SetHeader(JsonHeader, JsonContentType)
	if apiKey != "" {
		client.SetHeader(APIKeyHeader, apiKey)
		client.SetQueryParam(APIKeyParam, apiKey)
	}
	client.SetTimeout(DefaultTimeout)

	return client
}

// Sync posts an outbound sync command.
func (c *RelayClient) Sync(ctx context.Context, cmd models.Command) (models.StatusResponse, error) {
	return c.post(ctx, SyncPath, cmd)
}

// Telemetry posts a playback report.
func (c *RelayClient) Telemetry(ctx context.Context, t models.Telemetry) (models.StatusResponse, error) {
	return c.post(ctx, TelemetryPath, t)
}

// Command posts an explicit share or control command.
func (c *RelayClient) Command(ctx context.Context, cmd models.Command) (models.StatusResponse, error) {
	return c.post(ctx, CommandPath, cmd)
}

// WatchlistAdd saves a title; the status is "added" or "exists".
func (c *RelayClient) WatchlistAdd(ctx context.Context, item models.WatchlistItem) (models.StatusResponse, error) {
	return c.post(ctx, WatchlistAddPath, item)
}

// WatchlistRemove drops a title; the status is "removed" or "missing".
func (c *RelayClient) WatchlistRemove(ctx context.Context, removal models.WatchlistRemoval) (models.StatusResponse, error) {
	return c.post(ctx, WatchlistRemovePath, removal)
}

// Drift asks the relay how far user is from their partner.
func (c *RelayClient) Drift(ctx context.Context, user string) (models.DriftReport, error) {
	var report models.DriftReport

	body, err := c.Get(ctx, DriftPath+"?"+url.Values{userParam: {user}}.Encode())
	if err != nil {
		return report, fmt.Errorf("failed to fetch drift: %w", err)
	}
	if err := json.Unmarshal(body, &report); err != nil {
		return report, fmt.Errorf("failed to decode drift: %w", err)
	}
	return report, nil
}

// StreamURL returns the URL of a push stream, carrying the API key and, when
// set, the identity the relay uses to route messages.
func (c *RelayClient) StreamURL(path, user string) string {
	endpoint := path
	if user != "" {
		endpoint += "?" + url.Values{userParam: {user}}.Encode()
	}
	u, err := c.URL(endpoint)
	if err != nil {
		return c.BaseURL() + path
	}
	return u
}

// SendSync posts cmd on its own goroutine. Failures are logged and dropped:
// an unreachable relay is a normal operating condition.
func (c *RelayClient) SendSync(cmd models.Command) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		if _, err := c.Sync(ctx, cmd); err != nil {
			log.Debug().Err(err).Str("command", string(cmd.Command)).Msg("sync post failed")
		}
	}()
}

// post sends payload as JSON with the API key merged into the body.
func (c *RelayClient) post(ctx context.Context, endpoint string, payload any) (models.StatusResponse, error) {
	var status models.StatusResponse

	body, err := c.withAPIKey(payload)
	if err != nil {
		return status, err
	}

	resp, err := c.Post(ctx, endpoint, bytes.NewReader(body))
	if err != nil {
		return status, fmt.Errorf("failed to post %s: %w", endpoint, err)
	}
	if len(bytes.TrimSpace(resp)) == 0 {
		return status, nil
	}
	if err := json.Unmarshal(resp, &status); err != nil {
		return status, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return status, nil
}

func (c *RelayClient) withAPIKey(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if c.apiKey == "" {
		return raw, nil
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	if _, ok := fields[APIKeyParam]; !ok {
		key, _ := json.Marshal(c.apiKey)
		fields[APIKeyParam] = key
	}
	return json.Marshal(fields)
}
