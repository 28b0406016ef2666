package tsuryphone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tsuryphone/ha-bridge/addon/internal/model"
)

const defaultTimeout = 10 * time.Second

// DNDWindow is a daily do-not-disturb time window.
type DNDWindow struct {
	StartHour   int `json:"start_hour"`
	StartMinute int `json:"start_minute"`
	EndHour     int `json:"end_hour"`
	EndMinute   int `json:"end_minute"`
}

func (w DNDWindow) Validate() error {
	for _, hour := range []int{w.StartHour, w.EndHour} {
		if hour < 0 || hour > 23 {
			return fmt.Errorf("hour %d out of range [0,23]", hour)
		}
	}
	for _, minute := range []int{w.StartMinute, w.EndMinute} {
		if minute < 0 || minute > 59 {
			return fmt.Errorf("minute %d out of range [0,59]", minute)
		}
	}
	return nil
}

// Client is the HTTP half of the device protocol: category reads and the
// unified action endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(device model.DeviceConfig) *Client {
	return NewClientWithHTTPClient(device, &http.Client{Timeout: defaultTimeout})
}

func NewClientWithHTTPClient(device model.DeviceConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if httpClient.Timeout == 0 {
		httpClient.Timeout = defaultTimeout
	}
	return &Client{baseURL: strings.TrimSuffix(device.BaseURL(), "/"), httpClient: httpClient}
}

// FetchCategory reads one category endpoint and decodes the JSON object.
func (c *Client) FetchCategory(ctx context.Context, category Category) (map[string]any, error) {
	endpoint, ok := categoryEndpoints[category]
	if !ok {
		return nil, fmt.Errorf("unknown category %q", category)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", category, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("fetch %s: status %d: %s", category, resp.StatusCode, string(body))
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", category, err)
	}
	return payload, nil
}

// PerformAction posts {"action": name, ...params} to the unified action
// endpoint. An empty params still posts the action name alone.
func (c *Client) PerformAction(ctx context.Context, action string, params map[string]any) error {
	payload := map[string]any{"action": action}
	for key, value := range params {
		payload[key] = value
	}
	return c.postJSON(ctx, "/action", payload)
}

// SetDNDWindow pushes a new do-not-disturb schedule window to the device.
func (c *Client) SetDNDWindow(ctx context.Context, window DNDWindow) error {
	if err := window.Validate(); err != nil {
		return err
	}
	return c.postJSON(ctx, "/dnd", window)
}

// ConfigureWebhookServer tells the device where to deliver callbacks.
func (c *Client) ConfigureWebhookServer(ctx context.Context, serverURL string) error {
	serverURL = strings.TrimSpace(serverURL)
	if serverURL == "" {
		return fmt.Errorf("server url is empty")
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		serverURL = "http://" + serverURL
	}
	return c.postJSON(ctx, "/webhooks", map[string]any{"server_url": serverURL})
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("post %s: status %d: %s", endpoint, resp.StatusCode, string(respBody))
	}
	return nil
}
