/**
 * @description
 * This package provides a client for the external render workflow (an n8n
 * webhook). The workflow renders the video out of process and reports back
 * through the render callback endpoint using the shared secret it receives here.
 */
package renderclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ZrianRashid/ai-ugc-generator/internal/domain"
)

// Client triggers render workflows.
type Client struct {
	webhookURL     string
	callbackSecret string
	httpClient     *http.Client
}

// NewClient creates a render workflow client.
func NewClient(webhookURL, callbackSecret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		webhookURL:     strings.TrimSpace(webhookURL),
		callbackSecret: callbackSecret,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

// TriggerRequest is the payload the render workflow expects.
type TriggerRequest struct {
	VideoID        string `json:"videoId"`
	UserID         string `json:"userId"`
	Prompt         string `json:"prompt"`
	ProductName    string `json:"productName"`
	TargetAudience string `json:"targetAudience,omitempty"`
	VideoStyle     string `json:"videoStyle,omitempty"`
	Duration       string `json:"duration,omitempty"`
	Tone           string `json:"tone,omitempty"`
	WebhookSecret  string `json:"webhookSecret"`
}

// Trigger starts rendering for one job. Any transport failure or non-2xx
// response is reported as domain.ErrUpstreamUnavailable.
func (c *Client) Trigger(ctx context.Context, payload TriggerRequest) error {
	if c.webhookURL == "" {
		return fmt.Errorf("%w: render webhook url is empty", domain.ErrUpstreamUnavailable)
	}
	payload.WebhookSecret = c.callbackSecret

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: render webhook returned status %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}
	return nil
}
