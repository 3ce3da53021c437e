// Package agentgw calls the external agent endpoints that perform
// each pipeline step. Agents are plain HTTP webhooks: the gateway
// posts the step context and either receives the artifact inline or
// the agent later reports it through the callback API.
package agentgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTriggerTimeout = 30 * time.Second

	// responseBodyLimit bounds how much of an agent response is read.
	responseBodyLimit = 4 << 20

	// errorBodyMax bounds how much of an agent error body is kept in
	// error strings and stored messages.
	errorBodyMax = 350
)

// TriggerRequest is the payload posted to an agent endpoint.
type TriggerRequest struct {
	RunID      string         `json:"run_id"`
	Context    map[string]any `json:"context"`
	IsFeedback bool           `json:"is_feedback"`
	Feedback   string         `json:"feedback,omitempty"`
}

// TriggerResult carries the raw agent response. Body may embed the
// produced artifact; ExtractEmbedded knows the shapes agents use.
type TriggerResult struct {
	StatusCode int
	Body       []byte
}

// Config controls outbound agent calls.
type Config struct {
	// APIKey, when set, is sent as the X-API-Key header.
	APIKey string

	// Timeout bounds a single trigger call.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTriggerTimeout
	}
	return c
}

// Client posts step contexts to agent endpoints.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

// NewClient builds a Client. A nil httpClient uses a dedicated client
// with the configured timeout.
func NewClient(httpClient *http.Client, cfg Config, logger *slog.Logger) *Client {
	cfg = cfg.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{httpClient: httpClient, cfg: cfg, logger: logger}
}

// Trigger posts req to endpoint and returns the raw response. A non-2xx
// status is an error; the truncated body is included for diagnostics.
func (c *Client) Trigger(ctx context.Context, endpoint string, req TriggerRequest) (TriggerResult, error) {
	if c == nil {
		return TriggerResult{}, fmt.Errorf("agentgw: nil client")
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return TriggerResult{}, fmt.Errorf("agentgw: empty endpoint")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("agentgw: encode request: %w", err)
	}

	callCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return TriggerResult{}, fmt.Errorf("agentgw: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("agentgw: call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return TriggerResult{}, fmt.Errorf("agentgw: read response from %s: %w", endpoint, err)
	}

	result := TriggerResult{StatusCode: resp.StatusCode, Body: body}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, fmt.Errorf("agentgw: %s returned %d: %s", endpoint, resp.StatusCode, Truncate(string(body), errorBodyMax))
	}

	c.logger.Debug("agent triggered", "endpoint", endpoint, "status", resp.StatusCode, "run_id", req.RunID)
	return result, nil
}

// Truncate shortens s to at most max runes for storage in log and
// status messages.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
