package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agentgate/internal/config"
	"agentgate/internal/logging"
)

// backendClient is the shared HTTP plumbing for talking to a wrapped backend.
// Each adapter owns its wire format; this owns transport and status handling.
type backendClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  logging.Logger
}

func newBackendClient(cfg config.BackendConfig, logger logging.Logger) (*backendClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("backend endpoint not configured")
	}
	return &backendClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{},
		logger:  logging.OrNop(logger),
	}, nil
}

// probe performs the construction-time handshake with the backend.
func (c *backendClient) probe(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend handshake failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend handshake returned status %d", resp.StatusCode)
	}
	return nil
}

// postJSON sends a request and decodes the response body into out. The
// request inherits ctx, so the orchestrator's deadline cancels it.
func (c *backendClient) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read backend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned status %d: %s", resp.StatusCode, summarizeBody(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}

func (c *backendClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func summarizeBody(body []byte) string {
	const limit = 256
	text := strings.TrimSpace(string(body))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}

// contextSummary renders the request context the way backends expect it in
// prompt text: a stable short description, never raw JSON dumps.
func contextSummary(taskContext map[string]any) string {
	if len(taskContext) == 0 {
		return "No additional context provided"
	}
	encoded, err := json.Marshal(taskContext)
	if err != nil {
		return "No additional context provided"
	}
	return string(encoded)
}
