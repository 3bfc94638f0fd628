// Package mcpserver exposes the agentwatch HTTP API as Model Context
// Protocol tools so an LLM operator can inspect agents and incidents and
// submit messages for scoring.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mbd888/agentwatch/internal/retry"
	"github.com/mbd888/agentwatch/internal/risk"
	"github.com/mbd888/agentwatch/internal/spam"
)

// Config holds the configuration for connecting to an agentwatch server.
type Config struct {
	APIURL   string        // Base URL, e.g. "http://localhost:8080"
	APIToken string        // Optional bearer token for a fronting proxy
	Timeout  time.Duration // Per-request timeout; default 35s

	// Retry applies to GET requests only. Zero value uses retry.DefaultPolicy.
	Retry retry.Policy
}

// Client is a pure HTTP client for the agentwatch API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the agentwatch API.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		// Above the server's classifier timeout so /detect_sms can answer.
		cfg.Timeout = 35 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// APIError is an error response from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (%d) %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// errTransport marks failures before any response was received.
var errTransport = errors.New("request failed")

// transient reports whether a failed read is worth repeating.
func transient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return errors.Is(err, errTransport)
}

// doRequest makes an HTTP request and decodes a 2xx JSON response into out.
// GETs are retried on transient failures; POSTs change agent state and run once.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if method != http.MethodGet {
		return c.send(ctx, method, path, query, body, out)
	}
	return retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		err := c.send(ctx, method, path, query, body, out)
		if err != nil && !transient(err) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// messageRequest is the JSON body for message-carrying endpoints.
type messageRequest struct {
	Message string `json:"message"`
}

// ListAgents returns every agent's current record.
func (c *Client) ListAgents(ctx context.Context) (map[string]risk.AgentRecord, error) {
	var out map[string]risk.AgentRecord
	if err := c.doRequest(ctx, http.MethodGet, "/agents", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListIncidents returns logged incidents, optionally filtered.
func (c *Client) ListIncidents(ctx context.Context, agentID, status string) ([]risk.Incident, error) {
	q := url.Values{}
	if agentID != "" {
		q.Set("agent_id", agentID)
	}
	if status != "" {
		q.Set("status", status)
	}
	var out []risk.Incident
	if err := c.doRequest(ctx, http.MethodGet, "/incidents", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProcessMessage submits a message on behalf of an agent.
func (c *Client) ProcessMessage(ctx context.Context, agentID, message string) (*risk.Snapshot, error) {
	var out risk.Snapshot
	path := "/agent_message/" + url.PathEscape(agentID)
	if err := c.doRequest(ctx, http.MethodPost, path, nil, messageRequest{Message: message}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DetectSMS asks the server's spam classifier for a verdict.
func (c *Client) DetectSMS(ctx context.Context, message string) (*spam.Verdict, error) {
	var out spam.Verdict
	if err := c.doRequest(ctx, http.MethodPost, "/detect_sms", nil, messageRequest{Message: message}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
