package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Sentinel API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // X-Admin-Secret for rule tuning and case resolution
}

// SentinelClient is a pure HTTP client for the Sentinel API.
type SentinelClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewSentinelClient creates a new client for the Sentinel API.
func NewSentinelClient(cfg Config) *SentinelClient {
	return &SentinelClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *SentinelClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.AdminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// ListRules returns the rule catalog.
func (c *SentinelClient) ListRules(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/rules", nil, nil)
}

// GetRule returns one rule by key.
func (c *SentinelClient) GetRule(ctx context.Context, key string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/rules/"+key, nil, nil)
}

// UpdateRule patches a rule's tunables.
func (c *SentinelClient) UpdateRule(ctx context.Context, key string, patch map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPatch, "/v1/rules/"+key, nil, patch)
}

// ListCases returns review cases, optionally filtered by status.
func (c *SentinelClient) ListCases(ctx context.Context, status string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/cases", q, nil)
}

// GetCase returns one case by ID.
func (c *SentinelClient) GetCase(ctx context.Context, id int64) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/cases/"+strconv.FormatInt(id, 10), nil, nil)
}

// ResolveCase resolves an open case with the given decision.
func (c *SentinelClient) ResolveCase(ctx context.Context, id int64, decision string) (json.RawMessage, error) {
	path := "/v1/cases/" + strconv.FormatInt(id, 10) + "/resolve"
	body := map[string]string{"decision": decision}
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

// ScreenTransaction records a transaction and runs it through the rule engine.
func (c *SentinelClient) ScreenTransaction(ctx context.Context, tx map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/transactions", nil, tx)
}
