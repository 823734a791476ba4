// Package telephony is a client for the call-control platform's REST API.
package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tjfontaine/callbridge/internal/core/domain"
	"github.com/tjfontaine/callbridge/internal/core/ports"
)

const (
	defaultBaseURL = "https://api.vapi.ai"
	defaultTimeout = 30 * time.Second
)

var _ ports.CallControl = (*Client)(nil)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimSuffix(baseURL, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client talks to the call-control API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new call-control client authenticated with token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:      token,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateCall places an outbound call.
func (c *Client) CreateCall(ctx context.Context, req domain.CreateCallRequest) (*domain.Call, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var call domain.Call
	if err := c.do(ctx, http.MethodPost, "/call", bytes.NewReader(body), &call); err != nil {
		return nil, fmt.Errorf("create call: %w", err)
	}
	return &call, nil
}

// GetCall fetches the current state of a call.
func (c *Client) GetCall(ctx context.Context, id string) (*domain.Call, error) {
	if id == "" {
		return nil, domain.NewError(domain.ErrorKindInvalidInput, "call id is required")
	}

	var call domain.Call
	if err := c.do(ctx, http.MethodGet, "/call/"+url.PathEscape(id), nil, &call); err != nil {
		return nil, fmt.Errorf("get call %s: %w", id, err)
	}
	return &call, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, body != nil)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.NewError(domain.ErrorKindCallControl, errorMessage(respBody)).WithStatusCode(resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}

// errorMessage extracts the message from an API error body, falling back to the raw body.
func errorMessage(body []byte) string {
	var apiErr struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil {
		var msg string
		if json.Unmarshal(apiErr.Message, &msg) == nil && msg != "" {
			return msg
		}
		var msgs []string
		if json.Unmarshal(apiErr.Message, &msgs) == nil && len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
		if apiErr.Error != "" {
			return apiErr.Error
		}
	}
	return strings.TrimSpace(string(body))
}
