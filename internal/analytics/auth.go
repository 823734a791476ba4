package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tjfontaine/callbridge/internal/core/domain"
	"github.com/tjfontaine/callbridge/internal/core/ports"
)

const defaultTokenURL = "https://api.symbl.ai/oauth2/token:generate"

var _ ports.TokenSource = (*AppTokenSource)(nil)

// TokenOption configures an AppTokenSource.
type TokenOption func(*AppTokenSource)

// WithTokenURL sets a custom token-generation endpoint.
func WithTokenURL(u string) TokenOption {
	return func(s *AppTokenSource) {
		if u != "" {
			s.url = u
		}
	}
}

// WithTokenHTTPClient sets a custom HTTP client.
func WithTokenHTTPClient(c *http.Client) TokenOption {
	return func(s *AppTokenSource) {
		s.httpClient = c
	}
}

// AppTokenSource exchanges an application id/secret pair for a bearer token.
// Every call fetches a fresh token.
type AppTokenSource struct {
	appID      string
	appSecret  string
	url        string
	httpClient *http.Client
}

// NewAppTokenSource creates a token source for the given application credentials.
func NewAppTokenSource(appID, appSecret string, opts ...TokenOption) *AppTokenSource {
	s := &AppTokenSource{
		appID:      appID,
		appSecret:  appSecret,
		url:        defaultTokenURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type tokenRequest struct {
	Type      string `json:"type"`
	AppID     string `json:"appId"`
	AppSecret string `json:"appSecret"`
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

// Token requests a new access token.
func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	body, err := json.Marshal(tokenRequest{
		Type:      "application",
		AppID:     s.appID,
		AppSecret: s.appSecret,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", domain.NewError(domain.ErrorKindAuth, "token request failed").WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", domain.Errorf(domain.ErrorKindAuth, "failed to get access token: %s", msg).WithStatusCode(resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", domain.NewError(domain.ErrorKindAuth, "malformed token response").WithCause(err)
	}
	if tr.AccessToken == "" {
		return "", domain.NewError(domain.ErrorKindAuth, "token response carried no access token")
	}
	return tr.AccessToken, nil
}
