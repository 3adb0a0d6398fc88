package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/calyxlang/calyx/pkg/calyx/resilience"
)

// Client executes tool calls over HTTP. A single Client is shared across
// flows; per-tool policy (timeouts, retries, auth) comes from each tool's
// Config, and the resilience layer wraps Invoke with retry, circuit
// breaker, and rate limiting.
type Client struct {
	http *http.Client
	auth *authenticator
}

// NewClient returns a Client using the given http.Client, or
// http.DefaultClient when nil.
func NewClient(hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{http: hc, auth: newAuthenticator()}
}

// Invoke performs one HTTP attempt against the tool endpoint and returns
// the decoded response data. Non-2xx statuses return *resilience.HTTPError
// so the retry policy can match on status code.
func (c *Client) Invoke(ctx context.Context, cfg *Config, endpoint string, headers map[string]string, args map[string]any) (any, error) {
	req, err := buildRequest(ctx, cfg, endpoint, headers, args)
	if err != nil {
		return nil, err
	}
	if err := c.auth.apply(ctx, req, cfg.Name, cfg.Auth); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", cfg.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tool %s: read response: %w", cfg.Name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &resilience.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    truncate(string(body), 512),
			Endpoint:   endpoint,
		}
	}

	if err := cfg.Schema.Validate(cfg.Name, body); err != nil {
		return nil, err
	}
	return decodeData(body)
}

// decodeData parses the response body into a value suitable for flow
// state. Empty bodies become nil; non-JSON bodies are kept as strings.
func decodeData(body []byte) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body), nil
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
