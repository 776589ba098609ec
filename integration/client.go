//go:build integration

// Package integration drives a running taskboard API over HTTP.
package integration

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bytedance/sonic"

	"taskboard/identity"
)

// Client wraps http.Client with helpers for JSON requests.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a Client that does not follow redirects.
func New(baseURL, bearer string) *Client {
	return &Client{
		BaseURL: baseURL,
		Bearer:  bearer,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// FromEnv builds a client for API_BASE authenticated as userID. Tokens are
// signed with LOCAL_AUTH_SHARED_SECRET unless TEST_BEARER is set.
func FromEnv(userID string) (*Client, error) {
	base := os.Getenv("API_BASE")
	if base == "" {
		base = "http://localhost:8080"
	}
	bearer := os.Getenv("TEST_BEARER")
	if bearer == "" {
		secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
		if secret == "" {
			return nil, fmt.Errorf("LOCAL_AUTH_SHARED_SECRET or TEST_BEARER must be set")
		}
		tok, err := identity.SignToken([]byte(secret), userID, "", os.Getenv("AUTH0_AUDIENCE"), time.Now(), time.Hour)
		if err != nil {
			return nil, err
		}
		bearer = tok
	}
	return New(base, bearer), nil
}

// Do sends a request with an optional JSON body and decodes a JSON response
// into out when out is non-nil.
func (c *Client) Do(method, path string, body, out any, headers ...string) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}
	if out != nil && len(data) > 0 {
		if err := sonic.Unmarshal(data, out); err != nil {
			return resp, fmt.Errorf("decode %s %s (%d): %w", method, path, resp.StatusCode, err)
		}
	}
	return resp, nil
}

// Stream opens the server-sent event stream of a task.
func (c *Client) Stream(id int64) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/api/tasks/%d/stream", c.BaseURL, id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.Bearer)
	return (&http.Client{}).Do(req)
}
