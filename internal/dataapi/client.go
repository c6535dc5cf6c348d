// Package dataapi is a thin client for the site's CRUD REST API.
//
// Responses are returned as raw JSON so callers can hand them to the agent
// untouched.
package dataapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("data api %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	Token    string
	Username string
	Password string
	Timeout  time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client talks to the Data API. Safe for concurrent use.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// NewClient creates a Data API client.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		username:   opts.Username,
		password:   opts.Password,
		token:      opts.Token,
		httpClient: hc,
	}
}

// Login exchanges the configured credentials for a bearer token.
func (c *Client) Login(ctx context.Context) error {
	if c.username == "" {
		return fmt.Errorf("data api login: no credentials configured")
	}
	raw, err := c.send(ctx, http.MethodPost, "/auth/login", nil, map[string]string{
		"username": c.username,
		"password": c.password,
	}, "")
	if err != nil {
		return fmt.Errorf("data api login: %w", err)
	}
	var resp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("data api login: parse response: %w", err)
	}
	token := resp.Token
	if token == "" {
		token = resp.AccessToken
	}
	if token == "" {
		return fmt.Errorf("data api login: response carried no token")
	}
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (json.RawMessage, error) {
	return c.Do(ctx, http.MethodGet, "/auth/me", nil, nil)
}

// Do performs one request and returns the response body verbatim.
// A token is obtained first when credentials are configured and none is held.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, method, path, query, body, token)
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" || c.username == "" {
		return token, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any, token string) (json.RawMessage, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return json.RawMessage(`null`), nil
	}
	return json.RawMessage(respBody), nil
}

func idPath(prefix string, id int) string {
	return prefix + "/" + strconv.Itoa(id)
}
