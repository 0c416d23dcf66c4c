// ABOUTME: Signed HTTP client for the agent control API
// ABOUTME: Signs POST bodies with the site secret and decodes JSON replies

package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/mrwp-agent/internal/auth"
	"github.com/2389/mrwp-agent/internal/status"
)

// DefaultTimeout bounds each call.
const DefaultTimeout = 30 * time.Second

// APIError is a non-2xx reply from the agent.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent returned status %d", e.Status)
	}
	return fmt.Sprintf("agent error (%d): %s", e.Status, e.Message)
}

// ErrUnauthorized is wrapped by APIError replies with status 401.
var ErrUnauthorized = errors.New("unauthorized")

func (e *APIError) Unwrap() error {
	if e.Status == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// ActionResponse is the decoded reply of /action.
type ActionResponse struct {
	OK     bool            `json:"ok"`
	Action string          `json:"action"`
	State  json.RawMessage `json:"state"`
	Error  string          `json:"error"`
}

// Client talks to one agent.
type Client struct {
	baseURL string
	secret  string
	client  *http.Client
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport, e.g. with a tailnet client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithClock overrides the signing clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client. apiURL is the agent's API root, for example
// https://example.com/wp-json/mrwp/v1.
func New(apiURL, secret string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(apiURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: DefaultTimeout},
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ping calls the public liveness route.
func (c *Client) Ping(ctx context.Context) (status.PingInfo, error) {
	var out status.PingInfo
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return out, fmt.Errorf("creating request: %w", err)
	}
	err = c.do(req, &out)
	return out, err
}

// Status fetches the full status document.
func (c *Client) Status(ctx context.Context) (status.Report, error) {
	var out status.Report
	err := c.post(ctx, "/status", []byte("{}"), &out)
	return out, err
}

// Action runs name on the agent. In-band failures come back as a response
// with OK false together with an *APIError.
func (c *Client) Action(ctx context.Context, name string) (ActionResponse, error) {
	body, err := json.Marshal(map[string]string{"action": name})
	if err != nil {
		return ActionResponse{}, fmt.Errorf("marshaling request: %w", err)
	}
	var out ActionResponse
	err = c.post(ctx, "/action", body, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range auth.GenerateHeaders(c.secret, body, c.now()) {
		req.Header[k] = v
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	decodeErr := json.Unmarshal(data, out)
	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if decodeErr != nil {
		return fmt.Errorf("decoding response: %w", decodeErr)
	}
	return nil
}
