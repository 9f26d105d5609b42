// Package workflow talks to the external workflow engine: signed JSON
// requests out, loosely shaped JSON back.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"studyai/internal/security"
	"studyai/internal/util"
)

const maxResponseBytes = 4 << 20

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("workflow responded %d", e.StatusCode)
	}
	return fmt.Sprintf("workflow responded %d: %s", e.StatusCode, e.Body)
}

// Client posts JSON bodies, signing them when a secret is configured.
type Client struct {
	httpClient *http.Client
	secret     string
}

func NewClient(secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		secret:     secret,
	}
}

// NewClientWithHTTP uses hc for transport; tests point it at httptest servers.
func NewClientWithHTTP(secret string, hc *http.Client) *Client {
	return &Client{httpClient: hc, secret: secret}
}

// Encode marshals payload exactly as Post will send it.
func Encode(payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode workflow payload: %w", err)
	}
	return body, nil
}

type requestOptions struct {
	bearer string
}

type RequestOption func(*requestOptions)

// WithBearer forwards the caller's access token.
func WithBearer(token string) RequestOption {
	return func(o *requestOptions) {
		o.bearer = strings.TrimSpace(token)
	}
}

// Post sends body to target and returns the response body of a 2xx reply.
// The signature header covers the exact bytes sent.
func (c *Client) Post(ctx context.Context, target string, body []byte, opts ...RequestOption) ([]byte, error) {
	o := requestOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build workflow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(security.SignatureHeader, security.ComputeSignature(body, c.secret))
	}
	if o.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+o.bearer)
	}
	if id := util.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workflow request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read workflow response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(data))
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}
	return data, nil
}

// PostJSON encodes payload, posts it and returns the raw 2xx response.
func (c *Client) PostJSON(ctx context.Context, target string, payload any, opts ...RequestOption) ([]byte, error) {
	body, err := Encode(payload)
	if err != nil {
		return nil, err
	}
	return c.Post(ctx, target, body, opts...)
}
