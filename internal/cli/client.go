package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"
)

// Client is a small HTTP client for the submission API with a shared
// bearer token.
type Client struct {
	mu      sync.Mutex
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) SetBaseURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = url
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.http.Timeout = d
}

func (c *Client) snapshot() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL, c.token
}

// ResponseInfo is the raw outcome of one API call.
type ResponseInfo struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

func (c *Client) Do(ctx context.Context, method, path string, body []byte) (ResponseInfo, error) {
	baseURL, token := c.snapshot()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return ResponseInfo{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return ResponseInfo{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return ResponseInfo{}, err
	}
	return ResponseInfo{
		StatusCode: resp.StatusCode,
		Body:       data,
		Duration:   time.Since(start).Round(time.Millisecond),
	}, nil
}
