// Package relayclient talks to a running relay: HTTP probes over fasthttp and an event-stream
// WebSocket client over nhooyr.
package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/chess-relay/internal/coordinator"
)

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health is the /healthz body.
type Health struct {
	Status  string            `json:"status"`
	Stats   coordinator.Stats `json:"stats"`
	Clients int               `json:"clients"`
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.getJSON(ctx, "/healthz", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Rooms(ctx context.Context) ([]coordinator.Room, error) {
	var rooms []coordinator.Room
	if err := c.getJSON(ctx, "/api/rooms", &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// getJSON retries transport failures and 5xx responses with exponential backoff.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")

	attempts := c.retryMax
	if attempts <= 0 { attempts = 1 }
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.deadline(ctx))
		switch {
		case err != nil:
			lastErr = fmt.Errorf("GET %s: %w", path, err)
		case resp.StatusCode() >= 500:
			lastErr = fmt.Errorf("GET %s: status=%d body=%s", path, resp.StatusCode(), truncate(string(resp.Body()), 256))
		case resp.StatusCode() < 200 || resp.StatusCode() >= 300:
			return fmt.Errorf("GET %s: status=%d body=%s", path, resp.StatusCode(), truncate(string(resp.Body()), 256))
		default:
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode %s: %w", path, err)
			}
			return nil
		}
		if attempt == attempts { break }
		if err := sleepCtx(ctx, backoff(attempt)); err != nil { return lastErr }
	}
	if lastErr == nil { lastErr = errors.New("unknown error") }
	return lastErr
}

func (c *Client) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) { return dl }
	return own
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoff(attempt int) time.Duration {
	if attempt < 1 { attempt = 1 }
	if attempt > 6 { attempt = 6 }
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func truncate(s string, n int) string {
	if len(s) <= n { return s }
	return s[:n]
}
