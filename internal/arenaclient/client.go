package arenaclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/park285/Cheese-Arena/pkg/arenadto"
	"github.com/valyala/fasthttp"
)

// APIError is a non-2xx answer from the arena server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("arena api error: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
}

// Client talks to the REST surface of the arena server.
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
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Register(ctx context.Context, username, password string) (*arenadto.AuthResponse, error) {
	var out arenadto.AuthResponse
	in := arenadto.Credentials{Username: username, Password: password}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/auth/register", "", in, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*arenadto.AuthResponse, error) {
	var out arenadto.AuthResponse
	in := arenadto.Credentials{Username: username, Password: password}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/auth/login", "", in, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateGame(ctx context.Context, token string) (*arenadto.Snapshot, error) {
	var out arenadto.Snapshot
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/games", token, nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) JoinGame(ctx context.Context, token, code string) (*arenadto.JoinResponse, error) {
	var out arenadto.JoinResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/games/"+url.PathEscape(code)+"/join", token, nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetGame(ctx context.Context, code string) (*arenadto.Snapshot, error) {
	var out arenadto.Snapshot
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/games/"+url.PathEscape(code), "", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Lobby(ctx context.Context, token string) (*arenadto.GameList, error) {
	var out arenadto.GameList
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/games?status=waiting", token, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// RoomURL is the realtime endpoint for code, derived from the REST base URL.
func (c *Client) RoomURL(code, token string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/games/" + url.PathEscape(code) + "?token=" + url.QueryEscape(token)
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, in, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts || sleepWithContext(ctx, backoffDuration(attempt)) != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			apiErr := &APIError{Status: status}
			var body arenadto.ErrorResponse
			if json.Unmarshal(resp.Body(), &body) == nil {
				apiErr.Code, apiErr.Message = body.Error.Code, body.Error.Message
			} else {
				apiErr.Message = truncate(string(resp.Body()), 512)
			}
			lastErr = apiErr
			if attempt == attempts || !shouldRetryStatus(status) || sleepWithContext(ctx, backoffDuration(attempt)) != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
