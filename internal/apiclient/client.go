// Package apiclient talks to the carp-board HTTP API.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/carp-board/internal/session"
)

var ErrNotFound = errors.New("not found")

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

// WithDial replaces the dialer, e.g. with an in-memory listener.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func New(baseURL string, opts ...Option) *Client {
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

type Health struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if _, err := c.do(ctx, "/healthz", &h, true); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Game(ctx context.Context, id int64) (*session.GameRecord, error) {
	var g session.GameRecord
	if _, err := c.do(ctx, "/games/"+strconv.FormatInt(id, 10), &g, true); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) GamePGN(ctx context.Context, id int64) (string, error) {
	body, err := c.do(ctx, "/games/"+strconv.FormatInt(id, 10)+"?format=pgn", nil, true)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// RecentGames lists the newest finished games of one board session.
func (c *Client) RecentGames(ctx context.Context, sessionID string, limit int) ([]*session.GameRecord, error) {
	q := url.Values{"session": {sessionID}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var games []*session.GameRecord
	if _, err := c.do(ctx, "/games?"+q.Encode(), &games, true); err != nil {
		return nil, err
	}
	return games, nil
}

// EvalbarPNG fetches a rendered bar; params are passed as query arguments.
func (c *Client) EvalbarPNG(ctx context.Context, params url.Values) ([]byte, error) {
	return c.do(ctx, "/evalbar.png?"+params.Encode(), nil, false)
}

func (c *Client) do(ctx context.Context, path string, out any, retry bool) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else {
			status := resp.StatusCode()
			switch {
			case status == fasthttp.StatusNotFound:
				return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
			case status < 200 || status >= 300:
				lastErr = fmt.Errorf("carp-board api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
				if !shouldRetryStatus(status) {
					return nil, lastErr
				}
			default:
				body := append([]byte(nil), resp.Body()...)
				if out != nil {
					if err := json.Unmarshal(body, out); err != nil {
						return nil, fmt.Errorf("decode response: %w", err)
					}
				}
				return body, nil
			}
		}
		if attempt == attempts {
			break
		}
		if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
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
