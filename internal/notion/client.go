// Package notion is the task store client: it reads pending cart tasks from a
// Notion database and writes completion back to their pages.
package notion

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cartsync/internal/clock"
	"cartsync/internal/config"
	"cartsync/internal/logging"
)

var (
	// ErrMissingCredentials is returned before any request when the API key
	// or database id is not configured.
	ErrMissingCredentials = errors.New("notion: api key and database id are required")
	ErrUnauthorized       = errors.New("notion: api key rejected")
	ErrDatabaseNotFound   = errors.New("notion: database not found")
)

// APIError is a non-2xx response from the Notion API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("notion returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("notion returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps auth and not-found statuses onto the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrDatabaseNotFound
	}
	return nil
}

// slowCall is the latency above which a request is logged as slow.
const slowCall = 5 * time.Second

// Client talks to the Notion REST API.
type Client struct {
	settings func() config.NotionConfig
	http     *http.Client
	limiter  *rate.Limiter
	clock    clock.Clock
	logger   *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock sets the clock used for timestamps.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// NewClient creates a client. settings is consulted on every call so
// credential and property changes apply without rebuilding the client.
func NewClient(settings func() config.NotionConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	initial := settings()

	timeout := 30 * time.Second
	if d, err := time.ParseDuration(initial.Timeout); err == nil && d > 0 {
		timeout = d
	}
	limit := rate.Inf
	if initial.RequestsPerSecond > 0 {
		limit = rate.Limit(initial.RequestsPerSecond)
	}

	c := &Client{
		settings: settings,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, 1),
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Static returns a settings provider that always yields cfg.
func Static(cfg config.NotionConfig) func() config.NotionConfig {
	return func() config.NotionConfig { return cfg }
}

func (c *Client) current() (config.NotionConfig, error) {
	s := c.settings()
	if s.APIKey == "" || s.DatabaseID == "" {
		return s, ErrMissingCredentials
	}
	if s.BaseURL == "" {
		s.BaseURL = "https://api.notion.com/v1"
	}
	if s.Version == "" {
		s.Version = "2022-06-28"
	}
	return s, nil
}

// do sends one request and decodes a 2xx JSON response into out.
func (c *Client) do(ctx context.Context, s config.NotionConfig, method, path string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	url := strings.TrimRight(s.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	req.Header.Set("Notion-Version", s.Version)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	timer := logging.StartTimer(c.logger, method+" "+path)
	resp, err := c.http.Do(req)
	timer.StopWithThreshold(slowCall)
	if err != nil {
		return fmt.Errorf("notion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Message
		}
		c.logger.Error("notion request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", apiErr.Body))
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
