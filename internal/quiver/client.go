package quiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"insidertrading/internal/domain"
	"insidertrading/internal/util"
)

// Default client settings.
const (
	DefaultBaseURL     = "https://api.quiverquant.com/beta/"
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = time.Second
)

// ErrRetriesExhausted is returned by Fetch when every attempt failed.
var ErrRetriesExhausted = errors.New("request failed, no retries remaining")

// APIError represents a non-success response from the vendor.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("quiver api error %d: %s (%s)", e.StatusCode, e.Message, e.URL)
}

// Limiter gates outbound requests.
type Limiter interface {
	Acquire(ctx context.Context) error
}

type noLimit struct{}

func (noLimit) Acquire(context.Context) error { return nil }

// Client provides access to the QuiverQuant REST API.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
	limiter    Limiter
	logger     *slog.Logger

	maxAttempts int
	retryDelay  time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client. baseURL is the API root, e.g.
// DefaultBaseURL; request paths are resolved relative to it.
func NewClient(baseURL, apiKey string, opts ...ClientOption) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	c := &Client{
		baseURL: u,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter:     noLimit{},
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the total number of attempts and the fixed pause between
// them.
func WithRetries(maxAttempts int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.maxAttempts = maxAttempts
		c.retryDelay = delay
	}
}

// WithLimiter sets the limiter every attempt waits on.
func WithLimiter(l Limiter) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// InsidersPath returns the request path of the insider feed for date.
func InsidersPath(date time.Time) string {
	return "live/insiders?date=" + date.Format(domain.FileDateLayout)
}

// Fetch GETs path and returns the response body. A 404 is logged and
// reported as an empty body with a nil error. Transient failures are retried
// up to the configured number of attempts; after that the returned error
// wraps ErrRetriesExhausted.
func (c *Client) Fetch(ctx context.Context, path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse path %q: %w", path, err)
	}
	target := c.baseURL.ResolveReference(ref).String()

	body, outcome, err := util.Retry(ctx, c.maxAttempts, c.retryDelay, func(attempt int) (string, util.Outcome, error) {
		body, outcome, err := c.attempt(ctx, target)
		if outcome == util.Again {
			c.logger.Error("request attempt failed",
				"url", target,
				"retry", fmt.Sprintf("%d/%d", attempt, c.maxAttempts),
				"error", err,
			)
		}
		return body, outcome, err
	})

	switch outcome {
	case util.Done:
		return body, nil
	case util.Stop:
		return "", err
	default:
		return "", fmt.Errorf("%w (retry %d/%d): %w", ErrRetriesExhausted, c.maxAttempts, c.maxAttempts, err)
	}
}

// attempt performs one rate-limited request and classifies the result.
func (c *Client) attempt(ctx context.Context, target string) (string, util.Outcome, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return "", util.Stop, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.get(ctx, target)
	if err != nil {
		return "", c.transportOutcome(ctx), err
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		discard(resp)
		c.logger.Error("files not found", "url", target)
		return "", util.Done, nil

	case http.StatusUnauthorized:
		// Reissue against the final location after redirects; the client
		// drops the Authorization header when a redirect changes host.
		final := resp.Request.URL.String()
		discard(resp)
		c.logger.Debug("reissuing unauthorized request", "url", final)

		resp, err = c.get(ctx, final)
		if err != nil {
			return "", c.transportOutcome(ctx), fmt.Errorf("reissue %s: %w", final, err)
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.transportOutcome(ctx), fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", util.Again, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			URL:        resp.Request.URL.String(),
			Body:       body,
		}
	}

	return string(body), util.Done, nil
}

// get sends one authenticated GET.
func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

// transportOutcome stops retrying once the caller's context is done.
func (c *Client) transportOutcome(ctx context.Context) util.Outcome {
	if ctx.Err() != nil {
		return util.Stop
	}
	return util.Again
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
