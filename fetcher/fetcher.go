// Package fetcher is the HTTP transport shared by the listing walk and the
// article fetcher. Every request carries a browser-like User-Agent and
// waits on one rate limiter, so the request rate to the host stays bounded
// no matter how many goroutines use the client.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	DefaultRequestTimeout = 10 * time.Second
	DefaultRateInterval   = 500 * time.Millisecond

	// DefaultMaxBodySize caps how much of a response is read.
	DefaultMaxBodySize = 8 << 20
)

// ErrStatus is matched by every StatusError.
var ErrStatus = errors.New("unexpected HTTP status")

// ErrBodyTooLarge is returned when a response body exceeds the size limit.
var ErrBodyTooLarge = errors.New("response body too large")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s (%s)", e.Code, http.StatusText(e.Code), e.URL)
}

// Is lets errors.Is(err, ErrStatus) match.
func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// Getter fetches the body of a URL.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Config holds transport settings.
type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
	// RateInterval is the minimum spacing between requests. Zero disables
	// the limiter.
	RateInterval time.Duration
	// Over18 sends the cookie that skips the age confirmation page on
	// boards such as Gossiping.
	Over18 bool
	// MaxBodySize is the largest body accepted, in bytes.
	MaxBodySize int64
}

// WithDefaults returns a copy of the config with default values applied for
// zero-value fields.
func (c Config) WithDefaults() Config {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	return c
}

// Client is the default Getter.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	over18     bool
	maxBody    int64
	logger     *zap.Logger
}

// NewClient creates a client. A nil logger disables logging.
func NewClient(config Config, logger *zap.Logger) *Client {
	config = config.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(config.RateInterval), 1)
	}

	return &Client{
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		limiter:    limiter,
		userAgent:  config.UserAgent,
		over18:     config.Over18,
		maxBody:    config.MaxBodySize,
		logger:     logger,
	}
}

// Get performs a GET request and returns the body. Non-2xx responses are
// returned as *StatusError.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	if c.over18 {
		req.AddCookie(&http.Cookie{Name: "over18", Value: "1"})
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("fetched",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	// Read one byte past the limit to tell a full body from a cut one
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrBodyTooLarge, url, c.maxBody)
	}

	return body, nil
}
