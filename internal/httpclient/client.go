// Package httpclient is the outbound HTTP client shared by every remote
// collaborator: version registry, import map generator, npm registry, module
// loader, remote content providers and purge webhooks.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/orgrosua/yabe-siul/internal/infrastructure/resilience"
)

// Options configures a Client.
type Options struct {
	Timeout           time.Duration
	Retries           int
	RequestsPerSecond float64
	UserAgent         string
	// Breaker guards the client; nil disables circuit breaking.
	Breaker *resilience.Breaker
	Logger  *zap.Logger
}

// DefaultOptions returns production client options.
func DefaultOptions() Options {
	return Options{
		Timeout:   30 * time.Second,
		Retries:   2,
		UserAgent: "yabe-siul/1.0",
	}
}

// Client wraps resty with rate limiting and an optional circuit breaker.
type Client struct {
	Resty   *resty.Client
	Limiter *rate.Limiter
	Breaker *resilience.Breaker
	mu      sync.RWMutex
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Status)
}

// New creates a client with retrying transport. Retries happen only in the
// transport; a request makes at most Retries+1 attempts.
func New(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultOptions().UserAgent
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.Named("httpclient").Sugar()

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = 250 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = leveledLogger{logger}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.New().
		SetTimeout(opts.Timeout).
		SetLogger(logger).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "application/json")
	restyClient.SetTransport(retryClient.StandardClient().Transport)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		Resty:   restyClient,
		Limiter: limiter,
		Breaker: opts.Breaker,
	}
}

// leveledLogger adapts zap to retryablehttp's key/value logger.
type leveledLogger struct {
	*zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{}) { l.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{}) { l.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.Debugw(msg, kv...) }

// NewBreaker returns the breaker settings used for remote registries: lenient,
// since public CDNs have the odd slow response.
func NewBreaker(name string) *resilience.Breaker {
	return resilience.New(name, resilience.Settings{
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
	})
}

// Request creates a request after waiting for the rate limiter.
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if c.Breaker != nil && c.Breaker.State() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}

	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Resty.R().SetContext(ctx), nil
}

// ExecuteWithBreaker runs fn through the breaker, if any. Non-2xx responses count as
// failures and are returned as *StatusError.
func (c *Client) ExecuteWithBreaker(fn func() (*resty.Response, error)) (*resty.Response, error) {
	var resp *resty.Response
	call := func() error {
		var err error
		resp, err = fn()
		if err != nil {
			return err
		}
		if resp.IsError() {
			return &StatusError{Method: resp.Request.Method, URL: resp.Request.URL, Status: resp.StatusCode(), Body: truncate(resp.String(), 512)}
		}
		return nil
	}

	var err error
	if c.Breaker != nil {
		err = c.Breaker.Do(call)
	} else {
		err = call()
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, fmt.Errorf("remote service unavailable: %w", err)
	}
	return resp, err
}

// GetJSON performs a GET and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, query map[string]string, out interface{}) error {
	req, err := c.Request(ctx)
	if err != nil {
		return err
	}
	_, err = c.ExecuteWithBreaker(func() (*resty.Response, error) {
		return req.SetQueryParams(query).SetResult(out).Get(url)
	})
	return err
}

// PostJSON performs a POST with a JSON body and decodes the JSON response into
// out, when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, url string, body, out interface{}) error {
	req, err := c.Request(ctx)
	if err != nil {
		return err
	}
	req.SetHeader("Content-Type", "application/json").SetBody(body)
	if out != nil {
		req.SetResult(out)
	}
	_, err = c.ExecuteWithBreaker(func() (*resty.Response, error) {
		return req.Post(url)
	})
	return err
}

// GetText performs a GET and returns the body as a string.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	req, err := c.Request(ctx)
	if err != nil {
		return "", err
	}
	resp, err := c.ExecuteWithBreaker(func() (*resty.Response, error) {
		return req.SetHeader("Accept", "*/*").Get(url)
	})
	if err != nil {
		return "", err
	}
	return resp.String(), nil
}

// IsNotFound reports whether err is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
