package httpclient

import (
	"context"
	"net/http"
	"time"
)

// Client performs one HTTP exchange per Fetch call.
type Client struct {
	httpClient *http.Client
	config     *internalConfig
}

// New creates a Client. The transport chain is, outermost first:
// instrumentation, per-host circuit breaker (if configured), base transport.
func New(opts ...Option) *Client {
	cfg := newConfig(opts...)

	var base http.RoundTripper = cfg.buildTransport()
	if cfg.Transport != nil {
		base = cfg.Transport
	}

	withBreaker := newCircuitBreakerTransport(base, cfg)
	instrumented := newOtelTransport(withBreaker, cfg)

	return &Client{
		httpClient: &http.Client{
			Transport: instrumented,
			Timeout:   cfg.httpConfig.Timeout,
		},
		config: cfg,
	}
}

// HTTP returns the underlying *http.Client.
func (c *Client) HTTP() *http.Client {
	return c.httpClient
}

// Fetch sends req and reads the whole response body.
//
// maxBytes caps the body size; a non-positive value falls back to
// Config.MaxBytes. A response whose declared or actual length exceeds the
// cap fails with an error matching ErrResponseTooLarge.
func (c *Client) Fetch(ctx context.Context, req *http.Request, maxBytes int64) (*Response, error) {
	if maxBytes <= 0 {
		maxBytes = c.config.httpConfig.MaxBytes
	}

	req = req.Clone(withMaxBytes(ctx, maxBytes))
	if req.Header.Get("User-Agent") == "" && c.config.httpConfig.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.httpConfig.UserAgent)
	}

	if c.config.Debug {
		logRequest(c.config.Logger, req)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.config.Debug {
			logFailure(c.config.Logger, req, err, time.Since(start))
		}
		return nil, err
	}

	body, err := readBody(resp, maxBytes)
	_ = resp.Body.Close()
	if err != nil {
		if c.config.Debug {
			logFailure(c.config.Logger, req, err, time.Since(start))
		}
		return nil, err
	}

	c.config.Metrics.recordResponseBodySize(ctx, int64(len(body)), c.config.baseAttributes())

	r := newBufferedResponse(resp, body)
	if c.config.Debug {
		logResponse(c.config.Logger, req, r, time.Since(start))
	}
	return r, nil
}
