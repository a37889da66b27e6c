package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ar-nelson/tapir-sub001/httpclient"
)

// pending is one logical request. The request fields are fixed at capture;
// the bookkeeping fields are guarded by the dispatcher mutex.
type pending struct {
	id       string
	origin   string
	method   string
	url      *url.URL
	header   http.Header
	body     []byte
	priority Priority
	opts     RequestOptions

	ctx     context.Context
	span    trace.Span
	started time.Time
	future  *Future

	seq      uint64
	attempts int
	failures int
	lastResp *httpclient.Response
	lastErr  error
}

// capture copies everything needed to replay req. The body is read in full
// and closed.
func capture(req *http.Request, opts RequestOptions) (*pending, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("dispatcher: nil request")
	}

	origin, err := originOf(req.URL)
	if err != nil {
		return nil, err
	}

	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("dispatcher: read request body: %w", err)
		}
	}

	u := *req.URL
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	if _, err := http.NewRequest(method, u.String(), nil); err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	opts.Priority = opts.Priority.normalize()
	return &pending{
		id:       uuid.NewString(),
		origin:   origin,
		method:   method,
		url:      &u,
		header:   req.Header.Clone(),
		body:     body,
		priority: opts.Priority,
		opts:     opts,
	}, nil
}

// build returns a fresh request for one attempt.
func (p *pending) build() (*http.Request, error) {
	var body io.Reader
	if p.body != nil {
		body = bytes.NewReader(p.body)
	}

	req, err := http.NewRequestWithContext(p.ctx, p.method, p.url.String(), body)
	if err != nil {
		return nil, err
	}
	if p.header != nil {
		req.Header = p.header.Clone()
	}
	return req, nil
}

// originOf returns scheme://host:port with both parts lowercased and the
// scheme's default port filled in.
func originOf(u *url.URL) (string, error) {
	scheme := strings.ToLower(u.Scheme)
	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", fmt.Errorf("dispatcher: %q has no host", u.String())
	}

	var defaultPort string
	switch scheme {
	case "http":
		defaultPort = "80"
	case "https":
		defaultPort = "443"
	default:
		return "", fmt.Errorf("dispatcher: unsupported scheme %q", u.Scheme)
	}

	port := u.Port()
	if port == "" {
		port = defaultPort
	}

	return scheme + "://" + net.JoinHostPort(hostname, port), nil
}
