package httpclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/sony/gobreaker/v2"
)

// errSyntheticFailure tells the breaker a response failed even though the
// round trip itself succeeded. It never reaches the caller.
var errSyntheticFailure = errors.New("synthetic failure")

// circuitBreakerTransport keeps one breaker per destination host, created on
// first use.
type circuitBreakerTransport struct {
	next       http.RoundTripper
	cfg        *internalConfig
	classifier BreakerClassifier
	prefix     string

	mu       sync.RWMutex
	breakers map[string]CircuitBreaker
}

func newCircuitBreakerTransport(next http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	if cfg.BreakerConfig == nil {
		return next
	}

	classifier := cfg.BreakerConfig.Classifier
	if classifier == nil {
		classifier = DefaultBreakerClassifier
	}

	prefix := cfg.ServiceName
	if prefix == "" {
		prefix = "httpclient"
	}

	return &circuitBreakerTransport{
		next:       next,
		cfg:        cfg,
		classifier: classifier,
		prefix:     prefix,
		breakers:   make(map[string]CircuitBreaker),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *circuitBreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	name := t.prefix + ":" + strings.ToLower(req.URL.Host)
	breaker := t.breakerFor(name)

	res, err := breaker.Execute(func() (interface{}, error) {
		resp, err := t.next.RoundTrip(req) //nolint:bodyclose
		if t.classifier(resp, err) {
			if err != nil {
				return resp, err
			}
			return resp, errSyntheticFailure
		}
		return resp, err
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			t.cfg.Metrics.recordBreakerRequest(ctx, name, "rejected")
			return nil, err
		}
		t.cfg.Metrics.recordBreakerRequest(ctx, name, "failure")
		if errors.Is(err, errSyntheticFailure) {
			if resp, ok := res.(*http.Response); ok && resp != nil {
				return resp, nil
			}
		}
		return nil, err
	}

	t.cfg.Metrics.recordBreakerRequest(ctx, name, "success")
	resp, ok := res.(*http.Response)
	if !ok || resp == nil {
		return nil, errors.New("httpclient: circuit breaker returned no response")
	}
	return resp, nil
}

func (t *circuitBreakerTransport) breakerFor(name string) CircuitBreaker {
	t.mu.RLock()
	cb, ok := t.breakers[name]
	t.mu.RUnlock()
	if ok {
		return cb
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cb, ok = t.breakers[name]; ok {
		return cb
	}

	cb = t.newBreaker(name)
	t.breakers[name] = cb
	return cb
}

func (t *circuitBreakerTransport) newBreaker(name string) CircuitBreaker {
	bc := t.cfg.BreakerConfig
	st := bc.settings(name, func(name string, from, to gobreaker.State) {
		t.cfg.Metrics.recordBreakerState(context.Background(), name, int64(to))
		if bc.OnStateChange != nil {
			bc.OnStateChange(name, from, to)
		}
	})

	if bc.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[interface{}](bc.Store, st)
		if err == nil {
			return dcb
		}
		t.cfg.Logger.Warn().Err(err).Str("breaker", name).
			Msg("distributed circuit breaker unavailable, using local state")
	}
	return gobreaker.NewCircuitBreaker[interface{}](st)
}
