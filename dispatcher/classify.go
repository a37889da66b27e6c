package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ar-nelson/tapir-sub001/httpclient"
)

// VerdictKind says what the dispatcher does with an attempt's result.
type VerdictKind uint8

const (
	// Terminal results are returned to the caller as they are.
	Terminal VerdictKind = iota
	// Retry results back the origin off and try the request again.
	Retry
	// RateLimited is Retry that also honours the response's Retry-After.
	RateLimited
)

func (k VerdictKind) String() string {
	switch k {
	case Retry:
		return "retry"
	case RateLimited:
		return "rate_limited"
	default:
		return "terminal"
	}
}

// Verdict is a classified attempt result.
type Verdict struct {
	Kind VerdictKind
	// RetryAfter is the delay the remote asked for, if any. It only raises
	// the policy delay, never lowers it.
	RetryAfter time.Duration
}

// Classifier decides whether an attempt's result is final.
//
// Exactly one of resp and err is non-nil. now is the dispatcher's clock
// time, for resolving HTTP-date Retry-After values.
type Classifier func(resp *httpclient.Response, err error, now time.Time) Verdict

// DefaultClassifier applies the federation retry rules.
//
// Retries on:
//   - transport errors, including an open circuit breaker
//   - 5xx responses
//   - 408, 418 and 425, which remotes use for transient refusals
//
// Rate limited on 429, honouring Retry-After.
//
// Terminal on:
//   - every other status; callers decide what counts as success
//   - oversized responses and cancelled contexts, which would fail the
//     same way again
func DefaultClassifier(resp *httpclient.Response, err error, now time.Time) Verdict {
	if err != nil {
		if errors.Is(err, httpclient.ErrResponseTooLarge) || errors.Is(err, context.Canceled) {
			return Verdict{Kind: Terminal}
		}
		return Verdict{Kind: Retry}
	}

	switch status := resp.StatusCode; {
	case status == http.StatusTooManyRequests:
		v := Verdict{Kind: RateLimited}
		if d, ok := resp.RetryAfter(now); ok {
			v.RetryAfter = d
		}
		return v
	case status >= 500, isTransientClientStatus(status):
		return Verdict{Kind: Retry}
	default:
		return Verdict{Kind: Terminal}
	}
}

func isTransientClientStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTeapot, http.StatusTooEarly:
		return true
	default:
		return false
	}
}
