package dispatcher

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// maxBackoffSteps bounds the walk through the schedule. The interval is
// pinned at MaxBackoff long before this.
const maxBackoffSteps = 64

// Policy maps failure counts to retry delays and decides when to give up.
//
// With the defaults the delays are 5s, 50s, 500s and 5000s, so a request
// that never succeeds is attempted at 0s, 5s, 55s, 555s and 5555s before it
// gives up, about 93 minutes after it was first sent.
type Policy struct {
	initial    time.Duration
	multiplier float64
	max        time.Duration
	jitter     float64
	maxRetries int
}

// NewPolicy builds a Policy from the backoff fields of cfg.
func NewPolicy(cfg Config) *Policy {
	return &Policy{
		initial:    cfg.InitialBackoff,
		multiplier: cfg.BackoffMultiplier,
		max:        cfg.MaxBackoff,
		jitter:     cfg.JitterFactor,
		maxRetries: cfg.MaxRetries,
	}
}

// NextDelay returns how long an origin stays backed off after its
// consecutiveFailures-th failure in a row. It returns 0 for no failures.
func (p *Policy) NextDelay(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 || p.initial <= 0 {
		return 0
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.initial,
		RandomizationFactor: p.jitter,
		Multiplier:          p.multiplier,
		MaxInterval:         p.max,
	}
	b.Reset()

	steps := min(consecutiveFailures, maxBackoffSteps)
	var d time.Duration
	for range steps {
		d = b.NextBackOff()
	}
	return d
}

// Exhausted reports whether a request that has failed failures times must
// stop retrying.
func (p *Policy) Exhausted(failures int) bool {
	return failures > p.maxRetries
}
