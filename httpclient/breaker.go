package httpclient

import (
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore returns a SharedDataStore backed by Redis, so breaker state
// for a destination is shared by every dispatcher replica.
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// CircuitBreaker matches the Execute method of the gobreaker breakers.
type CircuitBreaker interface {
	Execute(req func() (interface{}, error)) (interface{}, error)
}

// BreakerClassifier reports whether an exchange counts as a failure for the
// breaker.
type BreakerClassifier func(resp *http.Response, err error) bool

// BreakerConfig configures the breaker kept for each destination host.
//
// An open breaker fails requests with gobreaker.ErrOpenState without
// touching the network. The dispatcher treats that like any transport error
// and backs the host off.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32

	// Interval clears counts while closed. Zero never clears.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// FailureThreshold is the minimum request count before the ratio rule applies.
	FailureThreshold uint32

	// FailureRatio trips the breaker once reached (0.0 - 1.0).
	FailureRatio float64

	// ConsecutiveFailures trips the breaker regardless of ratio. Zero disables it.
	ConsecutiveFailures uint32

	// Store shares state between processes. Nil keeps it in memory.
	Store gobreaker.SharedDataStore

	// Classifier decides what counts as a failure.
	// Default: DefaultBreakerClassifier
	Classifier BreakerClassifier

	// OnStateChange is called after every transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig opens a host's breaker after 5 consecutive failures,
// or half of at least 20 requests, and probes again after a minute.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             time.Minute,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig is DefaultBreakerConfig with a shared store.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerClassifier counts 5xx responses and network errors. 429 is
// left to the dispatcher's backoff.
func DefaultBreakerClassifier(resp *http.Response, err error) bool {
	if err != nil {
		return isNetworkError(err)
	}
	return resp != nil && resp.StatusCode >= 500
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

func (bc *BreakerConfig) settings(name string, onChange func(name string, from, to gobreaker.State)) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if bc.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= bc.ConsecutiveFailures {
				return true
			}
			if bc.FailureThreshold > 0 && counts.Requests < bc.FailureThreshold {
				return false
			}
			return bc.FailureRatio > 0 && counts.Requests > 0 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		OnStateChange: onChange,
	}
}
