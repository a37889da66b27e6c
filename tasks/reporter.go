// Package tasks watches fire-and-forget work and surfaces failures that no
// caller is waiting for.
//
// Watch spawns a waiter per future; failed futures are sent as Failure values
// on a channel that Run drains and logs:
//
//	reporter := tasks.NewReporter(tasks.WithLogger(logger))
//	go reporter.Run(ctx)
//
//	reporter.Watch(future, "deliver Create to https://remote.example/inbox")
package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Future is the observable side of a background operation.
type Future interface {
	// Done is closed once the operation has finished.
	Done() <-chan struct{}
	// Err returns the operation's error once Done is closed.
	Err() error
}

// Failure is one failed background operation.
type Failure struct {
	Description string
	Err         error
	At          time.Time
}

// Reporter logs failures of watched futures exactly once.
type Reporter struct {
	failures chan Failure
	logger   zerolog.Logger
	hook     func(Failure)
	now      func() time.Time

	// mu guards closed. Watchers send under the read lock, so once Run holds
	// the write lock no further failure can enter the channel.
	mu     sync.RWMutex
	closed bool
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogger sets the logger failures are written to.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reporter) {
		r.logger = logger
	}
}

// WithBufferSize sets how many failures may queue before watchers wait for Run.
func WithBufferSize(n int) Option {
	return func(r *Reporter) {
		if n >= 0 {
			r.failures = make(chan Failure, n)
		}
	}
}

// WithFailureHook registers fn to be called for each failure after it is logged.
func WithFailureHook(fn func(Failure)) Option {
	return func(r *Reporter) {
		r.hook = fn
	}
}

// WithNow overrides the timestamp source for failures.
func WithNow(now func() time.Time) Option {
	return func(r *Reporter) {
		r.now = now
	}
}

// NewReporter creates a Reporter. Nothing is logged until Run is started.
func NewReporter(opts ...Option) *Reporter {
	r := &Reporter{
		failures: make(chan Failure, 64),
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Watch observes f in the background. If f finishes with an error, the
// failure is reported under description.
func (r *Reporter) Watch(f Future, description string) {
	go func() {
		<-f.Done()
		err := f.Err()
		if err == nil {
			return
		}

		failure := Failure{Description: description, Err: err, At: r.now()}

		r.mu.RLock()
		if !r.closed {
			r.failures <- failure
			r.mu.RUnlock()
			return
		}
		r.mu.RUnlock()
		r.handle(failure)
	}()
}

// Run drains failures until ctx is done. It must be called at most once.
// Failures reported after Run returns are handled directly by the watcher
// goroutine.
func (r *Reporter) Run(ctx context.Context) error {
	for {
		select {
		case failure := <-r.failures:
			r.handle(failure)
		case <-ctx.Done():
			r.stop()
			return nil
		}
	}
}

// stop marks the reporter closed and handles everything already queued.
// Watchers blocked on a full channel hold the read lock, so the channel is
// drained while waiting for the write lock.
func (r *Reporter) stop() {
	locked := make(chan struct{})
	go func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(locked)
	}()

	for {
		select {
		case failure := <-r.failures:
			r.handle(failure)
		case <-locked:
			for {
				select {
				case failure := <-r.failures:
					r.handle(failure)
				default:
					return
				}
			}
		}
	}
}

func (r *Reporter) handle(f Failure) {
	r.logger.Error().
		Err(f.Err).
		Str("task", f.Description).
		Time("failed_at", f.At).
		Msg("background task failed")

	if r.hook != nil {
		r.hook(f)
	}
}
