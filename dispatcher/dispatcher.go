package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ar-nelson/tapir-sub001/clock"
	"github.com/ar-nelson/tapir-sub001/httpclient"
	"github.com/ar-nelson/tapir-sub001/trust"
)

var errNoResponse = errors.New("dispatcher: fetcher returned neither response nor error")

// Fetcher performs one HTTP exchange. *httpclient.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request, maxBytes int64) (*httpclient.Response, error)
}

// Dispatcher multiplexes outbound requests onto remote origins.
//
// All per-origin state lives in one map guarded by one mutex. The mutex is
// never held across a network call or a timer wait; attempts run on their
// own goroutines and report back under the lock.
type Dispatcher struct {
	fetcher    Fetcher
	clock      clock.Clock
	gate       *trust.Gate
	watcher    Watcher
	classifier Classifier
	policy     *Policy
	cfg        Config
	logger     zerolog.Logger
	tracer     trace.Tracer
	metrics    *metrics

	mu    sync.Mutex
	hosts map[string]*host
	seq   uint64
}

// New creates a Dispatcher sending through fetcher.
func New(fetcher Fetcher, opts ...Option) *Dispatcher {
	c := newConfig(opts...)

	// Instruments are optional; a nil *metrics records nothing.
	m, _ := newMetrics(c.meterProvider.Meter(scope))

	return &Dispatcher{
		fetcher:    fetcher,
		clock:      c.clock,
		gate:       trust.NewGate(c.store),
		watcher:    c.watcher,
		classifier: c.classifier,
		policy:     NewPolicy(c.cfg),
		cfg:        c.cfg,
		logger:     c.logger,
		tracer:     c.tracerProvider.Tracer(scope),
		metrics:    m,
		hosts:      make(map[string]*host),
	}
}

// Dispatch submits req without waiting for it. The returned Future may be
// ignored; if a Watcher is configured it observes the Future and reports a
// failure nobody else saw.
//
// The request body is read and closed before Dispatch returns.
func (d *Dispatcher) Dispatch(ctx context.Context, req *http.Request, opts RequestOptions) *Future {
	description := "dispatch " + describe(req)
	f := d.submit(ctx, req, opts)
	if d.watcher != nil {
		d.watcher.Watch(f, description)
	}
	return f
}

// DispatchAndWait submits req and waits for its outcome.
//
// Cancelling ctx abandons the wait, not the request, which keeps its retry
// schedule. Trace context from ctx is kept.
func (d *Dispatcher) DispatchAndWait(ctx context.Context, req *http.Request, opts RequestOptions) (*httpclient.Response, error) {
	return d.submit(ctx, req, opts).Wait(ctx)
}

func (d *Dispatcher) submit(ctx context.Context, req *http.Request, opts RequestOptions) *Future {
	p, err := capture(req, opts)
	if err != nil {
		return d.rejected(ctx, req, opts, err)
	}
	d.start(ctx, p)
	return p.future
}

// rejected resolves a Future for a request that could not be captured.
func (d *Dispatcher) rejected(ctx context.Context, req *http.Request, opts RequestOptions, cause error) *Future {
	f := newFuture(uuid.NewString())
	f.resolve(nil, invalidError(req, opts, cause))
	d.metrics.recordRequest(ctx, outcomeFailed, opts.Priority.normalize(), 0)
	return f
}

func invalidError(req *http.Request, opts RequestOptions, cause error) *Error {
	e := &Error{Kind: KindInvalid, Message: opts.ErrorMessage, Err: cause}
	if req != nil && req.URL != nil {
		e.URL = req.URL.String()
	}
	return e
}

// start runs the trust gate and queues p on its origin.
func (d *Dispatcher) start(ctx context.Context, p *pending) {
	p.future = newFuture(p.id)
	p.ctx, p.span = d.tracer.Start(context.WithoutCancel(ctx), "dispatch "+p.method,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("dispatch.id", p.id),
			attribute.String("dispatch.origin", p.origin),
			attribute.String("dispatch.priority", p.priority.String()),
			attribute.String("url.full", p.url.String()),
		),
	)
	p.started = d.clock.Now()

	if err := d.gate.Admit(p.ctx, p.url, p.opts.OverrideTrust); err != nil {
		if errors.Is(err, trust.ErrBlocked) {
			d.logger.Info().
				Str("origin", p.origin).
				Str("url", p.url.String()).
				Err(err).
				Msg("request blocked by trust policy")
			d.finish(p, nil, &Error{
				Kind:    KindBlocked,
				Message: p.opts.ErrorMessage,
				URL:     p.url.String(),
				Err:     err,
			}, outcomeBlocked, 0)
			return
		}
		kind := p.opts.ErrorKind
		if kind == "" {
			kind = KindUnreachable
		}
		d.logger.Warn().
			Str("origin", p.origin).
			Str("url", p.url.String()).
			Err(err).
			Msg("trust lookup failed")
		d.finish(p, nil, &Error{
			Kind:    kind,
			Message: p.opts.ErrorMessage,
			URL:     p.url.String(),
			Err:     err,
		}, outcomeFailed, 0)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	p.seq = d.seq

	h := d.hostLocked(p.origin)
	h.enqueue(p)
	d.metrics.recordQueued(p.ctx, p.priority, 1)

	if p.priority == Immediate {
		d.pumpLocked(h)
		return
	}
	at := d.clock.Now()
	if h.notBefore.After(at) {
		at = h.notBefore
	}
	d.scheduleWakeLocked(h, at)
}

func (d *Dispatcher) hostLocked(origin string) *host {
	h, ok := d.hosts[origin]
	if !ok {
		h = newHost(origin, d.cfg.SpacedGap)
		d.hosts[origin] = h
	}
	return h
}

// pumpLocked starts everything h may start now and arranges to be called
// again when something held becomes ready.
func (d *Dispatcher) pumpLocked(h *host) {
	ready, wake := h.take(d.clock.Now(), d.cfg.MaxConcurrentPerHost)
	for _, p := range ready {
		d.metrics.recordQueued(p.ctx, p.priority, -1)
		p.attempts++
		go d.attempt(h, p, p.attempts)
	}
	if !wake.IsZero() {
		d.scheduleWakeLocked(h, wake)
	}
}

// scheduleWakeLocked makes sure h is pumped no later than at. Each host has
// at most one live wake-up; an earlier one already covers a later request.
func (d *Dispatcher) scheduleWakeLocked(h *host, at time.Time) {
	if h.wake != nil && !h.wakeAt.After(at) {
		return
	}
	if h.wake != nil {
		h.wake.Stop()
	}

	h.wakeGen++
	gen := h.wakeGen
	h.wakeAt = at
	h.wake = d.clock.ScheduleAt(at, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if h.wakeGen != gen {
			return
		}
		h.wake = nil
		d.pumpLocked(h)
	})
}

// attempt sends p once and records the result.
func (d *Dispatcher) attempt(h *host, p *pending, n int) {
	var (
		resp    *httpclient.Response
		verdict Verdict
	)
	req, err := p.build()
	if err != nil {
		err = fmt.Errorf("dispatcher: build request: %w", err)
		verdict = Verdict{Kind: Terminal}
	} else {
		resp, err = d.fetcher.Fetch(p.ctx, req, p.opts.MaxBytes)
		if resp == nil && err == nil {
			err = errNoResponse
		}
		if err != nil {
			resp = nil
		}
		verdict = d.classifier(resp, err, d.clock.Now())
	}
	d.metrics.recordAttempt(p.ctx, verdict.Kind)

	var (
		finished bool
		outResp  *httpclient.Response
		outErr   error
		outcome  string
	)

	d.mu.Lock()
	now := d.clock.Now()
	h.release(p)

	switch verdict.Kind {
	case Terminal:
		if resp != nil {
			h.consecutiveFailures = 0
		}
		h.lastDispatchAt = now
		finished = true
		outResp, outErr = p.convert(resp, err)
		outcome = outcomeOf(outResp, outErr)

	default:
		h.consecutiveFailures++
		p.failures++
		if resp != nil {
			p.lastResp = resp
		}
		if err != nil {
			p.lastErr = err
		}

		if d.policy.Exhausted(p.failures) {
			finished = true
			outcome = outcomeGaveUp
			if p.lastResp != nil {
				outResp, outErr = p.convert(p.lastResp, nil)
			} else {
				outResp, outErr = p.convert(nil, &Error{
					Kind:    KindUnreachable,
					Message: p.opts.ErrorMessage,
					URL:     p.url.String(),
					Err:     fmt.Errorf("%w: %w", ErrGaveUp, p.lastErr),
				})
			}
			d.logger.Warn().
				Str("origin", p.origin).
				Str("url", p.url.String()).
				Int("attempt", n).
				Int("status", statusOf(p.lastResp)).
				AnErr("last_error", p.lastErr).
				Msg("giving up on request")
			break
		}

		delay := d.retryDelay(h, verdict)
		h.backOff(now.Add(delay))
		h.enqueue(p)
		d.metrics.recordQueued(p.ctx, p.priority, 1)
		d.metrics.recordRetry(p.ctx, verdict.Kind)
		p.span.AddEvent("dispatch.retry", trace.WithAttributes(
			attribute.Int("dispatch.attempt", n),
			attribute.String("dispatch.reason", verdict.Kind.String()),
			attribute.Int64("dispatch.delay_ms", delay.Milliseconds()),
		))
		d.logger.Debug().
			Str("origin", p.origin).
			Str("url", p.url.String()).
			Int("attempt", n).
			Int("status", statusOf(resp)).
			Dur("delay", delay).
			Err(err).
			Msg("retrying request")
	}

	d.pumpLocked(h)
	d.mu.Unlock()

	if finished {
		d.finish(p, outResp, outErr, outcome, n)
	}
}

// retryDelay is the policy delay for h's failure streak, raised to a 429's
// Retry-After when that is longer.
func (d *Dispatcher) retryDelay(h *host, v Verdict) time.Duration {
	delay := d.policy.NextDelay(h.consecutiveFailures)
	if v.Kind != RateLimited || v.RetryAfter <= delay {
		return delay
	}
	if d.cfg.MaxRetryAfter > 0 && v.RetryAfter > d.cfg.MaxRetryAfter {
		return max(delay, d.cfg.MaxRetryAfter)
	}
	return v.RetryAfter
}

// finish delivers p's outcome. It must be called without the lock.
func (d *Dispatcher) finish(p *pending, resp *httpclient.Response, err error, outcome string, attempts int) {
	d.metrics.recordRequest(p.ctx, outcome, p.priority, d.clock.Now().Sub(p.started))

	p.span.SetAttributes(
		attribute.Int("dispatch.attempts", attempts),
		attribute.String("dispatch.outcome", outcome),
	)
	if resp != nil {
		p.span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	}
	if err != nil {
		p.span.RecordError(err)
		p.span.SetStatus(codes.Error, err.Error())
	}
	p.span.End()

	p.future.resolve(resp, err)
}

// convert applies RequestOptions.ErrorKind to a final outcome.
func (p *pending) convert(resp *httpclient.Response, err error) (*httpclient.Response, error) {
	kind := p.opts.ErrorKind
	if kind == "" {
		return resp, err
	}

	e := &Error{Kind: kind, Message: p.opts.ErrorMessage, URL: p.url.String()}
	switch {
	case err != nil:
		if errors.Is(err, ErrBlocked) {
			return nil, err
		}
		e.Err = err
	case resp == nil:
		e.Err = errNoResponse
	case !resp.IsSuccess():
		e.Status = resp.StatusCode
	default:
		return resp, nil
	}
	return nil, e
}

func outcomeOf(resp *httpclient.Response, err error) string {
	switch {
	case err != nil:
		return outcomeFailed
	case resp.IsSuccess():
		return outcomeSuccess
	default:
		return outcomeErrorStatus
	}
}

func statusOf(resp *httpclient.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func describe(req *http.Request) string {
	if req == nil || req.URL == nil {
		return "<nil request>"
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + req.URL.String()
}
