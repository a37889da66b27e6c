package dispatcher

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Outcome labels for dispatcher.requests.
const (
	outcomeSuccess     = "success"
	outcomeErrorStatus = "error_status"
	outcomeGaveUp      = "gave_up"
	outcomeBlocked     = "blocked"
	outcomeFailed      = "failed"
)

type metrics struct {
	requests   metric.Int64Counter
	attempts   metric.Int64Counter
	retries    metric.Int64Counter
	duration   metric.Float64Histogram
	queueDepth metric.Int64UpDownCounter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	m.requests, err = meter.Int64Counter(
		"dispatcher.requests",
		metric.WithDescription("Logical requests by final outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.attempts, err = meter.Int64Counter(
		"dispatcher.attempts",
		metric.WithDescription("HTTP attempts by classification"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.retries, err = meter.Int64Counter(
		"dispatcher.retries",
		metric.WithDescription("Scheduled retries by reason"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"dispatcher.request.duration",
		metric.WithDescription("Time from submission to outcome, including backoff"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.05, 0.1, 0.5, 1, 5, 10, 60, 300, 600, 1800, 3600, 7200,
		),
	)
	if err != nil {
		return nil, err
	}

	m.queueDepth, err = meter.Int64UpDownCounter(
		"dispatcher.queue.depth",
		metric.WithDescription("Requests waiting for admission"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) recordRequest(ctx context.Context, outcome string, p Priority, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("priority", p.String()),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}

func (m *metrics) recordAttempt(ctx context.Context, v VerdictKind) {
	if m == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", v.String())))
}

func (m *metrics) recordRetry(ctx context.Context, v VerdictKind) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", v.String())))
}

func (m *metrics) recordQueued(ctx context.Context, p Priority, delta int64) {
	if m == nil {
		return
	}
	m.queueDepth.Add(ctx, delta, metric.WithAttributes(attribute.String("priority", p.String())))
}
