package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// DispatchInOrder delivers reqs one at a time. Each request is submitted only
// after the previous one has its outcome, retries included, so the remote
// sees them in order. A failed request is recorded and the chain moves on.
//
// Every body is read before DispatchInOrder returns. The batch is reported
// to the Watcher like a Dispatch.
func (d *Dispatcher) DispatchInOrder(ctx context.Context, reqs []*http.Request, opts RequestOptions) *Batch {
	b := &Batch{done: make(chan struct{})}

	items := make([]*pending, len(reqs))
	captureErrs := make([]error, len(reqs))
	for i, req := range reqs {
		items[i], captureErrs[i] = capture(req, opts)
		if captureErrs[i] != nil {
			captureErrs[i] = invalidError(req, opts, captureErrs[i])
		}
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer close(b.done)

		var errs []error
		for i, p := range items {
			if captureErrs[i] != nil {
				d.metrics.recordRequest(ctx, outcomeFailed, opts.Priority.normalize(), 0)
				errs = append(errs, fmt.Errorf("request %d: %w", i, captureErrs[i]))
				continue
			}

			d.start(ctx, p)
			<-p.future.Done()
			if err := p.future.Err(); err != nil {
				errs = append(errs, fmt.Errorf("request %d: %w", i, err))
			}
		}
		b.err = errors.Join(errs...)
	}()

	if d.watcher != nil {
		d.watcher.Watch(b, fmt.Sprintf("ordered dispatch of %d requests", len(reqs)))
	}
	return b
}
