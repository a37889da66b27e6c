package dispatcher

import (
	"context"
	"sync"

	"github.com/ar-nelson/tapir-sub001/httpclient"
)

// Future is the eventual outcome of one dispatched request: either a
// response or an error, never both, set exactly once.
type Future struct {
	id   string
	once sync.Once
	done chan struct{}
	resp *httpclient.Response
	err  error
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// ID identifies the request in logs and traces.
func (f *Future) ID() string {
	return f.id
}

// Done is closed once the outcome is known.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the failure, or nil while pending or on a response.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Response returns the response, or nil while pending or on a failure.
func (f *Future) Response() *httpclient.Response {
	select {
	case <-f.done:
		return f.resp
	default:
		return nil
	}
}

// Wait blocks until the outcome is known or ctx is done. Giving up on the
// wait does not stop the request.
func (f *Future) Wait(ctx context.Context) (*httpclient.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) resolve(resp *httpclient.Response, err error) {
	f.once.Do(func() {
		if err != nil {
			resp = nil
		}
		f.resp, f.err = resp, err
		close(f.done)
	})
}

// Batch is the eventual outcome of an ordered dispatch.
type Batch struct {
	done chan struct{}
	err  error
}

// Done is closed once every request in the batch has an outcome.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Err joins the failures of the batch's requests, or is nil while pending
// or when all succeeded.
func (b *Batch) Err() error {
	select {
	case <-b.done:
		return b.err
	default:
		return nil
	}
}

// Wait blocks until the batch is finished or ctx is done.
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
