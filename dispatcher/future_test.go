package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ar-nelson/tapir-sub001/httpclient"
)

func TestFuture(t *testing.T) {
	t.Run("given pending future, then accessors report nothing", func(t *testing.T) {
		f := newFuture("id-1")
		assert.Equal(t, "id-1", f.ID())
		assert.Nil(t, f.Err())
		assert.Nil(t, f.Response())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := f.Wait(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("given resolved twice, then first outcome wins", func(t *testing.T) {
		f := newFuture("id-2")
		resp := httpclient.NewResponse(200, nil, nil)
		f.resolve(resp, nil)
		f.resolve(nil, errors.New("late"))

		got, err := f.Wait(context.Background())
		require.NoError(t, err)
		assert.Same(t, resp, got)
		assert.Same(t, resp, f.Response())
	})

	t.Run("given both response and error, then only the error is kept", func(t *testing.T) {
		f := newFuture("id-3")
		f.resolve(httpclient.NewResponse(500, nil, nil), errors.New("boom"))
		assert.Nil(t, f.Response())
		assert.EqualError(t, f.Err(), "boom")
	})
}

func TestError(t *testing.T) {
	cause := errors.New("refused")
	err := &Error{Kind: KindUnreachable, Message: "delivery failed", URL: "https://x.example/inbox", Status: 503, Err: cause}

	assert.Equal(t, "unreachable: delivery failed (https://x.example/inbox): HTTP 503: refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindUnreachable, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(cause))
}
