package dispatcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOriginOf(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "https://Example.COM/inbox", want: "https://example.com:443"},
		{raw: "HTTP://example.com/", want: "http://example.com:80"},
		{raw: "https://example.com:8443/x", want: "https://example.com:8443"},
		{raw: "https://[::1]/x", want: "https://[::1]:443"},
		{raw: "ftp://example.com/", wantErr: true},
		{raw: "/no-host", wantErr: true},
	}

	for _, tt := range tests {
		t.Run("given "+tt.raw, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			require.NoError(t, err)

			got, err := originOf(u)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestCapture(t *testing.T) {
	t.Run("given body, then it is read once and closed", func(t *testing.T) {
		body := &trackingBody{Reader: strings.NewReader("payload")}
		req, err := http.NewRequest(http.MethodPost, "https://remote.example/inbox", body)
		require.NoError(t, err)
		req.Header.Set("Signature", "sig")

		p, err := capture(req, RequestOptions{})
		require.NoError(t, err)
		assert.True(t, body.closed)
		assert.Equal(t, []byte("payload"), p.body)
		assert.Equal(t, Soon, p.priority)

		req.Header.Set("Signature", "changed")
		assert.Equal(t, "sig", p.header.Get("Signature"), "later header edits do not leak in")

		p.ctx = context.Background()
		for i := 0; i < 2; i++ {
			built, err := p.build()
			require.NoError(t, err)
			got, err := io.ReadAll(built.Body)
			require.NoError(t, err)
			assert.Equal(t, "payload", string(got))
			assert.Equal(t, int64(7), built.ContentLength)
		}
	})

	t.Run("given unreadable body, then fails", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, "https://remote.example/inbox", failingReader{})
		require.NoError(t, err)
		_, err = capture(req, RequestOptions{})
		assert.ErrorContains(t, err, "disk on fire")
	})

	t.Run("given bodyless request, then attempts carry no body", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, "https://remote.example/actor", nil)
		require.NoError(t, err)
		p, err := capture(req, RequestOptions{})
		require.NoError(t, err)

		p.ctx = context.Background()
		built, err := p.build()
		require.NoError(t, err)
		assert.Nil(t, built.Body)
	})

	t.Run("given invalid method, then fails", func(t *testing.T) {
		req := &http.Request{Method: "BAD METHOD", URL: &url.URL{Scheme: "https", Host: "remote.example"}}
		_, err := capture(req, RequestOptions{})
		assert.Error(t, err)
	})
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}
