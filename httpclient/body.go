package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrResponseTooLarge matches any error produced when a response exceeds the
// size cap.
var ErrResponseTooLarge = errors.New("httpclient: response too large")

// ResponseTooLargeError reports a response over the size cap. Declared is
// the Content-Length when that alone exceeded the cap, otherwise -1.
type ResponseTooLargeError struct {
	Limit    int64
	Declared int64
}

func (e *ResponseTooLargeError) Error() string {
	if e.Declared >= 0 {
		return fmt.Sprintf("httpclient: response declares %d bytes, limit is %d", e.Declared, e.Limit)
	}
	return fmt.Sprintf("httpclient: response exceeds limit of %d bytes", e.Limit)
}

func (e *ResponseTooLargeError) Is(target error) bool {
	return target == ErrResponseTooLarge
}

// readBody reads resp.Body, enforcing maxBytes when positive. The body is
// not closed.
func readBody(resp *http.Response, maxBytes int64) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}

	if maxBytes <= 0 {
		return io.ReadAll(resp.Body)
	}

	if resp.ContentLength > maxBytes {
		return nil, &ResponseTooLargeError{Limit: maxBytes, Declared: resp.ContentLength}
	}

	// Read one byte past the cap to tell "exactly at" from "over".
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, &ResponseTooLargeError{Limit: maxBytes, Declared: -1}
	}
	return body, nil
}

type maxBytesKey struct{}

// withMaxBytes asks the instrumented transport to buffer the response body
// under the given cap, so an oversized response fails inside the client span.
func withMaxBytes(ctx context.Context, maxBytes int64) context.Context {
	return context.WithValue(ctx, maxBytesKey{}, maxBytes)
}

func maxBytesFrom(ctx context.Context) (int64, bool) {
	n, ok := ctx.Value(maxBytesKey{}).(int64)
	return n, ok
}

// bufferBody replaces resp.Body with an in-memory copy read under maxBytes.
// On error the original body is closed.
func bufferBody(resp *http.Response, maxBytes int64) error {
	body, err := readBody(resp, maxBytes)
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return nil
}
