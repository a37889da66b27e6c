package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o deadline" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "given nil error, then returns empty", err: nil, want: ""},
		{name: "given context cancelled, then returns cancelled", err: context.Canceled, want: ErrorTypeCancelled},
		{name: "given deadline exceeded, then returns timeout", err: context.DeadlineExceeded, want: ErrorTypeTimeout},
		{name: "given net timeout, then returns timeout", err: timeoutError{}, want: ErrorTypeTimeout},
		{name: "given dns error, then returns dns_error", err: &net.DNSError{Err: "no such host", Name: "x.invalid"}, want: ErrorTypeDNSError},
		{name: "given refused syscall, then returns connection_refused", err: fmt.Errorf("dial: %w", syscall.ECONNREFUSED), want: ErrorTypeConnectionRefused},
		{name: "given reset syscall, then returns connection_reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), want: ErrorTypeConnectionReset},
		{name: "given unexpected eof, then returns eof", err: io.ErrUnexpectedEOF, want: ErrorTypeEOF},
		{name: "given too large, then returns response_too_large", err: &ResponseTooLargeError{Limit: 1, Declared: 2}, want: ErrorTypeTooLarge},
		{name: "given open breaker, then returns circuit_open", err: gobreaker.ErrOpenState, want: ErrorTypeCircuitOpen},
		{name: "given x509 message, then returns tls_error", err: errors.New("x509: certificate signed by unknown authority"), want: ErrorTypeTLSError},
		{name: "given anything else, then returns unknown", err: errors.New("weird"), want: ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestErrorTypeFromStatusCode(t *testing.T) {
	assert.Equal(t, "", errorTypeFromStatusCode(200))
	assert.Equal(t, "", errorTypeFromStatusCode(302))
	assert.Equal(t, "404", errorTypeFromStatusCode(404))
	assert.Equal(t, "503", errorTypeFromStatusCode(503))
}
