package dispatcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ar-nelson/tapir-sub001/trust"
)

// ErrorKind tags a dispatch failure. Callers may use their own kinds through
// RequestOptions.ErrorKind.
type ErrorKind string

const (
	// KindBlocked marks requests refused by the trust gate.
	KindBlocked ErrorKind = "blocked"
	// KindUnreachable marks requests that gave up without ever getting a
	// response.
	KindUnreachable ErrorKind = "unreachable"
	// KindInvalid marks requests that could not be captured or sent.
	KindInvalid ErrorKind = "invalid"
)

var (
	// ErrBlocked matches errors for requests refused by the trust gate.
	ErrBlocked = trust.ErrBlocked

	// ErrGaveUp matches errors for requests whose retry budget ran out.
	ErrGaveUp = errors.New("dispatcher: gave up after repeated failures")
)

// Error is a dispatch failure surfaced to a caller.
type Error struct {
	Kind    ErrorKind
	Message string
	URL     string
	// Status is the final HTTP status, or 0 when there was no response.
	Status int
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.URL != "" {
		fmt.Fprintf(&b, " (%s)", e.URL)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": HTTP %d", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
