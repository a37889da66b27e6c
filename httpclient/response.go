package httpclient

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Response is an http.Response whose body has already been read.
//
// The embedded Response.Body is replaced by a reader over the buffered
// bytes, so it can still be consumed by code expecting a stream.
type Response struct {
	*http.Response

	body []byte
}

// NewResponse builds a buffered Response, mainly for fakes and tests.
func NewResponse(statusCode int, header http.Header, body []byte) *Response {
	if header == nil {
		header = make(http.Header)
	}
	resp := &http.Response{
		Status:        strconv.Itoa(statusCode) + " " + http.StatusText(statusCode),
		StatusCode:    statusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		ContentLength: int64(len(body)),
	}
	return newBufferedResponse(resp, body)
}

func newBufferedResponse(resp *http.Response, body []byte) *Response {
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return &Response{Response: resp, body: body}
}

// Body returns the buffered body.
func (r *Response) Body() []byte {
	return r.body
}

// String returns the body as a string.
func (r *Response) String() string {
	return string(r.body)
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.body, v)
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError reports a status of 400 or above.
func (r *Response) IsError() bool {
	return r != nil && r.StatusCode >= 400
}

// RetryAfter parses the Retry-After header, in delay-seconds or HTTP-date
// form, relative to now. ok is false when the header is absent or invalid.
func (r *Response) RetryAfter(now time.Time) (d time.Duration, ok bool) {
	if r == nil {
		return 0, false
	}
	v := r.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}
