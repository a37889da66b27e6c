package httpclient

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
)

// MockTransport is an http.RoundTripper for tests. Stubs are matched in
// registration order; the first match wins.
type MockTransport struct {
	mu          sync.RWMutex
	stubs       []stub
	defaultStub *stub
	requests    []*http.Request
	bodies      [][]byte
}

type stub struct {
	matcher func(*http.Request) bool
	status  int
	header  http.Header
	body    []byte
	err     error
}

// NewMockTransport creates an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// StubResponse answers every unmatched request with status and body.
func (m *MockTransport) StubResponse(statusCode int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &stub{status: statusCode, body: []byte(body)}
	return m
}

// StubError fails every unmatched request with err.
func (m *MockTransport) StubError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultStub = &stub{err: err}
	return m
}

// StubFunc answers requests matching matcher with status, header and body.
func (m *MockTransport) StubFunc(
	matcher func(*http.Request) bool,
	statusCode int,
	header http.Header,
	body string,
) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{matcher: matcher, status: statusCode, header: header, body: []byte(body)})
	return m
}

// StubFuncError fails requests matching matcher with err.
func (m *MockTransport) StubFuncError(matcher func(*http.Request) bool, err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stub{matcher: matcher, err: err})
	return m
}

// RoundTrip implements http.RoundTripper.
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		_ = req.Body.Close()
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.stubs {
		if s.matcher(req) {
			return s.respond(req)
		}
	}
	if m.defaultStub != nil {
		return m.defaultStub.respond(req)
	}
	return nil, errors.New("no stub found for request: " + req.Method + " " + req.URL.String())
}

func (s stub) respond(req *http.Request) (*http.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	header := s.header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        strconv.Itoa(s.status) + " " + http.StatusText(s.status),
		StatusCode:    s.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.body)),
		ContentLength: int64(len(s.body)),
		Request:       req,
	}, nil
}

// Requests returns every request seen so far.
func (m *MockTransport) Requests() []*http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*http.Request{}, m.requests...)
}

// Bodies returns the body bytes of every request seen so far.
func (m *MockTransport) Bodies() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]byte{}, m.bodies...)
}

// RequestCount returns the number of requests seen.
func (m *MockTransport) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// Reset clears recorded requests and stubs.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = nil
	m.defaultStub = nil
	m.requests = nil
	m.bodies = nil
}
