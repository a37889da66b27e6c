package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ar-nelson/tapir-sub001/clock"
	"github.com/ar-nelson/tapir-sub001/dispatcher"
	"github.com/ar-nelson/tapir-sub001/httpclient"
	"github.com/ar-nelson/tapir-sub001/httpserver"
	"github.com/ar-nelson/tapir-sub001/trust"
)

type received struct {
	method      string
	path        string
	contentType string
	body        string
}

// remote is an inbox server recording what it receives. Paths starting with
// /missing answer 404 and /down answers 503.
type remote struct {
	*httptest.Server

	mu   sync.Mutex
	seen []received
}

func newRemote(t *testing.T) *remote {
	t.Helper()
	r := &remote{}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.seen = append(r.seen, received{
			method:      req.Method,
			path:        req.URL.Path,
			contentType: req.Header.Get("Content-Type"),
			body:        string(body),
		})
		r.mu.Unlock()

		switch {
		case strings.HasPrefix(req.URL.Path, "/missing"):
			w.WriteHeader(http.StatusNotFound)
		case strings.HasPrefix(req.URL.Path, "/down"):
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.Header().Set("X-Inbox", "accepted")
			w.WriteHeader(http.StatusAccepted)
			_, _ = io.WriteString(w, "ok "+req.URL.Path)
		}
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *remote) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.seen))
	for i, s := range r.seen {
		out[i] = s.path
	}
	return out
}

func (r *remote) last() received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[len(r.seen)-1]
}

type testAPI struct {
	handler http.Handler
	remote  *remote
	clk     *clock.Fake
}

func newTestAPI(t *testing.T, maxWait time.Duration) *testAPI {
	t.Helper()

	rem := newRemote(t)
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	d := dispatcher.New(httpclient.New(),
		dispatcher.WithClock(clk),
		dispatcher.WithTrustStore(trust.NewMemoryStore(map[string]trust.Level{
			"blocked.example": trust.BlockUnconditional,
		})),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(dispatcher.NewCollector(d))

	a := newAPI(d, zerolog.Nop(), 1<<20, maxWait)
	return &testAPI{
		handler: a.routes(httpserver.NewHealthHandler(), registry),
		remote:  rem,
		clk:     clk,
	}
}

func (ta *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) httpserver.Response[T] {
	t.Helper()
	var out httpserver.Response[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAPI_DispatchAndWait(t *testing.T) {
	ta := newTestAPI(t, 5*time.Second)

	rec := ta.do(t, http.MethodPost, "/v1/dispatch", `{
		"url": "`+ta.remote.URL+`/inbox",
		"headers": {"Content-Type": "application/activity+json"},
		"body": "{\"type\":\"Create\"}",
		"priority": "immediate",
		"wait": true
	}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeData[Outcome](t, rec)
	assert.NotEmpty(t, got.Data.ID)
	assert.Equal(t, http.StatusAccepted, got.Data.Status)
	assert.Equal(t, "ok /inbox", got.Data.Body)
	assert.Equal(t, "accepted", got.Data.Headers["X-Inbox"])

	sent := ta.remote.last()
	assert.Equal(t, http.MethodPost, sent.method)
	assert.Equal(t, "application/activity+json", sent.contentType)
	assert.Equal(t, `{"type":"Create"}`, sent.body)
}

func TestAPI_DispatchFireAndForget(t *testing.T) {
	ta := newTestAPI(t, 5*time.Second)

	rec := ta.do(t, http.MethodPost, "/v1/dispatch", `{"url": "`+ta.remote.URL+`/queued", "priority": "eventually"}`)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	got := decodeData[Queued](t, rec)
	assert.NotEmpty(t, got.Data.ID)
	assert.Equal(t, 1, got.Data.Count)

	require.Eventually(t, func() bool {
		return len(ta.remote.paths()) == 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, http.MethodGet, ta.remote.last().method, "no body defaults to GET")
}

func TestAPI_DispatchErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      func(remoteURL string) string
		wantCode  int
		wantField string
	}{
		{
			name: "given blocked domain, then 403",
			body: func(string) string {
				return `{"url": "https://blocked.example/inbox", "wait": true}`
			},
			wantCode:  http.StatusForbidden,
			wantField: "id",
		},
		{
			name: "given terminal 404 with error kind, then 502",
			body: func(u string) string {
				return `{"url": "` + u + `/missing", "priority": "immediate", "error_kind": "delivery", "wait": true}`
			},
			wantCode:  http.StatusBadGateway,
			wantField: "id",
		},
		{
			name: "given missing url, then 400 naming url",
			body: func(string) string {
				return `{"priority": "soon"}`
			},
			wantCode:  http.StatusBadRequest,
			wantField: "url",
		},
		{
			name: "given unsupported method, then 400 naming method",
			body: func(u string) string {
				return `{"url": "` + u + `/inbox", "method": "TRACE"}`
			},
			wantCode:  http.StatusBadRequest,
			wantField: "method",
		},
		{
			name: "given unknown priority, then 400 malformed body",
			body: func(u string) string {
				return `{"url": "` + u + `/inbox", "priority": "whenever"}`
			},
			wantCode:  http.StatusBadRequest,
			wantField: "body",
		},
		{
			name: "given unknown field, then 400 malformed body",
			body: func(u string) string {
				return `{"url": "` + u + `/inbox", "urgent": true}`
			},
			wantCode:  http.StatusBadRequest,
			wantField: "body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestAPI(t, 5*time.Second)

			rec := ta.do(t, http.MethodPost, "/v1/dispatch", tt.body(ta.remote.URL))

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			got := decodeData[any](t, rec)
			require.NotEmpty(t, got.Errors)
			assert.Equal(t, tt.wantField, got.Errors[0].Field)
		})
	}
}

func TestAPI_WaitLimit(t *testing.T) {
	ta := newTestAPI(t, 50*time.Millisecond)

	rec := ta.do(t, http.MethodPost, "/v1/dispatch", `{"url": "`+ta.remote.URL+`/down", "priority": "immediate", "wait": true}`)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "still dispatching")
}

func TestAPI_DispatchOrdered(t *testing.T) {
	tests := []struct {
		name       string
		paths      []string
		errorKind  string
		wantCode   int
		wantErrors int
	}{
		{
			name:     "given all succeed, then 200 and delivered in order",
			paths:    []string{"/one", "/two", "/three"},
			wantCode: http.StatusOK,
		},
		{
			name:       "given middle one fails, then 502 and the rest still delivered in order",
			paths:      []string{"/one", "/missing", "/three"},
			errorKind:  "delivery",
			wantCode:   http.StatusBadGateway,
			wantErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestAPI(t, 5*time.Second)

			reqs := make([]RequestSpec, len(tt.paths))
			for i, p := range tt.paths {
				reqs[i] = RequestSpec{URL: ta.remote.URL + p, Body: "activity " + p}
			}
			payload, err := json.Marshal(OrderedBody{
				Requests:    reqs,
				OptionsSpec: OptionsSpec{Priority: dispatcher.Immediate, ErrorKind: tt.errorKind},
				Wait:        true,
			})
			require.NoError(t, err)

			rec := ta.do(t, http.MethodPost, "/v1/dispatch/ordered", string(payload))

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.paths, ta.remote.paths())
			got := decodeData[any](t, rec)
			assert.Len(t, got.Errors, tt.wantErrors)
		})
	}

	t.Run("given empty batch, then 400", func(t *testing.T) {
		ta := newTestAPI(t, 5*time.Second)
		rec := ta.do(t, http.MethodPost, "/v1/dispatch/ordered", `{"requests": []}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAPI_HostsAndMetrics(t *testing.T) {
	ta := newTestAPI(t, 5*time.Second)

	rec := ta.do(t, http.MethodPost, "/v1/dispatch", `{"url": "`+ta.remote.URL+`/down", "priority": "immediate"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		rec := ta.do(t, http.MethodGet, "/v1/hosts", "")
		got := decodeData[[]HostView](t, rec)
		return len(got.Data) == 1 && got.Data[0].ConsecutiveFailures == 1
	}, 5*time.Second, time.Millisecond)

	got := decodeData[[]HostView](t, ta.do(t, http.MethodGet, "/v1/hosts", ""))
	host := got.Data[0]
	assert.Equal(t, ta.remote.URL, host.Origin)
	assert.True(t, host.BackedOff)
	assert.Equal(t, ta.clk.Now().Add(5*time.Second), host.NotBefore)

	metrics := ta.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), `dispatcher_host_consecutive_failures{origin="`+ta.remote.URL+`"} 1`)
}

func TestAPI_Probes(t *testing.T) {
	ta := newTestAPI(t, time.Second)

	for _, path := range []string{"/ping", "/livez", "/readyz"} {
		rec := ta.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
