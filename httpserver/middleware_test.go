package httpserver_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ar-nelson/tapir-sub001/httpserver"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/v1/hosts", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/dispatch", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	return r
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) httpserver.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name+">")
				next.ServeHTTP(w, r)
				order = append(order, "<"+name)
			})
		}
	}

	handler := httpserver.Chain(mark("a"), mark("b"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a>", "b>", "handler", "<b", "<a"}, order)
}

func TestRecovery(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode int
		wantLog  bool
	}{
		{
			name:     "given handler panics, then 500 and panic logged",
			handler:  func(http.ResponseWriter, *http.Request) { panic("scheduler exploded") },
			wantCode: http.StatusInternalServerError,
			wantLog:  true,
		},
		{
			name:     "given handler returns normally, then response passes through",
			handler:  func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) },
			wantCode: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			handler := httpserver.Recovery(zerolog.New(&logs))(tt.handler)

			rec := httptest.NewRecorder()
			assert.NotPanics(t, func() {
				handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/dispatch", nil))
			})

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantLog {
				assert.Contains(t, logs.String(), "scheduler exploded")
				assert.Contains(t, logs.String(), "/v1/dispatch")
			} else {
				assert.Empty(t, logs.String())
			}
		})
	}

	t.Run("given abort handler panic, then it propagates", func(t *testing.T) {
		handler := httpserver.Recovery(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))
		assert.Panics(t, func() {
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		})
	})
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{name: "given caller id, then forwarded", incoming: "caller-supplied"},
		{name: "given no id, then generated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := httpserver.RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = httpserver.RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(httpserver.RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, rec.Header().Get(httpserver.RequestIDHeader))
			if tt.incoming != "" {
				assert.Equal(t, tt.incoming, seen)
			} else {
				assert.Len(t, seen, 36)
			}
		})
	}

	t.Run("given empty context, then empty id", func(t *testing.T) {
		assert.Empty(t, httpserver.RequestIDFromContext(context.Background()))
	})
}

func TestLogger(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		path      string
		wantLevel string
		wantRoute string
		wantNone  bool
	}{
		{
			name:      "given matched route, then info line with route pattern",
			method:    http.MethodPost,
			path:      "/v1/dispatch",
			wantLevel: "info",
			wantRoute: "/v1/dispatch",
		},
		{
			name:      "given 5xx, then error level",
			method:    http.MethodGet,
			path:      "/boom",
			wantLevel: "error",
			wantRoute: "/boom",
		},
		{
			name:      "given unknown path, then warn and unmatched route",
			method:    http.MethodGet,
			path:      "/nope",
			wantLevel: "warn",
			wantRoute: "unmatched",
		},
		{
			name:     "given skipped path, then nothing logged",
			method:   http.MethodGet,
			path:     "/v1/hosts",
			wantNone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			handler := httpserver.Chain(
				httpserver.Logger(httpserver.LoggerConfig{
					Logger:    zerolog.New(&logs),
					SkipPaths: []string{"/v1/hosts"},
				}),
				httpserver.RequestID(),
			)(newRouter())

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.path, nil))

			if tt.wantNone {
				assert.Empty(t, logs.String())
				return
			}
			out := logs.String()
			assert.Contains(t, out, `"level":"`+tt.wantLevel+`"`)
			assert.Contains(t, out, `"route":"`+tt.wantRoute+`"`)
			assert.Contains(t, out, `"request_id":"`)
			assert.Contains(t, out, "request completed")
		})
	}
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	handler := httpserver.Tracing(httpserver.TracingConfig{
		TracerProvider: tp,
		SkipPaths:      []string{"/v1/hosts"},
	})(newRouter())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/dispatch", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/hosts", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "HTTP POST /v1/dispatch", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("http.response.status_code", http.StatusAccepted))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "HTTP GET /boom", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := httpserver.NewMetrics(httpserver.MetricsConfig{MeterProvider: mp})
	require.NoError(t, err)

	handler := m.Middleware()(newRouter())
	for range 2 {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/dispatch", nil))
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	var routes []string
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "http.server.requests" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
				route, _ := dp.Attributes.Value("http.route")
				routes = append(routes, route.AsString())
			}
		}
	}

	assert.Equal(t, int64(2), total)
	assert.Equal(t, []string{"/v1/dispatch"}, routes)
}
