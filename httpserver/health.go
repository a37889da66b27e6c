package httpserver

import (
	"context"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthCheck probes one dependency. Return nil when it is usable.
//
//	health.AddReadinessCheck("redis", func(ctx context.Context) error {
//	    return rdb.Ping(ctx).Err()
//	})
type HealthCheck func(ctx context.Context) error

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Status              string `json:"status"`
	Latency             string `json:"latency"`
	Message             string `json:"message,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures,omitempty"`
}

// HealthResponse is the body of /livez and /readyz.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Hostname  string                 `json:"hostname,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// PingResponse is the body of /ping.
type PingResponse struct {
	Status string `json:"status"`
}

type probe struct {
	name     string
	check    HealthCheck
	failures int
}

// HealthHandler serves the ping, liveness and readiness endpoints. Readiness
// checks run concurrently, each bounded by the check timeout.
type HealthHandler struct {
	serviceName  string
	version      string
	checkTimeout time.Duration
	startTime    time.Time
	hostname     string

	mu        sync.Mutex
	liveness  []*probe
	readiness []*probe
}

// HealthOption configures a HealthHandler.
type HealthOption func(*HealthHandler)

// WithHealthServiceName sets the service name reported by the endpoints.
func WithHealthServiceName(name string) HealthOption {
	return func(h *HealthHandler) {
		h.serviceName = name
	}
}

// WithVersion sets the version reported by the endpoints.
func WithVersion(version string) HealthOption {
	return func(h *HealthHandler) {
		h.version = version
	}
}

// WithCheckTimeout bounds each check.
// Default: 2s
func WithCheckTimeout(d time.Duration) HealthOption {
	return func(h *HealthHandler) {
		if d > 0 {
			h.checkTimeout = d
		}
	}
}

// NewHealthHandler creates a HealthHandler with no checks.
func NewHealthHandler(opts ...HealthOption) *HealthHandler {
	hostname, _ := os.Hostname()
	h := &HealthHandler{
		serviceName:  "dispatchd",
		version:      "dev",
		checkTimeout: 2 * time.Second,
		startTime:    time.Now(),
		hostname:     hostname,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddLivenessCheck registers a check failing /livez. Keep these to process
// level conditions; a remote outage should not restart the daemon.
func (h *HealthHandler) AddLivenessCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, &probe{name: name, check: check})
}

// AddReadinessCheck registers a check failing /readyz, such as the trust
// store or breaker store connection.
func (h *HealthHandler) AddReadinessCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, &probe{name: name, check: check})
}

// PingHandler always answers 200 without running checks.
func (h *HealthHandler) PingHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteSuccess(w, http.StatusOK, PingResponse{Status: "pong"}, "")
	})
}

// LiveHandler serves /livez.
func (h *HealthHandler) LiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, func() []*probe { return h.liveness })
	})
}

// ReadyHandler serves /readyz.
func (h *HealthHandler) ReadyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, func() []*probe { return h.readiness })
	})
}

func (h *HealthHandler) serve(w http.ResponseWriter, r *http.Request, probes func() []*probe) {
	// One run at a time keeps failure counters consistent.
	h.mu.Lock()
	defer h.mu.Unlock()

	list := probes()
	results := make([]CheckResult, len(list))
	errs := make([]error, len(list))

	var g errgroup.Group
	for i, p := range list {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
			defer cancel()

			start := time.Now()
			errs[i] = p.check(ctx)
			results[i].Latency = time.Since(start).String()
			return nil
		})
	}
	_ = g.Wait()

	var (
		now     = time.Now()
		checks  = make(map[string]CheckResult, len(list))
		failed  []Error
		healthy = true
	)
	for i, p := range list {
		res := results[i]
		if err := errs[i]; err != nil {
			p.failures++
			res.Status = "fail"
			res.Message = err.Error()
			res.ConsecutiveFailures = p.failures
			failed = append(failed, Error{Field: p.name, Message: err.Error()})
			healthy = false
		} else {
			p.failures = 0
			res.Status = "ok"
		}
		checks[p.name] = res
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Field < failed[j].Field })

	status, code, message := "ok", http.StatusOK, "all checks passed"
	if !healthy {
		status, code, message = "fail", http.StatusServiceUnavailable, "one or more checks failed"
	}

	WriteJSON(w, code, Response[HealthResponse]{
		Data: HealthResponse{
			Status:    status,
			Service:   h.serviceName,
			Version:   h.version,
			Uptime:    now.Sub(h.startTime).Round(time.Second).String(),
			Hostname:  h.hostname,
			Timestamp: now.UTC().Format(time.RFC3339),
			Checks:    checks,
		},
		Errors:  failed,
		Message: message,
	})
}
