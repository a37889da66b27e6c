package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ar-nelson/tapir-sub001/dispatcher"
	"github.com/ar-nelson/tapir-sub001/httpclient"
	"github.com/ar-nelson/tapir-sub001/httpserver"
)

// maxOrdered caps the length of one ordered batch.
const maxOrdered = 100

// RequestSpec describes one outgoing request.
type RequestSpec struct {
	Method  string            `json:"method" validate:"omitempty,oneof=GET HEAD POST PUT PATCH DELETE"`
	URL     string            `json:"url" validate:"required,http_url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// OptionsSpec carries dispatcher.RequestOptions over JSON.
type OptionsSpec struct {
	Priority      dispatcher.Priority `json:"priority"`
	MaxBytes      int64               `json:"max_bytes" validate:"gte=0"`
	OverrideTrust bool                `json:"override_trust"`
	ErrorKind     string              `json:"error_kind" validate:"omitempty,max=64"`
	ErrorMessage  string              `json:"error_message" validate:"omitempty,max=512"`
}

// DispatchBody is the payload of POST /v1/dispatch.
type DispatchBody struct {
	RequestSpec
	OptionsSpec
	// Wait holds the call open until the outcome, up to the server's
	// max wait.
	Wait bool `json:"wait"`
}

// OrderedBody is the payload of POST /v1/dispatch/ordered.
type OrderedBody struct {
	Requests []RequestSpec `json:"requests" validate:"required,min=1,dive"`
	OptionsSpec
	Wait bool `json:"wait"`
}

// Queued acknowledges a fire-and-forget dispatch.
type Queued struct {
	ID    string `json:"id,omitempty"`
	Count int    `json:"count"`
}

// Outcome is the final response of a waited dispatch.
type Outcome struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body"`
}

// HostView is one row of GET /v1/hosts.
type HostView struct {
	dispatcher.HostStats
	BackedOff bool `json:"backed_off"`
}

type api struct {
	dispatcher   *dispatcher.Dispatcher
	logger       zerolog.Logger
	validate     *validator.Validate
	maxBodyBytes int64
	maxWait      time.Duration
}

func newAPI(d *dispatcher.Dispatcher, logger zerolog.Logger, maxBodyBytes int64, maxWait time.Duration) *api {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	return &api{
		dispatcher:   d,
		logger:       logger,
		validate:     v,
		maxBodyBytes: maxBodyBytes,
		maxWait:      maxWait,
	}
}

func (a *api) routes(health *httpserver.HealthHandler, registry prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Method(http.MethodGet, "/ping", health.PingHandler())
	r.Method(http.MethodGet, "/livez", health.LiveHandler())
	r.Method(http.MethodGet, "/readyz", health.ReadyHandler())
	r.Method(http.MethodGet, "/metrics", httpserver.PrometheusHandlerFor(registry))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/dispatch", a.dispatch)
		r.Post("/dispatch/ordered", a.dispatchOrdered)
		r.Get("/hosts", a.hosts)
	})

	return r
}

func (a *api) dispatch(w http.ResponseWriter, r *http.Request) {
	var body DispatchBody
	if !a.decode(w, r, &body) {
		return
	}

	req, err := body.RequestSpec.build(r.Context())
	if err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid request", httpserver.Error{Field: "url", Message: err.Error()})
		return
	}

	future := a.dispatcher.Dispatch(r.Context(), req, body.OptionsSpec.options())
	if !body.Wait {
		httpserver.WriteSuccess(w, http.StatusAccepted, Queued{ID: future.ID(), Count: 1}, "queued")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.maxWait)
	defer cancel()

	resp, err := future.Wait(ctx)
	if err != nil {
		a.writeDispatchError(ctx, w, future.ID(), err)
		return
	}
	httpserver.WriteSuccess(w, http.StatusOK, outcomeOf(future.ID(), resp), "")
}

func (a *api) dispatchOrdered(w http.ResponseWriter, r *http.Request) {
	var body OrderedBody
	if !a.decode(w, r, &body) {
		return
	}
	if len(body.Requests) > maxOrdered {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid request",
			httpserver.Error{Field: "requests", Message: fmt.Sprintf("at most %d requests per batch", maxOrdered)})
		return
	}

	reqs := make([]*http.Request, len(body.Requests))
	for i, spec := range body.Requests {
		req, err := spec.build(r.Context())
		if err != nil {
			httpserver.WriteError(w, http.StatusBadRequest, "invalid request",
				httpserver.Error{Field: fmt.Sprintf("requests[%d].url", i), Message: err.Error()})
			return
		}
		reqs[i] = req
	}

	batch := a.dispatcher.DispatchInOrder(r.Context(), reqs, body.OptionsSpec.options())
	if !body.Wait {
		httpserver.WriteSuccess(w, http.StatusAccepted, Queued{Count: len(reqs)}, "queued")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.maxWait)
	defer cancel()

	err := batch.Wait(ctx)
	switch {
	case err == nil:
		httpserver.WriteSuccess(w, http.StatusOK, Queued{Count: len(reqs)}, "delivered")
	case waitDone(ctx, err):
		httpserver.WriteError(w, http.StatusGatewayTimeout, "still dispatching; outcome will be logged")
	default:
		var fields []httpserver.Error
		for _, e := range unjoin(err) {
			fields = append(fields, httpserver.Error{Field: "requests", Message: e.Error()})
		}
		httpserver.WriteError(w, http.StatusBadGateway, "some requests failed", fields...)
	}
}

func (a *api) hosts(w http.ResponseWriter, _ *http.Request) {
	now := a.dispatcher.Now()
	stats := a.dispatcher.Stats()

	views := make([]HostView, len(stats))
	for i, s := range stats {
		views[i] = HostView{HostStats: s, BackedOff: s.BackedOff(now)}
	}
	httpserver.WriteSuccess(w, http.StatusOK, views, "")
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (a *api) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httpserver.DecodeJSON(w, r, a.maxBodyBytes, v); err != nil {
		httpserver.WriteError(w, http.StatusBadRequest, "malformed body", httpserver.Error{Field: "body", Message: err.Error()})
		return false
	}

	err := a.validate.Struct(v)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		httpserver.WriteError(w, http.StatusBadRequest, "invalid request", httpserver.Error{Field: "body", Message: err.Error()})
		return false
	}
	fields := make([]httpserver.Error, len(verrs))
	for i, fe := range verrs {
		fields[i] = httpserver.Error{Field: fe.Field(), Message: "failed " + fe.Tag()}
	}
	httpserver.WriteError(w, http.StatusBadRequest, "invalid request", fields...)
	return false
}

// writeDispatchError maps a dispatch failure onto an API status.
func (a *api) writeDispatchError(waitCtx context.Context, w http.ResponseWriter, id string, err error) {
	if waitDone(waitCtx, err) {
		httpserver.WriteError(w, http.StatusGatewayTimeout, "still dispatching; outcome will be logged",
			httpserver.Error{Field: "id", Message: id})
		return
	}

	status := http.StatusBadGateway
	switch dispatcher.KindOf(err) {
	case dispatcher.KindBlocked:
		status = http.StatusForbidden
	case dispatcher.KindInvalid:
		status = http.StatusBadRequest
	case "":
		a.logger.Error().Err(err).Str("id", id).Msg("dispatch failed without a kind")
		status = http.StatusInternalServerError
	}
	httpserver.WriteError(w, status, err.Error(), httpserver.Error{Field: "id", Message: id})
}

func (s RequestSpec) build(ctx context.Context) (*http.Request, error) {
	method := s.Method
	if method == "" {
		method = http.MethodPost
		if s.Body == "" {
			method = http.MethodGet
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.URL, bytes.NewReader([]byte(s.Body)))
	if err != nil {
		return nil, err
	}
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (o OptionsSpec) options() dispatcher.RequestOptions {
	return dispatcher.RequestOptions{
		Priority:      o.Priority,
		MaxBytes:      o.MaxBytes,
		OverrideTrust: o.OverrideTrust,
		ErrorKind:     dispatcher.ErrorKind(o.ErrorKind),
		ErrorMessage:  o.ErrorMessage,
	}
}

func outcomeOf(id string, resp *httpclient.Response) Outcome {
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = strings.Join(resp.Header.Values(k), ", ")
	}
	return Outcome{
		ID:      id,
		Status:  resp.StatusCode,
		Headers: headers,
		Body:    resp.String(),
	}
}

// waitDone reports whether err only means the caller stopped waiting. The
// request itself may still fail with a deadline error of its own.
func waitDone(waitCtx context.Context, err error) bool {
	cause := waitCtx.Err()
	return cause != nil && err == cause
}

func unjoin(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
