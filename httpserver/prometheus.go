package httpserver

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusHandler serves the default registry.
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// PrometheusHandlerFor serves g, for daemons that keep their own registry
// with the dispatcher collector registered on it.
func PrometheusHandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError})
}
