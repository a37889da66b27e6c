package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
)

var _ prometheus.Collector = (*Collector)(nil)

// Collector exports Stats as Prometheus gauges labelled by origin.
//
//	prometheus.MustRegister(dispatcher.NewCollector(d))
type Collector struct {
	d *Dispatcher

	failures *prometheus.Desc
	backoff  *prometheus.Desc
	queued   *prometheus.Desc
	inFlight *prometheus.Desc
}

// NewCollector returns a Collector reading from d.
func NewCollector(d *Dispatcher) *Collector {
	labels := []string{"origin"}
	return &Collector{
		d: d,
		failures: prometheus.NewDesc(
			"dispatcher_host_consecutive_failures",
			"Failed attempts in a row for the origin.",
			labels, nil,
		),
		backoff: prometheus.NewDesc(
			"dispatcher_host_backoff_seconds",
			"Time until the origin accepts new attempts.",
			labels, nil,
		),
		queued: prometheus.NewDesc(
			"dispatcher_host_queued_requests",
			"Requests waiting for the origin.",
			labels, nil,
		),
		inFlight: prometheus.NewDesc(
			"dispatcher_host_in_flight_requests",
			"Requests currently being sent to the origin.",
			labels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.failures
	ch <- c.backoff
	ch <- c.queued
	ch <- c.inFlight
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	now := c.d.Now()
	for _, s := range c.d.Stats() {
		var backoff float64
		if s.BackedOff(now) {
			backoff = s.NotBefore.Sub(now).Seconds()
		}
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(s.ConsecutiveFailures), s.Origin)
		ch <- prometheus.MustNewConstMetric(c.backoff, prometheus.GaugeValue, backoff, s.Origin)
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(s.Queued), s.Origin)
		ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(s.InFlight), s.Origin)
	}
}
