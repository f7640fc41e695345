package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry carries the counters shared by the cache, the bus and the order
// lifecycle. A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	Refreshes     *prometheus.CounterVec // kind=all|many, quiet=true|false
	FetchFailures *prometheus.CounterVec // kind=all|many
	Records       prometheus.Gauge
	RefreshSec    prometheus.Histogram

	Published   prometheus.Counter
	Received    prometheus.Counter
	EchoDropped prometheus.Counter
	Undecodable prometheus.Counter

	OrderRequests *prometheus.CounterVec // op, outcome
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "stock_cache_refresh_total"}, []string{"kind", "quiet"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "stock_cache_fetch_failures_total"}, []string{"kind"})
	records := prometheus.NewGauge(prometheus.GaugeOpts{Name: "stock_cache_records"})
	refreshSec := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_cache_refresh_seconds",
		Buckets: prometheus.DefBuckets,
	})

	published := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_bus_published_total"})
	received := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_bus_received_total"})
	echo := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_bus_echo_dropped_total"})
	undecodable := prometheus.NewCounter(prometheus.CounterOpts{Name: "stock_bus_undecodable_total"})

	orderRequests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "order_lifecycle_requests_total"}, []string{"op", "outcome"})

	r.MustRegister(refreshes, failures, records, refreshSec, published, received, echo, undecodable, orderRequests)
	return &Registry{
		reg:           r,
		Refreshes:     refreshes,
		FetchFailures: failures,
		Records:       records,
		RefreshSec:    refreshSec,
		Published:     published,
		Received:      received,
		EchoDropped:   echo,
		Undecodable:   undecodable,
		OrderRequests: orderRequests,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

func (r *Registry) ObserveRefresh(kind string, quiet bool, seconds float64, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.FetchFailures.WithLabelValues(kind).Inc()
		return
	}
	q := "false"
	if quiet {
		q = "true"
	}
	r.Refreshes.WithLabelValues(kind, q).Inc()
	r.RefreshSec.Observe(seconds)
}

func (r *Registry) SetRecords(n int) {
	if r == nil {
		return
	}
	r.Records.Set(float64(n))
}

func (r *Registry) IncPublished() {
	if r != nil {
		r.Published.Inc()
	}
}

func (r *Registry) IncReceived() {
	if r != nil {
		r.Received.Inc()
	}
}

func (r *Registry) IncEchoDropped() {
	if r != nil {
		r.EchoDropped.Inc()
	}
}

func (r *Registry) IncUndecodable() {
	if r != nil {
		r.Undecodable.Inc()
	}
}

// ObserveOrderRequest counts one lifecycle request; outcome is "ok",
// "rejected" (validation or conflict) or "failed".
func (r *Registry) ObserveOrderRequest(op, outcome string) {
	if r == nil {
		return
	}
	r.OrderRequests.WithLabelValues(op, outcome).Inc()
}
