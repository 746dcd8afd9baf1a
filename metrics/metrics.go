// Package metrics exports poller statistics to prometheus. Nothing is
// recorded until Enable is set, MustRun does that.
package metrics

import (
	"net/http"
	"time"

	"github.com/Allenxuxu/toolkit/sync/atomic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultMetricsPath = "/metrics"

var (
	Enable atomic.Bool
	rg     = prometheus.NewRegistry()
)

var (
	poller = "poller"

	Waits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polling_waits_total",
		Help: "Number of completed wait calls.",
	}, []string{poller})
	WaitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "polling_wait_duration_seconds",
		Help:    "Time spent blocked in wait.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{poller})
	Events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polling_events_total",
		Help: "Number of events delivered by wait.",
	}, []string{poller})
	Notifies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "polling_notifies_total",
		Help: "Number of notify calls.",
	}, []string{poller})
	Registrations = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "polling_registrations",
		Help: "Number of active registrations.",
	}, []string{poller})
)

// ObserveWait records one finished wait of the named poller.
func ObserveWait(name string, d time.Duration, events int) {
	Waits.WithLabelValues(name).Inc()
	WaitDuration.WithLabelValues(name).Observe(d.Seconds())
	Events.WithLabelValues(name).Add(float64(events))
}

func ObserveNotify(name string) {
	Notifies.WithLabelValues(name).Inc()
}

// AddRegistrations moves the registration gauge of name by delta. Pollers
// sharing a name add up on the same series.
func AddRegistrations(name string, delta int) {
	Registrations.WithLabelValues(name).Add(float64(delta))
}

// Forget drops every series of name, whoever else reports under it.
func Forget(name string) {
	Waits.DeleteLabelValues(name)
	WaitDuration.DeleteLabelValues(name)
	Events.DeleteLabelValues(name)
	Notifies.DeleteLabelValues(name)
	Registrations.DeleteLabelValues(name)
}

func PrometheusMustRegister(cs ...prometheus.Collector) {
	rg.MustRegister(cs...)
}

// Handler serves the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(rg, promhttp.HandlerOpts{})
}

func init() {
	rg.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
		Waits,
		WaitDuration,
		Events,
		Notifies,
		Registrations,
	)
}

func MustRun(path, address string) {
	if path == "" {
		path = defaultMetricsPath
	}

	Enable.Set(true)
	defer Enable.Set(false)

	mux := http.NewServeMux()
	mux.Handle(path, Handler())
	if err := http.ListenAndServe(address, mux); err != nil {
		panic(err)
	}
}
