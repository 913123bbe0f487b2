// Package metrics exposes Prometheus counters for the authentication flows.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcomes recorded by RecordLogin.
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeDisabled = "disabled"
	OutcomeInvalid  = "invalid_credentials"
	OutcomeError    = "error"
)

// Recorder is what services and handlers need from the collector.
type Recorder interface {
	RecordLogin(outcome string)
	RecordResetRequested()
	RecordResetRedeemed(ok bool)
	RecordExpiredTokensPurged(n int64)
	RecordHTTPRequest(method string, statusCode int, d time.Duration)
}

type Collector struct {
	logins        *prometheus.CounterVec
	resetRequests prometheus.Counter
	resetRedeems  *prometheus.CounterVec
	purged        prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpLatency   prometheus.Histogram
}

// NewCollector creates the collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authkeeper_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		resetRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authkeeper_password_reset_requests_total",
			Help: "Password reset tokens issued.",
		}),
		resetRedeems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authkeeper_password_reset_redemptions_total",
			Help: "Password reset redemption attempts by result.",
		}, []string{"result"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authkeeper_reset_tokens_purged_total",
			Help: "Expired reset tokens removed by the cleanup job.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authkeeper_http_requests_total",
			Help: "HTTP responses by method and status code.",
		}, []string{"method", "status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authkeeper_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.logins,
		c.resetRequests,
		c.resetRedeems,
		c.purged,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordResetRequested() {
	c.resetRequests.Inc()
}

func (c *Collector) RecordResetRedeemed(ok bool) {
	result := "failed"
	if ok {
		result = "ok"
	}
	c.resetRedeems.WithLabelValues(result).Inc()
}

func (c *Collector) RecordExpiredTokensPurged(n int64) {
	c.purged.Add(float64(n))
}

func (c *Collector) RecordHTTPRequest(method string, statusCode int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.Observe(d.Seconds())
}

// Handler serves the Prometheus exposition format for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop drops every observation.
type Nop struct{}

func (Nop) RecordLogin(string)                           {}
func (Nop) RecordResetRequested()                        {}
func (Nop) RecordResetRedeemed(bool)                     {}
func (Nop) RecordExpiredTokensPurged(int64)              {}
func (Nop) RecordHTTPRequest(string, int, time.Duration) {}
