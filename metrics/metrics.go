// Package metrics holds the Prometheus collectors of the API server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is nil-safe: every method on a nil *Metrics is a no-op
type Metrics struct {
	ProviderRequests *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	Webhooks         *prometheus.CounterVec
	WalletCredits    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpsdash_provider_requests_total",
			Help: "Cloud provider API calls by operation and outcome",
		}, []string{"op", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vpsdash_provider_request_duration_seconds",
			Help:    "Cloud provider API call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpsdash_webhooks_total",
			Help: "Payment callbacks by processing outcome",
		}, []string{"outcome"}),
		WalletCredits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vpsdash_wallet_credits_total",
			Help: "Wallet deposit credits applied",
		}, []string{"currency"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.ProviderRequests,
		m.ProviderDuration,
		m.Webhooks,
		m.WalletCredits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveProvider matches provider.Observer
func (m *Metrics) ObserveProvider(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ProviderRequests.WithLabelValues(op, outcome).Inc()
	m.ProviderDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) IncWebhook(outcome string) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncCredit(currency string) {
	if m == nil {
		return
	}
	m.WalletCredits.WithLabelValues(currency).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
