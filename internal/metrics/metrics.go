// Package metrics метрики Prometheus сервиса биллинга. Методы безопасны
// для nil-получателя, поэтому сервисы можно собирать без метрик.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "billing"

// Исходы обработки вебхука.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
	OutcomeReplayed  = "replayed"
)

// Metrics набор метрик с собственным реестром.
type Metrics struct {
	registry *prometheus.Registry

	WebhookEvents      *prometheus.CounterVec
	SignatureFailures  prometheus.Counter
	ReconcileFailures  *prometheus.CounterVec
	ReconcileDuration  *prometheus.HistogramVec
	CheckoutSessions   *prometheus.CounterVec
	CancellationPolicy *prometheus.CounterVec
}

// New создаёт и регистрирует метрики.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Provider webhook events by type and outcome",
		}, []string{"type", "outcome"}),
		SignatureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_signature_failures_total",
			Help:      "Webhook deliveries rejected by signature verification",
		}),
		ReconcileFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_failures_total",
			Help:      "Reconciliations that failed after the event was acknowledged",
		}, []string{"type"}),
		ReconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of event reconciliation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		CheckoutSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_total",
			Help:      "Checkout session attempts by outcome",
		}, []string{"outcome"}),
		CancellationPolicy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Cancellation and resume requests by applied policy",
		}, []string{"policy"}),
	}

	reg.MustRegister(
		m.WebhookEvents,
		m.SignatureFailures,
		m.ReconcileFailures,
		m.ReconcileDuration,
		m.CheckoutSessions,
		m.CancellationPolicy,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler отдаёт метрики реестра.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WebhookEvent учитывает событие вебхука.
func (m *Metrics) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// SignatureFailure учитывает отклонённую подпись.
func (m *Metrics) SignatureFailure() {
	if m == nil {
		return
	}
	m.SignatureFailures.Inc()
}

// ReconcileFailure учитывает ошибку сверки.
func (m *Metrics) ReconcileFailure(eventType string) {
	if m == nil {
		return
	}
	m.ReconcileFailures.WithLabelValues(eventType).Inc()
}

// ObserveReconcile записывает длительность сверки с момента start.
func (m *Metrics) ObserveReconcile(eventType string, start time.Time) {
	if m == nil {
		return
	}
	m.ReconcileDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
}

// Checkout учитывает попытку оформления.
func (m *Metrics) Checkout(outcome string) {
	if m == nil {
		return
	}
	m.CheckoutSessions.WithLabelValues(outcome).Inc()
}

// Cancellation учитывает применённую политику отмены.
func (m *Metrics) Cancellation(policy string) {
	if m == nil {
		return
	}
	m.CancellationPolicy.WithLabelValues(policy).Inc()
}
