package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the prometheus collectors shared by the api and worker processes.
type Metrics struct {
	registry *prometheus.Registry

	PauseTransitions  *prometheus.CounterVec
	CASConflicts      prometheus.Counter
	Escalations       prometheus.Counter
	HalfWarnings      prometheus.Counter
	Enqueued          *prometheus.CounterVec
	DedupSkipped      *prometheus.CounterVec
	Delivered         prometheus.Counter
	DeliveryRetries   prometheus.Counter
	DeliveryFailed    prometheus.Counter
	Reclaimed         prometheus.Counter
	PendingDepth      prometheus.Gauge
	OpenTickets       prometheus.Gauge
	SweepDuration     *prometheus.HistogramVec
	SweepErrors       *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPErrors        *prometheus.CounterVec
	HTTPRequestTiming *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// DefaultMetrics returns the process-wide collectors registered on the default registerer.
func DefaultMetrics() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics builds collectors on an isolated registry, mainly for tests.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := newMetrics(reg)
	m.registry = reg
	return m
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PauseTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sla_pause_transitions_total", Help: "Pause flag changes by reason and transition",
		}, []string{"reason", "transition"}),
		CASConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_cas_conflicts_total", Help: "Optimistic concurrency conflicts on ticket SLA state",
		}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_escalations_total", Help: "Tickets escalated after SLA breach",
		}),
		HalfWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_half_warnings_total", Help: "Half-SLA warnings raised",
		}),
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sla_notifications_enqueued_total", Help: "Notifications enqueued by type",
		}, []string{"type"}),
		DedupSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sla_notifications_dedup_skipped_total", Help: "Enqueues suppressed by the dedup window",
		}, []string{"type"}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_notifications_sent_total", Help: "Notifications delivered",
		}),
		DeliveryRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_notifications_retried_total", Help: "Deliveries that failed and were rescheduled",
		}),
		DeliveryFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_notifications_failed_total", Help: "Notifications that exhausted their attempts",
		}),
		Reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sla_notifications_reclaimed_total", Help: "Stale processing entries returned to pending",
		}),
		PendingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sla_notifications_pending", Help: "Pending notification entries",
		}),
		OpenTickets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sla_open_tickets", Help: "Open tickets seen by the last sweep",
		}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "sla_sweep_duration_seconds", Help: "Periodic job run duration", Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		SweepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sla_sweep_errors_total", Help: "Periodic job runs that returned an error",
		}, []string{"job"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total", Help: "HTTP requests by route, method and status",
		}, []string{"path", "method", "status"}),
		HTTPErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total", Help: "HTTP errors by route, method and error code",
		}, []string{"path", "method", "code"}),
		HTTPRequestTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "http_request_duration_seconds", Help: "HTTP request latency", Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
	}
	reg.MustRegister(
		m.PauseTransitions, m.CASConflicts, m.Escalations, m.HalfWarnings,
		m.Enqueued, m.DedupSkipped, m.Delivered, m.DeliveryRetries, m.DeliveryFailed,
		m.Reclaimed, m.PendingDepth, m.OpenTickets, m.SweepDuration, m.SweepErrors,
		m.HTTPRequests, m.HTTPErrors, m.HTTPRequestTiming,
	)
	return m
}

// Handler exposes the collectors over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m != nil && m.registry != nil {
		return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestTiming.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(path, method, code).Inc()
}

// ObserveSweep records one periodic job run.
func (m *Metrics) ObserveSweep(job string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.SweepDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.SweepErrors.WithLabelValues(job).Inc()
	}
}

// PauseTransition counts a pause flag change.
func (m *Metrics) PauseTransition(reason, transition string) {
	if m == nil {
		return
	}
	m.PauseTransitions.WithLabelValues(reason, transition).Inc()
}

// CASConflict counts one lost compare-and-set.
func (m *Metrics) CASConflict() {
	if m == nil {
		return
	}
	m.CASConflicts.Inc()
}

// Escalated counts one escalation.
func (m *Metrics) Escalated() {
	if m == nil {
		return
	}
	m.Escalations.Inc()
}

// HalfWarned counts one half-SLA warning.
func (m *Metrics) HalfWarned() {
	if m == nil {
		return
	}
	m.HalfWarnings.Inc()
}

// NotificationEnqueued counts an enqueue attempt, split by whether dedup suppressed it.
func (m *Metrics) NotificationEnqueued(typ string, created bool) {
	if m == nil {
		return
	}
	if created {
		m.Enqueued.WithLabelValues(typ).Inc()
		return
	}
	m.DedupSkipped.WithLabelValues(typ).Inc()
}

// NotificationCompleted counts the outcome of one delivery.
func (m *Metrics) NotificationCompleted(status string) {
	if m == nil {
		return
	}
	switch status {
	case "sent":
		m.Delivered.Inc()
	case "pending":
		m.DeliveryRetries.Inc()
	case "failed":
		m.DeliveryFailed.Inc()
	}
}

// NotificationsReclaimed counts entries returned from processing to pending.
func (m *Metrics) NotificationsReclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Reclaimed.Add(float64(n))
}

// SetPendingDepth records the pending queue size.
func (m *Metrics) SetPendingDepth(n int64) {
	if m == nil {
		return
	}
	m.PendingDepth.Set(float64(n))
}

// SetOpenTickets records how many open tickets the last sweep saw.
func (m *Metrics) SetOpenTickets(n int) {
	if m == nil {
		return
	}
	m.OpenTickets.Set(float64(n))
}
