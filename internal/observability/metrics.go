package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects parley's Prometheus metrics. A nil *Metrics is valid and
// records nothing.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.EventHandled("offer", "ok", time.Since(start).Seconds())
type Metrics struct {
	// EventCounter counts inbound realtime events.
	// Labels: event, outcome (ok|validation|not_found|conflict|forbidden|store|unknown)
	EventCounter *prometheus.CounterVec

	// EventDuration measures event handling time in seconds.
	// Labels: event
	EventDuration *prometheus.HistogramVec

	// Deliveries counts outbound pushes.
	// Labels: event, result (delivered|unreachable|dropped)
	Deliveries *prometheus.CounterVec

	// ActiveConnections tracks attached websocket connections.
	ActiveConnections prometheus.Gauge

	// PresenceLookups counts presence reads.
	// Labels: source (store|cache), result (hit|miss)
	PresenceLookups *prometheus.CounterVec

	// PresenceStoreErrors counts failed calls to the shared presence store.
	// Labels: op
	PresenceStoreErrors *prometheus.CounterVec

	// CallOutcomes counts terminal call states.
	// Labels: outcome (answered|ended|timeout|disconnect)
	CallOutcomes *prometheus.CounterVec

	// OffersOverwritten counts offers that replaced a pending one.
	OffersOverwritten prometheus.Counter

	// PendingCalls tracks offers awaiting an answer.
	PendingCalls prometheus.Gauge

	// Uploads counts attachment uploads.
	// Labels: backend, status (success|error)
	Uploads *prometheus.CounterVec

	// StoreErrors counts persistence failures tolerated on the realtime path.
	// Labels: op
	StoreErrors *prometheus.CounterVec
}

// NewMetrics creates the metric set and registers it with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_events_total",
				Help: "Total number of inbound realtime events by name and outcome",
			},
			[]string{"event", "outcome"},
		),
		EventDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_event_duration_seconds",
				Help:    "Duration of realtime event handling in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"event"},
		),
		Deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_deliveries_total",
				Help: "Total number of outbound realtime pushes by event and result",
			},
			[]string{"event", "result"},
		),
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "parley_active_connections",
				Help: "Number of attached websocket connections",
			},
		),
		PresenceLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_presence_lookups_total",
				Help: "Total number of presence lookups by source and result",
			},
			[]string{"source", "result"},
		),
		PresenceStoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_presence_store_errors_total",
				Help: "Total number of failed presence store calls by operation",
			},
			[]string{"op"},
		),
		CallOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_call_outcomes_total",
				Help: "Total number of resolved call offers by outcome",
			},
			[]string{"outcome"},
		),
		OffersOverwritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "parley_call_offers_overwritten_total",
				Help: "Total number of pending offers replaced by a newer offer for the same chat",
			},
		),
		PendingCalls: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "parley_pending_calls",
				Help: "Number of call offers awaiting an answer",
			},
		),
		Uploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_uploads_total",
				Help: "Total number of attachment uploads by backend and status",
			},
			[]string{"backend", "status"},
		),
		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_store_errors_total",
				Help: "Total number of persistence failures tolerated on the realtime path",
			},
			[]string{"op"},
		),
	}
}

// EventHandled records an inbound event.
func (m *Metrics) EventHandled(event, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.EventCounter.WithLabelValues(event, outcome).Inc()
	m.EventDuration.WithLabelValues(event).Observe(durationSeconds)
}

// Delivery records an outbound push attempt.
func (m *Metrics) Delivery(event, result string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(event, result).Inc()
}

// ConnectionOpened increments the active connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed decrements the active connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// PresenceLookup records where a presence read was answered from.
func (m *Metrics) PresenceLookup(source string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PresenceLookups.WithLabelValues(source, result).Inc()
}

// PresenceStoreError records a failed shared-store call.
func (m *Metrics) PresenceStoreError(op string) {
	if m == nil {
		return
	}
	m.PresenceStoreErrors.WithLabelValues(op).Inc()
}

// CallOpened records a new pending offer.
func (m *Metrics) CallOpened(overwrote bool) {
	if m == nil {
		return
	}
	if overwrote {
		m.OffersOverwritten.Inc()
		return
	}
	m.PendingCalls.Inc()
}

// CallResolved records a terminal call state.
func (m *Metrics) CallResolved(outcome string) {
	if m == nil {
		return
	}
	m.CallOutcomes.WithLabelValues(outcome).Inc()
	m.PendingCalls.Dec()
}

// UploadFinished records an attachment upload.
func (m *Metrics) UploadFinished(backend string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.Uploads.WithLabelValues(backend, status).Inc()
}

// StoreError records a tolerated persistence failure.
func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(op).Inc()
}
