package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts registry traffic. A nil *Metrics is a valid no-op.
type Metrics struct {
	EventsTotal       *prometheus.CounterVec
	QueriesTotal      *prometheus.CounterVec
	StoreErrorsTotal  *prometheus.CounterVec
	ActiveConnections prometheus.Gauge
}

// New registers the presence metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_events_total",
			Help: "Connection events folded into the registry",
		}, []string{"event"}),
		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_queries_total",
			Help: "Presence and last-activity queries served",
		}, []string{"query"}),
		StoreErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "presence_store_errors_total",
			Help: "Failed store operations by registry operation",
		}, []string{"operation"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "presence_websocket_connections",
			Help: "Open websocket connections on this instance",
		}),
	}
}

func (m *Metrics) Event(event string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) Query(query string) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(query).Inc()
}

func (m *Metrics) StoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}
