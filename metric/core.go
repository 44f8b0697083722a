package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ratstreams"

// Metrics contains the pipeline-level metrics shared by all rats
type Metrics struct {
	RatState         *prometheus.GaugeVec
	ItemsReceived    *prometheus.CounterVec
	ItemsTransmitted *prometheus.CounterVec
	ItemsDropped     *prometheus.CounterVec
	Errors           *prometheus.CounterVec
	TransmitDuration *prometheus.HistogramVec
	QueueDepth       *prometheus.GaugeVec

	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates the pipeline metrics
func NewMetrics() *Metrics {
	return &Metrics{
		RatState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "rat",
				Name:      "state",
				Help:      "Rat state (0=idle, 1=running, 2=paused, 3=stopping, 4=stopped, 5=failed)",
			},
			[]string{"rat"},
		),
		ItemsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rat",
				Name:      "items_received_total",
				Help:      "Items drained from the rat input",
			},
			[]string{"rat"},
		),
		ItemsTransmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rat",
				Name:      "items_transmitted_total",
				Help:      "Items delivered by the rat output",
			},
			[]string{"rat"},
		),
		ItemsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rat",
				Name:      "items_dropped_total",
				Help:      "Items abandoned because the rat was stopping",
			},
			[]string{"rat"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rat",
				Name:      "errors_total",
				Help:      "Per-item failures by kind (receive, transform, send)",
			},
			[]string{"rat", "kind"},
		),
		TransmitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rat",
				Name:      "transmit_duration_seconds",
				Help:      "Time spent in output transmit",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"rat"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "storage",
				Name:      "queue_depth",
				Help:      "Items waiting in a storage queue",
			},
			[]string{"queue"},
		),
		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),
		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RatState,
		m.ItemsReceived,
		m.ItemsTransmitted,
		m.ItemsDropped,
		m.Errors,
		m.TransmitDuration,
		m.QueueDepth,
		m.NATSConnected,
		m.NATSReconnects,
	}
}

// RecordRatState updates the state gauge of a rat
func (m *Metrics) RecordRatState(rat string, state int) {
	m.RatState.WithLabelValues(rat).Set(float64(state))
}

// RecordReceived increments the received counter
func (m *Metrics) RecordReceived(rat string) {
	m.ItemsReceived.WithLabelValues(rat).Inc()
}

// RecordTransmitted increments the transmitted counter and observes the duration
func (m *Metrics) RecordTransmitted(rat string, d time.Duration) {
	m.ItemsTransmitted.WithLabelValues(rat).Inc()
	m.TransmitDuration.WithLabelValues(rat).Observe(d.Seconds())
}

// RecordDropped increments the dropped counter
func (m *Metrics) RecordDropped(rat string) {
	m.ItemsDropped.WithLabelValues(rat).Inc()
}

// RecordError increments the error counter
func (m *Metrics) RecordError(rat, kind string) {
	m.Errors.WithLabelValues(rat, kind).Inc()
}

// RecordQueueDepth sets the depth of a storage queue
func (m *Metrics) RecordQueueDepth(queue string, depth int) {
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	if connected {
		m.NATSConnected.Set(1)
		return
	}
	m.NATSConnected.Set(0)
}

// RecordNATSReconnect increments the reconnection counter
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}
