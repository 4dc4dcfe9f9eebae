package worker

import (
	"errors"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
	prometheus "github.com/prometheus/client_golang/prometheus"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// Metrics records message loop and periodic runner activity. A nil
// *Metrics records nothing.
type Metrics struct {
	latency  *prometheus.HistogramVec
	messages *prometheus.CounterVec
	periodic *prometheus.CounterVec
	paused   *prometheus.GaugeVec
}

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

// Results for messages and periodic runs
const (
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultPoison  = "poison"
	ResultLost    = "lost"
	ResultError   = "error"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewMetrics creates the metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: schema.SchemaName,
			Name:      "message_latency_seconds",
			Help:      "Time between enqueue and receive",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"queue"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: schema.SchemaName,
			Name:      "messages_total",
			Help:      "Messages processed by result",
		}, []string{"queue", "result"}),
		periodic: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: schema.SchemaName,
			Name:      "periodic_runs_total",
			Help:      "Periodic runner attempts by result",
		}, []string{"job", "result"}),
		paused: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: schema.SchemaName,
			Name:      "loop_paused_seconds",
			Help:      "Most recent pause requested by a handler",
		}, []string{"name"}),
	}

	// Register the collectors
	if reg != nil {
		var result error
		for _, c := range []prometheus.Collector{m.latency, m.messages, m.periodic, m.paused} {
			result = errors.Join(result, reg.Register(c))
		}
		if result != nil {
			return nil, result
		}
	}

	// Return success
	return m, nil
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (m *Metrics) observeLatency(queue string, d time.Duration) {
	if m != nil {
		m.latency.WithLabelValues(queue).Observe(d.Seconds())
	}
}

func (m *Metrics) countMessage(queue, result string) {
	if m != nil {
		m.messages.WithLabelValues(queue, result).Inc()
	}
}

func (m *Metrics) countPeriodic(job, result string) {
	if m != nil {
		m.periodic.WithLabelValues(job, result).Inc()
	}
}

func (m *Metrics) setPaused(name string, d time.Duration) {
	if m != nil {
		m.paused.WithLabelValues(name).Set(d.Seconds())
	}
}
