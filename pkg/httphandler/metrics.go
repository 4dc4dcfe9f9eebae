package httphandler

import (
	"context"
	"net/http"
	"time"

	// Packages
	schema "github.com/mutablelogic/go-pgworker/pkg/worker/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	types "github.com/mutablelogic/go-server/pkg/types"
	prometheus "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// StatusLister returns the number of messages in each queue by state
type StatusLister interface {
	Status(ctx context.Context) ([]schema.QueueStatus, error)
}

type metrics struct {
	status        StatusLister
	queueMessages *prometheus.Desc
}

var _ prometheus.Collector = (*metrics)(nil)

///////////////////////////////////////////////////////////////////////////////
// CONSTANTS

const (
	metricsTimeout = 30 * time.Second
)

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewQueueCollector returns a collector which reports the number of messages
// in each queue by state when scraped
func NewQueueCollector(status StatusLister) prometheus.Collector {
	if status == nil {
		panic("status is nil")
	}
	return &metrics{
		status: status,
		queueMessages: prometheus.NewDesc(
			prometheus.BuildFQName(schema.SchemaName, "", "queue_messages"),
			"Number of messages in each queue by state",
			[]string{"queue", "state"}, nil,
		),
	}
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// RegisterMetricsHandler registers a HTTP handler for the metrics in the
// gatherer on the router, with the given path prefix
func RegisterMetricsHandler(router *http.ServeMux, prefix string, gatherer prometheus.Gatherer) {
	if gatherer == nil {
		panic("gatherer is nil")
	}
	handler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})

	// Create a handler for metrics
	router.HandleFunc(types.JoinPath(prefix, "metrics"), func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handler.ServeHTTP(w, r)
		default:
			_ = httpresponse.Error(w, httpresponse.Err(http.StatusMethodNotAllowed), r.Method)
		}
	})
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS - COLLECTOR

// Describe sends metric descriptors to the channel
func (m *metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.queueMessages
}

// Collect fetches the queue status and sends it to the channel
func (m *metrics) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), metricsTimeout)
	defer cancel()

	statuses, err := m.status.Status(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(m.queueMessages, err)
		return
	}
	for _, status := range statuses {
		ch <- prometheus.MustNewConstMetric(
			m.queueMessages,
			prometheus.GaugeValue,
			float64(status.Count),
			status.Queue,
			status.State,
		)
	}
}
