// Package metrics holds the Prometheus collectors of the chat client.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultStale = "stale"
)

// Metrics owns a private registry so several clients can coexist in one
// process. All methods are safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	refreshes *prometheus.CounterVec
	sends     *prometheus.CounterVec
	deletes   *prometheus.CounterVec
}

// New registers the client collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_client_requests_total",
				Help: "Total number of HTTP requests sent to the chat API.",
			},
			[]string{"code", "method"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chat_client_request_duration_seconds",
				Help:    "Chat API request latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"code", "method"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_client_in_flight_requests",
			Help: "Number of chat API requests currently in flight.",
		}),
		refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_client_model_refreshes_total",
				Help: "Total number of model refreshes by model and result.",
			},
			[]string{"model", "result"},
		),
		sends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_client_messages_sent_total",
				Help: "Total number of send attempts by result.",
			},
			[]string{"result"},
		),
		deletes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_client_messages_deleted_total",
				Help: "Total number of delete attempts by result.",
			},
			[]string{"result"},
		),
	}
	m.Registry.MustRegister(
		m.requests,
		m.duration,
		m.inFlight,
		m.refreshes,
		m.sends,
		m.deletes,
		collectors.NewGoCollector(),
	)
	return m
}

// Transport wraps next so every round trip is counted and timed. A nil next
// means http.DefaultTransport.
func (m *Metrics) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if m == nil {
		return next
	}
	return promhttp.InstrumentRoundTripperInFlight(m.inFlight,
		promhttp.InstrumentRoundTripperCounter(m.requests,
			promhttp.InstrumentRoundTripperDuration(m.duration, next),
		),
	)
}

func (m *Metrics) ObserveRefresh(model, result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(model, result).Inc()
}

func (m *Metrics) ObserveSend(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDelete(result string) {
	if m == nil {
		return
	}
	m.deletes.WithLabelValues(result).Inc()
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Result maps an error to an outcome label.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
