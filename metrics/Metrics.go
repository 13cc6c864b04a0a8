package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records the OCPP traffic of the engine.
type Metrics struct {
	registry *prometheus.Registry

	CallsTotal        *prometheus.CounterVec
	CallDuration      *prometheus.HistogramVec
	InboundCallsTotal *prometheus.CounterVec
	MessagesTotal     *prometheus.CounterVec
	Connected         prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		CallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evse_ocpp_calls_total",
			Help: "Outbound calls by action and result",
		}, []string{"action", "result"}),
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "evse_ocpp_call_duration_seconds",
			Help:    "Time from sending a call to its answer",
			Buckets: prometheus.DefBuckets,
		}, []string{"action"}),
		InboundCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evse_ocpp_inbound_calls_total",
			Help: "Calls received from the central system by action and outcome",
		}, []string{"action", "outcome"}),
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "evse_ocpp_messages_total",
			Help: "Frames exchanged by direction and message type",
		}, []string{"direction", "type"}),
		Connected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "evse_ocpp_connected",
			Help: "1 while a connection to the central system is served",
		}),
	}
}

func (m *Metrics) ObserveCall(action string, result string, elapsed time.Duration) {
	m.CallsTotal.WithLabelValues(action, result).Inc()
	if elapsed > 0 {
		m.CallDuration.WithLabelValues(action).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ObserveInbound(action string, outcome string) {
	m.InboundCallsTotal.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveMessage(direction string, messageType string) {
	m.MessagesTotal.WithLabelValues(direction, messageType).Inc()
}

func (m *Metrics) SetConnected(connected bool) {
	if connected {
		m.Connected.Set(1)
		return
	}
	m.Connected.Set(0)
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
