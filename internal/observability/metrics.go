package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	turnsTotal       *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	turnsInFlight    prometheus.Gauge
	streamLinesTotal *prometheus.CounterVec
	sessionsKnown    prometheus.Gauge

	gatewayClients prometheus.Gauge
	loginTotal     *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Tasks waiting by lane kind.",
				},
				[]string{"kind"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations.",
				},
				[]string{"kind"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total completed tasks by status.",
				},
				[]string{"kind", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"kind"},
			),
			turnsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_turns_total",
					Help: "Agent turns by session mode and outcome.",
				},
				[]string{"mode", "status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_turn_duration_seconds",
					Help:    "Wall time of agent turns in seconds.",
					Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
				},
				[]string{"mode"},
			),
			turnsInFlight: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "agent_turns_in_flight",
					Help: "Agent processes currently running.",
				},
			),
			streamLinesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_stream_lines_total",
					Help: "Lines read from agent output streams.",
				},
				[]string{"stream"},
			),
			sessionsKnown: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "agent_sessions_known",
					Help: "Session keys held by the session registry.",
				},
			),
			gatewayClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "gateway_clients_connected",
					Help: "Open websocket connections.",
				},
			),
			loginTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_login_total",
					Help: "Login attempts by outcome.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.turnsTotal,
			m.turnDuration,
			m.turnsInFlight,
			m.streamLinesTotal,
			m.sessionsKnown,
			m.gatewayClients,
			m.loginTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler serves the default Prometheus registry
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

// RecordQueueEnqueue counts an enqueue. kind is the lane prefix, so label
// cardinality does not grow with the number of sessions.
func RecordQueueEnqueue(kind string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(kind).Inc()
	m.queueSize.WithLabelValues(kind).Set(float64(queueSize))
}

func RecordQueueCompletion(kind string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(kind, status).Inc()
	m.taskDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(kind).Set(float64(queueSize))
}

func TurnStarted() {
	getMetrics().turnsInFlight.Inc()
}

// RecordTurn closes a turn opened with TurnStarted
func RecordTurn(mode, status string, duration time.Duration) {
	m := getMetrics()
	m.turnsInFlight.Dec()
	m.turnsTotal.WithLabelValues(mode, status).Inc()
	m.turnDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func RecordStreamLine(stream string) {
	getMetrics().streamLinesTotal.WithLabelValues(stream).Inc()
}

func SetSessionsKnown(count int) {
	getMetrics().sessionsKnown.Set(float64(count))
}

func SetGatewayClients(count int) {
	getMetrics().gatewayClients.Set(float64(count))
}

func RecordLogin(success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	getMetrics().loginTotal.WithLabelValues(status).Inc()
}
