package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TriageMetrics exposes counters/histograms for the queue pipeline.
type TriageMetrics struct {
	consumedTotal      *prometheus.CounterVec
	handleLatency      *prometheus.HistogramVec
	rpcTotal           *prometheus.CounterVec
	triageTotal        *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
}

func NewTriageMetrics(reg prometheus.Registerer) *TriageMetrics {
	m := &TriageMetrics{
		consumedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healify",
			Subsystem: "queue",
			Name:      "consumed_total",
			Help:      "Queue deliveries by final disposition",
		}, []string{"queue", "outcome"}),
		handleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "healify",
			Subsystem: "queue",
			Name:      "handle_seconds",
			Help:      "Latency of queue message handlers",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		rpcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healify",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Request/reply calls by result",
		}, []string{"queue", "result"}),
		triageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healify",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Chat turns by triage outcome",
		}, []string{"outcome"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "healify",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Push deliveries per destination result",
		}, []string{"type", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.consumedTotal, m.handleLatency, m.rpcTotal, m.triageTotal, m.notificationsTotal)
	return m
}

// ObserveConsumed records how a delivery left the handler: acked, nacked or dropped.
func (m *TriageMetrics) ObserveConsumed(queue, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.consumedTotal.WithLabelValues(queue, outcome).Inc()
	m.handleLatency.WithLabelValues(queue).Observe(elapsed.Seconds())
}

func (m *TriageMetrics) ObserveRPC(queue, result string) {
	if m == nil {
		return
	}
	m.rpcTotal.WithLabelValues(queue, result).Inc()
}

func (m *TriageMetrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.triageTotal.WithLabelValues(outcome).Inc()
}

func (m *TriageMetrics) ObserveNotification(notificationType, result string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.notificationsTotal.WithLabelValues(notificationType, result).Add(float64(count))
}
