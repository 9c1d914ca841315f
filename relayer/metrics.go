package relayer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricsNamespace = "relayer"

type Metrics struct {
	Registry *prometheus.Registry

	ObservedMessages  *prometheus.CounterVec
	QueuedMessages    *prometheus.CounterVec
	DeliveredMessages *prometheus.CounterVec
	ExecutedMessages  *prometheus.CounterVec
	FinalizedTasks    prometheus.Counter
	PendingTasks      prometheus.Gauge
	TickDuration      prometheus.Histogram
	TickPanics        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ObservedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "observed_messages_total",
			Help:      "Messages that created a task, by origin chain.",
		}, []string{"chain"}),
		QueuedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "queued_messages_total",
			Help:      "Messages queued for delivery, by destination chain.",
		}, []string{"chain"}),
		DeliveredMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivered_messages_total",
			Help:      "Messages submitted and accepted, by destination chain.",
		}, []string{"chain"}),
		ExecutedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "executed_messages_total",
			Help:      "Member chain confirmations, by chain.",
		}, []string{"chain"}),
		FinalizedTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "finalized_tasks_total",
			Help:      "Tasks confirmed by every member chain.",
		}),
		PendingTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_tasks",
			Help:      "Tasks in the live task table.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one loop round over all adapters.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		TickPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tick_panics_total",
			Help:      "Adapter panics recovered by the loop.",
		}, []string{"chain"}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ObservedMessages,
		m.QueuedMessages,
		m.DeliveredMessages,
		m.ExecutedMessages,
		m.FinalizedTasks,
		m.PendingTasks,
		m.TickDuration,
		m.TickPanics,
	)
	return m
}
