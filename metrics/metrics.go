package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// CascadeAttemptsTotal counts model attempts by model id and outcome.
	CascadeAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retriva",
		Subsystem: "cascade",
		Name:      "attempts_total",
		Help:      "Total number of model attempts made by the cascade client, labeled by model and outcome.",
	}, []string{"model", "outcome"})

	// CascadeExclusionsTotal counts session exclusions by model id and reason.
	CascadeExclusionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retriva",
		Subsystem: "cascade",
		Name:      "exclusions_total",
		Help:      "Total number of models excluded from the session, labeled by model and reason.",
	}, []string{"model", "reason"})

	// CascadeExhaustedTotal counts orchestration calls that ran out of models.
	CascadeExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "retriva",
		Subsystem: "cascade",
		Name:      "exhausted_total",
		Help:      "Total number of cascade executions that exhausted every model, including the self-heal retry.",
	})

	// MatchOperationsTotal counts orchestrator operations by name and result source.
	MatchOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retriva",
		Subsystem: "matcher",
		Name:      "operations_total",
		Help:      "Total number of match orchestrator operations, labeled by operation and result source (ai, heuristic, cache, default).",
	}, []string{"operation", "source"})

	// MatchDurationSeconds is end-to-end orchestrator operation time.
	MatchDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "retriva",
		Subsystem: "matcher",
		Name:      "operation_duration_seconds",
		Help:      "End-to-end time of match orchestrator operations.",
		Buckets:   []float64{0.005, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
	}, []string{"operation"})

	// ChatMessagesTotal counts accepted chat sends.
	ChatMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "retriva",
		Subsystem: "chat",
		Name:      "messages_total",
		Help:      "Total number of chat messages accepted for delivery.",
	})

	// ChatReconciliationsTotal counts read reconciliation runs by outcome.
	ChatReconciliationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retriva",
		Subsystem: "chat",
		Name:      "reconciliations_total",
		Help:      "Total number of read reconciliation runs, labeled by outcome.",
	}, []string{"outcome"})

	// WSConnectedClients is the current number of websocket chat listeners.
	WSConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "retriva",
		Subsystem: "chat",
		Name:      "ws_connected_clients",
		Help:      "Current number of connected websocket chat listeners.",
	})

	// RabbitMQConnected is 1 when the analyze subscriber considers itself connected.
	RabbitMQConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "retriva",
		Subsystem: "analyzer",
		Name:      "rabbitmq_connected",
		Help:      "Whether the analyze-worker RabbitMQ subscriber is currently connected (best-effort).",
	})

	// WorkerInFlight is the current number of deliveries being processed by workers.
	WorkerInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "retriva",
		Subsystem: "analyzer",
		Name:      "rabbitmq_worker_in_flight",
		Help:      "Current number of RabbitMQ deliveries being processed by worker goroutines.",
	})

	// ProcessedTotal counts processed deliveries by outcome.
	ProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "retriva",
		Subsystem: "analyzer",
		Name:      "rabbitmq_processed_total",
		Help:      "Total number of RabbitMQ deliveries processed by the analyze worker, labeled by result.",
	}, []string{"result"})

	// ProcessingDurationSeconds is end-to-end time per delivery, measured inside the worker.
	ProcessingDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "retriva",
		Subsystem: "analyzer",
		Name:      "rabbitmq_processing_duration_seconds",
		Help:      "End-to-end time to process a RabbitMQ delivery (callback + ack/nack).",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60, 120},
	}, []string{"result"})
)

// Register registers service metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			CascadeAttemptsTotal,
			CascadeExclusionsTotal,
			CascadeExhaustedTotal,
			MatchOperationsTotal,
			MatchDurationSeconds,
			ChatMessagesTotal,
			ChatReconciliationsTotal,
			WSConnectedClients,
			RabbitMQConnected,
			WorkerInFlight,
			ProcessedTotal,
			ProcessingDurationSeconds,
		)
	})
}
