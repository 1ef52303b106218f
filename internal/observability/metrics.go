// Package observability centralizes the Prometheus metrics exported by the
// task lifecycle engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RepositoryLatency tracks latency of Task Repository store calls.
	RepositoryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskflow_repository_latency_seconds",
		Help:    "Latency of task repository operations against the store",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// EventQueueDepth tracks the number of events waiting in the event
	// processor's in-process queue.
	EventQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskflow_event_queue_depth",
		Help: "Current number of lifecycle events waiting to be processed",
	})

	// EventsProcessed counts events handled by the Event Processor by
	// type and outcome.
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_events_processed_total",
		Help: "Total lifecycle events processed, by event type and outcome",
	}, []string{"event_type", "outcome"})

	// SchedulerCallLatency tracks latency of outbound calls to the
	// external scheduler.
	SchedulerCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskflow_scheduler_call_latency_seconds",
		Help:    "Latency of outbound scheduler RPC calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// SchedulerCallErrors counts outbound scheduler call failures by
	// taxonomy.
	SchedulerCallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_scheduler_call_errors_total",
		Help: "Total outbound scheduler call failures, by error kind",
	}, []string{"operation", "kind"})

	// TaskStatusTransitions counts status transitions applied by the
	// Task Service / Event Processor.
	TaskStatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_task_status_transitions_total",
		Help: "Total task status transitions, by destination status",
	}, []string{"status"})

	// ExpiredTasksReclaimed counts tasks whose indexes were pruned by the
	// Expiration Listener.
	ExpiredTasksReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_expired_tasks_reclaimed_total",
		Help: "Total tasks whose secondary indexes were pruned on TTL expiry",
	})
)
