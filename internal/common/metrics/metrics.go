// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ApplyTasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apply_tasks_enqueued_total",
			Help: "Apply requests accepted or rejected by the producer",
		},
		[]string{"result"},
	)

	ApplyTasksDequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apply_tasks_dequeued_total",
			Help: "Deliveries taken off the apply queue",
		},
	)

	ApplyRedeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apply_task_redeliveries_total",
			Help: "Deliveries with attempt greater than one",
		},
	)

	ApplyOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apply_outcomes_total",
			Help: "Recorded automation outcomes by status",
		},
		[]string{"status"},
	)

	ApplyDuplicates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apply_duplicate_deliveries_total",
			Help: "Deliveries skipped because the task was already recorded",
		},
	)

	ApplyPersistenceFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apply_persistence_failures_total",
			Help: "Outcomes that could not be written to the result store",
		},
	)

	ApplyDeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apply_dead_letters_total",
			Help: "Payloads moved to the dead list",
		},
		[]string{"reason"},
	)

	ApplyAlertFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apply_alert_failures_total",
			Help: "Lost-task alerts that could not be delivered",
		},
	)

	ApplyAutomationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apply_automation_duration_seconds",
			Help:    "Wall-clock duration of automation runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	ApplyTasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apply_tasks_active",
			Help: "Deliveries currently being processed",
		},
	)

	ApplyQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "apply_queue_depth",
			Help: "Length of the apply queue lists",
		},
		[]string{"list"},
	)
)

// QueueDepth is what SetQueueDepth needs from a stats snapshot.
type QueueDepth struct {
	Queued, Processing, InFlight, Dead int64
}

func SetQueueDepth(d QueueDepth) {
	ApplyQueueDepth.WithLabelValues("queued").Set(float64(d.Queued))
	ApplyQueueDepth.WithLabelValues("processing").Set(float64(d.Processing))
	ApplyQueueDepth.WithLabelValues("inflight").Set(float64(d.InFlight))
	ApplyQueueDepth.WithLabelValues("dead").Set(float64(d.Dead))
}
