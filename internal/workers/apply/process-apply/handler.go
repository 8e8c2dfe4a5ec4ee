// internal/workers/apply/process-apply/handler.go
package processapply

import (
	"context"
	"errors"
	"time"

	"apply-workers/internal/common/aws"
	apperrors "apply-workers/internal/common/errors"
	"apply-workers/internal/common/logger"
	"apply-workers/internal/common/metrics"
	"apply-workers/internal/common/observability"
	"apply-workers/internal/common/queue"
	"apply-workers/internal/models"
	recordapplication "apply-workers/internal/workers/apply/record-application"
	runautomation "apply-workers/internal/workers/apply/run-automation"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const TaskType = "process-apply"

// Lost-task alert reasons.
const (
	ReasonPersistenceFailed = "persistence_failed"
	ReasonDeadLettered      = "dead_lettered"
	ReasonUndecodable       = "undecodable"
)

type Queue interface {
	Ack(ctx context.Context, d *queue.Delivery) error
	DeadLetter(ctx context.Context, d *queue.Delivery, reason string) error
}

type Resolver interface {
	Resolve(ctx context.Context, task *models.ApplyTask) models.ApplyContext
}

type Runner interface {
	Run(ctx context.Context, in *runautomation.Input) *runautomation.Output
}

type Recorder interface {
	Exists(ctx context.Context, taskID string) (bool, error)
	Record(ctx context.Context, in *recordapplication.Input) (*models.ApplicationRecord, error)
}

// Handler runs one delivery through resolve, automation, record and ack.
type Handler struct {
	queue    Queue
	resolver Resolver
	runner   Runner
	recorder Recorder
	alerter  aws.Alerter
	obs      *observability.Observability
	logger   logger.Logger
	errs     *apperrors.ErrorHandler
	now      func() time.Time
}

func NewHandler(
	q Queue,
	resolver Resolver,
	runner Runner,
	recorder Recorder,
	alerter aws.Alerter,
	obs *observability.Observability,
	log logger.Logger,
) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		queue:    q,
		resolver: resolver,
		runner:   runner,
		recorder: recorder,
		alerter:  alerter,
		obs:      obs,
		logger:   log,
		errs:     apperrors.NewErrorHandler(log),
		now:      time.Now,
	}
}

// Handle processes d. A nil return means d was acknowledged or dead-lettered.
// A returned error leaves d in flight so the visibility timeout redelivers it.
func (h *Handler) Handle(ctx context.Context, d *queue.Delivery) error {
	metrics.ApplyTasksDequeued.Inc()
	if d.Attempt > 1 {
		metrics.ApplyRedeliveries.Inc()
	}

	// Bookkeeping must survive shutdown cancellation of the automation.
	persistCtx := context.WithoutCancel(ctx)

	if d.Task == nil {
		return h.deadLetterUndecodable(persistCtx, d)
	}
	task := d.Task

	log := h.logger.WithFields(map[string]interface{}{
		"taskId":   task.TaskID,
		"jobId":    task.JobID,
		"resumeId": task.ResumeID,
		"attempt":  d.Attempt,
	})

	ctx, span := h.obs.StartSpan(ctx, "apply.process",
		attribute.String("apply.task_id", task.TaskID),
		attribute.String("apply.job_id", task.JobID),
		attribute.Int("apply.attempt", d.Attempt),
	)
	defer span.End()

	metrics.ApplyTasksActive.Inc()
	defer metrics.ApplyTasksActive.Dec()
	start := h.now()

	exists, err := h.recorder.Exists(persistCtx, task.TaskID)
	if err != nil {
		log.Warn("duplicate check failed, leaving task for redelivery", map[string]interface{}{
			"error": err.Error(),
		})
		span.SetStatus(codes.Error, "duplicate check failed")
		return err
	}
	if exists {
		metrics.ApplyDuplicates.Inc()
		log.Info("task already recorded, acknowledging redelivery", nil)
		return h.ack(persistCtx, d, log)
	}

	applyCtx := h.resolver.Resolve(ctx, task)
	out := h.runner.Run(ctx, &runautomation.Input{
		Task:    task,
		Context: applyCtx,
		Attempt: d.Attempt,
	})
	status := out.Outcome.Status
	span.SetAttributes(attribute.String("apply.status", status))
	metrics.ApplyAutomationDuration.WithLabelValues(status).
		Observe((time.Duration(out.Execution.DurationMs) * time.Millisecond).Seconds())

	_, err = h.recorder.Record(persistCtx, &recordapplication.Input{
		Task:      task,
		Outcome:   out.Outcome,
		Execution: out.Execution,
	})
	switch {
	case errors.Is(err, recordapplication.ErrDuplicateApplication):
		metrics.ApplyDuplicates.Inc()
		log.Warn("outcome already recorded by another delivery", map[string]interface{}{
			"status": status,
		})
	case err != nil:
		metrics.ApplyPersistenceFailures.Inc()
		h.errs.Handle("failed to record outcome", err, map[string]interface{}{
			"taskId":  task.TaskID,
			"attempt": d.Attempt,
			"status":  status,
			"detail":  out.Outcome.Error,
		})
		span.SetStatus(codes.Error, "record failed")
		h.alert(persistCtx, &models.LostTaskAlert{
			TaskID:   task.TaskID,
			JobID:    task.JobID,
			ResumeID: task.ResumeID,
			Reason:   ReasonPersistenceFailed,
			Detail:   err.Error(),
			Status:   status,
			Attempt:  d.Attempt,
		})
		return err
	default:
		metrics.ApplyOutcomes.WithLabelValues(status).Inc()
		h.obs.RecordTaskProcessed(persistCtx, status)
		h.obs.RecordTaskDuration(persistCtx, h.now().Sub(start), status)
	}

	return h.ack(persistCtx, d, log)
}

// OnDead reports deliveries the reaper gave up on.
func (h *Handler) OnDead(ctx context.Context, d *queue.Delivery) {
	metrics.ApplyDeadLetters.WithLabelValues(queue.ReasonMaxDeliveries).Inc()
	alert := &models.LostTaskAlert{
		Reason:  ReasonDeadLettered,
		Detail:  "delivery limit reached without a recorded outcome",
		Attempt: d.Attempt,
	}
	if d.Task != nil {
		alert.TaskID = d.Task.TaskID
		alert.JobID = d.Task.JobID
		alert.ResumeID = d.Task.ResumeID
	} else {
		alert.Detail = d.Payload
	}
	h.logger.Error("task dead-lettered", map[string]interface{}{
		"taskId":  alert.TaskID,
		"attempt": d.Attempt,
	})
	h.alert(ctx, alert)
}

func (h *Handler) deadLetterUndecodable(ctx context.Context, d *queue.Delivery) error {
	h.logger.Error("undecodable payload, dead-lettering", map[string]interface{}{
		"payload": d.Payload,
		"error":   d.DecodeErr.Error(),
	})
	if err := h.queue.DeadLetter(ctx, d, queue.ReasonUndecodable); err != nil {
		return err
	}
	metrics.ApplyDeadLetters.WithLabelValues(queue.ReasonUndecodable).Inc()
	h.alert(ctx, &models.LostTaskAlert{
		Reason:  ReasonUndecodable,
		Detail:  d.DecodeErr.Error(),
		Attempt: d.Attempt,
	})
	return nil
}

func (h *Handler) ack(ctx context.Context, d *queue.Delivery, log logger.Logger) error {
	err := h.queue.Ack(ctx, d)
	if errors.Is(err, queue.ErrNotInFlight) {
		// The reaper got there first; the redelivery will find the record.
		log.Warn("delivery no longer in flight at ack", nil)
		return nil
	}
	if err != nil {
		return apperrors.NewAckFailedError(d.Task.TaskID, err)
	}
	return nil
}

func (h *Handler) alert(ctx context.Context, alert *models.LostTaskAlert) {
	alert.CreatedAt = h.now().UTC().Format(time.RFC3339)
	if err := h.alerter.Alert(ctx, alert); err != nil {
		metrics.ApplyAlertFailures.Inc()
		h.logger.Error("lost-task alert not delivered", map[string]interface{}{
			"error":  err.Error(),
			"taskId": alert.TaskID,
			"reason": alert.Reason,
		})
	}
}
