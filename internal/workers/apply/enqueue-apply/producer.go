// internal/workers/apply/enqueue-apply/producer.go
package enqueueapply

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	apperrors "apply-workers/internal/common/errors"
	"apply-workers/internal/common/logger"
	"apply-workers/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	TaskType = "enqueue-apply"

	StatusQueued = "queued"
)

// Enqueuer is the producing side of the task queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *models.ApplyTask) error
}

// Producer validates apply requests and puts them on the queue. It never
// waits for the automation.
type Producer struct {
	queue    Enqueuer
	validate *validator.Validate
	logger   logger.Logger
	now      func() time.Time
}

func NewProducer(queue Enqueuer, log logger.Logger) *Producer {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Producer{
		queue:    queue,
		validate: v,
		logger:   log.WithFields(map[string]interface{}{"taskType": TaskType}),
		now:      time.Now,
	}
}

// Submit enqueues req and reports "queued", or the validation/enqueue error.
func (p *Producer) Submit(ctx context.Context, req *Request) (*Output, error) {
	req.JobID = strings.TrimSpace(req.JobID)
	req.ResumeID = strings.TrimSpace(req.ResumeID)
	if err := p.validate.Struct(req); err != nil {
		return nil, apperrors.NewApplyRequestInvalidError(describe(err))
	}

	task := &models.ApplyTask{
		TaskID:      uuid.New().String(),
		JobID:       req.JobID,
		ResumeID:    req.ResumeID,
		AutoApprove: req.AutoApprove,
		EnqueuedAt:  p.now().UTC(),
	}
	if err := p.queue.Enqueue(ctx, task); err != nil {
		p.logger.Error("enqueue failed", map[string]interface{}{
			"error":    err.Error(),
			"jobId":    task.JobID,
			"resumeId": task.ResumeID,
		})
		return nil, err
	}

	p.logger.Info("apply task queued", map[string]interface{}{
		"taskId":      task.TaskID,
		"jobId":       task.JobID,
		"resumeId":    task.ResumeID,
		"autoApprove": task.AutoApprove,
	})
	return &Output{
		Status:     StatusQueued,
		TaskID:     task.TaskID,
		EnqueuedAt: task.EnqueuedAt,
	}, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
