// internal/workers/apply/enqueue-apply/models.go
package enqueueapply

import "time"

// Request is the body of POST /apply.
type Request struct {
	JobID       string `json:"job_id" validate:"required,max=256"`
	ResumeID    string `json:"resume_id" validate:"required,max=256"`
	AutoApprove bool   `json:"auto_approve"`
}

type Output struct {
	Status     string    `json:"status"`
	TaskID     string    `json:"task_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
