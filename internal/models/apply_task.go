// internal/models/apply_task.go
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ApplyTask is the unit of work carried on job_apply_queue.
type ApplyTask struct {
	TaskID      string    `json:"task_id,omitempty"`
	JobID       string    `json:"job_id"`
	ResumeID    string    `json:"resume_id"`
	AutoApprove bool      `json:"auto_approve"`
	EnqueuedAt  time.Time `json:"enqueued_at,omitempty"`
}

// DecodeApplyTask parses a queue payload. TaskID stays empty for producers
// that predate it; the queue assigns one per delivery.
func DecodeApplyTask(payload string) (*ApplyTask, error) {
	var task ApplyTask
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return nil, fmt.Errorf("decode apply task: %w", err)
	}
	if task.JobID == "" || task.ResumeID == "" {
		return nil, fmt.Errorf("decode apply task: job_id and resume_id are required")
	}
	return &task, nil
}

// Encode serializes the task for the queue.
func (t *ApplyTask) Encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode apply task: %w", err)
	}
	return string(b), nil
}
