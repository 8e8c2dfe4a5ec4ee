// internal/models/application.go
package models

import "time"

// ApplicationRecord is one row of the applications audit table.
type ApplicationRecord struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	JobID     string          `json:"job_id"`
	ResumeID  string          `json:"resume_id"`
	Status    string          `json:"status"`
	Meta      ApplicationMeta `json:"meta"`
	CreatedAt time.Time       `json:"created_at"`
}

// ApplicationMeta is stored in the jsonb meta column.
type ApplicationMeta struct {
	PlayResult AutomationOutcome `json:"play_result"`
	WorkerTS   time.Time         `json:"worker_ts"`
	TaskID     string            `json:"task_id,omitempty"`
	Attempt    int               `json:"attempt,omitempty"`
	ExitCode   int               `json:"exit_code"`
	DurationMs int64             `json:"duration_ms"`
}
