// internal/models/notification.go
package models

// LostTaskAlert is published when a dequeued task could not be recorded.
type LostTaskAlert struct {
	TaskID    string `json:"taskId"`
	JobID     string `json:"jobId,omitempty"`
	ResumeID  string `json:"resumeId,omitempty"`
	Reason    string `json:"reason"` // "persistence_failed", "dead_lettered", "undecodable"
	Detail    string `json:"detail"`
	Status    string `json:"status,omitempty"` // outcome that could not be stored
	Attempt   int    `json:"attempt,omitempty"`
	CreatedAt string `json:"createdAt"`
}
