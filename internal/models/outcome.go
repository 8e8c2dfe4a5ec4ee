// internal/models/outcome.go
package models

const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeUnknown = "unknown"
)

// AutomationOutcome is the classified result of one automation run. Error holds
// the diagnostic detail; Stderr keeps standard error when stdout already won
// classification.
type AutomationOutcome struct {
	Status     string `json:"status"`
	Screenshot string `json:"screenshot,omitempty"`
	Error      string `json:"error,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
}

// Failed builds a failed outcome with the given detail.
func Failed(detail string) AutomationOutcome {
	return AutomationOutcome{Status: OutcomeFailed, Error: detail}
}

// Execution describes how an automation run went from the worker's side.
type Execution struct {
	ExitCode   int   `json:"exit_code"`
	DurationMs int64 `json:"duration_ms"`
	Attempt    int   `json:"attempt"`
}
