// internal/workers/apply/record-application/models.go
package recordapplication

import "apply-workers/internal/models"

type Input struct {
	Task      *models.ApplyTask
	Outcome   models.AutomationOutcome
	Execution models.Execution
}
