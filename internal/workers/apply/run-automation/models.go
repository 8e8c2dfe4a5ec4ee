// internal/workers/apply/run-automation/models.go
package runautomation

import (
	"strconv"

	"apply-workers/internal/models"
)

// Input is everything one automation run needs.
type Input struct {
	Task    *models.ApplyTask
	Context models.ApplyContext
	Attempt int
}

// Output is the classified outcome plus how the process behaved.
type Output struct {
	Outcome   models.AutomationOutcome
	Execution models.Execution
	Stdout    string
	Stderr    string
}

// Environment returns the variables handed to the automation process.
func (in *Input) Environment() map[string]string {
	return map[string]string{
		"TARGET_URL":   in.Context.TargetURL,
		"FIRST_NAME":   in.Context.Applicant.FirstName,
		"LAST_NAME":    in.Context.Applicant.LastName,
		"EMAIL":        in.Context.Applicant.Email,
		"RESUME_PATH":  in.Context.ResumePath,
		"JOB_ID":       in.Task.JobID,
		"RESUME_ID":    in.Task.ResumeID,
		"AUTO_APPROVE": strconv.FormatBool(in.Task.AutoApprove),
		"TASK_ID":      in.Task.TaskID,
	}
}
