// internal/workers/apply/run-automation/classifier.go
package runautomation

import (
	"encoding/json"
	"strings"

	"apply-workers/internal/common/validation"
	"apply-workers/internal/models"
)

const outcomeSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status":     {"type": "string", "minLength": 1},
    "screenshot": {"type": ["string", "null"]},
    "error":      {"type": ["string", "null"]}
  }
}`

var outcomeValidator = validation.MustCompile(outcomeSchema)

const detailNoOutput = "no output"

// Classify turns captured process output into an outcome. First match wins:
// a valid record on stdout, unparsable stdout, a valid record on stderr,
// unparsable stderr, then nothing at all. NUL bytes and invalid UTF-8 never
// reach the outcome; Postgres rejects both.
func Classify(stdout, stderr string) models.AutomationOutcome {
	return storable(classify(storableText(stdout), storableText(stderr)))
}

func classify(stdout, stderr string) models.AutomationOutcome {
	stdout = strings.TrimSpace(stdout)
	stderr = strings.TrimSpace(stderr)

	if stdout != "" {
		if outcome, ok := parseOutcome(stdout); ok {
			return outcome
		}
		return models.AutomationOutcome{
			Status: models.OutcomeUnknown,
			Error:  stdout,
			Stderr: stderr,
		}
	}

	if stderr != "" {
		if outcome, ok := parseOutcome(stderr); ok {
			return outcome
		}
		return models.Failed(stderr)
	}

	return models.Failed(detailNoOutput)
}

func parseOutcome(text string) (models.AutomationOutcome, bool) {
	res, err := outcomeValidator.ValidateJSON([]byte(text))
	if err != nil || !res.Valid {
		return models.AutomationOutcome{}, false
	}

	var raw struct {
		Status     string  `json:"status"`
		Screenshot *string `json:"screenshot"`
		Error      *string `json:"error"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return models.AutomationOutcome{}, false
	}

	outcome := models.AutomationOutcome{Status: raw.Status}
	if raw.Screenshot != nil {
		outcome.Screenshot = *raw.Screenshot
	}
	if raw.Error != nil {
		outcome.Error = *raw.Error
	}
	return outcome, true
}

// storable strips what a decoded record can still smuggle in through JSON
// escapes such as \u0000.
func storable(o models.AutomationOutcome) models.AutomationOutcome {
	o.Status = storableText(o.Status)
	if o.Status == "" {
		o.Status = models.OutcomeUnknown
	}
	o.Screenshot = storableText(o.Screenshot)
	o.Error = storableText(o.Error)
	o.Stderr = storableText(o.Stderr)
	return o
}

func storableText(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}
