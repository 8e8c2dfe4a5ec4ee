// internal/workers/apply/resolve-apply-context/config.go
package resolveapplycontext

import (
	"time"

	"apply-workers/internal/common/config"
	"apply-workers/internal/models"
)

type Config struct {
	Defaults  models.ApplyContext
	ResumeDir string
	Timeout   time.Duration
}

func LoadConfig(applicant config.ApplicantConfig, automation config.AutomationConfig) *Config {
	return &Config{
		Defaults: models.ApplyContext{
			TargetURL:  applicant.TargetURL,
			ResumePath: applicant.ResumePath,
			Applicant: models.ApplicantProfile{
				FirstName: applicant.FirstName,
				LastName:  applicant.LastName,
				Email:     applicant.Email,
			},
		},
		ResumeDir: automation.ResumeDir,
		Timeout:   5 * time.Second,
	}
}
