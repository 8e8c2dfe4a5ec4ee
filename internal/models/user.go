// internal/models/user.go
package models

// ApplicantProfile is what the automation process fills into the job form.
type ApplicantProfile struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// ApplyContext is the resolved environment for one automation run.
type ApplyContext struct {
	TargetURL  string
	ResumePath string
	Applicant  ApplicantProfile
}
