// internal/workers/apply/resolve-apply-context/resolver.go
package resolveapplycontext

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"

	"apply-workers/internal/common/logger"
	"apply-workers/internal/models"
)

const TaskType = "resolve-apply-context"

// Resolver fills the automation environment for a task from the jobs,
// resumes and users tables, falling back to configured defaults.
type Resolver struct {
	config *Config
	db     *sql.DB
	logger logger.Logger
}

// NewResolver accepts a nil db, in which case only the defaults are used.
func NewResolver(config *Config, db *sql.DB, log logger.Logger) *Resolver {
	return &Resolver{
		config: config,
		db:     db,
		logger: log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

// Resolve never fails: lookup problems are logged and the default is kept.
func (r *Resolver) Resolve(ctx context.Context, task *models.ApplyTask) models.ApplyContext {
	out := r.config.Defaults
	if r.db == nil {
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	log := r.logger.WithFields(map[string]interface{}{
		"taskId":   task.TaskID,
		"jobId":    task.JobID,
		"resumeId": task.ResumeID,
	})

	var postingURL sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT posting_url FROM jobs WHERE id = $1`, task.JobID,
	).Scan(&postingURL)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		log.Debug("job not found, using default target url", nil)
	case err != nil:
		log.Warn("job lookup failed, using default target url", map[string]interface{}{"error": err.Error()})
	case postingURL.Valid && postingURL.String != "":
		out.TargetURL = postingURL.String
	}

	var filename, email sql.NullString
	err = r.db.QueryRowContext(ctx, `
		SELECT r.filename, u.email
		FROM resumes r
		LEFT JOIN users u ON u.id = r.user_id
		WHERE r.id = $1`, task.ResumeID,
	).Scan(&filename, &email)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		log.Debug("resume not found, using default resume path", nil)
	case err != nil:
		log.Warn("resume lookup failed, using default resume path", map[string]interface{}{"error": err.Error()})
	default:
		if filename.Valid && filename.String != "" && r.config.ResumeDir != "" {
			out.ResumePath = filepath.Join(r.config.ResumeDir, filepath.Base(filename.String))
		}
		if email.Valid && email.String != "" {
			out.Applicant.Email = email.String
		}
	}

	return out
}
