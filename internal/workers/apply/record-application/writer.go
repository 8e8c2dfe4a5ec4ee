// internal/workers/apply/record-application/writer.go
package recordapplication

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "apply-workers/internal/common/errors"
	"apply-workers/internal/common/logger"
	"apply-workers/internal/models"

	"github.com/google/uuid"
)

const TaskType = "record-application"

var (
	ErrDuplicateApplication = errors.New("DUPLICATE_APPLICATION")
	ErrApplicationNotFound  = errors.New("APPLICATION_NOT_FOUND")
)

// Writer appends one applications row per task and never updates it.
type Writer struct {
	config *Config
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
}

func NewWriter(config *Config, db *sql.DB, log logger.Logger) *Writer {
	return &Writer{
		config: config,
		db:     db,
		logger: log.WithFields(map[string]interface{}{"taskType": TaskType}),
		now:    time.Now,
	}
}

// Record inserts the outcome of a task. A task that already has a row yields
// ErrDuplicateApplication and leaves the existing row untouched.
func (w *Writer) Record(ctx context.Context, in *Input) (*models.ApplicationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	now := w.now().UTC()
	record := &models.ApplicationRecord{
		ID:       uuid.New().String(),
		TaskID:   in.Task.TaskID,
		JobID:    in.Task.JobID,
		ResumeID: in.Task.ResumeID,
		Status:   in.Outcome.Status,
		Meta: models.ApplicationMeta{
			PlayResult: in.Outcome,
			WorkerTS:   now,
			TaskID:     in.Task.TaskID,
			Attempt:    in.Execution.Attempt,
			ExitCode:   in.Execution.ExitCode,
			DurationMs: in.Execution.DurationMs,
		},
		CreatedAt: now,
	}

	metaJSON, err := json.Marshal(record.Meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}

	res, err := w.db.ExecContext(ctx, `
		INSERT INTO applications (id, task_id, job_id, resume_id, status, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id) DO NOTHING`,
		record.ID,
		record.TaskID,
		record.JobID,
		record.ResumeID,
		record.Status,
		metaJSON,
		record.CreatedAt,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseInsertFailedError(err).
			WithMetadata("taskId", record.TaskID)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, apperrors.NewDatabaseInsertFailedError(err).
			WithMetadata("taskId", record.TaskID)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %w", ErrDuplicateApplication,
			apperrors.NewDuplicateApplicationError(record.TaskID))
	}

	w.logger.Info("application recorded", map[string]interface{}{
		"applicationId": record.ID,
		"taskId":        record.TaskID,
		"jobId":         record.JobID,
		"resumeId":      record.ResumeID,
		"status":        record.Status,
	})
	return record, nil
}

// Exists reports whether taskID already has a row.
func (w *Writer) Exists(ctx context.Context, taskID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	var exists bool
	err := w.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM applications WHERE task_id = $1)`, taskID,
	).Scan(&exists)
	if err != nil {
		return false, apperrors.NewDatabaseConnectionFailedError(err)
	}
	return exists, nil
}

// FindByTaskID loads the row written for taskID.
func (w *Writer) FindByTaskID(ctx context.Context, taskID string) (*models.ApplicationRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	var (
		record   models.ApplicationRecord
		metaJSON []byte
	)
	err := w.db.QueryRowContext(ctx, `
		SELECT id, task_id, job_id, resume_id, status, meta, created_at
		FROM applications
		WHERE task_id = $1`, taskID,
	).Scan(
		&record.ID,
		&record.TaskID,
		&record.JobID,
		&record.ResumeID,
		&record.Status,
		&metaJSON,
		&record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrApplicationNotFound, taskID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseConnectionFailedError(err)
	}
	if err := json.Unmarshal(metaJSON, &record.Meta); err != nil {
		return nil, fmt.Errorf("decode meta for %s: %w", taskID, err)
	}
	return &record, nil
}
