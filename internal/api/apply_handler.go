// internal/api/apply_handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	apperrors "apply-workers/internal/common/errors"
	"apply-workers/internal/common/logger"
	"apply-workers/internal/common/metrics"
	"apply-workers/internal/models"
	enqueueapply "apply-workers/internal/workers/apply/enqueue-apply"
	recordapplication "apply-workers/internal/workers/apply/record-application"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxRequestBytes = 64 << 10

type Submitter interface {
	Submit(ctx context.Context, req *enqueueapply.Request) (*enqueueapply.Output, error)
}

type RecordFinder interface {
	FindByTaskID(ctx context.Context, taskID string) (*models.ApplicationRecord, error)
}

// ApplyHandler serves the producer endpoints.
type ApplyHandler struct {
	producer Submitter
	records  RecordFinder
	logger   logger.Logger
}

func NewApplyHandler(producer Submitter, records RecordFinder, log logger.Logger) *ApplyHandler {
	return &ApplyHandler{
		producer: producer,
		records:  records,
		logger:   log.WithFields(map[string]interface{}{"component": "apply-api"}),
	}
}

// Submit handles POST /apply. It replies as soon as the task is queued.
func (h *ApplyHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req enqueueapply.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		metrics.ApplyTasksEnqueued.WithLabelValues("invalid").Inc()
		respondError(w, r, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid request body",
			Code:    string(apperrors.ErrCodeApplyRequestInvalid),
			Details: err.Error(),
		})
		return
	}

	out, err := h.producer.Submit(r.Context(), &req)
	if err != nil {
		stdErr := apperrors.AsStandard(err)
		if stdErr.Code == apperrors.ErrCodeApplyRequestInvalid {
			metrics.ApplyTasksEnqueued.WithLabelValues("invalid").Inc()
			respondError(w, r, http.StatusBadRequest, ErrorResponse{
				Error:   stdErr.Message,
				Code:    string(stdErr.Code),
				Details: stdErr.Details,
			})
			return
		}
		metrics.ApplyTasksEnqueued.WithLabelValues("error").Inc()
		h.logger.Error("apply request not queued", map[string]interface{}{
			"error":     err.Error(),
			"errorCode": stdErr.Code,
			"requestId": middleware.GetReqID(r.Context()),
		})
		respondError(w, r, http.StatusInternalServerError, ErrorResponse{
			Error: "failed to enqueue apply task",
			Code:  string(stdErr.Code),
		})
		return
	}

	metrics.ApplyTasksEnqueued.WithLabelValues("queued").Inc()
	respondJSON(w, http.StatusAccepted, out)
}

// Status handles GET /apply/{taskID}: the record once written, 404 before.
func (h *ApplyHandler) Status(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	record, err := h.records.FindByTaskID(r.Context(), taskID)
	if errors.Is(err, recordapplication.ErrApplicationNotFound) {
		respondJSON(w, http.StatusNotFound, map[string]string{
			"status":  "pending",
			"task_id": taskID,
		})
		return
	}
	if err != nil {
		h.logger.Error("application lookup failed", map[string]interface{}{
			"error":  err.Error(),
			"taskId": taskID,
		})
		respondError(w, r, http.StatusInternalServerError, ErrorResponse{
			Error: "failed to load application",
			Code:  string(apperrors.CodeOf(err)),
		})
		return
	}
	respondJSON(w, http.StatusOK, record)
}
