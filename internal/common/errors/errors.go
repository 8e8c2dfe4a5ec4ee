// Package errors provides standardized error handling for the apply pipeline.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeQueueUnavailable    ErrorCode = "QUEUE_UNAVAILABLE"
	ErrCodeTaskDecodeFailed    ErrorCode = "TASK_DECODE_FAILED"
	ErrCodeAckFailed           ErrorCode = "QUEUE_ACK_FAILED"
	ErrCodeApplyRequestInvalid ErrorCode = "APPLY_REQUEST_INVALID"

	ErrCodeAutomationStartFailed ErrorCode = "AUTOMATION_START_FAILED"
	ErrCodeAutomationTimeout     ErrorCode = "AUTOMATION_TIMEOUT"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseInsertFailed     ErrorCode = "DATABASE_INSERT_FAILED"
	ErrCodeDuplicateApplication     ErrorCode = "DUPLICATE_APPLICATION"

	ErrCodeAlertPublishFailed ErrorCode = "ALERT_PUBLISH_FAILED"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

// NewQueueUnavailableError creates a retryable queue transport error.
func NewQueueUnavailableError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueueUnavailable,
		Message:   "Task queue unavailable",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewTaskDecodeFailedError creates a non-retryable error for a poison payload.
func NewTaskDecodeFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTaskDecodeFailed,
		Message:   "Queued task could not be decoded",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewAckFailedError creates a retryable acknowledgement error.
func NewAckFailedError(taskID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAckFailed,
		Message:   "Task acknowledgement failed",
		Details:   fmt.Sprintf("taskId: %s, error: %s", taskID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewApplyRequestInvalidError creates a non-retryable request validation error.
func NewApplyRequestInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeApplyRequestInvalid,
		Message:   "Apply request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAutomationStartFailedError creates an error for a process that never ran.
func NewAutomationStartFailedError(command string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAutomationStartFailed,
		Message:   "Automation process failed to start",
		Details:   fmt.Sprintf("command: %s, error: %s", command, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewAutomationTimeoutError creates an error for a process killed on timeout.
func NewAutomationTimeoutError(timeout time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeAutomationTimeout,
		Message:   "Automation process timed out",
		Details:   fmt.Sprintf("timeout: %s", timeout),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewDatabaseInsertFailedError creates a retryable database insert error.
func NewDatabaseInsertFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseInsertFailed,
		Message:   "Database insert operation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewDuplicateApplicationError creates a non-retryable duplicate application error.
func NewDuplicateApplicationError(taskID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDuplicateApplication,
		Message:   "Application already recorded",
		Details:   fmt.Sprintf("taskId: %s", taskID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAlertPublishFailedError creates a retryable alert delivery error.
func NewAlertPublishFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAlertPublishFailed,
		Message:   "Lost-task alert delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// AsStandard returns the first StandardError in err's chain, or a wrapped
// INTERNAL_ERROR when there is none.
func AsStandard(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// CodeOf returns the error code of err, or INTERNAL_ERROR.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return AsStandard(err).Code
}

// IsRetryable reports whether err is a retryable StandardError.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "QUEUE") || strings.HasPrefix(codeStr, "TASK"):
		return "QUEUE"
	case strings.HasPrefix(codeStr, "AUTOMATION"):
		return "AUTOMATION"
	case strings.HasPrefix(codeStr, "DATABASE") || strings.Contains(codeStr, "APPLICATION"):
		return "DATABASE"
	case strings.HasPrefix(codeStr, "ALERT"):
		return "ALERT"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
