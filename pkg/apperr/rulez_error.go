package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	// Validation errors
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeMissingField     = "MISSING_FIELD"

	// Resource errors
	CodeNotFound      = "NOT_FOUND"
	CodeAlreadyExists = "ALREADY_EXISTS"
	CodeConflict      = "CONFLICT"

	// Mailbox errors
	CodeConnectionFailed = "CONNECTION_FAILED"
	CodeFolderValidation = "FOLDER_VALIDATION"
	CodeExternalError    = "EXTERNAL_ERROR"

	// Retention errors
	CodePolicyNotFound         = "POLICY_NOT_FOUND"
	CodePolicyValidation       = "POLICY_VALIDATION"
	CodeInvalidRetentionPeriod = "INVALID_RETENTION_PERIOD"
	CodeTrashOperation         = "TRASH_OPERATION"
	CodeTrashFolderNotFound    = "TRASH_FOLDER_NOT_FOUND"
	CodeRetentionExecution     = "RETENTION_EXECUTION"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
	CodeTimeout       = "TIMEOUT"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Validation errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func ValidationFailed(message string) *AppError {
	return &AppError{
		Code:    CodeValidationFailed,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func InvalidInput(field, reason string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf("invalid input for '%s': %s", field, reason),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func AlreadyExists(resource string) *AppError {
	return &AppError{
		Code:    CodeAlreadyExists,
		Message: fmt.Sprintf("%s already exists", resource),
		Status:  http.StatusConflict,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
		Status:  http.StatusConflict,
	}
}

// Mailbox errors
func ConnectionFailed(account string, err error) *AppError {
	return &AppError{
		Code:    CodeConnectionFailed,
		Message: fmt.Sprintf("connection failed for account %s", account),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"account": account},
		Err:     err,
	}
}

func FolderValidation(folder string, err error) *AppError {
	return &AppError{
		Code:    CodeFolderValidation,
		Message: fmt.Sprintf("folder validation failed: %s", folder),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"folder": folder},
		Err:     err,
	}
}

func ExternalError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeExternalError,
		Message: fmt.Sprintf("external service error: %s", service),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// Retention errors
func PolicyNotFound(policyID string) *AppError {
	return &AppError{
		Code:    CodePolicyNotFound,
		Message: fmt.Sprintf("retention policy not found: %s", policyID),
		Status:  http.StatusNotFound,
		Details: map[string]any{"policy_id": policyID},
	}
}

func PolicyValidation(policyID string, reasons []string) *AppError {
	e := &AppError{
		Code:    CodePolicyValidation,
		Message: fmt.Sprintf("policy validation failed for '%s'", policyID),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"policy_id": policyID},
	}
	if len(reasons) > 0 {
		e.Details["reasons"] = reasons
	}
	return e
}

func InvalidRetentionPeriod(days, minDays int) *AppError {
	return &AppError{
		Code:    CodeInvalidRetentionPeriod,
		Message: fmt.Sprintf("invalid retention period: %d days (minimum: %d)", days, minDays),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"days": days, "min_days": minDays},
	}
}

func TrashOperation(operation, folder, reason string) *AppError {
	return &AppError{
		Code:    CodeTrashOperation,
		Message: fmt.Sprintf("trash operation '%s' failed on folder '%s': %s", operation, folder, reason),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"operation": operation, "folder": folder},
	}
}

func TrashFolderNotFound(account string) *AppError {
	return &AppError{
		Code:    CodeTrashFolderNotFound,
		Message: fmt.Sprintf("no trash folder found for account %s", account),
		Status:  http.StatusNotFound,
		Details: map[string]any{"account": account},
	}
}

func RetentionExecution(policyID, stage, reason string) *AppError {
	return &AppError{
		Code:    CodeRetentionExecution,
		Message: fmt.Sprintf("retention execution failed for policy '%s' at stage '%s': %s", policyID, stage, reason),
		Status:  http.StatusInternalServerError,
		Details: map[string]any{"policy_id": policyID, "stage": stage},
	}
}

// Internal errors
func Internal(message string) *AppError {
	if message == "" {
		message = "internal server error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

// Common error instances
var (
	ErrNotFound   = NotFound("resource")
	ErrBadRequest = BadRequest("bad request")
	ErrInternal   = Internal("")
	ErrConflict   = Conflict("resource conflict")
)

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}
