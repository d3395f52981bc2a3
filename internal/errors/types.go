package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeRegistration ErrorType = "registration"
	ErrorTypeTransform    ErrorType = "transform"
	ErrorTypeTask         ErrorType = "task"
	ErrorTypeServerBind   ErrorType = "server_bind"
	ErrorTypeConfig       ErrorType = "config"
	ErrorTypeIO           ErrorType = "io"
)

// Common error codes.
const (
	ErrCodeInvalidTaskName   = "ERR_INVALID_TASK_NAME"
	ErrCodeDuplicateTask     = "ERR_DUPLICATE_TASK"
	ErrCodeUnknownDependency = "ERR_UNKNOWN_DEPENDENCY"
	ErrCodeDependencyCycle   = "ERR_DEPENDENCY_CYCLE"
	ErrCodeUnknownTask       = "ERR_UNKNOWN_TASK"
	ErrCodeItemTransform     = "ERR_ITEM_TRANSFORM"
	ErrCodeTaskFailed        = "ERR_TASK_FAILED"
	ErrCodeServerBind        = "ERR_SERVER_BIND"
	ErrCodeConfigInvalid     = "ERR_CONFIG_INVALID"
	ErrCodeWriteFailed       = "ERR_WRITE_FAILED"
)

// SiteError is a structured error type with build context.
type SiteError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Task        string
	FilePath    string
	Line        int
	Column      int
	Recoverable bool
}

// Error implements the error interface.
func (e *SiteError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Task != "" {
		parts = append(parts, "task:"+e.Task)
	}

	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *SiteError) Unwrap() error {
	return e.Cause
}

// Is matches another SiteError with the same type and code.
func (e *SiteError) Is(target error) bool {
	var t *SiteError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *SiteError) WithContext(key string, value interface{}) *SiteError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds file location information.
func (e *SiteError) WithLocation(filePath string, line, column int) *SiteError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithTask records the task the error belongs to.
func (e *SiteError) WithTask(task string) *SiteError {
	e.Task = task

	return e
}

// Error creation functions

// NewRegistrationError creates a task registration error. Registration
// errors are fatal to process start.
func NewRegistrationError(code, message string) *SiteError {
	return &SiteError{
		Type:        ErrorTypeRegistration,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewTransformError creates a per-item transform error. The pipeline drops
// the item and keeps going.
func NewTransformError(filePath string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypeTransform,
		Code:        ErrCodeItemTransform,
		Message:     "transform failed",
		Cause:       cause,
		FilePath:    filePath,
		Recoverable: true,
	}
}

// NewTaskError creates a whole-task failure.
func NewTaskError(task string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypeTask,
		Code:        ErrCodeTaskFailed,
		Message:     "task failed",
		Cause:       cause,
		Task:        task,
		Recoverable: false,
	}
}

// NewBindError creates a server bind error.
func NewBindError(addr string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypeServerBind,
		Code:        ErrCodeServerBind,
		Message:     "cannot listen on " + addr,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, cause error) *SiteError {
	return &SiteError{
		Type:    ErrorTypeConfig,
		Code:    ErrCodeConfigInvalid,
		Message: message,
		Cause:   cause,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *SiteError {
	return &SiteError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Helper functions for common errors

// ErrInvalidTaskName reports a task registered without a usable name.
func ErrInvalidTaskName(name string) *SiteError {
	return NewRegistrationError(ErrCodeInvalidTaskName, fmt.Sprintf("invalid task name %q", name))
}

// ErrDuplicateTask reports a task name registered twice.
func ErrDuplicateTask(name string) *SiteError {
	return NewRegistrationError(ErrCodeDuplicateTask, "task already registered").WithTask(name)
}

// ErrUnknownDependency reports a dependency that was not registered first.
func ErrUnknownDependency(task, dep string) *SiteError {
	return NewRegistrationError(
		ErrCodeUnknownDependency,
		fmt.Sprintf("unknown dependency %q", dep),
	).WithTask(task).WithContext("dependency", dep)
}

// ErrDependencyCycle reports a cycle; path lists the task names in order.
func ErrDependencyCycle(path []string) *SiteError {
	return NewRegistrationError(
		ErrCodeDependencyCycle,
		"dependency cycle: "+strings.Join(path, " -> "),
	).WithContext("cycle", path)
}

// ErrUnknownTask reports a run request for a name that is not registered.
func ErrUnknownTask(name string) *SiteError {
	return NewRegistrationError(ErrCodeUnknownTask, "no such task").WithTask(name)
}

// Error classification

func isType(err error, t ErrorType) bool {
	var se *SiteError
	if errors.As(err, &se) {
		return se.Type == t
	}

	return false
}

// IsRecoverable checks if an error is recoverable.
func IsRecoverable(err error) bool {
	var se *SiteError
	if errors.As(err, &se) {
		return se.Recoverable
	}

	return false
}

// IsRegistrationError checks if an error is a registration error.
func IsRegistrationError(err error) bool { return isType(err, ErrorTypeRegistration) }

// IsTransformError checks if an error is a per-item transform error.
func IsTransformError(err error) bool { return isType(err, ErrorTypeTransform) }

// IsTaskError checks if an error is a whole-task failure.
func IsTaskError(err error) bool { return isType(err, ErrorTypeTask) }

// IsBindError checks if an error is a server bind error.
func IsBindError(err error) bool { return isType(err, ErrorTypeServerBind) }

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// ErrorHandler logs errors with fields derived from their type.
type ErrorHandler struct {
	logger Logger
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs err at a level matching its category.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var se *SiteError
	if !errors.As(err, &se) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch se.Type {
	case ErrorTypeTransform:
		h.logger.Warn(ctx, err, "Transform error occurred",
			"code", se.Code,
			"task", se.Task,
			"file", se.FilePath)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", se.Type,
			"code", se.Code,
			"task", se.Task)
	}
}
