// Package errors provides centralized error definitions and error handling utilities
// for the Parley codebase. It defines domain-specific errors, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// The package provides two categories of errors:
//
// Domain-specific errors represent errors from specific subsystems:
//   - SpawnError: errors launching the agent process on its terminal
//   - SessionError: errors managing the agent session lifecycle
//   - TurnError: errors executing a single conversational turn
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
// Creating errors:
//
//	// Domain-specific error
//	err := errors.NewSpawnError("failed to launch agent", cause).WithExecutable("claude")
//
//	// Semantic error
//	err := errors.NewNotFoundError("directory", "/tmp/missing")
//
//	// With context wrapping
//	err := errors.NewTurnError("write failed", cause).WithTurnID("t-42")
//
// Checking errors:
//
//	// Check for specific sentinel errors
//	if errors.Is(err, errors.ErrChannelClosed) { ... }
//
//	// Check for error types
//	var spawnErr *errors.SpawnError
//	if errors.As(err, &spawnErr) { ... }
//
//	// Use classification helpers
//	if errors.IsRetryable(err) { ... }
//	if errors.IsUserFacing(err) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Session-related sentinel errors
var (
	// ErrNotRunning indicates that the agent session is not running.
	ErrNotRunning = New("session not running")
	// ErrAlreadyRunning indicates that the agent session is already running.
	ErrAlreadyRunning = New("session already running")
	// ErrUnexpectedExit indicates that the agent process exited without being asked to.
	ErrUnexpectedExit = New("process exited unexpectedly")
	// ErrRestartInProgress indicates that a restart is already underway.
	ErrRestartInProgress = New("restart already in progress")
)

// Channel-related sentinel errors
var (
	// ErrChannelClosed indicates that the terminal channel to the agent is closed.
	ErrChannelClosed = New("channel closed")
)

// Turn-related sentinel errors
var (
	// ErrPromptTimeout indicates that the agent's prompt did not reappear in time.
	ErrPromptTimeout = New("prompt timeout")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ParleyError is the base interface for all Parley errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type ParleyError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	// This is used by errors.Is() for error comparison.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SpawnError represents a failure to launch the agent process on its terminal.
//
// Example:
//
//	err := errors.NewSpawnError("failed to launch agent", cause)
//	err = err.WithExecutable("claude").WithWorkdir("/srv/project")
//	fmt.Println(err) // "spawn error [executable=claude, workdir=/srv/project]: failed to launch agent: ..."
type SpawnError struct {
	baseError
	Executable string
	Workdir    string
}

// NewSpawnError creates a new SpawnError.
func NewSpawnError(message string, cause error) *SpawnError {
	return &SpawnError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityCritical,
			retryable:  true,
			userFacing: true,
		},
	}
}

// WithExecutable adds the executable name to the error context.
func (e *SpawnError) WithExecutable(executable string) *SpawnError {
	e.Executable = executable
	return e
}

// WithWorkdir adds the working directory to the error context.
func (e *SpawnError) WithWorkdir(dir string) *SpawnError {
	e.Workdir = dir
	return e
}

// WithSeverity sets the error severity.
func (e *SpawnError) WithSeverity(s Severity) *SpawnError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *SpawnError) WithRetryable(r bool) *SpawnError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *SpawnError) Error() string {
	var parts []string
	if e.Executable != "" {
		parts = append(parts, fmt.Sprintf("executable=%s", e.Executable))
	}
	if e.Workdir != "" {
		parts = append(parts, fmt.Sprintf("workdir=%s", e.Workdir))
	}

	prefix := "spawn error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("spawn error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SpawnError) Is(target error) bool {
	if _, ok := target.(*SpawnError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SessionError represents errors related to managing the agent session lifecycle.
//
// Example:
//
//	err := errors.NewSessionError("graceful stop failed", cause)
//	err = err.WithState("busy").WithPID(4242)
type SessionError struct {
	baseError
	State string
	PID   int
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithState adds the session state to the error context.
func (e *SessionError) WithState(state string) *SessionError {
	e.State = state
	return e
}

// WithPID adds the agent process ID to the error context.
func (e *SessionError) WithPID(pid int) *SessionError {
	e.PID = pid
	return e
}

// WithSeverity sets the error severity.
func (e *SessionError) WithSeverity(s Severity) *SessionError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *SessionError) WithRetryable(r bool) *SessionError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.State != "" {
		parts = append(parts, fmt.Sprintf("state=%s", e.State))
	}
	if e.PID > 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", e.PID))
	}

	prefix := "session error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("session error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TurnError represents errors executing a single conversational turn.
//
// Example:
//
//	err := errors.NewTurnError("write failed", errors.ErrChannelClosed)
//	err = err.WithTurnID("t-42")
type TurnError struct {
	baseError
	TurnID string
}

// NewTurnError creates a new TurnError.
func NewTurnError(message string, cause error) *TurnError {
	return &TurnError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithTurnID adds a turn ID to the error context.
func (e *TurnError) WithTurnID(id string) *TurnError {
	e.TurnID = id
	return e
}

// WithSeverity sets the error severity.
func (e *TurnError) WithSeverity(s Severity) *TurnError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *TurnError) WithRetryable(r bool) *TurnError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TurnError) Error() string {
	var parts []string
	if e.TurnID != "" {
		parts = append(parts, fmt.Sprintf("turn=%s", e.TurnID))
	}

	prefix := "turn error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("turn error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *TurnError) Is(target error) bool {
	if _, ok := target.(*TurnError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("directory", "/tmp/missing")
//	fmt.Println(err) // "directory '/tmp/missing' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("model name cannot be empty")
//	err = err.WithField("model").WithValue("")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("waiting for agent prompt", 30*time.Second)
//	fmt.Println(err) // "timeout error: waiting for agent prompt (timeout: 30s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// WithRetryable sets whether the error is retryable (default true for timeouts).
func (e *TimeoutError) WithRetryable(r bool) *TimeoutError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing ParleyError with IsRetryable() returning true
//   - TimeoutError instances
//   - Errors wrapping ErrTimeout or ErrPromptTimeout
//
// Example:
//
//	if errors.IsRetryable(err) {
//	    time.Sleep(backoff)
//	    return retry(operation)
//	}
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Check if error implements ParleyError
	var parleyErr ParleyError
	if As(err, &parleyErr) {
		return parleyErr.IsRetryable()
	}

	// Check for known retryable sentinel errors
	if Is(err, ErrTimeout) || Is(err, ErrPromptTimeout) {
		return true
	}

	return false
}

// IsUserFacing returns true if the error message is safe to display to end users.
// This checks for:
//   - Errors implementing ParleyError with IsUserFacing() returning true
//   - Semantic errors (NotFoundError, ValidationError, TimeoutError)
//
// Example:
//
//	if errors.IsUserFacing(err) {
//	    displayToUser(err.Error())
//	} else {
//	    displayToUser("An internal error occurred")
//	    log.Error("internal error", "err", err)
//	}
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	// Check if error implements ParleyError
	var parleyErr ParleyError
	if As(err, &parleyErr) {
		return parleyErr.IsUserFacing()
	}

	// Semantic errors are always user-facing
	var notFound *NotFoundError
	var validation *ValidationError
	var timeout *TimeoutError

	if As(err, &notFound) || As(err, &validation) || As(err, &timeout) {
		return true
	}

	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ParleyError.
//
// Example:
//
//	switch errors.GetSeverity(err) {
//	case errors.SeverityCritical:
//	    alertOperator(err)
//	case errors.SeverityError:
//	    log.Error("error occurred", "err", err)
//	case errors.SeverityWarning:
//	    log.Warn("warning", "err", err)
//	}
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	// Check if error implements ParleyError
	var parleyErr ParleyError
	if As(err, &parleyErr) {
		return parleyErr.Severity()
	}

	// Default to Error severity for unknown errors
	return SeverityError
}

// IsDomainError returns true if the error is a domain-specific error
// (SpawnError, SessionError, or TurnError).
func IsDomainError(err error) bool {
	if err == nil {
		return false
	}

	var spawnErr *SpawnError
	var sessionErr *SessionError
	var turnErr *TurnError

	return As(err, &spawnErr) || As(err, &sessionErr) || As(err, &turnErr)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to process request")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to execute turn %s", turnID)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
