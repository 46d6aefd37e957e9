package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a unique error code for categorizing errors
type ErrorCode string

const (
	// Connection errors (1xxx)
	ErrCodeConnectionFailed     ErrorCode = "ETL1001"
	ErrCodeConnectionTimeout    ErrorCode = "ETL1002"
	ErrCodeAuthenticationFailed ErrorCode = "ETL1003"
	ErrCodeNetworkUnavailable   ErrorCode = "ETL1004"

	// Configuration errors (2xxx)
	ErrCodeConfigNotFound ErrorCode = "ETL2001"
	ErrCodeConfigInvalid  ErrorCode = "ETL2002"
	ErrCodeConfigMissing  ErrorCode = "ETL2003"
	ErrCodeSecretNotFound ErrorCode = "ETL2004"

	// Extraction errors (3xxx)
	ErrCodeSourceUnavailable ErrorCode = "ETL3001"
	ErrCodeParseFailed       ErrorCode = "ETL3002"
	ErrCodeTransport         ErrorCode = "ETL3003"
	ErrCodeExtractorPanic    ErrorCode = "ETL3004"

	// Load errors (4xxx)
	ErrCodeDimensionUpsert ErrorCode = "ETL4001"
	ErrCodeFactRebuild     ErrorCode = "ETL4002"
	ErrCodeFactInsert      ErrorCode = "ETL4003"
	ErrCodeKeyLookup       ErrorCode = "ETL4004"
	ErrCodeSchema          ErrorCode = "ETL4005"
	ErrCodeSQLExecution    ErrorCode = "ETL4006"
	ErrCodeSQLTransaction  ErrorCode = "ETL4007"

	// Orchestration errors (5xxx)
	ErrCodeOrchestration ErrorCode = "ETL5001"
	ErrCodeRunLocked     ErrorCode = "ETL5002"
	ErrCodeReportPublish ErrorCode = "ETL5003"

	// System errors (9xxx)
	ErrCodeInternal           ErrorCode = "ETL9001"
	ErrCodeTimeout            ErrorCode = "ETL9002"
	ErrCodeResourceExhausted  ErrorCode = "ETL9003"
	ErrCodeServiceUnavailable ErrorCode = "ETL9004"
)

// ErrorSeverity represents the severity level of an error
type ErrorSeverity string

const (
	SeverityCritical ErrorSeverity = "CRITICAL" // System failure, requires immediate attention
	SeverityError    ErrorSeverity = "ERROR"    // Operation failed, but system continues
	SeverityWarning  ErrorSeverity = "WARNING"  // Operation succeeded with issues
	SeverityInfo     ErrorSeverity = "INFO"     // Informational, not an error
)

// AppError represents a structured application error with context
type AppError struct {
	Code        ErrorCode
	Message     string
	Severity    ErrorSeverity
	Context     map[string]interface{}
	Cause       error
	Stack       string
	Timestamp   time.Time
	Recoverable bool
	Suggestions []string
}

// Error implements the error interface
func (e *AppError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\nCaused by: %v", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\nSuggestions:")
		for i, suggestion := range e.Suggestions {
			b.WriteString(fmt.Sprintf("\n  %d. %s", i+1, suggestion))
		}
	}

	return b.String()
}

// Unwrap returns the cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError with the same code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Severity:  SeverityError,
		Context:   make(map[string]interface{}),
		Stack:     captureStack(),
		Timestamp: time.Now(),
	}
}

// Wrap wraps an existing error with AppError. A nil err yields nil.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	appErr := New(code, message)
	appErr.Cause = err

	var inner *AppError
	if errors.As(err, &inner) {
		for k, v := range inner.Context {
			appErr.Context[k] = v
		}
		appErr.Recoverable = inner.Recoverable
	}

	return appErr
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithSeverity sets the error severity
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	return e
}

// WithSuggestions adds recovery suggestions
func (e *AppError) WithSuggestions(suggestions ...string) *AppError {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// AsRecoverable marks the error as recoverable
func (e *AppError) AsRecoverable() *AppError {
	e.Recoverable = true
	return e
}

func captureStack() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var b strings.Builder
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") {
			b.WriteString(fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}

	return b.String()
}

// Common error constructors

// ConnectionError creates a warehouse or source connection error
func ConnectionError(message string, cause error) *AppError {
	return Wrap(cause, ErrCodeConnectionFailed, message).
		WithSuggestions(
			"Check that the database host is reachable",
			"Verify the DSN and credentials in the configuration",
		)
}

// ConfigError creates a configuration-related error
func ConfigError(message string, field string) *AppError {
	return New(ErrCodeConfigInvalid, message).
		WithContext("field", field).
		WithSuggestions(
			fmt.Sprintf("Check the '%s' configuration value", field),
			"Run 'salesetl config init' to write a sample configuration",
		)
}

// SQLError creates an SQL execution error carrying a truncated copy of the query
func SQLError(code ErrorCode, message string, query string, cause error) *AppError {
	if cause == nil {
		return nil
	}
	err := Wrap(cause, code, message).
		WithContext("query", truncateString(query, 200))

	msg := strings.ToLower(cause.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "access denied"):
		err.WithSuggestions("Verify the warehouse role has INSERT/UPDATE/DELETE privileges")
	case strings.Contains(msg, "does not exist") || strings.Contains(msg, "no such table"):
		err.WithSuggestions("Run 'salesetl migrate up' to create the warehouse schema")
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		err.WithSuggestions("Increase warehouse.connect_timeout or reduce load.batch_size")
		err.AsRecoverable()
	}

	return err
}

// SourceUnavailable marks a missing directory, file, table or endpoint
func SourceUnavailable(source, resource string) *AppError {
	return New(ErrCodeSourceUnavailable, fmt.Sprintf("%s: %s not found", source, resource)).
		WithSeverity(SeverityWarning).
		WithContext("source", source).
		WithContext("resource", resource)
}

// ValidationError creates a validation error
func ValidationError(field string, value interface{}, reason string) *AppError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("Validation failed for %s: %s", field, reason)).
		WithContext("field", field).
		WithContext("value", value).
		WithSeverity(SeverityWarning)
}

// IsRecoverable checks if an error is recoverable
func IsRecoverable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Recoverable
	}
	return false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether any AppError in err's chain carries code
func HasCode(err error, code ErrorCode) bool {
	return errors.Is(err, &AppError{Code: code})
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
