package errs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// Setup errors
	ErrorTypeConfig  ErrorType = "config"
	ErrorTypeCompile ErrorType = "compile"
	ErrorTypeConnect ErrorType = "connect"

	// Plan errors
	ErrorTypeGeneration ErrorType = "generation"
	ErrorTypeBuild      ErrorType = "build"

	// Chain errors
	ErrorTypeDeploy  ErrorType = "deploy"
	ErrorTypeExecute ErrorType = "execute"
	ErrorTypeTrace   ErrorType = "trace"

	// Transport errors
	ErrorTypeNetwork ErrorType = "network"
	ErrorTypeAPI     ErrorType = "api"
	ErrorTypeTimeout ErrorType = "timeout"

	ErrorTypeStorage ErrorType = "storage"
)

// Severity describes how much of a fuzzing campaign an error invalidates.
type Severity int

const (
	// SeverityCall skips a single function call.
	SeverityCall Severity = iota
	// SeverityRound aborts the current round.
	SeverityRound
	// SeverityFatal aborts the whole run.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityCall:
		return "call"
	case SeverityRound:
		return "round"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var severities = map[ErrorType]Severity{
	ErrorTypeConfig:     SeverityFatal,
	ErrorTypeCompile:    SeverityFatal,
	ErrorTypeConnect:    SeverityFatal,
	ErrorTypeGeneration: SeverityRound,
	ErrorTypeBuild:      SeverityRound,
	ErrorTypeDeploy:     SeverityRound,
	ErrorTypeExecute:    SeverityCall,
	ErrorTypeTrace:      SeverityCall,
	ErrorTypeNetwork:    SeverityCall,
	ErrorTypeAPI:        SeverityCall,
	ErrorTypeTimeout:    SeverityCall,
	ErrorTypeStorage:    SeverityCall,
}

// FuzzError represents an error with a category and context
type FuzzError struct {
	Type        ErrorType
	Message     string
	OriginalErr error
	Context     map[string]interface{}
	Timestamp   time.Time
}

// Error implements the error interface
func (e *FuzzError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *FuzzError) Unwrap() error {
	return e.OriginalErr
}

// Is reports whether target is a FuzzError of the same type
func (e *FuzzError) Is(target error) bool {
	var targetErr *FuzzError
	if errors.As(target, &targetErr) {
		return e.Type == targetErr.Type
	}
	return false
}

// Severity returns the isolation level of the error
func (e *FuzzError) Severity() Severity {
	if s, ok := severities[e.Type]; ok {
		return s
	}
	return SeverityCall
}

// AddContext adds contextual information to the error
func (e *FuzzError) AddContext(key string, value interface{}) *FuzzError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewError creates a new FuzzError
func NewError(errType ErrorType, message string) *FuzzError {
	return &FuzzError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with FuzzError
func WrapError(errType ErrorType, message string, originalErr error) *FuzzError {
	return &FuzzError{
		Type:        errType,
		Message:     message,
		OriginalErr: originalErr,
		Timestamp:   time.Now(),
		Context:     make(map[string]interface{}),
	}
}

// NewNetworkError creates a transport-level error that is safe to retry
func NewNetworkError(message string, originalErr error) *FuzzError {
	return WrapError(ErrorTypeNetwork, message, originalErr).
		AddContext("recoverable", true)
}

// NewAPIError creates an error for a JSON-RPC error response
func NewAPIError(message string, code int, originalErr error) *FuzzError {
	return WrapError(ErrorTypeAPI, message, originalErr).
		AddContext("code", code).
		AddContext("recoverable", false)
}

// NewConfigError creates a configuration-related error
func NewConfigError(message string, field string) *FuzzError {
	return NewError(ErrorTypeConfig, message).
		AddContext("field", field)
}

// NewGenerationError reports a parameter type the input generator cannot sample
func NewGenerationError(paramName, paramType string) *FuzzError {
	return NewError(ErrorTypeGeneration, fmt.Sprintf("unsupported parameter type %q", paramType)).
		AddContext("parameter", paramName).
		AddContext("type", paramType)
}

// SeverityOf returns the severity of err. Errors outside the taxonomy are
// treated as call-local.
func SeverityOf(err error) Severity {
	var fErr *FuzzError
	if errors.As(err, &fErr) {
		return fErr.Severity()
	}
	return SeverityCall
}

// IsType reports whether err carries the given error type
func IsType(err error, errType ErrorType) bool {
	return errors.Is(err, &FuzzError{Type: errType})
}

// ErrorRecovery provides retry logic with exponential backoff
type ErrorRecovery struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	RetryableTypes map[ErrorType]bool
}

// NewErrorRecovery creates a new error recovery handler
func NewErrorRecovery() *ErrorRecovery {
	return &ErrorRecovery{
		MaxRetries: 3,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		RetryableTypes: map[ErrorType]bool{
			ErrorTypeNetwork: true,
			ErrorTypeTimeout: true,
		},
	}
}

// ShouldRetry determines if an error should be retried
func (r *ErrorRecovery) ShouldRetry(err error, attempt int) bool {
	if attempt >= r.MaxRetries {
		return false
	}

	var fErr *FuzzError
	if errors.As(err, &fErr) {
		if retryable, exists := r.RetryableTypes[fErr.Type]; exists && retryable {
			return true
		}
		if recoverable, exists := fErr.Context["recoverable"].(bool); exists && recoverable {
			return true
		}
	}

	return false
}

// GetRetryDelay calculates the delay before the next retry
func (r *ErrorRecovery) GetRetryDelay(attempt int) time.Duration {
	delay := r.BaseDelay * time.Duration(1<<uint(attempt))
	if delay > r.MaxDelay {
		delay = r.MaxDelay
	}
	return delay
}

// RetryWithRecovery executes operation until it succeeds, returns a
// non-retryable error, or ctx is done.
func (r *ErrorRecovery) RetryWithRecovery(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			timer := time.NewTimer(r.GetRetryDelay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err
		if !r.ShouldRetry(err, attempt) {
			break
		}
	}

	return lastErr
}
