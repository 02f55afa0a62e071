package fetchcore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error type identifiers used in Error.Type and in the errors_total metric.
const (
	ErrorTypeNotFound         = "NotFound"
	ErrorTypeTimeout          = "Timeout"
	ErrorTypeCancelled        = "Cancelled"
	ErrorTypeEntryTooLarge    = "EntryTooLarge"
	ErrorTypeSaturated        = "Saturated"
	ErrorTypeUnderlying       = "Underlying"
	ErrorTypeRetriesExhausted = "RetriesExhausted"
	ErrorTypeCircuitOpen      = "CircuitOpen"
	ErrorTypeValidation       = "Validation"
)

// Sentinel errors for common failure scenarios
var (
	// ErrEntryTooLarge is returned by Store.Set when a single value exceeds
	// the cache's total size limit. The entry is still admitted; the error
	// is a warning that immediate eviction is likely.
	ErrEntryTooLarge = errors.New("fetchcore: entry exceeds cache size limit")

	// ErrSaturated is returned when the coordinator is at its concurrency
	// ceiling and the saturation policy is SaturationReject.
	ErrSaturated = errors.New("fetchcore: coordinator saturated")

	// ErrCircuitOpen is returned when the coordinator's circuit breaker is open.
	ErrCircuitOpen = errors.New("fetchcore: circuit open")
)

// Error is the rich error returned by the coordinator and orchestrator.
// Type distinguishes timeouts, cancellations and propagated operation
// failures; Cause preserves the underlying error verbatim for inspection.
type Error struct {
	Type       string
	Message    string
	Cause      error
	RequestID  string
	Method     string
	Resource   string
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*Error); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *Error) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.Resource != "" {
		info += fmt.Sprintf("Resource: %s\n", e.Resource)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsTransient reports whether an error represents a transient failure that
// might succeed on retry. Timeouts and open circuits are transient;
// cancellations and validation failures are not. Underlying operation
// errors are not transient by default; supply a Retryable predicate in
// CoordinationConfig to widen the classification.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var coreErr *Error
	if errors.As(err, &coreErr) {
		switch coreErr.Type {
		case ErrorTypeTimeout, ErrorTypeCircuitOpen:
			return true
		default:
			return false
		}
	}

	return false
}

// IsTimeout reports whether err is a coordinator timeout.
func IsTimeout(err error) bool {
	var coreErr *Error
	return errors.As(err, &coreErr) && coreErr.Type == ErrorTypeTimeout
}

// IsCancelled reports whether err is an explicit coordinator cancellation.
func IsCancelled(err error) bool {
	var coreErr *Error
	return errors.As(err, &coreErr) && coreErr.Type == ErrorTypeCancelled
}
