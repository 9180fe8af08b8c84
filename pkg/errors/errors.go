package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout indicates that an operation did not settle within its allotted time
	ErrTimeout = errors.New("operation timed out")

	// ErrInvalidConfig indicates that a helper was called with an unusable configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoActuator indicates that a task was run without an actuator
	ErrNoActuator = errors.New("no actuator supplied")

	// ErrInvalidTransition indicates a lifecycle change that the task state machine rejects
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrCancelled indicates that work was abandoned because its task was cancelled
	ErrCancelled = errors.New("task cancelled")

	// ErrCircuitOpen indicates that a limiter refused work because its circuit breaker is open
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrNilRejection is used when a deferred is rejected without a reason
	ErrNilRejection = errors.New("deferred rejected with nil error")

	// ErrPanic indicates that a callback panicked and the panic was converted to an error
	ErrPanic = errors.New("panic recovered")
)

// Error codes carried by Error.
const (
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeTimeout           = "TIMEOUT"
	CodeActuator          = "ACTUATOR_ERROR"
)

// Error represents a structured error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// InvalidConfig reports a configuration problem that callers can match with ErrInvalidConfig.
func InvalidConfig(format string, args ...any) *Error {
	return NewError(CodeInvalidConfig, fmt.Sprintf(format, args...), ErrInvalidConfig)
}

// InvalidTransition reports a rejected lifecycle change.
func InvalidTransition(from, to fmt.Stringer) *Error {
	return NewError(CodeInvalidTransition, fmt.Sprintf("cannot move from %s to %s", from, to), ErrInvalidTransition)
}

// TimeoutError is returned when a raced operation loses against its timer.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Timeout of %dms exceeded", e.Timeout.Milliseconds())
}

// Is makes errors.Is(err, ErrTimeout) hold for every TimeoutError.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// NewTimeoutError creates a TimeoutError for the given duration.
func NewTimeoutError(timeout time.Duration) *TimeoutError {
	return &TimeoutError{Timeout: timeout}
}

// ActuatorError wraps whatever a per-item callback returned or panicked with.
// Index is the position reported to the callback.
type ActuatorError struct {
	Index int
	Err   error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("failed processing item %d: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error
func (e *ActuatorError) Unwrap() error {
	return e.Err
}

// NewActuatorError creates an ActuatorError for the item at index.
func NewActuatorError(index int, err error) *ActuatorError {
	return &ActuatorError{Index: index, Err: err}
}

// PanicError converts a recovered panic value into an error wrapping ErrPanic.
func PanicError(recovered any) error {
	if err, ok := recovered.(error); ok {
		return fmt.Errorf("%w: %w", ErrPanic, err)
	}
	return fmt.Errorf("%w: %v", ErrPanic, recovered)
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsCancelled checks if an error was caused by task cancellation
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// IsInvalidConfig checks if an error is a configuration error
func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
