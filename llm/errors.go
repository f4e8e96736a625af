package llm

import (
	"errors"
	"fmt"
)

// Error types for classifying model errors.

// TransientError represents a temporary error that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError represents a permanent error that should not be retried.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string {
	return e.err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.err
}

// NewFatalError wraps an error as fatal (non-retryable).
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// SchemaError indicates the model returned output that did not satisfy the
// expected structured schema, even after the re-ask budget was exhausted.
type SchemaError struct {
	// Attempts is how many completions were tried.
	Attempts int

	// Raw is the last raw model output, truncated for logging.
	Raw string

	err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation after %d attempts: %v", e.Attempts, e.err)
}

func (e *SchemaError) Unwrap() error {
	return e.err
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal returns true if the error is fatal and should not be retried.
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// IsSchema returns true if the error is a structured-output schema violation.
func IsSchema(err error) bool {
	var schema *SchemaError
	return errors.As(err, &schema)
}
