package llm

import (
	"errors"
	"fmt"
)

// GenerationError reports a failed generation call. No partial output is
// ever returned alongside it.
type GenerationError struct {
	RecordID int64
	// StatusCode is the HTTP status of the reply, 0 when no reply was received.
	StatusCode int
	Err        error
	retryable  bool
}

func (e *GenerationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generate record %d (status %d): %v", e.RecordID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generate record %d: %v", e.RecordID, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt may succeed (network failure,
// rate limiting or a 5xx reply).
func (e *GenerationError) Retryable() bool {
	return e.retryable
}

// NewGenerationError wraps err for recordID.
func NewGenerationError(recordID int64, err error, retryable bool) *GenerationError {
	return &GenerationError{RecordID: recordID, Err: err, retryable: retryable}
}

// IsRetryable returns true if err is a retryable GenerationError.
func IsRetryable(err error) bool {
	var gen *GenerationError
	return errors.As(err, &gen) && gen.Retryable()
}

// IsGenerationError returns true if err wraps a GenerationError.
func IsGenerationError(err error) bool {
	var gen *GenerationError
	return errors.As(err, &gen)
}
