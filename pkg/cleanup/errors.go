package cleanup

import (
	"errors"
	"fmt"
)

// ConnectionError reports that a dependency could not be reached during
// Initialize. It is fatal for the whole run.
type ConnectionError struct {
	// Component names the dependency: "store" or "generator".
	Component string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Component, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ErrNotInitialized is returned by operations called before Initialize succeeded.
var ErrNotInitialized = errors.New("cleanup engine not initialized")

// recordError aborts a pass: storing the proposal or the ledger entry for a
// successfully generated record failed. Only generation failures are counted
// per record.
type recordError struct {
	recordID int64
	op       string
	err      error
}

func (e *recordError) Error() string {
	return fmt.Sprintf("%s for record %d: %v", e.op, e.recordID, e.err)
}

func (e *recordError) Unwrap() error {
	return e.err
}
