package portal

import (
	"errors"
	"fmt"
)

var (
	ErrElementNotFound   = errors.New("element not found")
	ErrOptionNotFound    = errors.New("option not found")
	ErrRecoveryExhausted = errors.New("recovery exhausted")
	ErrWorkflowFailed    = errors.New("workflow failed")
	ErrDownloadTimeout   = errors.New("download timeout")
)

// RecoveryError reports an action that still failed after the page was
// refreshed and re-anchored. It matches both ErrRecoveryExhausted and the
// cause of the last attempt.
type RecoveryError struct {
	Action string
	Err    error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Action, ErrRecoveryExhausted, e.Err)
}

func (e *RecoveryError) Unwrap() []error {
	return []error{ErrRecoveryExhausted, e.Err}
}

// WorkflowError reports a period selection that failed after every chain restart.
type WorkflowError struct {
	Period string
	State  State
	Err    error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("select period %s: %v at %s: %v", e.Period, ErrWorkflowFailed, e.State, e.Err)
}

func (e *WorkflowError) Unwrap() []error {
	return []error{ErrWorkflowFailed, e.Err}
}
