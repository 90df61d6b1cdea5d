package engine

import (
	"errors"
	"fmt"

	"github.com/solosage1/amm-challenge-sub000/internal/ir"
)

// IterationError describes an iteration that ended in a failure status.
//
// It is not returned by RunOnce, which records failures in the log and
// carries on; RunLoop returns it when stop_on_error ends the loop, and the
// CLI maps it to exit code 1.
type IterationError struct {
	// Iteration is the failed iteration number.
	Iteration int

	// Status is the terminal failure status.
	Status ir.Status

	// Mechanism is the targeted mechanism, empty for wildcard.
	Mechanism string

	// Reason is the validation reason or collaborator error code.
	Reason string
}

// Error implements the error interface.
func (e *IterationError) Error() string {
	target := e.Mechanism
	if target == "" {
		target = "wildcard"
	}
	if e.Reason != "" {
		return fmt.Sprintf("iteration %d (%s): %s: %s", e.Iteration, target, e.Status, e.Reason)
	}
	return fmt.Sprintf("iteration %d (%s): %s", e.Iteration, target, e.Status)
}

// IsIterationError reports whether err is or wraps an *IterationError.
func IsIterationError(err error) bool {
	var ie *IterationError
	return errors.As(err, &ie)
}

// iterationError builds the error for a failed log entry, or nil.
func iterationError(e ir.LogEntry) *IterationError {
	if !e.Status.Failed() {
		return nil
	}
	reason := e.Reason
	if reason == "" {
		reason = e.ErrorCode
	}
	return &IterationError{
		Iteration: e.Iteration,
		Status:    e.Status,
		Mechanism: e.Mechanism,
		Reason:    reason,
	}
}
