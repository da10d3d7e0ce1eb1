package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSolverFailed indicates that one of the external physics solvers
	// reported a failure.
	ErrSolverFailed = errors.New("session: solver failed")

	// ErrNotConverged is returned only under the abort policy.
	ErrNotConverged = errors.New("session: coupling step did not converge")

	// ErrNotInitialized indicates a step before Initialize.
	ErrNotInitialized = errors.New("session: not initialized")
)

// SolverError records which solver failed and where.
type SolverError struct {
	Solver string
	Step   int
	Time   float64
	Err    error
}

func (e *SolverError) Error() string {
	return fmt.Sprintf("session: %s solver failed at step %d (t=%g): %v", e.Solver, e.Step, e.Time, e.Err)
}

func (e *SolverError) Unwrap() []error {
	return []error{ErrSolverFailed, e.Err}
}
