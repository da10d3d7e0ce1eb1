package session

import "github.com/san-kum/couplesim/internal/coupling"

// FlowSolver is the seepage side of the coupled problem. SolveStep advances
// from the last accepted state to time t using the current mesh displacement
// and may be called repeatedly for the same t while the coupling iterates.
// Solvers that do not implement Rewinder accept the previous step once t
// moves forward.
type FlowSolver interface {
	SolveStep(t float64) error
	Pressure() coupling.State
	SetMeshDisplacement(d coupling.State)
}

// StructureSolver is the solid side of the coupled problem.
type StructureSolver interface {
	SolveStep(t float64) error
	Displacement() coupling.State
	SetFluidPressure(p coupling.State)
}

// Initializer is implemented by solvers that need a setup pass before the
// first step.
type Initializer interface {
	Initialize() error
}

// Rewinder is implemented by solvers that can drop a rejected step. Commit
// marks the current solution as the start of the next step and Rewind
// restores the last committed solution.
type Rewinder interface {
	Commit() error
	Rewind() error
}

// Checkpointer persists checkpoint records, e.g. storage.Store.
type Checkpointer interface {
	SaveCheckpoint(cp *Checkpoint) error
}
