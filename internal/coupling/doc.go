// Package coupling provides the convergence engine for partitioned
// (staggered) multiphysics coupling.
//
// The package is physics-agnostic: it only sees flattened state vectors
// produced by external solvers and scalar residuals between them.
//
//   - [State]: interface state vector (a flattened physical field)
//   - [ResidualFunc]: normalized distance between two iterates
//   - [ConvergenceParams]: immutable hyperparameters for one session
//   - [Accelerator]: consumes raw fixed-point iterates and returns
//     accelerated iterates using one of five strategies
//
// # Example
//
//	acc, err := coupling.New(coupling.DefaultConvergenceParams())
//	if err != nil {
//	    return err
//	}
//	acc.Reset()
//	x, _, _ := acc.Apply(x0)
//	for !acc.Converged() && acc.Iterations() < maxIter {
//	    x, _, err = acc.Apply(solve(x))
//	}
//
// # Thread Safety
//
// Accelerator instances are NOT thread-safe and must be owned by a single
// coupling session. Independent sessions need independent accelerators.
package coupling
