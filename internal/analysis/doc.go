// Package analysis characterizes residual histories of coupling iterations.
//
//   - [ConvergenceRate]: log-linear fit of residual decay
//   - [Oscillation]: fraction of iterations where the decay flips direction
//   - [PredictIterations]: iterations a fitted rate needs to reach a tolerance
//
// A fitted contraction factor below one means the iteration converges
// linearly:
//
//	rate, err := analysis.ConvergenceRate(acc.ConvergenceHistory(), 0)
//	if err == nil && rate.Factor < 1 {
//	    n := analysis.PredictIterations(rate, 1e-8)
//	}
package analysis
