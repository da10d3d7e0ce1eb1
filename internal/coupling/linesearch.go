package coupling

import "math"

// lineSearch samples α on a uniform grid over [0, 1] and keeps the trial
// x_prev + α·(x_raw − x_prev) with the smallest predicted residual.
//
// The solvers are a black box, so the residual at a trial point is
// predicted from a secant model of the increment built from the previous
// iteration: r(x_prev + α·r_k) ≈ r_k + α·(s·r_k/‖s‖²)·(r_k − r_{k−1}),
// with s = x_prev − x_{k−1}. Without history the model is r ≈ r_k.
type lineSearch struct {
	lastIncrement State
	lastPoint     State
}

func (s *lineSearch) strategy() Strategy { return LineSearch }

func (s *lineSearch) reset() {
	s.lastIncrement = nil
	s.lastPoint = nil
}

func (s *lineSearch) step(a *Accelerator, in stepInput) (State, float64, string) {
	p := a.params
	defer func() {
		s.lastIncrement = in.increment.Clone()
		s.lastPoint = in.previous.Clone()
	}()

	slope := 0.0
	var deltaR State
	if s.lastIncrement != nil {
		move := in.previous.Sub(s.lastPoint)
		moveSq := move.Dot(move)
		if moveSq > aitkenMinDelta*aitkenMinDelta {
			deltaR = in.increment.Sub(s.lastIncrement)
			slope = move.Dot(in.increment) / moveSq
		}
	}

	bestAlpha := 0.0
	bestMerit := math.Inf(1)
	found := false
	steps := p.LineSearchSteps
	for i := 0; i < steps; i++ {
		alpha := float64(i) / float64(steps-1)
		trial := in.previous.AddScaled(alpha, in.increment)
		predicted := in.increment
		if deltaR != nil {
			predicted = in.increment.AddScaled(alpha*slope, deltaR)
		}
		merit := a.residual(trial.AddScaled(1, predicted), trial)
		if math.IsNaN(merit) || math.IsInf(merit, 0) {
			continue
		}
		// ties, within line_search_tolerance, go to the smaller α
		if !found || merit < bestMerit*(1-p.LineSearchTolerance) {
			bestAlpha = alpha
			bestMerit = merit
			found = true
		}
	}

	if !found {
		return nil, 0, "line search window collapsed: no finite trial residual"
	}
	return in.previous.Lerp(in.raw, bestAlpha), bestAlpha, ""
}
