package coupling

import "math"

// aitkenActivation is the first iteration that uses the Δ² update; earlier
// iterations apply aitken_initial_relaxation.
const aitkenActivation = 3

// aitkenMinDelta is the smallest ‖Δr‖ for which the Δ² quotient is trusted.
const aitkenMinDelta = 1e-10

type aitken struct {
	lastIncrement State
}

func (s *aitken) strategy() Strategy { return Aitken }
func (s *aitken) reset()             { s.lastIncrement = nil }

func (s *aitken) step(a *Accelerator, in stepInput) (State, float64, string) {
	p := a.params
	omega := p.AitkenInitialRelaxation

	if in.iteration >= aitkenActivation && s.lastIncrement != nil {
		delta := in.increment.Sub(s.lastIncrement)
		deltaNorm := delta.Norm()
		if deltaNorm > aitkenMinDelta {
			omega = -in.prevRelaxation * s.lastIncrement.Dot(delta) / (deltaNorm * deltaNorm)
		} else {
			omega = in.prevRelaxation
		}
		if math.IsNaN(omega) {
			omega = in.prevRelaxation
		}
		omega = math.Max(p.AitkenMinRelaxation, math.Min(omega, p.AitkenMaxRelaxation))
	}

	s.lastIncrement = in.increment.Clone()
	return in.previous.Lerp(in.raw, omega), omega, ""
}
