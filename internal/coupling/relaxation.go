package coupling

import "math"

type fixedRelaxation struct{}

func (s *fixedRelaxation) strategy() Strategy { return FixedRelaxation }
func (s *fixedRelaxation) reset()             {}

func (s *fixedRelaxation) step(a *Accelerator, in stepInput) (State, float64, string) {
	omega := a.params.RelaxationFactor
	return in.previous.Lerp(in.raw, omega), omega, ""
}

// dynamicRelaxation grows ω while the residual keeps falling and shrinks it
// otherwise. ω stays within [0.1, 1].
type dynamicRelaxation struct {
	stalled int
}

func (s *dynamicRelaxation) strategy() Strategy { return DynamicRelaxation }
func (s *dynamicRelaxation) reset()             { s.stalled = 0 }

func (s *dynamicRelaxation) step(a *Accelerator, in stepInput) (State, float64, string) {
	p := a.params
	omega := p.RelaxationFactor

	if in.iteration > 1 && in.hasPrevResidual {
		if in.residual < in.prevResidual {
			omega = math.Min(in.prevRelaxation*p.DynamicIncreaseFactor, 1.0)
			s.stalled = 0
		} else {
			omega = math.Max(in.prevRelaxation*p.DynamicDecreaseFactor, minDynamicRelaxation)
			s.stalled++
			if s.stalled == p.DynamicIterationThreshold {
				a.logger.Warn().
					Int("iteration", in.iteration).
					Int("stalled", s.stalled).
					Float64("relaxation", omega).
					Msg("residual not improving under dynamic relaxation")
				a.emit(Event{
					Kind:       EventStagnation,
					Strategy:   DynamicRelaxation,
					Iteration:  in.iteration,
					Residual:   in.residual,
					Relaxation: omega,
					Reason:     "residual not improving",
				})
			}
		}
	}

	return in.previous.Lerp(in.raw, omega), omega, ""
}
