// Package stepping proposes outer time-step sizes for a coupled simulation.
package stepping

import (
	"math"

	"github.com/rs/zerolog"
)

const (
	// combined strategy: error factor ceiling and error floor
	maxErrorFactor = 2.0
	errorFloor     = 1e-10

	// iteration band around the target inside which the step is kept
	iterationBand = 2
)

// Observation is what one finished outer step reports to the stepper.
// Either field may be absent.
type Observation struct {
	Iterations    int
	Error         float64
	HasIterations bool
	HasError      bool
}

func Observe(iterations int, err float64) Observation {
	return Observation{Iterations: iterations, Error: err, HasIterations: true, HasError: true}
}

func ObserveIterations(iterations int) Observation {
	return Observation{Iterations: iterations, HasIterations: true}
}

func ObserveError(err float64) Observation {
	return Observation{Error: err, HasError: true}
}

// Status is a snapshot of the stepper's bookkeeping.
type Status struct {
	Strategy       Strategy `json:"strategy"`
	CurrentStep    float64  `json:"current_step"`
	CurrentTime    float64  `json:"current_time"`
	TotalSteps     int      `json:"total_steps"`
	LastIterations int      `json:"last_iterations"`
	LastError      float64  `json:"last_error"`
}

type Option func(*Stepper)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Stepper) { s.logger = logger }
}

// Stepper proposes outer time-step sizes from how hard previous steps were
// to converge. It is independent of the accelerator and lives for a whole
// simulation.
type Stepper struct {
	params Params
	logger zerolog.Logger

	currentStep      float64
	currentTime      float64
	totalSteps       int
	stepHistory      []float64
	iterationHistory []int
	errorHistory     []float64
}

func New(params Params, opts ...Option) (*Stepper, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	s := &Stepper{params: params, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.Reset()
	return s, nil
}

// Reset returns the stepper to time zero with empty history.
func (s *Stepper) Reset() {
	s.currentStep = s.params.InitialStep
	s.currentTime = 0
	s.totalSteps = 0
	s.stepHistory = nil
	s.iterationHistory = nil
	s.errorHistory = nil
}

// Resume restores time bookkeeping from a checkpoint. Observation history
// is not persisted, so the next proposal starts from initial_step rules.
func (s *Stepper) Resume(currentTime float64, totalSteps int, step float64) {
	s.Reset()
	s.currentTime = currentTime
	s.totalSteps = totalSteps
	if step > 0 && !math.IsInf(step, 0) {
		s.currentStep = s.clamp(step)
	}
}

// NextStep records obs and proposes the next step size. It remembers the
// proposal as the current step but does not advance time.
func (s *Stepper) NextStep(obs Observation) float64 {
	if obs.HasIterations {
		s.iterationHistory = appendBounded(s.iterationHistory, obs.Iterations, s.params.IterationWindow)
	}
	if obs.HasError {
		s.errorHistory = appendBounded(s.errorHistory, obs.Error, s.params.IterationWindow)
	}

	prev := s.currentStep
	next := s.propose(s.currentStep, obs, len(s.iterationHistory) > 0 || len(s.errorHistory) > 0)
	s.currentStep = next

	if next != prev {
		s.logger.Debug().
			Str("strategy", string(s.params.Strategy)).
			Float64("from", prev).
			Float64("to", next).
			Msg("time step adapted")
	}
	return next
}

// Propose returns the step NextStep would choose after a step of size from
// reported obs. Nothing is recorded and the current step is unchanged.
func (s *Stepper) Propose(from float64, obs Observation) float64 {
	seen := obs.HasIterations || obs.HasError || len(s.iterationHistory) > 0 || len(s.errorHistory) > 0
	return s.propose(from, obs, seen)
}

// SetStep replaces the current step, clamped to [min_step, max_step], e.g.
// after the driver had to take a smaller step than proposed.
func (s *Stepper) SetStep(step float64) {
	if step > 0 && !math.IsInf(step, 0) {
		s.currentStep = s.clamp(step)
	}
}

func (s *Stepper) propose(from float64, obs Observation, seen bool) float64 {
	if !seen {
		return s.params.InitialStep
	}

	p := s.params
	switch p.Strategy {
	case AdaptiveError:
		if !obs.HasError {
			return from
		}
		switch e := obs.Error; {
		case !isFinite(e) || e > p.ErrorThreshold:
			return s.clamp(from * p.DecreaseFactor)
		case e < p.ErrorThreshold/2:
			return s.clamp(from * p.IncreaseFactor)
		}
		return from

	case AdaptiveIterations:
		if !obs.HasIterations {
			return from
		}
		switch n := obs.Iterations; {
		case n <= p.TargetIterations-iterationBand:
			return s.clamp(from * p.IncreaseFactor)
		case n >= p.TargetIterations+iterationBand:
			return s.clamp(from * p.DecreaseFactor)
		}
		return from

	case AdaptiveCombined:
		factor := math.Sqrt(s.errorFactor(obs) * s.iterationFactor(obs))
		factor = math.Max(p.DecreaseFactor, math.Min(factor, p.IncreaseFactor))
		return s.clamp(from * factor)
	}

	return p.InitialStep
}

func (s *Stepper) errorFactor(obs Observation) float64 {
	if !obs.HasError {
		return 1
	}
	e := obs.Error
	if math.IsNaN(e) {
		e = math.Inf(1)
	}
	return math.Min(s.params.ErrorThreshold/math.Max(e, errorFloor), maxErrorFactor)
}

func (s *Stepper) iterationFactor(obs Observation) float64 {
	if !obs.HasIterations {
		return 1
	}
	return float64(s.params.TargetIterations) / float64(max(obs.Iterations, 1))
}

// AdvanceTime moves time forward by the current step.
func (s *Stepper) AdvanceTime() {
	s.AdvanceTimeBy(s.currentStep)
}

// AdvanceTimeBy moves time forward by an explicit step, e.g. a final step
// clipped to land on the end time. Non-positive steps fall back to the
// current step.
func (s *Stepper) AdvanceTimeBy(step float64) {
	if !(step > 0) || math.IsInf(step, 0) {
		step = s.currentStep
	}
	s.currentTime += step
	s.totalSteps++
	s.stepHistory = append(s.stepHistory, step)
}

func (s *Stepper) Status() Status {
	st := Status{
		Strategy:    s.params.Strategy,
		CurrentStep: s.currentStep,
		CurrentTime: s.currentTime,
		TotalSteps:  s.totalSteps,
	}
	if n := len(s.iterationHistory); n > 0 {
		st.LastIterations = s.iterationHistory[n-1]
	}
	if n := len(s.errorHistory); n > 0 {
		st.LastError = s.errorHistory[n-1]
	}
	return st
}

func (s *Stepper) Params() Params          { return s.params }
func (s *Stepper) CurrentStep() float64    { return s.currentStep }
func (s *Stepper) CurrentTime() float64    { return s.currentTime }
func (s *Stepper) TotalSteps() int         { return s.totalSteps }
func (s *Stepper) StepHistory() []float64  { return append([]float64(nil), s.stepHistory...) }
func (s *Stepper) IterationHistory() []int { return append([]int(nil), s.iterationHistory...) }
func (s *Stepper) ErrorHistory() []float64 { return append([]float64(nil), s.errorHistory...) }

func (s *Stepper) clamp(step float64) float64 {
	return math.Max(s.params.MinStep, math.Min(step, s.params.MaxStep))
}

func appendBounded[T any](history []T, v T, window int) []T {
	history = append(history, v)
	if len(history) > window {
		history = history[len(history)-window:]
	}
	return history
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
