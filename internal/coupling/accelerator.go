package coupling

import (
	"math"

	"github.com/rs/zerolog"
)

// stepInput is what every scheme sees for one accelerated iteration.
type stepInput struct {
	iteration       int // 1-based within the current outer step
	previous        State
	raw             State
	increment       State // raw - previous
	residual        float64
	prevResidual    float64
	hasPrevResidual bool
	prevRelaxation  float64
}

// scheme is the closed set of acceleration strategies. The concrete scheme
// is picked once in New; Apply never branches on the strategy name.
type scheme interface {
	strategy() Strategy
	reset()
	// step returns the accelerated iterate and the relaxation applied. A
	// non-empty degenerate reason asks the accelerator to fall back to
	// fixed relaxation for this call only.
	step(a *Accelerator, in stepInput) (accelerated State, relaxation float64, degenerate string)
}

// Option configures an Accelerator.
type Option func(*Accelerator)

// WithResidual replaces the default relative L2 residual.
func WithResidual(fn ResidualFunc) Option {
	return func(a *Accelerator) {
		if fn != nil {
			a.residual = fn
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Accelerator) { a.logger = logger }
}

func WithObserver(o Observer) Option {
	return func(a *Accelerator) {
		if o != nil {
			a.observers = append(a.observers, o)
		}
	}
}

// WithStateSize pins the state vector length before the first Apply.
func WithStateSize(n int) Option {
	return func(a *Accelerator) { a.size = n }
}

// Accelerator turns raw fixed-point iterates into accelerated iterates.
// Its mutable state lives for one outer coupling step and is cleared by Reset.
type Accelerator struct {
	params    ConvergenceParams
	residual  ResidualFunc
	scheme    scheme
	logger    zerolog.Logger
	observers []Observer
	size      int

	previous           State
	prevResidual       float64
	hasPrevResidual    bool
	prevRelaxation     float64
	iterations         int
	converged          bool
	convergenceHistory []float64
	relaxationHistory  []float64
	fallbacks          int
	totalFallbacks     int
}

// New validates params and builds an accelerator for the configured strategy.
func New(params ConvergenceParams, opts ...Option) (*Accelerator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	a := &Accelerator{
		params:   params,
		residual: RelativeResidual,
		logger:   zerolog.Nop(),
		size:     -1,
	}
	for _, opt := range opts {
		opt(a)
	}

	switch params.Strategy {
	case FixedRelaxation:
		a.scheme = &fixedRelaxation{}
	case DynamicRelaxation:
		a.scheme = &dynamicRelaxation{}
	case Aitken:
		a.scheme = &aitken{}
	case LineSearch:
		a.scheme = &lineSearch{}
	case Anderson:
		a.scheme = newAnderson(params.AndersonDepth)
	default:
		return nil, NewConfigError("strategy", "%q is not a known strategy", params.Strategy)
	}

	a.Reset()
	return a, nil
}

// Reset clears all per-step history and counters. It must run before the
// first Apply of every outer time step.
func (a *Accelerator) Reset() {
	a.previous = nil
	a.prevResidual = 0
	a.hasPrevResidual = false
	a.prevRelaxation = a.params.RelaxationFactor
	a.iterations = 0
	a.converged = false
	a.convergenceHistory = a.convergenceHistory[:0]
	a.relaxationHistory = a.relaxationHistory[:0]
	a.fallbacks = 0
	a.scheme.reset()
}

// Apply consumes one raw iterate. The first call after Reset stores raw and
// returns it unchanged with a residual of +Inf.
func (a *Accelerator) Apply(raw State) (State, float64, error) {
	if a.size >= 0 && len(raw) != a.size {
		return nil, math.Inf(1), &SizeError{Want: a.size, Got: len(raw)}
	}
	if a.previous != nil && len(raw) != len(a.previous) {
		return nil, math.Inf(1), &SizeError{Want: len(a.previous), Got: len(raw)}
	}
	if !raw.IsValid() {
		return nil, math.Inf(1), ErrNonFiniteState
	}

	if a.previous == nil {
		a.size = len(raw)
		a.previous = raw.Clone()
		return raw.Clone(), math.Inf(1), nil
	}

	residual := a.residual(raw, a.previous)
	if math.IsNaN(residual) || residual < 0 {
		residual = math.Inf(1)
	}

	in := stepInput{
		iteration:       a.iterations + 1,
		previous:        a.previous,
		raw:             raw,
		increment:       raw.Sub(a.previous),
		residual:        residual,
		prevResidual:    a.prevResidual,
		hasPrevResidual: a.hasPrevResidual,
		prevRelaxation:  a.prevRelaxation,
	}

	accelerated, relaxation, degenerate := a.scheme.step(a, in)
	if degenerate == "" && !accelerated.IsValid() {
		degenerate = "non-finite accelerated iterate"
	}
	if degenerate != "" {
		accelerated, relaxation = a.fallback(in, degenerate)
	}

	wasConverged := a.converged
	a.iterations++
	a.previous = accelerated.Clone()
	a.prevResidual = residual
	a.hasPrevResidual = true
	a.prevRelaxation = relaxation
	a.convergenceHistory = append(a.convergenceHistory, residual)
	a.relaxationHistory = append(a.relaxationHistory, relaxation)
	a.converged = residual < a.params.Tolerance

	a.emit(Event{
		Kind:       EventIteration,
		Strategy:   a.params.Strategy,
		Iteration:  a.iterations,
		Residual:   residual,
		Relaxation: relaxation,
	})
	if a.converged && !wasConverged {
		a.emit(Event{
			Kind:       EventConverged,
			Strategy:   a.params.Strategy,
			Iteration:  a.iterations,
			Residual:   residual,
			Relaxation: relaxation,
		})
	}

	return accelerated, residual, nil
}

func (a *Accelerator) fallback(in stepInput, reason string) (State, float64) {
	a.fallbacks++
	a.totalFallbacks++
	omega := a.params.RelaxationFactor

	a.logger.Warn().
		Str("strategy", string(a.params.Strategy)).
		Int("iteration", in.iteration).
		Float64("residual", in.residual).
		Str("reason", reason).
		Msg("acceleration degraded to fixed relaxation")

	a.emit(Event{
		Kind:       EventDegeneracy,
		Strategy:   a.params.Strategy,
		Iteration:  in.iteration,
		Residual:   in.residual,
		Relaxation: omega,
		Reason:     reason,
	})

	return in.previous.Lerp(in.raw, omega), omega
}

func (a *Accelerator) emit(e Event) {
	for _, o := range a.observers {
		o.OnEvent(e)
	}
}

func (a *Accelerator) Strategy() Strategy        { return a.params.Strategy }
func (a *Accelerator) Params() ConvergenceParams { return a.params }
func (a *Accelerator) Converged() bool           { return a.converged }
func (a *Accelerator) Iterations() int           { return a.iterations }

// Fallbacks counts degeneracy fallbacks since the last Reset.
func (a *Accelerator) Fallbacks() int { return a.fallbacks }

// TotalFallbacks counts degeneracy fallbacks over the accelerator's lifetime.
func (a *Accelerator) TotalFallbacks() int { return a.totalFallbacks }

// LastResidual is +Inf until the first accelerated iteration.
func (a *Accelerator) LastResidual() float64 {
	if len(a.convergenceHistory) == 0 {
		return math.Inf(1)
	}
	return a.convergenceHistory[len(a.convergenceHistory)-1]
}

// Previous returns a copy of the last accelerated iterate, or nil after Reset.
func (a *Accelerator) Previous() State {
	if a.previous == nil {
		return nil
	}
	return a.previous.Clone()
}

func (a *Accelerator) ConvergenceHistory() []float64 {
	return append([]float64(nil), a.convergenceHistory...)
}

func (a *Accelerator) RelaxationHistory() []float64 {
	return append([]float64(nil), a.relaxationHistory...)
}
