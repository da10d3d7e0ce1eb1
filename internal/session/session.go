// Package session drives a partitioned flow-structure coupling: the outer
// time loop, the staggered iteration between the two solvers, and the
// persisted checkpoint record.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/san-kum/couplesim/internal/coupling"
	"github.com/san-kum/couplesim/internal/stepping"
)

// StepObserver is notified after every accepted step.
type StepObserver interface {
	OnStep(r StepResult)
}

type StepObserverFunc func(r StepResult)

func (f StepObserverFunc) OnStep(r StepResult) { f(r) }

type Option func(*Session)

// WithID fixes the session id instead of generating a UUID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithProblem records a description of the solvers in every checkpoint so
// a resumed run can rebuild them.
func WithProblem(record json.RawMessage) Option {
	return func(s *Session) { s.problem = slices.Clone(record) }
}

func WithCheckpointer(c Checkpointer) Option {
	return func(s *Session) { s.checkpointer = c }
}

func WithObserver(o StepObserver) Option {
	return func(s *Session) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithAcceleratorObserver forwards accelerator events (iterations,
// degeneracy fallbacks, stagnation) to o.
func WithAcceleratorObserver(o coupling.Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.accObservers = append(s.accObservers, o)
		}
	}
}

// WithResidual overrides the configured residual norm.
func WithResidual(fn coupling.ResidualFunc) Option {
	return func(s *Session) { s.residual = fn }
}

// Session owns one accelerator and one stepper for the whole simulation.
// It is not safe for concurrent use.
type Session struct {
	id           string
	cfg          Config
	flow         FlowSolver
	structure    StructureSolver
	acc          *coupling.Accelerator
	stepper      *stepping.Stepper
	residual     coupling.ResidualFunc
	logger       zerolog.Logger
	checkpointer Checkpointer
	observers    []StepObserver
	accObservers []coupling.Observer
	problem      json.RawMessage

	initialized bool
	currentTime float64
	currentStep int
	converged   bool
	history     []float64
	steps       []StepResult
	lastSaved   int
}

type attempt struct {
	iterations int
	residual   float64
	converged  bool
	fallbacks  int
	history    []float64
}

func New(cfg Config, flow FlowSolver, structure StructureSolver, opts ...Option) (*Session, error) {
	if flow == nil || structure == nil {
		return nil, coupling.NewConfigError("solvers", "both a flow and a structure solver are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		flow:      flow,
		structure: structure,
		logger:    zerolog.Nop(),
		lastSaved: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("session", s.id).Logger()

	if cfg.NonConvergence == Retry {
		_, flowOK := flow.(Rewinder)
		_, structOK := structure.(Rewinder)
		if !flowOK || !structOK {
			return nil, coupling.NewConfigError("non_convergence", "retry needs both solvers to implement Rewinder")
		}
	}

	if s.residual == nil {
		fn, err := coupling.ResidualByName(cfg.ResidualNorm)
		if err != nil {
			return nil, err
		}
		s.residual = fn
	}

	accOpts := []coupling.Option{
		coupling.WithResidual(s.residual),
		coupling.WithLogger(s.logger),
	}
	for _, o := range s.accObservers {
		accOpts = append(accOpts, coupling.WithObserver(o))
	}
	acc, err := coupling.New(cfg.Convergence, accOpts...)
	if err != nil {
		return nil, err
	}
	stepper, err := stepping.New(cfg.TimeStepping, stepping.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	s.acc = acc
	s.stepper = stepper

	s.logger.Info().
		Str("coupling_type", string(cfg.CouplingType)).
		Str("coupling_scheme", string(cfg.CouplingScheme)).
		Str("strategy", string(cfg.Convergence.Strategy)).
		Str("time_stepping", string(cfg.TimeStepping.Strategy)).
		Msg("coupling session created")
	return s, nil
}

// Initialize runs the solvers' setup pass once.
func (s *Session) Initialize() error {
	if s.initialized {
		return nil
	}
	if in, ok := s.flow.(Initializer); ok {
		if err := in.Initialize(); err != nil {
			return &SolverError{Solver: "flow", Step: s.currentStep, Time: s.currentTime, Err: err}
		}
	}
	if in, ok := s.structure.(Initializer); ok {
		if err := in.Initialize(); err != nil {
			return &SolverError{Solver: "structure", Step: s.currentStep, Time: s.currentTime, Err: err}
		}
	}
	s.initialized = true
	return nil
}

// Step solves one outer step of the stepper's current size.
func (s *Session) Step(ctx context.Context) (StepResult, error) {
	return s.StepBy(ctx, s.stepper.CurrentStep())
}

// StepBy solves one outer step of size dt. On success time advances and the
// stepper proposes the next step from this step's iterations and residual,
// scaled from the dt finally taken when the step had to be retried.
func (s *Session) StepBy(ctx context.Context, dt float64) (StepResult, error) {
	if !s.initialized {
		return StepResult{}, ErrNotInitialized
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		return StepResult{}, fmt.Errorf("session: step size must be positive and finite, got %g", dt)
	}

	start := time.Now()
	retries := 0
	var out attempt
	for {
		var err error
		out, err = s.solve(ctx, s.currentTime+dt)
		if err != nil {
			return StepResult{}, err
		}
		if out.converged || s.cfg.NonConvergence != Retry || retries >= s.cfg.MaxRetries {
			break
		}

		next := s.stepper.Propose(dt, stepping.Observe(out.iterations, out.residual))
		if next >= dt {
			next = math.Max(dt*s.cfg.TimeStepping.DecreaseFactor, s.cfg.TimeStepping.MinStep)
		}
		if next >= dt {
			break
		}
		if err := s.rewind(); err != nil {
			return StepResult{}, err
		}
		retries++
		s.logger.Warn().
			Int("step", s.currentStep+1).
			Int("retry", retries).
			Float64("dt", dt).
			Float64("next_dt", next).
			Float64("residual", out.residual).
			Msg("coupling step did not converge, retrying with a smaller step")
		dt = next
	}

	if !out.converged {
		s.logger.Warn().
			Int("step", s.currentStep+1).
			Float64("time", s.currentTime+dt).
			Int("iterations", out.iterations).
			Float64("residual", out.residual).
			Str("policy", string(s.cfg.NonConvergence)).
			Msg("coupling step did not converge")
		if s.cfg.NonConvergence == Abort {
			return StepResult{}, fmt.Errorf("step %d at t=%g after %d iterations (residual %g): %w",
				s.currentStep+1, s.currentTime+dt, out.iterations, out.residual, ErrNotConverged)
		}
	}

	if err := s.commit(); err != nil {
		return StepResult{}, err
	}

	s.currentStep++
	s.currentTime += dt
	s.converged = out.converged
	s.history = append(s.history, out.history...)
	s.stepper.AdvanceTimeBy(dt)
	if retries > 0 {
		s.stepper.SetStep(dt)
	}
	s.stepper.NextStep(stepping.Observe(out.iterations, out.residual))

	r := StepResult{
		Step:       s.currentStep,
		Time:       s.currentTime,
		Dt:         dt,
		Iterations: out.iterations,
		Residual:   out.residual,
		Converged:  out.converged,
		Retries:    retries,
		Fallbacks:  out.fallbacks,
		Elapsed:    time.Since(start),
	}
	s.steps = append(s.steps, r)

	s.logger.Info().
		Int("step", r.Step).
		Float64("time", r.Time).
		Float64("dt", r.Dt).
		Int("iterations", r.Iterations).
		Float64("residual", r.Residual).
		Bool("converged", r.Converged).
		Msg("coupling step complete")

	for _, o := range s.observers {
		o.OnStep(r)
	}
	return r, nil
}

// Run steps until totalTime, clipping the last step to land on it exactly,
// and checkpoints every checkpoint_every steps and at the end.
func (s *Session) Run(ctx context.Context, totalTime float64) ([]StepResult, error) {
	if err := s.Initialize(); err != nil {
		return nil, err
	}

	eps := 1e-9 * math.Max(1, math.Abs(totalTime))
	var taken []StepResult
	for totalTime-s.currentTime > eps {
		if err := ctx.Err(); err != nil {
			return taken, err
		}

		dt := math.Min(s.stepper.CurrentStep(), totalTime-s.currentTime)
		r, err := s.StepBy(ctx, dt)
		if err != nil {
			return taken, err
		}
		taken = append(taken, r)

		if s.checkpointDue() {
			if err := s.SaveCheckpoint(); err != nil {
				return taken, err
			}
		}
	}

	if s.checkpointer != nil && s.cfg.CheckpointEvery > 0 && s.lastSaved != s.currentStep {
		if err := s.SaveCheckpoint(); err != nil {
			return taken, err
		}
	}
	return taken, nil
}

func (s *Session) checkpointDue() bool {
	return s.checkpointer != nil && s.cfg.CheckpointEvery > 0 && s.currentStep%s.cfg.CheckpointEvery == 0
}

func (s *Session) solve(ctx context.Context, target float64) (attempt, error) {
	if s.cfg.CouplingType == OneWay {
		return s.solveOneWay(target)
	}
	return s.solveStaggered(ctx, target)
}

func (s *Session) solveStaggered(ctx context.Context, target float64) (attempt, error) {
	s.acc.Reset()

	p, _, err := s.acc.Apply(s.flow.Pressure())
	if err != nil {
		return attempt{}, fmt.Errorf("seed interface pressure: %w", err)
	}

	disp := s.structure.Displacement()
	residual := math.Inf(1)
	converged := false
	var history []float64
	for s.acc.Iterations() < s.cfg.Convergence.MaxIterations && !converged {
		if err := ctx.Err(); err != nil {
			return attempt{}, err
		}

		s.structure.SetFluidPressure(p)
		if err := s.structure.SolveStep(target); err != nil {
			return attempt{}, &SolverError{Solver: "structure", Step: s.currentStep + 1, Time: target, Err: err}
		}
		next := s.structure.Displacement()
		dispResidual := s.residual(next, disp)
		if math.IsNaN(dispResidual) || dispResidual < 0 {
			dispResidual = math.Inf(1)
		}
		disp = next

		s.flow.SetMeshDisplacement(next)
		if err := s.flow.SolveStep(target); err != nil {
			return attempt{}, &SolverError{Solver: "flow", Step: s.currentStep + 1, Time: target, Err: err}
		}

		var pressureResidual float64
		p, pressureResidual, err = s.acc.Apply(s.flow.Pressure())
		if err != nil {
			return attempt{}, fmt.Errorf("step %d iteration %d: %w", s.currentStep+1, s.acc.Iterations()+1, err)
		}
		residual = s.criterionResidual(pressureResidual, dispResidual)
		history = append(history, residual)
		converged = residual < s.cfg.Convergence.Tolerance
	}

	// the structure holds the accelerated interface pressure when committed
	s.structure.SetFluidPressure(p)

	return attempt{
		iterations: s.acc.Iterations(),
		residual:   residual,
		converged:  converged,
		fallbacks:  s.acc.Fallbacks(),
		history:    history,
	}, nil
}

func (s *Session) criterionResidual(pressure, displacement float64) float64 {
	switch s.cfg.Criterion {
	case DisplacementCriterion:
		return displacement
	case CombinedCriterion:
		return math.Max(pressure, displacement)
	}
	return pressure
}

// solveOneWay passes pressure to the structure once; there is no feedback
// to iterate on, so the step is converged by definition.
func (s *Session) solveOneWay(target float64) (attempt, error) {
	if err := s.flow.SolveStep(target); err != nil {
		return attempt{}, &SolverError{Solver: "flow", Step: s.currentStep + 1, Time: target, Err: err}
	}
	s.structure.SetFluidPressure(s.flow.Pressure())
	if err := s.structure.SolveStep(target); err != nil {
		return attempt{}, &SolverError{Solver: "structure", Step: s.currentStep + 1, Time: target, Err: err}
	}
	return attempt{iterations: 1, residual: 0, converged: true}, nil
}

func (s *Session) commit() error {
	if r, ok := s.flow.(Rewinder); ok {
		if err := r.Commit(); err != nil {
			return &SolverError{Solver: "flow", Step: s.currentStep + 1, Time: s.currentTime, Err: err}
		}
	}
	if r, ok := s.structure.(Rewinder); ok {
		if err := r.Commit(); err != nil {
			return &SolverError{Solver: "structure", Step: s.currentStep + 1, Time: s.currentTime, Err: err}
		}
	}
	return nil
}

func (s *Session) rewind() error {
	if err := s.flow.(Rewinder).Rewind(); err != nil {
		return &SolverError{Solver: "flow", Step: s.currentStep + 1, Time: s.currentTime, Err: err}
	}
	if err := s.structure.(Rewinder).Rewind(); err != nil {
		return &SolverError{Solver: "structure", Step: s.currentStep + 1, Time: s.currentTime, Err: err}
	}
	return nil
}

// Checkpoint snapshots the session bookkeeping.
func (s *Session) Checkpoint() *Checkpoint {
	steps := slices.Clone(s.steps)
	for i := range steps {
		steps[i].Residual = jsonSafe(steps[i].Residual)
	}
	return &Checkpoint{
		ID:                 s.id,
		CreatedAt:          time.Now().UTC(),
		ProjectID:          s.cfg.ProjectID,
		CouplingType:       s.cfg.CouplingType,
		CouplingScheme:     s.cfg.CouplingScheme,
		CurrentTime:        s.currentTime,
		CurrentStep:        s.currentStep,
		StepSize:           s.stepper.CurrentStep(),
		IsConverged:        s.converged,
		ConvergenceHistory: jsonSafeSlice(s.history),
		Steps:              steps,
		Config:             s.cfg,
		Problem:            slices.Clone(s.problem),
	}
}

// SaveCheckpoint hands the current checkpoint to the configured Checkpointer.
func (s *Session) SaveCheckpoint() error {
	if s.checkpointer == nil {
		return fmt.Errorf("session: no checkpointer configured")
	}
	if err := s.checkpointer.SaveCheckpoint(s.Checkpoint()); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.lastSaved = s.currentStep
	s.logger.Info().
		Int("step", s.currentStep).
		Float64("time", s.currentTime).
		Msg("checkpoint written")
	return nil
}

// Restore reloads bookkeeping from cp. The accelerator is reset and the
// stepper resumes at the checkpointed time; solver state is owned by the
// solvers and is not touched.
func (s *Session) Restore(cp *Checkpoint) error {
	if cp.Config != s.cfg {
		return fmt.Errorf("session: checkpoint %s was written with a different configuration", cp.ID)
	}
	s.id = cp.ID
	s.logger = s.logger.With().Str("restored_from", cp.ID).Logger()
	s.currentTime = cp.CurrentTime
	s.currentStep = cp.CurrentStep
	s.converged = cp.IsConverged
	s.history = slices.Clone(cp.ConvergenceHistory)
	s.steps = slices.Clone(cp.Steps)
	s.lastSaved = cp.CurrentStep
	if len(s.problem) == 0 {
		s.problem = slices.Clone(cp.Problem)
	}

	s.acc.Reset()
	s.stepper.Resume(cp.CurrentTime, cp.CurrentStep, cp.StepSize)
	return nil
}

func (s *Session) ID() string                         { return s.id }
func (s *Session) Config() Config                     { return s.cfg }
func (s *Session) CurrentTime() float64               { return s.currentTime }
func (s *Session) CurrentStep() int                   { return s.currentStep }
func (s *Session) Converged() bool                    { return s.converged }
func (s *Session) Accelerator() *coupling.Accelerator { return s.acc }
func (s *Session) Stepper() *stepping.Stepper         { return s.stepper }
func (s *Session) ConvergenceHistory() []float64      { return slices.Clone(s.history) }
func (s *Session) Steps() []StepResult                { return slices.Clone(s.steps) }
