package session

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/couplesim/internal/coupling"
	"github.com/san-kum/couplesim/internal/stepping"
)

var errBoom = errors.New("boom")

// linearFlow computes p = c*d + e + drift*solves from the mesh displacement.
type linearFlow struct {
	c, e      float64
	drift     float64
	disp      coupling.State
	pressure  coupling.State
	solves    int
	failAt    int
	commits   int
	rewinds   int
	initCalls int
}

func newLinearFlow(n int) *linearFlow {
	return &linearFlow{c: -1.6, e: 2, disp: make(coupling.State, n), pressure: make(coupling.State, n)}
}

func (f *linearFlow) SolveStep(t float64) error {
	f.solves++
	if f.failAt > 0 && f.solves == f.failAt {
		return errBoom
	}
	p := make(coupling.State, len(f.disp))
	for i := range p {
		p[i] = f.c*f.disp[i] + f.e + f.drift*float64(f.solves)
	}
	f.pressure = p
	return nil
}

func (f *linearFlow) Pressure() coupling.State              { return f.pressure.Clone() }
func (f *linearFlow) SetMeshDisplacement(d coupling.State) { f.disp = d.Clone() }
func (f *linearFlow) Commit() error                        { f.commits++; return nil }
func (f *linearFlow) Rewind() error                        { f.rewinds++; return nil }
func (f *linearFlow) Initialize() error                    { f.initCalls++; return nil }

// linearStructure computes d = a*p + b from the fluid pressure.
type linearStructure struct {
	a, b     float64
	pressure coupling.State
	disp     coupling.State
	solves   int
	failAt   int
	commits  int
	rewinds  int
}

func newLinearStructure(n int) *linearStructure {
	return &linearStructure{a: 0.5, b: 1, pressure: make(coupling.State, n), disp: make(coupling.State, n)}
}

func (s *linearStructure) SolveStep(t float64) error {
	s.solves++
	if s.failAt > 0 && s.solves == s.failAt {
		return errBoom
	}
	d := make(coupling.State, len(s.pressure))
	for i := range d {
		d[i] = s.a*s.pressure[i] + s.b
	}
	s.disp = d
	return nil
}

func (s *linearStructure) Displacement() coupling.State      { return s.disp.Clone() }
func (s *linearStructure) SetFluidPressure(p coupling.State) { s.pressure = p.Clone() }
func (s *linearStructure) Commit() error                     { s.commits++; return nil }
func (s *linearStructure) Rewind() error                     { s.rewinds++; return nil }

// plainFlow hides the optional interfaces of the wrapped solver.
type plainFlow struct{ FlowSolver }

// coupled fixed point of the linear pair: p = c(a p + b) + e
const fixedPointPressure = (-1.6*1 + 2) / (1 - (-1.6 * 0.5))

type recordingCheckpointer struct {
	saved []*Checkpoint
}

func (r *recordingCheckpointer) SaveCheckpoint(cp *Checkpoint) error {
	r.saved = append(r.saved, cp)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Convergence.Tolerance = 1e-8
	cfg.Convergence.MaxIterations = 200
	cfg.TimeStepping.Strategy = stepping.Fixed
	return cfg
}

func newTestSession(t *testing.T, cfg Config, opts ...Option) (*Session, *linearFlow, *linearStructure) {
	t.Helper()
	flow := newLinearFlow(3)
	structure := newLinearStructure(3)
	s, err := New(cfg, flow, structure, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	return s, flow, structure
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"monolithic", func(c *Config) { c.CouplingType = Monolithic }},
		{"unknown type", func(c *Config) { c.CouplingType = "two_way" }},
		{"unknown scheme", func(c *Config) { c.CouplingScheme = "terzaghi" }},
		{"unknown policy", func(c *Config) { c.NonConvergence = "ignore" }},
		{"unknown residual", func(c *Config) { c.ResidualNorm = "energy" }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"negative checkpoint interval", func(c *Config) { c.CheckpointEvery = -2 }},
		{"bad relaxation", func(c *Config) { c.Convergence.RelaxationFactor = 1.5 }},
		{"bad step range", func(c *Config) { c.TimeStepping.MinStep = 20 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, newLinearFlow(1), newLinearStructure(1))
			require.Error(t, err)
			assert.ErrorIs(t, err, coupling.ErrConfiguration)
		})
	}
}

func TestNew_RetryNeedsRewinders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NonConvergence = Retry

	_, err := New(cfg, plainFlow{newLinearFlow(1)}, newLinearStructure(1))
	assert.ErrorIs(t, err, coupling.ErrConfiguration)

	_, err = New(cfg, newLinearFlow(1), newLinearStructure(1))
	assert.NoError(t, err)

	_, err = New(cfg, nil, newLinearStructure(1))
	assert.ErrorIs(t, err, coupling.ErrConfiguration)
}

func TestStep_RequiresInitialize(t *testing.T) {
	s, err := New(testConfig(), newLinearFlow(2), newLinearStructure(2))
	require.NoError(t, err)

	_, err = s.Step(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitialize_RunsOnce(t *testing.T) {
	s, flow, _ := newTestSession(t, testConfig())
	require.NoError(t, s.Initialize())
	assert.Equal(t, 1, flow.initCalls)
}

func TestStaggered_ConvergesToCoupledFixedPoint(t *testing.T) {
	for _, strategy := range coupling.Strategies() {
		t.Run(string(strategy), func(t *testing.T) {
			cfg := testConfig()
			cfg.Convergence.Strategy = strategy
			s, flow, structure := newTestSession(t, cfg)

			r, err := s.Step(context.Background())
			require.NoError(t, err)

			assert.True(t, r.Converged)
			assert.Less(t, r.Iterations, cfg.Convergence.MaxIterations)
			assert.Less(t, r.Residual, cfg.Convergence.Tolerance)
			assert.Equal(t, 1, r.Step)
			assert.InDelta(t, 1.0, r.Time, 1e-15)
			assert.InDeltaSlice(t, []float64{fixedPointPressure, fixedPointPressure, fixedPointPressure},
				[]float64(flow.Pressure()), 1e-6)
			assert.Equal(t, r.Iterations, structure.solves)
			assert.Equal(t, 1, flow.commits)
			assert.Len(t, s.ConvergenceHistory(), r.Iterations)
		})
	}
}

func TestStaggered_ResetsAcceleratorEveryStep(t *testing.T) {
	s, _, _ := newTestSession(t, testConfig())

	first, err := s.Step(context.Background())
	require.NoError(t, err)
	second, err := s.Step(context.Background())
	require.NoError(t, err)

	// the second step starts at the fixed point and converges immediately
	assert.Equal(t, 1, second.Iterations)
	assert.Equal(t, second.Iterations, s.Accelerator().Iterations())
	assert.Len(t, s.ConvergenceHistory(), first.Iterations+second.Iterations)
	assert.Equal(t, 2, s.CurrentStep())
}

func TestOneWay_SolvesEachSideOnce(t *testing.T) {
	cfg := testConfig()
	cfg.CouplingType = OneWay
	s, flow, structure := newTestSession(t, cfg)

	r, err := s.Step(context.Background())
	require.NoError(t, err)

	assert.True(t, r.Converged)
	assert.Equal(t, 1, r.Iterations)
	assert.Equal(t, 1, flow.solves)
	assert.Equal(t, 1, structure.solves)
	assert.Equal(t, flow.Pressure(), structure.pressure)
	assert.Empty(t, s.ConvergenceHistory())
}

func TestStep_NonConvergencePolicies(t *testing.T) {
	stubborn := func(policy Policy) Config {
		cfg := testConfig()
		cfg.Convergence.MaxIterations = 2
		cfg.Convergence.Tolerance = 1e-14
		cfg.NonConvergence = policy
		cfg.MaxRetries = 2
		cfg.TimeStepping.Strategy = stepping.AdaptiveIterations
		return cfg
	}

	t.Run("accept", func(t *testing.T) {
		s, _, _ := newTestSession(t, stubborn(Accept))
		r, err := s.Step(context.Background())
		require.NoError(t, err)
		assert.False(t, r.Converged)
		assert.False(t, s.Converged())
		assert.Equal(t, 2, r.Iterations)
		assert.InDelta(t, 1.0, s.CurrentTime(), 1e-15)
	})

	t.Run("abort", func(t *testing.T) {
		s, flow, _ := newTestSession(t, stubborn(Abort))
		_, err := s.Step(context.Background())
		require.ErrorIs(t, err, ErrNotConverged)
		assert.Zero(t, s.CurrentTime())
		assert.Zero(t, s.CurrentStep())
		assert.Zero(t, flow.commits)
	})

	t.Run("retry", func(t *testing.T) {
		s, flow, structure := newTestSession(t, stubborn(Retry))
		r, err := s.Step(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 2, r.Retries)
		assert.InDelta(t, 0.25, r.Dt, 1e-15)
		assert.InDelta(t, 0.25, s.CurrentTime(), 1e-15)
		assert.False(t, r.Converged)
		assert.Equal(t, 2, flow.rewinds)
		assert.Equal(t, 2, structure.rewinds)
		assert.Equal(t, 1, flow.commits)
	})
}

func TestStep_RetryAdaptsFromTakenStep(t *testing.T) {
	cfg := testConfig()
	cfg.Convergence.MaxIterations = 4
	cfg.Convergence.Tolerance = 1e-14
	cfg.NonConvergence = Retry
	cfg.MaxRetries = 2
	cfg.TimeStepping.Strategy = stepping.AdaptiveIterations
	s, _, _ := newTestSession(t, cfg)

	r, err := s.Step(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, r.Retries)
	require.False(t, r.Converged)
	assert.InDelta(t, 0.25, r.Dt, 1e-15)

	// four iterations sit inside the target band, so the step is kept
	assert.LessOrEqual(t, s.Stepper().CurrentStep(), r.Dt)
	assert.Equal(t, []int{4}, s.Stepper().IterationHistory())
	assert.Len(t, s.Stepper().ErrorHistory(), 1)
	assert.Equal(t, []float64{0.25}, s.Stepper().StepHistory())
}

func TestStaggered_ConvergenceCriteria(t *testing.T) {
	tests := []struct {
		criterion  Criterion
		converged  bool
		iterations int
	}{
		{PressureCriterion, false, 10},
		{DisplacementCriterion, true, 2},
		{CombinedCriterion, false, 10},
	}
	for _, tt := range tests {
		t.Run(string(tt.criterion), func(t *testing.T) {
			cfg := testConfig()
			cfg.Convergence.MaxIterations = 10
			cfg.Criterion = tt.criterion
			s, flow, structure := newTestSession(t, cfg)
			// displacement is fixed at b while the pressure keeps drifting
			structure.a = 0
			flow.drift = 1

			r, err := s.Step(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.converged, r.Converged)
			assert.Equal(t, tt.iterations, r.Iterations)
			assert.Len(t, s.ConvergenceHistory(), r.Iterations)
			if tt.converged {
				assert.Less(t, r.Residual, cfg.Convergence.Tolerance)
			}
		})
	}
}

func TestStaggered_CombinedCriterionWaitsForBothFields(t *testing.T) {
	iterations := map[Criterion]int{}
	for _, criterion := range []Criterion{PressureCriterion, DisplacementCriterion, CombinedCriterion} {
		cfg := testConfig()
		cfg.Criterion = criterion
		s, flow, _ := newTestSession(t, cfg)

		r, err := s.Step(context.Background())
		require.NoError(t, err)
		require.True(t, r.Converged, string(criterion))
		assert.InDeltaSlice(t, []float64{fixedPointPressure, fixedPointPressure, fixedPointPressure},
			[]float64(flow.Pressure()), 1e-6)
		iterations[criterion] = r.Iterations
	}
	assert.GreaterOrEqual(t, iterations[CombinedCriterion], iterations[PressureCriterion])
	assert.GreaterOrEqual(t, iterations[CombinedCriterion], iterations[DisplacementCriterion])
}

func TestStaggered_StructureHoldsAcceleratedPressure(t *testing.T) {
	cfg := testConfig()
	cfg.Convergence.RelaxationFactor = 0.3
	cfg.Convergence.Tolerance = 1e-4
	s, flow, structure := newTestSession(t, cfg)

	_, err := s.Step(context.Background())
	require.NoError(t, err)

	accelerated := s.Accelerator().Previous()
	assert.Equal(t, accelerated, structure.pressure)
	assert.NotEqual(t, flow.Pressure(), structure.pressure)
}

func TestStep_SolverFailure(t *testing.T) {
	s, _, structure := newTestSession(t, testConfig())
	structure.failAt = 1

	_, err := s.Step(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSolverFailed)
	assert.ErrorIs(t, err, errBoom)

	var solverErr *SolverError
	require.ErrorAs(t, err, &solverErr)
	assert.Equal(t, "structure", solverErr.Solver)
	assert.Equal(t, 1, solverErr.Step)
	assert.Zero(t, s.CurrentStep())
}

func TestStep_HonoursCancellation(t *testing.T) {
	s, _, _ := newTestSession(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Step(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.CurrentTime())
}

func TestStepBy_RejectsBadStep(t *testing.T) {
	s, _, _ := newTestSession(t, testConfig())
	for _, dt := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := s.StepBy(context.Background(), dt)
		assert.Error(t, err, "dt=%v", dt)
	}
}

func TestRun_ClipsFinalStepAndCheckpoints(t *testing.T) {
	cfg := testConfig()
	cfg.CheckpointEvery = 2
	cp := &recordingCheckpointer{}
	var observed []StepResult
	s, _, _ := newTestSession(t, cfg,
		WithCheckpointer(cp),
		WithObserver(StepObserverFunc(func(r StepResult) { observed = append(observed, r) })),
	)

	steps, err := s.Run(context.Background(), 3.5)
	require.NoError(t, err)

	require.Len(t, steps, 4)
	assert.InDelta(t, 0.5, steps[3].Dt, 1e-12)
	assert.InDelta(t, 3.5, s.CurrentTime(), 1e-12)
	assert.Equal(t, steps, observed)

	require.Len(t, cp.saved, 2)
	assert.Equal(t, 2, cp.saved[0].CurrentStep)
	assert.Equal(t, 4, cp.saved[1].CurrentStep)
	assert.Equal(t, s.ID(), cp.saved[1].ID)
}

func TestRun_FinalCheckpointOffInterval(t *testing.T) {
	cfg := testConfig()
	cfg.CheckpointEvery = 5
	cp := &recordingCheckpointer{}
	s, _, _ := newTestSession(t, cfg, WithCheckpointer(cp))

	_, err := s.Run(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, cp.saved, 1)
	assert.Equal(t, 3, cp.saved[0].CurrentStep)
}

func TestAcceleratorObserverReceivesEvents(t *testing.T) {
	var iterations int
	s, _, _ := newTestSession(t, testConfig(), WithAcceleratorObserver(coupling.ObserverFunc(func(e coupling.Event) {
		if e.Kind == coupling.EventIteration {
			iterations++
		}
	})))

	r, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, r.Iterations, iterations)
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.ProjectID = "dam-7"
	cfg.CouplingScheme = VolumeCoupled
	s, _, _ := newTestSession(t, cfg, WithID("run-1"))

	_, err := s.Run(context.Background(), 3)
	require.NoError(t, err)

	data, err := json.Marshal(s.Checkpoint())
	require.NoError(t, err)

	var cp Checkpoint
	require.NoError(t, json.Unmarshal(data, &cp))

	assert.Equal(t, "run-1", cp.ID)
	assert.Equal(t, "dam-7", cp.ProjectID)
	assert.Equal(t, Staggered, cp.CouplingType)
	assert.Equal(t, VolumeCoupled, cp.CouplingScheme)
	assert.Equal(t, s.CurrentTime(), cp.CurrentTime)
	assert.Equal(t, s.CurrentStep(), cp.CurrentStep)
	assert.Equal(t, s.Converged(), cp.IsConverged)
	assert.Equal(t, s.ConvergenceHistory(), cp.ConvergenceHistory)
	assert.Equal(t, cfg, cp.Config)

	restored, _, _ := newTestSession(t, cfg)
	require.NoError(t, restored.Restore(&cp))

	assert.Equal(t, "run-1", restored.ID())
	assert.Equal(t, cp.CurrentTime, restored.CurrentTime())
	assert.Equal(t, cp.CurrentStep, restored.CurrentStep())
	assert.Equal(t, cp.CurrentTime, restored.Stepper().CurrentTime())
	assert.Equal(t, 0, restored.Accelerator().Iterations())
	assert.Empty(t, restored.Accelerator().ConvergenceHistory())
	assert.Nil(t, restored.Accelerator().Previous())

	other := cfg
	other.Convergence.Strategy = coupling.Anderson
	mismatched, _, _ := newTestSession(t, other)
	assert.Error(t, mismatched.Restore(&cp))
}

func TestCheckpoint_CarriesProblemRecord(t *testing.T) {
	record := json.RawMessage(`{"name":"consolidation","nodes":8}`)
	s, _, _ := newTestSession(t, testConfig(), WithProblem(record))
	_, err := s.Step(context.Background())
	require.NoError(t, err)

	data, err := json.Marshal(s.Checkpoint())
	require.NoError(t, err)
	var cp Checkpoint
	require.NoError(t, json.Unmarshal(data, &cp))
	assert.JSONEq(t, string(record), string(cp.Problem))

	restored, _, _ := newTestSession(t, testConfig())
	require.NoError(t, restored.Restore(&cp))
	assert.JSONEq(t, string(record), string(restored.Checkpoint().Problem))

	bare, _, _ := newTestSession(t, testConfig())
	data, err = json.Marshal(bare.Checkpoint())
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"problem"`)
}

func TestNew_RejectsUnknownCriterion(t *testing.T) {
	cfg := testConfig()
	cfg.Criterion = "energy"
	_, err := New(cfg, newLinearFlow(3), newLinearStructure(3))
	require.ErrorIs(t, err, coupling.ErrConfiguration)

	var cfgErr *coupling.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "convergence_criterion", cfgErr.Field)
}

func TestCheckpoint_NonFiniteResidualsStayEncodable(t *testing.T) {
	cfg := testConfig()
	cfg.Convergence.MaxIterations = 2
	never := func(current, previous coupling.State) float64 { return math.NaN() }
	s, _, _ := newTestSession(t, cfg, WithResidual(never))

	r, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, math.IsInf(r.Residual, 1))

	_, err = json.Marshal(s.Checkpoint())
	assert.NoError(t, err)
}
