package problems

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/couplesim/internal/coupling"
)

// ConsolidationParams describe a 1D poroelastic column drained at node 0.
// The staggered iteration contracts roughly by Coupling²/(Stiffness·Storage),
// so values above one diverge without acceleration.
type ConsolidationParams struct {
	Nodes          int     `yaml:"nodes" toml:"nodes" json:"nodes"`
	Stiffness      float64 `yaml:"stiffness" toml:"stiffness" json:"stiffness"`
	Storage        float64 `yaml:"storage" toml:"storage" json:"storage"`
	Transmissivity float64 `yaml:"transmissivity" toml:"transmissivity" json:"transmissivity"`
	Coupling       float64 `yaml:"coupling" toml:"coupling" json:"coupling"`
	Load           float64 `yaml:"load" toml:"load" json:"load"`
	Source         float64 `yaml:"source" toml:"source" json:"source"`
}

func DefaultConsolidationParams() ConsolidationParams {
	return ConsolidationParams{
		Nodes:          20,
		Stiffness:      1.0,
		Storage:        1.0,
		Transmissivity: 0.1,
		Coupling:       0.9,
		Load:           1.0,
		Source:         0.0,
	}
}

func (p ConsolidationParams) Validate() error {
	switch {
	case p.Nodes < 2:
		return fmt.Errorf("consolidation: nodes must be at least 2, got %d", p.Nodes)
	case p.Stiffness <= 0:
		return fmt.Errorf("consolidation: stiffness must be positive, got %g", p.Stiffness)
	case p.Storage <= 0:
		return fmt.Errorf("consolidation: storage must be positive, got %g", p.Storage)
	case p.Transmissivity < 0:
		return fmt.Errorf("consolidation: transmissivity must be non-negative, got %g", p.Transmissivity)
	}
	return nil
}

// lateralStiffness keeps the structure operator's spectrum within
// [k, 1.4k] so the coupling strength alone sets the contraction rate.
const lateralStiffness = 0.1

var errNotInitialized = errors.New("problems: solver not initialized")

// NewConsolidation returns the flow and structure halves of the column.
// Both implement session.Initializer and session.Rewinder.
func NewConsolidation(p ConsolidationParams) (*PoroFlow, *PoroStructure, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	return &PoroFlow{params: p}, &PoroStructure{params: p}, nil
}

// laplacian is the 1D stiffness pattern with a Dirichlet node at 0 and a
// free end at n-1.
func laplacian(n int) *mat.Dense {
	l := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		l.Set(i, i, 2)
		if i > 0 {
			l.Set(i, i-1, -1)
		}
		if i < n-1 {
			l.Set(i, i+1, -1)
		}
	}
	l.Set(n-1, n-1, 1)
	return l
}

func solve(a mat.Matrix, rhs coupling.State) (coupling.State, error) {
	var x mat.VecDense
	if err := x.SolveVec(a, mat.NewVecDense(len(rhs), rhs.Clone())); err != nil {
		return nil, err
	}
	out := make(coupling.State, len(rhs))
	for i := range out {
		out[i] = x.AtVec(i)
	}
	return out, nil
}

// PoroFlow solves storage·∂p/∂t + T·L·p + α·∂u/∂t = q with backward Euler.
type PoroFlow struct {
	params ConsolidationParams
	lap    *mat.Dense

	pressure      coupling.State
	disp          coupling.State
	lastTime      float64
	committedP    coupling.State
	committedU    coupling.State
	committedTime float64
	solves        int
}

func (f *PoroFlow) Initialize() error {
	n := f.params.Nodes
	f.lap = laplacian(n)
	f.pressure = make(coupling.State, n)
	f.disp = make(coupling.State, n)
	f.committedP = make(coupling.State, n)
	f.committedU = make(coupling.State, n)
	f.committedTime = 0
	f.lastTime = 0
	return nil
}

func (f *PoroFlow) SolveStep(t float64) error {
	if f.lap == nil {
		return errNotInitialized
	}
	dt := t - f.committedTime
	if !(dt > 0) {
		return fmt.Errorf("consolidation: flow step to t=%g does not advance past t=%g", t, f.committedTime)
	}

	p := f.params
	n := p.Nodes
	a := mat.NewDense(n, n, nil)
	a.Scale(p.Transmissivity, f.lap)
	for i := 0; i < n; i++ {
		a.Set(i, i, a.At(i, i)+p.Storage/dt)
	}

	rhs := make(coupling.State, n)
	for i := range rhs {
		rhs[i] = p.Storage/dt*f.committedP[i] - p.Coupling/dt*(f.disp[i]-f.committedU[i]) + p.Source
	}

	pressure, err := solve(a, rhs)
	if err != nil {
		return fmt.Errorf("consolidation: flow solve: %w", err)
	}
	f.pressure = pressure
	f.lastTime = t
	f.solves++
	return nil
}

func (f *PoroFlow) Pressure() coupling.State { return f.pressure.Clone() }

func (f *PoroFlow) SetMeshDisplacement(d coupling.State) { f.disp = d.Clone() }

func (f *PoroFlow) Commit() error {
	f.committedP = f.pressure.Clone()
	f.committedU = f.disp.Clone()
	f.committedTime = f.lastTime
	return nil
}

func (f *PoroFlow) Rewind() error {
	f.pressure = f.committedP.Clone()
	f.disp = f.committedU.Clone()
	f.lastTime = f.committedTime
	return nil
}

// Solves counts SolveStep calls since Initialize.
func (f *PoroFlow) Solves() int { return f.solves }

// PoroStructure solves the quasi-static balance k·(I + βL)·u = load − α·p,
// an elastic bed with weak lateral stiffness β.
type PoroStructure struct {
	params ConsolidationParams
	k      *mat.Dense

	pressure  coupling.State
	disp      coupling.State
	committed coupling.State
}

func (s *PoroStructure) Initialize() error {
	n := s.params.Nodes
	s.k = mat.NewDense(n, n, nil)
	s.k.Scale(lateralStiffness, laplacian(n))
	for i := 0; i < n; i++ {
		s.k.Set(i, i, s.k.At(i, i)+1)
	}
	s.k.Scale(s.params.Stiffness, s.k)
	s.pressure = make(coupling.State, n)
	s.disp = make(coupling.State, n)
	s.committed = make(coupling.State, n)
	return nil
}

func (s *PoroStructure) SolveStep(t float64) error {
	if s.k == nil {
		return errNotInitialized
	}
	rhs := make(coupling.State, s.params.Nodes)
	for i := range rhs {
		rhs[i] = s.params.Load - s.params.Coupling*s.pressure[i]
	}
	disp, err := solve(s.k, rhs)
	if err != nil {
		return fmt.Errorf("consolidation: structure solve: %w", err)
	}
	s.disp = disp
	return nil
}

func (s *PoroStructure) Displacement() coupling.State { return s.disp.Clone() }

func (s *PoroStructure) SetFluidPressure(p coupling.State) { s.pressure = p.Clone() }

func (s *PoroStructure) Commit() error {
	s.committed = s.disp.Clone()
	return nil
}

func (s *PoroStructure) Rewind() error {
	s.disp = s.committed.Clone()
	return nil
}
