// Package problems provides synthetic fixed-point maps and a toy
// consolidation solver pair for exercising the coupling engine.
package problems

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/couplesim/internal/coupling"
)

// Map is a fixed-point problem x -> F(x). Maps may carry iteration state
// (noise decay, rotation angle); Reset restores it.
type Map interface {
	Name() string
	Dim() int
	Initial() coupling.State
	Apply(x coupling.State) coupling.State
	// Exact returns the fixed point, or nil when it is not known.
	Exact() coupling.State
	Reset()
}

// MapParams configure the synthetic maps.
type MapParams struct {
	Dim          int     `yaml:"size" toml:"size" json:"size"`
	Seed         int64   `yaml:"seed" toml:"seed" json:"seed"`
	Nonlinearity float64 `yaml:"nonlinearity" toml:"nonlinearity" json:"nonlinearity"`
	// Contraction is the slope of the affine map.
	Contraction float64 `yaml:"contraction" toml:"contraction" json:"contraction"`
	// Noise scales the decaying perturbation added to every iterate.
	Noise float64 `yaml:"noise" toml:"noise" json:"noise"`
}

func DefaultMapParams() MapParams {
	return MapParams{
		Dim:          20,
		Seed:         42,
		Nonlinearity: 2.0,
		Contraction:  0.9,
		Noise:        0.01,
	}
}

var mapBuilders = map[string]func(MapParams) Map{
	"affine":      func(p MapParams) Map { return newAffine(p) },
	"standard":    func(p MapParams) Map { return newNoisy("standard", p, standardStep) },
	"stiff":       func(p MapParams) Map { return newNoisy("stiff", p, stiffStep) },
	"oscillatory": func(p MapParams) Map { return newNoisy("oscillatory", p, oscillatoryStep) },
}

func NewMap(name string, p MapParams) (Map, error) {
	build, ok := mapBuilders[name]
	if !ok {
		return nil, fmt.Errorf("unknown problem: %s", name)
	}
	if p.Dim < 1 {
		return nil, fmt.Errorf("problem %s: size must be at least 1, got %d", name, p.Dim)
	}
	return build(p), nil
}

func ListMaps() []string {
	names := make([]string, 0, len(mapBuilders))
	for name := range mapBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// affine is x -> a*x + b with fixed point b/(1-a) in every component.
type affine struct {
	dim  int
	a, b float64
}

func newAffine(p MapParams) *affine {
	a := p.Contraction
	return &affine{dim: p.Dim, a: a, b: 10 * (1 - a)}
}

func (m *affine) Name() string             { return "affine" }
func (m *affine) Dim() int                 { return m.dim }
func (m *affine) Initial() coupling.State  { return make(coupling.State, m.dim) }
func (m *affine) Reset()                   {}
func (m *affine) Apply(x coupling.State) coupling.State {
	out := make(coupling.State, len(x))
	for i, v := range x {
		out[i] = m.a*v + m.b
	}
	return out
}

func (m *affine) Exact() coupling.State {
	if m.a == 1 {
		return nil
	}
	out := make(coupling.State, m.dim)
	for i := range out {
		out[i] = m.b / (1 - m.a)
	}
	return out
}

// noisy maps normalize every iterate onto the unit sphere and add a
// seeded perturbation decaying as exp(-k/5).
type noisy struct {
	name      string
	params    MapParams
	exact     coupling.State
	stiffness []float64
	rng       *rand.Rand
	k         int
	step      func(m *noisy, x coupling.State) coupling.State
}

func newNoisy(name string, p MapParams, step func(*noisy, coupling.State) coupling.State) *noisy {
	m := &noisy{name: name, params: p, step: step}
	m.exact = exactProfile(name, p.Dim)
	if name == "stiff" {
		m.stiffness = []float64{1}
		if p.Dim > 1 {
			m.stiffness = floats.LogSpan(make([]float64, p.Dim), 1, 100)
		}
	}
	m.Reset()
	return m
}

func exactProfile(name string, n int) coupling.State {
	e := make(coupling.State, n)
	switch {
	case n == 1:
		e[0] = 1
	case name == "stiff":
		floats.LogSpan(e, 1, 1e-3)
	case name == "oscillatory":
		for i := range e {
			x := 2 * math.Pi * float64(i) / float64(n-1)
			e[i] = 0.5 * (math.Sin(3*x) + 1)
		}
	default:
		floats.Span(e, 1, 0)
	}
	floats.Scale(1/floats.Norm(e, 2), e)
	return e
}

func (m *noisy) Name() string          { return m.name }
func (m *noisy) Dim() int              { return m.params.Dim }
func (m *noisy) Exact() coupling.State { return m.exact.Clone() }

func (m *noisy) Reset() {
	m.rng = rand.New(rand.NewSource(m.params.Seed))
	m.k = 0
}

// Initial is a seeded random unit vector.
func (m *noisy) Initial() coupling.State {
	rng := rand.New(rand.NewSource(m.params.Seed + 1))
	x := make(coupling.State, m.params.Dim)
	for i := range x {
		x[i] = rng.Float64()
	}
	floats.Scale(1/floats.Norm(x, 2), x)
	return x
}

func (m *noisy) Apply(x coupling.State) coupling.State {
	m.k++
	fx := m.step(m, x)
	decay := m.params.Noise * math.Exp(-float64(m.k)/5)
	for i := range fx {
		fx[i] += decay * m.rng.NormFloat64()
	}
	if norm := floats.Norm(fx, 2); norm > 0 {
		floats.Scale(1/norm, fx)
	}
	return fx
}

func standardStep(m *noisy, x coupling.State) coupling.State {
	damp := 1 + m.params.Nonlinearity*floats.Distance(x, m.exact, 2)
	out := make(coupling.State, len(x))
	for i := range x {
		out[i] = 0.5 * (x[i] + m.exact[i]/damp)
	}
	return out
}

func stiffStep(m *noisy, x coupling.State) coupling.State {
	out := make(coupling.State, len(x))
	for i := range x {
		out[i] = x[i] + (m.exact[i]-x[i])/m.stiffness[i]
	}
	return out
}

func oscillatoryStep(m *noisy, x coupling.State) coupling.State {
	angle := math.Pi * float64(m.k) / 10
	c, s := math.Cos(angle), math.Sin(angle)
	out := make(coupling.State, len(x))
	for i := range x {
		out[i] = x[i]*c + m.exact[i]*(1-c) + 0.1*s*(m.rng.Float64()-0.5)
	}
	return out
}
