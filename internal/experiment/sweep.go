package experiment

import (
	"context"
	"fmt"
	"maps"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/couplesim/internal/coupling"
	"github.com/san-kum/couplesim/internal/problems"
)

var sweepSetters = map[string]func(p *coupling.ConvergenceParams, v float64){
	"relaxation_factor":         func(p *coupling.ConvergenceParams, v float64) { p.RelaxationFactor = v },
	"anderson_depth":            func(p *coupling.ConvergenceParams, v float64) { p.AndersonDepth = int(v) },
	"aitken_initial_relaxation": func(p *coupling.ConvergenceParams, v float64) { p.AitkenInitialRelaxation = v },
	"aitken_min_relaxation":     func(p *coupling.ConvergenceParams, v float64) { p.AitkenMinRelaxation = v },
	"aitken_max_relaxation":     func(p *coupling.ConvergenceParams, v float64) { p.AitkenMaxRelaxation = v },
	"line_search_steps":         func(p *coupling.ConvergenceParams, v float64) { p.LineSearchSteps = int(v) },
	"dynamic_increase_factor":   func(p *coupling.ConvergenceParams, v float64) { p.DynamicIncreaseFactor = v },
	"dynamic_decrease_factor":   func(p *coupling.ConvergenceParams, v float64) { p.DynamicDecreaseFactor = v },
}

// SweepPoint is one grid point. Err is set when the parameters did not
// validate or the solve failed.
type SweepPoint struct {
	Params map[string]float64
	Result Result
	Err    error
}

func (p SweepPoint) Score() float64 {
	if p.Err != nil {
		return math.Inf(1)
	}
	return p.Result.Score()
}

// Grid is an exhaustive search over named convergence parameters.
type Grid struct {
	paramNames []string
	ranges     [][]float64
}

func NewGrid(params []string, ranges [][]float64) (*Grid, error) {
	if len(params) != len(ranges) {
		return nil, fmt.Errorf("grid: %d parameters but %d ranges", len(params), len(ranges))
	}
	for i, name := range params {
		if _, ok := sweepSetters[name]; !ok {
			return nil, fmt.Errorf("grid: unknown parameter: %s", name)
		}
		if len(ranges[i]) == 0 {
			return nil, fmt.Errorf("grid: empty range for %s", name)
		}
	}
	return &Grid{paramNames: params, ranges: ranges}, nil
}

// Sweep evaluates every grid point on the named map and returns the point
// with the fewest iterations to convergence together with all points in
// grid order. Points are independent and run concurrently.
func (g *Grid) Sweep(ctx context.Context, problem string, mp problems.MapParams, base coupling.ConvergenceParams) (SweepPoint, []SweepPoint, error) {
	if _, err := problems.NewMap(problem, mp); err != nil {
		return SweepPoint{}, nil, err
	}

	var combos []map[string]float64
	g.expand(0, map[string]float64{}, &combos)

	points := make([]SweepPoint, len(combos))
	sem := make(chan struct{}, runtime.GOMAXPROCS(0))
	var wg sync.WaitGroup
	for i, combo := range combos {
		wg.Add(1)
		go func(idx int, combo map[string]float64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			points[idx] = evaluate(ctx, problem, mp, base, combo)
		}(i, combo)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return SweepPoint{}, points, err
	}

	best := points[0]
	for _, p := range points[1:] {
		if p.Score() < best.Score() {
			best = p
		}
	}
	return best, points, nil
}

func evaluate(ctx context.Context, problem string, mp problems.MapParams, base coupling.ConvergenceParams, combo map[string]float64) SweepPoint {
	params := base
	for name, v := range combo {
		sweepSetters[name](&params, v)
	}
	point := SweepPoint{Params: combo}
	m, err := problems.NewMap(problem, mp)
	if err != nil {
		point.Err = err
		return point
	}
	point.Result, point.Err = RunMap(ctx, m, params)
	return point
}

// expand enumerates the grid depth first, last parameter fastest.
func (g *Grid) expand(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.paramNames) {
		*out = append(*out, current)
		return
	}
	name := g.paramNames[depth]
	for _, v := range g.ranges[depth] {
		next := maps.Clone(current)
		next[name] = v
		g.expand(depth+1, next, out)
	}
}

// Linspace returns n evenly spaced values over [lo, hi].
func Linspace(lo, hi float64, n int) []float64 {
	if n < 1 {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}
