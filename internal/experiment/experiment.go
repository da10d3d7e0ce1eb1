// Package experiment runs acceleration strategies against synthetic
// problems: single runs, side-by-side comparisons and parameter sweeps.
package experiment

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/couplesim/internal/analysis"
	"github.com/san-kum/couplesim/internal/coupling"
	"github.com/san-kum/couplesim/internal/problems"
)

// Result summarizes one accelerated fixed-point solve.
type Result struct {
	Problem       string            `json:"problem"`
	Strategy      coupling.Strategy `json:"strategy"`
	Iterations    int               `json:"iterations"`
	Converged     bool              `json:"converged"`
	FinalResidual float64           `json:"final_residual"`
	// Rate is the fitted per-iteration contraction, NaN when the history
	// is too short to fit.
	Rate      float64       `json:"rate"`
	Error     float64       `json:"error"` // distance to the known fixed point, NaN if unknown
	Fallbacks int           `json:"fallbacks"`
	Elapsed   time.Duration `json:"elapsed"`
	History   []float64     `json:"history"`
}

// Score is the iteration count, +Inf when the solve did not converge.
func (r Result) Score() float64 {
	if !r.Converged {
		return math.Inf(1)
	}
	return float64(r.Iterations)
}

// RunMap iterates m from its initial guess with a fresh accelerator until
// convergence or max_iterations.
func RunMap(ctx context.Context, m problems.Map, params coupling.ConvergenceParams, opts ...coupling.Option) (Result, error) {
	acc, err := coupling.New(params, opts...)
	if err != nil {
		return Result{}, err
	}
	m.Reset()

	start := time.Now()
	x, _, err := acc.Apply(m.Initial())
	if err != nil {
		return Result{}, err
	}
	for acc.Iterations() < params.MaxIterations && !acc.Converged() {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		x, _, err = acc.Apply(m.Apply(x))
		if err != nil {
			return Result{}, fmt.Errorf("%s/%s iteration %d: %w", m.Name(), params.Strategy, acc.Iterations()+1, err)
		}
	}

	res := Result{
		Problem:       m.Name(),
		Strategy:      params.Strategy,
		Iterations:    acc.Iterations(),
		Converged:     acc.Converged(),
		FinalResidual: acc.LastResidual(),
		Rate:          math.NaN(),
		Error:         math.NaN(),
		Fallbacks:     acc.Fallbacks(),
		Elapsed:       time.Since(start),
		History:       acc.ConvergenceHistory(),
	}
	if rate, err := analysis.ConvergenceRate(res.History, 0); err == nil {
		res.Rate = rate.Factor
	}
	if exact := m.Exact(); exact != nil {
		res.Error = floats.Distance(x, exact, 2)
	}
	return res, nil
}

// Compare runs every strategy on a freshly built copy of the named map.
// An empty strategy list means all of them.
func Compare(ctx context.Context, problem string, mp problems.MapParams, base coupling.ConvergenceParams, strategies []coupling.Strategy, opts ...coupling.Option) ([]Result, error) {
	if len(strategies) == 0 {
		strategies = coupling.Strategies()
	}
	results := make([]Result, 0, len(strategies))
	for _, s := range strategies {
		m, err := problems.NewMap(problem, mp)
		if err != nil {
			return nil, err
		}
		params := base
		params.Strategy = s
		r, err := RunMap(ctx, m, params, opts...)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// Best returns the result with the lowest score, first one on ties.
func Best(results []Result) (Result, bool) {
	if len(results) == 0 {
		return Result{}, false
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.Score() < best.Score() {
			best = r
		}
	}
	return best, true
}
