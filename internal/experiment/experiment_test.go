package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/san-kum/couplesim/internal/config"
	"github.com/san-kum/couplesim/internal/coupling"
	"github.com/san-kum/couplesim/internal/problems"
)

func affineParams(a float64) problems.MapParams {
	p := problems.DefaultMapParams()
	p.Dim = 4
	p.Contraction = a
	return p
}

func baseParams() coupling.ConvergenceParams {
	p := coupling.DefaultConvergenceParams()
	p.Tolerance = 1e-8
	p.MaxIterations = 200
	return p
}

func TestRunMapAffine(t *testing.T) {
	m, err := problems.NewMap("affine", affineParams(0.5))
	if err != nil {
		t.Fatal(err)
	}
	params := baseParams()
	params.RelaxationFactor = 1

	r, err := RunMap(context.Background(), m, params)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !r.Converged {
		t.Fatalf("did not converge: %+v", r)
	}
	if math.Abs(r.Rate-0.5) > 0.02 {
		t.Errorf("rate = %v, want 0.5", r.Rate)
	}
	if r.Error > 1e-6 {
		t.Errorf("distance to fixed point = %v", r.Error)
	}
	if len(r.History) != r.Iterations {
		t.Errorf("history has %d entries for %d iterations", len(r.History), r.Iterations)
	}
}

func TestRunMapInvalidParams(t *testing.T) {
	m, _ := problems.NewMap("affine", affineParams(0.5))
	params := baseParams()
	params.RelaxationFactor = 0
	if _, err := RunMap(context.Background(), m, params); !errors.Is(err, coupling.ErrConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}

func TestRunMapCancelled(t *testing.T) {
	m, _ := problems.NewMap("affine", affineParams(0.5))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := RunMap(ctx, m, baseParams()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCompareAllStrategies(t *testing.T) {
	results, err := Compare(context.Background(), "affine", affineParams(0.8), baseParams(), nil)
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if len(results) != len(coupling.Strategies()) {
		t.Fatalf("got %d results", len(results))
	}

	byStrategy := map[coupling.Strategy]Result{}
	for _, r := range results {
		if !r.Converged {
			t.Errorf("%s did not converge in %d iterations", r.Strategy, r.Iterations)
		}
		byStrategy[r.Strategy] = r
	}
	if byStrategy[coupling.Anderson].Iterations >= byStrategy[coupling.FixedRelaxation].Iterations {
		t.Errorf("anderson %d iterations, fixed %d",
			byStrategy[coupling.Anderson].Iterations, byStrategy[coupling.FixedRelaxation].Iterations)
	}

	best, ok := Best(results)
	if !ok || best.Iterations > byStrategy[coupling.FixedRelaxation].Iterations {
		t.Errorf("best = %+v", best)
	}
}

func TestCompareUnknownProblem(t *testing.T) {
	if _, err := Compare(context.Background(), "chaotic", problems.DefaultMapParams(), baseParams(), nil); err == nil {
		t.Error("expected error for unknown problem")
	}
}

func TestBestPrefersConverged(t *testing.T) {
	results := []Result{
		{Strategy: coupling.Aitken, Iterations: 3, Converged: false},
		{Strategy: coupling.Anderson, Iterations: 9, Converged: true},
		{Strategy: coupling.LineSearch, Iterations: 9, Converged: true},
	}
	best, ok := Best(results)
	if !ok || best.Strategy != coupling.Anderson {
		t.Errorf("best = %+v", best)
	}
	if _, ok := Best(nil); ok {
		t.Error("Best(nil) reported a result")
	}
}

func TestNewGridValidation(t *testing.T) {
	tests := []struct {
		name   string
		params []string
		ranges [][]float64
	}{
		{"length mismatch", []string{"relaxation_factor"}, nil},
		{"unknown", []string{"omega"}, [][]float64{{1}}},
		{"empty range", []string{"anderson_depth"}, [][]float64{{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGrid(tt.params, tt.ranges); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSweepRelaxation(t *testing.T) {
	g, err := NewGrid([]string{"relaxation_factor"}, [][]float64{{0.25, 0.5, 1}})
	if err != nil {
		t.Fatal(err)
	}
	best, points, err := g.Sweep(context.Background(), "affine", affineParams(0.5), baseParams())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("got %d points", len(points))
	}
	if best.Params["relaxation_factor"] != 1 {
		t.Errorf("best relaxation = %v, want 1", best.Params["relaxation_factor"])
	}
	for i := 1; i < len(points); i++ {
		if points[i].Result.Iterations >= points[i-1].Result.Iterations {
			t.Errorf("larger relaxation should converge faster: %v", points)
		}
	}
}

func TestSweepRecordsInvalidPoints(t *testing.T) {
	g, err := NewGrid(
		[]string{"relaxation_factor", "anderson_depth"},
		[][]float64{{0.5, 2}, {0, 3}},
	)
	if err != nil {
		t.Fatal(err)
	}
	base := baseParams()
	base.Strategy = coupling.Anderson
	best, points, err := g.Sweep(context.Background(), "affine", affineParams(0.5), base)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("got %d points", len(points))
	}
	failed := 0
	for _, p := range points {
		if p.Err != nil {
			failed++
		}
	}
	if failed != 3 {
		t.Errorf("%d invalid points, want 3", failed)
	}
	want := map[string]float64{"relaxation_factor": 0.5, "anderson_depth": 3}
	if !reflect.DeepEqual(best.Params, want) {
		t.Errorf("best = %v, want %v", best.Params, want)
	}
}

func TestLinspace(t *testing.T) {
	if got := Linspace(0, 1, 5); !reflect.DeepEqual(got, []float64{0, 0.25, 0.5, 0.75, 1}) {
		t.Errorf("Linspace = %v", got)
	}
	if got := Linspace(3, 4, 1); !reflect.DeepEqual(got, []float64{3}) {
		t.Errorf("Linspace n=1 = %v", got)
	}
	if Linspace(0, 1, 0) != nil {
		t.Error("Linspace n=0 should be nil")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	want := []string{"affine", "consolidation", "oscillatory", "standard", "stiff"}
	if got := r.ListProblems(); !reflect.DeepEqual(got, want) {
		t.Errorf("ListProblems = %v, want %v", got, want)
	}
	if _, _, err := r.Solvers("chaotic", config.DefaultConfig().Problem); err == nil {
		t.Error("expected error for unknown problem")
	}
}

func TestRegistryNewSession(t *testing.T) {
	r := NewRegistry()
	cfg := config.DefaultConfig()
	cfg.Convergence.Strategy = coupling.Anderson
	cfg.Convergence.MaxIterations = 30

	s, err := r.NewSession(cfg)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	steps, err := s.Run(context.Background(), 2)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(steps) == 0 || !steps[0].Converged {
		t.Errorf("steps = %+v", steps)
	}

	var problem config.ProblemConfig
	if err := json.Unmarshal(s.Checkpoint().Problem, &problem); err != nil {
		t.Fatalf("problem record: %v", err)
	}
	if problem != cfg.Problem {
		t.Errorf("recorded problem = %+v, want %+v", problem, cfg.Problem)
	}

	cfg.Convergence.Tolerance = -1
	if _, err := r.NewSession(cfg); !errors.Is(err, coupling.ErrConfiguration) {
		t.Errorf("err = %v, want configuration error", err)
	}
}
