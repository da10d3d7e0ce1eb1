package metrics

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/couplesim/internal/coupling"
	"github.com/san-kum/couplesim/internal/session"
)

var sampleSteps = []session.StepResult{
	{Step: 1, Dt: 1, Iterations: 4, Residual: 1e-9, Converged: true},
	{Step: 2, Dt: 1, Iterations: 10, Residual: 1e-3, Converged: false, Fallbacks: 2},
	{Step: 3, Dt: 0.5, Iterations: 6, Residual: 1e-8, Converged: true, Retries: 1},
}

func TestSummarize(t *testing.T) {
	got := Summarize(sampleSteps)

	want := map[string]float64{
		"mean_iterations":     20.0 / 3,
		"max_iterations":      10,
		"fallback_rate":       0.1,
		"non_converged_steps": 1,
		"worst_residual":      1e-3,
	}
	for name, w := range want {
		if math.Abs(got[name]-w) > 1e-12 {
			t.Errorf("%s = %v, want %v", name, got[name], w)
		}
	}
}

func TestSetReset(t *testing.T) {
	set := DefaultSet()
	for _, r := range sampleSteps {
		set.OnStep(r)
	}
	set.Reset()
	for name, v := range set.Values() {
		if v != 0 {
			t.Errorf("%s = %v after reset", name, v)
		}
	}
}

func TestEmptyMetrics(t *testing.T) {
	for _, m := range DefaultSet() {
		if m.Value() != 0 {
			t.Errorf("%s = %v with no samples", m.Name(), m.Value())
		}
	}
}

func TestWorstResidualNaN(t *testing.T) {
	w := NewWorstResidual()
	w.Observe(session.StepResult{Residual: math.NaN()})
	if !math.IsInf(w.Value(), 1) {
		t.Errorf("NaN residual should count as +Inf, got %v", w.Value())
	}
}

func TestCollectorEvents(t *testing.T) {
	c := NewCollector()
	events := []coupling.Event{
		{Kind: coupling.EventIteration, Strategy: coupling.Anderson},
		{Kind: coupling.EventIteration, Strategy: coupling.Anderson},
		{Kind: coupling.EventDegeneracy, Strategy: coupling.Anderson},
		{Kind: coupling.EventStagnation, Strategy: coupling.DynamicRelaxation},
		{Kind: coupling.EventConverged, Strategy: coupling.Anderson},
	}
	for _, e := range events {
		c.OnEvent(e)
	}

	if got := testutil.ToFloat64(c.iterations.WithLabelValues("anderson")); got != 2 {
		t.Errorf("iterations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.degeneracies.WithLabelValues("anderson")); got != 1 {
		t.Errorf("degeneracies = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.stagnations.WithLabelValues("dynamic_relaxation")); got != 1 {
		t.Errorf("stagnations = %v, want 1", got)
	}
}

func TestCollectorSteps(t *testing.T) {
	c := NewCollector()
	for _, r := range sampleSteps {
		c.OnStep(r)
	}

	if got := testutil.ToFloat64(c.steps.WithLabelValues("true")); got != 2 {
		t.Errorf("converged steps = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.steps.WithLabelValues("false")); got != 1 {
		t.Errorf("non-converged steps = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.retries); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.stepSize); got != 0.5 {
		t.Errorf("step size = %v, want 0.5", got)
	}
	if got := testutil.CollectAndCount(c.stepIters); got != 1 {
		t.Errorf("histogram series = %d, want 1", got)
	}
}

func TestCollectorWriteText(t *testing.T) {
	c := NewCollector()
	c.OnEvent(coupling.Event{Kind: coupling.EventIteration, Strategy: coupling.Aitken})
	c.OnStep(sampleSteps[0])

	var buf bytes.Buffer
	if err := c.WriteText(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		`couplesim_accelerator_iterations_total{strategy="aitken"} 1`,
		`couplesim_session_steps_total{converged="true"} 1`,
		"# TYPE couplesim_session_step_iterations histogram",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in\n%s", want, out)
		}
	}
}
