// Package metrics accumulates per-step statistics of a coupling session,
// both as in-process summaries and as prometheus collectors.
package metrics

import (
	"math"

	"github.com/san-kum/couplesim/internal/session"
)

// Metric folds accepted step results into a single number.
type Metric interface {
	Name() string
	Observe(r session.StepResult)
	Value() float64
	Reset()
}

// Set fans step results out to several metrics. It satisfies
// session.StepObserver.
type Set []Metric

func (s Set) OnStep(r session.StepResult) {
	for _, m := range s {
		m.Observe(r)
	}
}

func (s Set) Values() map[string]float64 {
	out := make(map[string]float64, len(s))
	for _, m := range s {
		out[m.Name()] = m.Value()
	}
	return out
}

func (s Set) Reset() {
	for _, m := range s {
		m.Reset()
	}
}

// Summarize replays results through a fresh default set.
func Summarize(results []session.StepResult) map[string]float64 {
	set := DefaultSet()
	for _, r := range results {
		set.OnStep(r)
	}
	return set.Values()
}

func DefaultSet() Set {
	return Set{
		NewMeanIterations(),
		NewMaxIterations(),
		NewFallbackRate(),
		NewNonConvergedSteps(),
		NewWorstResidual(),
	}
}

type MeanIterations struct {
	sum     int
	samples int
}

func NewMeanIterations() *MeanIterations { return &MeanIterations{} }

func (m *MeanIterations) Name() string { return "mean_iterations" }

func (m *MeanIterations) Observe(r session.StepResult) {
	m.sum += r.Iterations
	m.samples++
}

func (m *MeanIterations) Value() float64 {
	if m.samples == 0 {
		return 0
	}
	return float64(m.sum) / float64(m.samples)
}

func (m *MeanIterations) Reset() { *m = MeanIterations{} }

type MaxIterations struct {
	max int
}

func NewMaxIterations() *MaxIterations { return &MaxIterations{} }

func (m *MaxIterations) Name() string { return "max_iterations" }

func (m *MaxIterations) Observe(r session.StepResult) {
	if r.Iterations > m.max {
		m.max = r.Iterations
	}
}

func (m *MaxIterations) Value() float64 { return float64(m.max) }
func (m *MaxIterations) Reset()         { m.max = 0 }

// FallbackRate is degeneracy fallbacks per coupling iteration.
type FallbackRate struct {
	fallbacks  int
	iterations int
}

func NewFallbackRate() *FallbackRate { return &FallbackRate{} }

func (f *FallbackRate) Name() string { return "fallback_rate" }

func (f *FallbackRate) Observe(r session.StepResult) {
	f.fallbacks += r.Fallbacks
	f.iterations += r.Iterations
}

func (f *FallbackRate) Value() float64 {
	if f.iterations == 0 {
		return 0
	}
	return float64(f.fallbacks) / float64(f.iterations)
}

func (f *FallbackRate) Reset() { *f = FallbackRate{} }

type NonConvergedSteps struct {
	count int
}

func NewNonConvergedSteps() *NonConvergedSteps { return &NonConvergedSteps{} }

func (n *NonConvergedSteps) Name() string { return "non_converged_steps" }

func (n *NonConvergedSteps) Observe(r session.StepResult) {
	if !r.Converged {
		n.count++
	}
}

func (n *NonConvergedSteps) Value() float64 { return float64(n.count) }
func (n *NonConvergedSteps) Reset()         { n.count = 0 }

// WorstResidual is the largest final residual over all steps.
type WorstResidual struct {
	worst float64
}

func NewWorstResidual() *WorstResidual { return &WorstResidual{} }

func (w *WorstResidual) Name() string { return "worst_residual" }

func (w *WorstResidual) Observe(r session.StepResult) {
	if math.IsNaN(r.Residual) {
		w.worst = math.Inf(1)
		return
	}
	w.worst = math.Max(w.worst, r.Residual)
}

func (w *WorstResidual) Value() float64 { return w.worst }
func (w *WorstResidual) Reset()         { w.worst = 0 }
