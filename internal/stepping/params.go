package stepping

import (
	"fmt"
	"math"

	"github.com/san-kum/couplesim/internal/coupling"
)

// Strategy selects how the next outer time step is proposed.
type Strategy string

const (
	Fixed              Strategy = "fixed"
	AdaptiveError      Strategy = "adaptive_error"
	AdaptiveIterations Strategy = "adaptive_iterations"
	AdaptiveCombined   Strategy = "adaptive_combined"
)

func Strategies() []Strategy {
	return []Strategy{Fixed, AdaptiveError, AdaptiveIterations, AdaptiveCombined}
}

func ParseStrategy(name string) (Strategy, error) {
	for _, s := range Strategies() {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown time stepping strategy: %s", name)
}

const (
	DefaultInitialStep      = 1.0
	DefaultMinStep          = 0.1
	DefaultMaxStep          = 10.0
	DefaultTargetIterations = 5
	DefaultIncreaseFactor   = 1.2
	DefaultDecreaseFactor   = 0.5
	DefaultErrorThreshold   = 1e-3
	DefaultIterationWindow  = 10
)

// Params configure a Stepper. Like coupling.ConvergenceParams they are
// immutable once the stepper is built.
type Params struct {
	Strategy         Strategy `yaml:"strategy" toml:"strategy" json:"strategy"`
	InitialStep      float64  `yaml:"initial_step" toml:"initial_step" json:"initial_step"`
	MinStep          float64  `yaml:"min_step" toml:"min_step" json:"min_step"`
	MaxStep          float64  `yaml:"max_step" toml:"max_step" json:"max_step"`
	TargetIterations int      `yaml:"target_iterations" toml:"target_iterations" json:"target_iterations"`
	IncreaseFactor   float64  `yaml:"increase_factor" toml:"increase_factor" json:"increase_factor"`
	DecreaseFactor   float64  `yaml:"decrease_factor" toml:"decrease_factor" json:"decrease_factor"`
	ErrorThreshold   float64  `yaml:"error_threshold" toml:"error_threshold" json:"error_threshold"`
	// IterationWindow bounds the retained iteration and error history.
	IterationWindow int `yaml:"iteration_window" toml:"iteration_window" json:"iteration_window"`
}

func DefaultParams() Params {
	return Params{
		Strategy:         AdaptiveIterations,
		InitialStep:      DefaultInitialStep,
		MinStep:          DefaultMinStep,
		MaxStep:          DefaultMaxStep,
		TargetIterations: DefaultTargetIterations,
		IncreaseFactor:   DefaultIncreaseFactor,
		DecreaseFactor:   DefaultDecreaseFactor,
		ErrorThreshold:   DefaultErrorThreshold,
		IterationWindow:  DefaultIterationWindow,
	}
}

func (p Params) Validate() error {
	if _, err := ParseStrategy(string(p.Strategy)); err != nil {
		return coupling.NewConfigError("time_stepping.strategy", "%q is not a known strategy", p.Strategy)
	}
	if !finitePositive(p.MinStep) {
		return coupling.NewConfigError("min_step", "must be positive, got %g", p.MinStep)
	}
	if !finitePositive(p.MaxStep) || p.MinStep >= p.MaxStep {
		return coupling.NewConfigError("min_step", "%g must be below max_step %g", p.MinStep, p.MaxStep)
	}
	if p.InitialStep < p.MinStep || p.InitialStep > p.MaxStep || math.IsNaN(p.InitialStep) {
		return coupling.NewConfigError("initial_step", "%g outside [%g, %g]", p.InitialStep, p.MinStep, p.MaxStep)
	}
	if p.TargetIterations < 1 {
		return coupling.NewConfigError("target_iterations", "must be at least 1, got %d", p.TargetIterations)
	}
	if !finitePositive(p.IncreaseFactor) || p.IncreaseFactor < 1 {
		return coupling.NewConfigError("increase_factor", "must be >= 1, got %g", p.IncreaseFactor)
	}
	if !finitePositive(p.DecreaseFactor) || p.DecreaseFactor > 1 {
		return coupling.NewConfigError("decrease_factor", "must be in (0, 1], got %g", p.DecreaseFactor)
	}
	if !finitePositive(p.ErrorThreshold) {
		return coupling.NewConfigError("error_threshold", "must be positive, got %g", p.ErrorThreshold)
	}
	if p.IterationWindow < 1 {
		return coupling.NewConfigError("iteration_window", "must be at least 1, got %d", p.IterationWindow)
	}
	return nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
