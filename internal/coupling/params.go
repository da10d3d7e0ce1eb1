package coupling

import (
	"fmt"
	"math"
)

// Strategy selects the acceleration scheme applied to raw iterates.
type Strategy string

const (
	FixedRelaxation   Strategy = "fixed_relaxation"
	DynamicRelaxation Strategy = "dynamic_relaxation"
	Aitken            Strategy = "aitken"
	LineSearch        Strategy = "line_search"
	Anderson          Strategy = "anderson"
)

// Strategies lists every supported strategy in presentation order.
func Strategies() []Strategy {
	return []Strategy{FixedRelaxation, DynamicRelaxation, Aitken, LineSearch, Anderson}
}

func ParseStrategy(name string) (Strategy, error) {
	for _, s := range Strategies() {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown convergence strategy: %s", name)
}

const (
	DefaultRelaxationFactor          = 0.8
	DefaultMaxIterations             = 20
	DefaultTolerance                 = 1e-4
	DefaultLineSearchSteps           = 10
	DefaultLineSearchTolerance       = 1e-3
	DefaultAitkenInitialRelaxation   = 0.5
	DefaultAitkenMinRelaxation       = 0.1
	DefaultAitkenMaxRelaxation       = 1.0
	DefaultAndersonDepth             = 5
	DefaultDynamicIncreaseFactor     = 1.1
	DefaultDynamicDecreaseFactor     = 0.7
	DefaultDynamicIterationThreshold = 4

	// dynamic relaxation never drops below this floor
	minDynamicRelaxation = 0.1
)

// ConvergenceParams are the hyperparameters of one coupling session.
// They are created once from configuration and never mutated.
type ConvergenceParams struct {
	Strategy                  Strategy `yaml:"strategy" toml:"strategy" json:"strategy"`
	RelaxationFactor          float64  `yaml:"relaxation_factor" toml:"relaxation_factor" json:"relaxation_factor"`
	MaxIterations             int      `yaml:"max_iterations" toml:"max_iterations" json:"max_iterations"`
	Tolerance                 float64  `yaml:"tolerance" toml:"tolerance" json:"tolerance"`
	LineSearchSteps           int      `yaml:"line_search_steps" toml:"line_search_steps" json:"line_search_steps"`
	LineSearchTolerance       float64  `yaml:"line_search_tolerance" toml:"line_search_tolerance" json:"line_search_tolerance"`
	AitkenInitialRelaxation   float64  `yaml:"aitken_initial_relaxation" toml:"aitken_initial_relaxation" json:"aitken_initial_relaxation"`
	AitkenMinRelaxation       float64  `yaml:"aitken_min_relaxation" toml:"aitken_min_relaxation" json:"aitken_min_relaxation"`
	AitkenMaxRelaxation       float64  `yaml:"aitken_max_relaxation" toml:"aitken_max_relaxation" json:"aitken_max_relaxation"`
	AndersonDepth             int      `yaml:"anderson_depth" toml:"anderson_depth" json:"anderson_depth"`
	DynamicIncreaseFactor     float64  `yaml:"dynamic_increase_factor" toml:"dynamic_increase_factor" json:"dynamic_increase_factor"`
	DynamicDecreaseFactor     float64  `yaml:"dynamic_decrease_factor" toml:"dynamic_decrease_factor" json:"dynamic_decrease_factor"`
	DynamicIterationThreshold int      `yaml:"dynamic_iteration_threshold" toml:"dynamic_iteration_threshold" json:"dynamic_iteration_threshold"`
}

func DefaultConvergenceParams() ConvergenceParams {
	return ConvergenceParams{
		Strategy:                  FixedRelaxation,
		RelaxationFactor:          DefaultRelaxationFactor,
		MaxIterations:             DefaultMaxIterations,
		Tolerance:                 DefaultTolerance,
		LineSearchSteps:           DefaultLineSearchSteps,
		LineSearchTolerance:       DefaultLineSearchTolerance,
		AitkenInitialRelaxation:   DefaultAitkenInitialRelaxation,
		AitkenMinRelaxation:       DefaultAitkenMinRelaxation,
		AitkenMaxRelaxation:       DefaultAitkenMaxRelaxation,
		AndersonDepth:             DefaultAndersonDepth,
		DynamicIncreaseFactor:     DefaultDynamicIncreaseFactor,
		DynamicDecreaseFactor:     DefaultDynamicDecreaseFactor,
		DynamicIterationThreshold: DefaultDynamicIterationThreshold,
	}
}

// Validate fails fast on invalid hyperparameters; nothing is clamped.
func (p ConvergenceParams) Validate() error {
	if _, err := ParseStrategy(string(p.Strategy)); err != nil {
		return NewConfigError("strategy", "%q is not a known strategy", p.Strategy)
	}
	if !finitePositive(p.RelaxationFactor) || p.RelaxationFactor > 1 {
		return NewConfigError("relaxation_factor", "must be in (0, 1], got %g", p.RelaxationFactor)
	}
	if p.MaxIterations < 1 {
		return NewConfigError("max_iterations", "must be at least 1, got %d", p.MaxIterations)
	}
	if !finitePositive(p.Tolerance) {
		return NewConfigError("tolerance", "must be positive, got %g", p.Tolerance)
	}
	if p.LineSearchSteps < 2 {
		return NewConfigError("line_search_steps", "must be at least 2, got %d", p.LineSearchSteps)
	}
	if p.LineSearchTolerance < 0 || math.IsNaN(p.LineSearchTolerance) {
		return NewConfigError("line_search_tolerance", "must be non-negative, got %g", p.LineSearchTolerance)
	}
	if !finitePositive(p.AitkenMinRelaxation) {
		return NewConfigError("aitken_min_relaxation", "must be positive, got %g", p.AitkenMinRelaxation)
	}
	if !finitePositive(p.AitkenMaxRelaxation) {
		return NewConfigError("aitken_max_relaxation", "must be positive, got %g", p.AitkenMaxRelaxation)
	}
	if p.AitkenMinRelaxation > p.AitkenMaxRelaxation {
		return NewConfigError("aitken_min_relaxation", "%g exceeds aitken_max_relaxation %g",
			p.AitkenMinRelaxation, p.AitkenMaxRelaxation)
	}
	if p.AitkenInitialRelaxation < p.AitkenMinRelaxation || p.AitkenInitialRelaxation > p.AitkenMaxRelaxation {
		return NewConfigError("aitken_initial_relaxation", "%g outside [%g, %g]",
			p.AitkenInitialRelaxation, p.AitkenMinRelaxation, p.AitkenMaxRelaxation)
	}
	if p.AndersonDepth < 1 {
		return NewConfigError("anderson_depth", "must be at least 1, got %d", p.AndersonDepth)
	}
	if !finitePositive(p.DynamicIncreaseFactor) || p.DynamicIncreaseFactor < 1 {
		return NewConfigError("dynamic_increase_factor", "must be >= 1, got %g", p.DynamicIncreaseFactor)
	}
	if !finitePositive(p.DynamicDecreaseFactor) || p.DynamicDecreaseFactor > 1 {
		return NewConfigError("dynamic_decrease_factor", "must be in (0, 1], got %g", p.DynamicDecreaseFactor)
	}
	if p.DynamicIterationThreshold < 1 {
		return NewConfigError("dynamic_iteration_threshold", "must be at least 1, got %d", p.DynamicIterationThreshold)
	}
	return nil
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
