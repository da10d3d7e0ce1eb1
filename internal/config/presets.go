package config

import (
	"sort"

	"github.com/san-kum/couplesim/internal/coupling"
	"github.com/san-kum/couplesim/internal/session"
	"github.com/san-kum/couplesim/internal/stepping"
)

func preset(mutate func(c *Config)) *Config {
	c := DefaultConfig()
	mutate(c)
	return c
}

var Presets = map[string]map[string]*Config{
	"consolidation": {
		"gentle": preset(func(c *Config) {
			c.Problem.Consolidation.Coupling = 0.5
			c.Convergence.Strategy = coupling.FixedRelaxation
		}),
		"strong": preset(func(c *Config) {
			c.Problem.Consolidation.Coupling = 0.95
			c.Convergence.Strategy = coupling.Aitken
			c.Convergence.MaxIterations = 40
		}),
		"unstable": preset(func(c *Config) {
			c.Problem.Consolidation.Coupling = 1.2
			c.Convergence.Strategy = coupling.Anderson
			c.Convergence.MaxIterations = 50
			c.NonConvergence = session.Retry
			c.TimeStepping.Strategy = stepping.AdaptiveCombined
		}),
		"drained": preset(func(c *Config) {
			c.CouplingType = session.OneWay
			c.CouplingScheme = session.SemiCoupled
			c.TimeStepping.Strategy = stepping.Fixed
		}),
	},
	"standard": {
		"demo": preset(func(c *Config) {
			c.Problem.Name = "standard"
			c.Convergence.MaxIterations = 50
			c.Convergence.Tolerance = 1e-6
		}),
	},
	"stiff": {
		"demo": preset(func(c *Config) {
			c.Problem.Name = "stiff"
			c.Convergence.MaxIterations = 50
			c.Convergence.Tolerance = 1e-6
		}),
	},
	"oscillatory": {
		"demo": preset(func(c *Config) {
			c.Problem.Name = "oscillatory"
			c.Convergence.MaxIterations = 50
			c.Convergence.Tolerance = 1e-6
		}),
	},
	"affine": {
		"slow": preset(func(c *Config) {
			c.Problem.Name = "affine"
			c.Problem.Map.Contraction = 0.9
			c.Convergence.MaxIterations = 30
			c.Convergence.Tolerance = 1e-6
		}),
		"fast": preset(func(c *Config) {
			c.Problem.Name = "affine"
			c.Problem.Map.Contraction = 0.5
			c.Convergence.MaxIterations = 30
			c.Convergence.Tolerance = 1e-6
		}),
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(problem, name string) *Config {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	cfg, ok := problemPresets[name]
	if !ok {
		return nil
	}
	c := *cfg
	return &c
}

func ListPresets(problem string) []string {
	problemPresets, ok := Presets[problem]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(problemPresets))
	for name := range problemPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ListProblems() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
