package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/san-kum/couplesim/internal/config"
	"github.com/san-kum/couplesim/internal/coupling"
	"github.com/san-kum/couplesim/internal/session"
	"github.com/san-kum/couplesim/internal/stepping"
)

// resolveConfig layers defaults, preset, config file and explicitly set
// flags, in that order. A non-empty problem overrides the configured one.
func resolveConfig(cmd *cobra.Command, problem string) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if preset != "" {
		name := problem
		if name == "" {
			name = cfg.Problem.Name
		}
		p := config.GetPreset(name, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(name))
		}
		cfg = p
		cfg.Problem.Name = name
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if problem != "" {
		cfg.Problem.Name = problem
	}
	if err := applyFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = cfg.Problem.Name
	}
	return cfg, cfg.Validate()
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("strategy") {
		s, err := coupling.ParseStrategy(strategy)
		if err != nil {
			return err
		}
		cfg.Convergence.Strategy = s
	}
	if flags.Changed("stepping") {
		s, err := stepping.ParseStrategy(stepStrategy)
		if err != nil {
			return err
		}
		cfg.TimeStepping.Strategy = s
	}
	if flags.Changed("relaxation") {
		cfg.Convergence.RelaxationFactor = relaxation
	}
	if flags.Changed("tol") {
		cfg.Convergence.Tolerance = tolerance
	}
	if flags.Changed("max-iter") {
		cfg.Convergence.MaxIterations = maxIterations
	}
	if flags.Changed("anderson-depth") {
		cfg.Convergence.AndersonDepth = andersonDepth
	}
	if flags.Changed("norm") {
		cfg.ResidualNorm = residualNorm
	}
	if flags.Changed("criterion") {
		cfg.Criterion = session.Criterion(criterion)
	}
	if flags.Changed("time") {
		cfg.TotalTime = totalTime
	}
	if flags.Changed("dt") {
		cfg.TimeStepping.InitialStep = initialStep
	}
	if flags.Changed("on-diverge") {
		cfg.NonConvergence = session.Policy(policy)
	}
	if flags.Changed("coupling") {
		cfg.CouplingType = session.CouplingType(couplingType)
	}
	if flags.Changed("project") {
		cfg.ProjectID = projectID
	}
	if flags.Changed("size") {
		cfg.Problem.Map.Dim = problemSize
		cfg.Problem.Consolidation.Nodes = problemSize
	}
	if flags.Changed("seed") {
		cfg.Problem.Map.Seed = seed
	}
	return nil
}
