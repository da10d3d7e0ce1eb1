package session

import (
	"fmt"

	"github.com/san-kum/couplesim/internal/coupling"
	"github.com/san-kum/couplesim/internal/stepping"
)

// CouplingType selects how the two solvers are combined.
type CouplingType string

const (
	Monolithic CouplingType = "monolithic"
	Staggered  CouplingType = "staggered"
	OneWay     CouplingType = "one_way"
)

// CouplingScheme names the poroelastic formulation. It is carried as
// metadata for the solvers and checkpoints; the driver loop is the same for
// every scheme.
type CouplingScheme string

const (
	Biot          CouplingScheme = "biot"
	SemiCoupled   CouplingScheme = "semi_coupled"
	VolumeCoupled CouplingScheme = "volume_coupled"
	Custom        CouplingScheme = "custom"
)

// Policy decides what happens when a step exhausts max_iterations.
type Policy string

const (
	Accept Policy = "accept"
	Abort  Policy = "abort"
	Retry  Policy = "retry"
)

// Criterion selects which interface field must settle for a staggered step
// to count as converged.
type Criterion string

const (
	// PressureCriterion uses the accelerator's residual on the pressure.
	PressureCriterion Criterion = "pressure"
	// DisplacementCriterion measures successive structure displacements.
	DisplacementCriterion Criterion = "displacement"
	// CombinedCriterion takes the larger of the two.
	CombinedCriterion Criterion = "combined"
)

const (
	DefaultMaxRetries      = 3
	DefaultCheckpointEvery = 5
)

// Config is everything a Session needs besides its solvers.
type Config struct {
	ProjectID       string                     `json:"project_id"`
	CouplingType    CouplingType               `json:"coupling_type"`
	CouplingScheme  CouplingScheme             `json:"coupling_scheme"`
	ResidualNorm    string                     `json:"residual_norm"`
	Criterion       Criterion                  `json:"convergence_criterion"`
	NonConvergence  Policy                     `json:"non_convergence"`
	MaxRetries      int                        `json:"max_retries"`
	CheckpointEvery int                        `json:"checkpoint_every"`
	Convergence     coupling.ConvergenceParams `json:"convergence"`
	TimeStepping    stepping.Params            `json:"time_stepping"`
}

func DefaultConfig() Config {
	return Config{
		CouplingType:    Staggered,
		CouplingScheme:  Biot,
		ResidualNorm:    coupling.NormRelativeL2,
		Criterion:       PressureCriterion,
		NonConvergence:  Accept,
		MaxRetries:      DefaultMaxRetries,
		CheckpointEvery: DefaultCheckpointEvery,
		Convergence:     coupling.DefaultConvergenceParams(),
		TimeStepping:    stepping.DefaultParams(),
	}
}

func (c Config) Validate() error {
	switch c.CouplingType {
	case Staggered, OneWay:
	case Monolithic:
		return coupling.NewConfigError("coupling_type",
			"monolithic coupling needs a single assembled solver and is not driven by a partitioned session")
	default:
		return coupling.NewConfigError("coupling_type", "%q is not a known coupling type", c.CouplingType)
	}
	switch c.CouplingScheme {
	case Biot, SemiCoupled, VolumeCoupled, Custom:
	default:
		return coupling.NewConfigError("coupling_scheme", "%q is not a known coupling scheme", c.CouplingScheme)
	}
	switch c.NonConvergence {
	case Accept, Abort, Retry:
	default:
		return coupling.NewConfigError("non_convergence", "%q is not a known policy", c.NonConvergence)
	}
	switch c.Criterion {
	case PressureCriterion, DisplacementCriterion, CombinedCriterion:
	default:
		return coupling.NewConfigError("convergence_criterion", "%q is not a known criterion", c.Criterion)
	}
	if _, err := coupling.ResidualByName(c.ResidualNorm); err != nil {
		return coupling.NewConfigError("residual_norm", "%v", err)
	}
	if c.MaxRetries < 0 {
		return coupling.NewConfigError("max_retries", "must be non-negative, got %d", c.MaxRetries)
	}
	if c.CheckpointEvery < 0 {
		return coupling.NewConfigError("checkpoint_every", "must be non-negative, got %d", c.CheckpointEvery)
	}
	if err := c.Convergence.Validate(); err != nil {
		return fmt.Errorf("convergence: %w", err)
	}
	if err := c.TimeStepping.Validate(); err != nil {
		return fmt.Errorf("time_stepping: %w", err)
	}
	return nil
}
