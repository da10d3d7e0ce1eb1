package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/couplesim/internal/coupling"
	"github.com/san-kum/couplesim/internal/problems"
	"github.com/san-kum/couplesim/internal/session"
	"github.com/san-kum/couplesim/internal/stepping"
)

const (
	DefaultProblem   = "consolidation"
	DefaultTotalTime = 10.0
)

type Config struct {
	ProjectID       string                 `yaml:"project_id" toml:"project_id"`
	CouplingType    session.CouplingType   `yaml:"coupling_type" toml:"coupling_type"`
	CouplingScheme  session.CouplingScheme `yaml:"coupling_scheme" toml:"coupling_scheme"`
	ResidualNorm    string                 `yaml:"residual_norm" toml:"residual_norm"`
	Criterion       session.Criterion      `yaml:"convergence_criterion" toml:"convergence_criterion"`
	NonConvergence  session.Policy         `yaml:"non_convergence" toml:"non_convergence"`
	MaxRetries      int                    `yaml:"max_retries" toml:"max_retries"`
	CheckpointEvery int                    `yaml:"checkpoint_every" toml:"checkpoint_every"`
	TotalTime       float64                `yaml:"total_time" toml:"total_time"`

	Convergence  coupling.ConvergenceParams `yaml:"convergence" toml:"convergence"`
	TimeStepping stepping.Params            `yaml:"time_stepping" toml:"time_stepping"`
	Problem      ProblemConfig              `yaml:"problem" toml:"problem"`
}

// ProblemConfig selects the synthetic problem driven by the CLI.
type ProblemConfig struct {
	Name          string                        `yaml:"name" toml:"name" json:"name"`
	Map           problems.MapParams            `yaml:"map" toml:"map" json:"map"`
	Consolidation problems.ConsolidationParams `yaml:"consolidation" toml:"consolidation" json:"consolidation"`
}

func DefaultConfig() *Config {
	sc := session.DefaultConfig()
	return &Config{
		CouplingType:    sc.CouplingType,
		CouplingScheme:  sc.CouplingScheme,
		ResidualNorm:    sc.ResidualNorm,
		Criterion:       sc.Criterion,
		NonConvergence:  sc.NonConvergence,
		MaxRetries:      sc.MaxRetries,
		CheckpointEvery: sc.CheckpointEvery,
		TotalTime:       DefaultTotalTime,
		Convergence:     sc.Convergence,
		TimeStepping:    sc.TimeStepping,
		Problem: ProblemConfig{
			Name:          DefaultProblem,
			Map:           problems.DefaultMapParams(),
			Consolidation: problems.DefaultConsolidationParams(),
		},
	}
}

// Load merges a YAML or TOML file, chosen by extension, over DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	var data []byte
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		data = out
	case ".toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return err
		}
		data = buf.Bytes()
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	return os.WriteFile(path, data, 0644)
}

// Session extracts the driver configuration.
func (c *Config) Session() session.Config {
	return session.Config{
		ProjectID:       c.ProjectID,
		CouplingType:    c.CouplingType,
		CouplingScheme:  c.CouplingScheme,
		ResidualNorm:    c.ResidualNorm,
		Criterion:       c.Criterion,
		NonConvergence:  c.NonConvergence,
		MaxRetries:      c.MaxRetries,
		CheckpointEvery: c.CheckpointEvery,
		Convergence:     c.Convergence,
		TimeStepping:    c.TimeStepping,
	}
}

// ApplySession copies a checkpointed driver configuration back in.
func (c *Config) ApplySession(sc session.Config) {
	c.ProjectID = sc.ProjectID
	c.CouplingType = sc.CouplingType
	c.CouplingScheme = sc.CouplingScheme
	c.ResidualNorm = sc.ResidualNorm
	c.Criterion = sc.Criterion
	c.NonConvergence = sc.NonConvergence
	c.MaxRetries = sc.MaxRetries
	c.CheckpointEvery = sc.CheckpointEvery
	c.Convergence = sc.Convergence
	c.TimeStepping = sc.TimeStepping
}

// ApplyCheckpoint restores the driver configuration and, when the
// checkpoint recorded one, the problem block it was run with. It reports
// whether the recorded problem replaced a different one in c.
func (c *Config) ApplyCheckpoint(cp *session.Checkpoint) (bool, error) {
	c.ApplySession(cp.Config)
	if len(cp.Problem) == 0 {
		return false, nil
	}
	var recorded ProblemConfig
	if err := json.Unmarshal(cp.Problem, &recorded); err != nil {
		return false, fmt.Errorf("checkpoint %s problem: %w", cp.ID, err)
	}
	changed := recorded != c.Problem
	c.Problem = recorded
	return changed, nil
}

// ProblemRecord encodes the problem block for a checkpoint.
func (c *Config) ProblemRecord() (json.RawMessage, error) {
	return json.Marshal(c.Problem)
}

func (c *Config) Validate() error {
	if err := c.Session().Validate(); err != nil {
		return err
	}
	if !(c.TotalTime > 0) {
		return coupling.NewConfigError("total_time", "must be positive, got %g", c.TotalTime)
	}
	if c.Problem.Name == DefaultProblem {
		return c.Problem.Consolidation.Validate()
	}
	if c.Problem.Map.Dim < 1 {
		return coupling.NewConfigError("problem.map.size", "must be at least 1, got %d", c.Problem.Map.Dim)
	}
	return nil
}
