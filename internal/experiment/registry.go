package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/couplesim/internal/config"
	"github.com/san-kum/couplesim/internal/problems"
	"github.com/san-kum/couplesim/internal/session"
)

// SolverFactory builds a fresh partitioned solver pair for a problem.
type SolverFactory func(pc config.ProblemConfig) (session.FlowSolver, session.StructureSolver, error)

type Registry struct {
	solvers map[string]SolverFactory
}

func NewRegistry() *Registry {
	r := &Registry{solvers: make(map[string]SolverFactory)}

	r.solvers["consolidation"] = func(pc config.ProblemConfig) (session.FlowSolver, session.StructureSolver, error) {
		return problems.NewConsolidation(pc.Consolidation)
	}
	for _, name := range problems.ListMaps() {
		r.solvers[name] = func(pc config.ProblemConfig) (session.FlowSolver, session.StructureSolver, error) {
			m, err := problems.NewMap(name, pc.Map)
			if err != nil {
				return nil, nil, err
			}
			flow, structure := problems.NewMapPair(m)
			return flow, structure, nil
		}
	}
	return r
}

func (r *Registry) Register(name string, fn SolverFactory) {
	r.solvers[name] = fn
}

func (r *Registry) Solvers(name string, pc config.ProblemConfig) (session.FlowSolver, session.StructureSolver, error) {
	fn, ok := r.solvers[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown problem: %s", name)
	}
	return fn(pc)
}

func (r *Registry) ListProblems() []string {
	names := make([]string, 0, len(r.solvers))
	for name := range r.solvers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewSession validates cfg and wires its problem's solvers into a session.
func (r *Registry) NewSession(cfg *config.Config, opts ...session.Option) (*session.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	flow, structure, err := r.Solvers(cfg.Problem.Name, cfg.Problem)
	if err != nil {
		return nil, err
	}
	record, err := cfg.ProblemRecord()
	if err != nil {
		return nil, err
	}
	opts = append([]session.Option{session.WithProblem(record)}, opts...)
	return session.New(cfg.Session(), flow, structure, opts...)
}
