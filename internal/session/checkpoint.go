package session

import (
	"encoding/json"
	"math"
	"time"
)

// StepResult summarizes one accepted outer time step.
type StepResult struct {
	Step       int           `json:"step"`
	Time       float64       `json:"time"`
	Dt         float64       `json:"dt"`
	Iterations int           `json:"iterations"`
	Residual   float64       `json:"residual"`
	Converged  bool          `json:"converged"`
	Retries    int           `json:"retries"`
	Fallbacks  int           `json:"fallbacks"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Checkpoint is the persisted session record. It never carries in-flight
// accelerator state: restoring always starts the next step from a reset
// accelerator.
type Checkpoint struct {
	ID                 string         `json:"id"`
	CreatedAt          time.Time      `json:"created_at"`
	ProjectID          string         `json:"project_id,omitempty"`
	CouplingType       CouplingType   `json:"coupling_type"`
	CouplingScheme     CouplingScheme `json:"coupling_scheme"`
	CurrentTime        float64        `json:"current_time"`
	CurrentStep        int            `json:"current_step"`
	StepSize           float64        `json:"step_size"`
	IsConverged        bool           `json:"is_converged"`
	ConvergenceHistory []float64      `json:"convergence_history"`
	Steps              []StepResult   `json:"steps,omitempty"`
	Config             Config         `json:"config"`

	// Problem is an opaque description of the solvers the session drove,
	// set with WithProblem.
	Problem json.RawMessage `json:"problem,omitempty"`
}

// jsonSafe maps values encoding/json cannot represent onto the largest
// finite float.
func jsonSafe(v float64) float64 {
	switch {
	case math.IsNaN(v), math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}

func jsonSafeSlice(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = jsonSafe(v)
	}
	return out
}
