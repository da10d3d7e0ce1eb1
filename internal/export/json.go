package export

import (
	"encoding/json"
	"io"
	"math"
	"os"
	"time"

	"github.com/san-kum/couplesim/internal/experiment"
	"github.com/san-kum/couplesim/internal/session"
)

// RunReport is a checkpointed session plus its summary metrics.
type RunReport struct {
	ID                 string                 `json:"id"`
	ProjectID          string                 `json:"project_id,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	Strategy           string                 `json:"strategy"`
	CouplingType       session.CouplingType   `json:"coupling_type"`
	CouplingScheme     session.CouplingScheme `json:"coupling_scheme"`
	CurrentTime        float64                `json:"current_time"`
	TotalSteps         int                    `json:"total_steps"`
	Converged          bool                   `json:"converged"`
	Steps              []session.StepResult   `json:"steps"`
	ConvergenceHistory []float64              `json:"convergence_history"`
	Metrics            map[string]float64     `json:"metrics"`
}

func NewRunReport(cp *session.Checkpoint, metrics map[string]float64) RunReport {
	safe := make(map[string]float64, len(metrics))
	for k, v := range metrics {
		safe[k] = finite(v)
	}
	return RunReport{
		ID:                 cp.ID,
		ProjectID:          cp.ProjectID,
		CreatedAt:          cp.CreatedAt,
		Strategy:           string(cp.Config.Convergence.Strategy),
		CouplingType:       cp.CouplingType,
		CouplingScheme:     cp.CouplingScheme,
		CurrentTime:        cp.CurrentTime,
		TotalSteps:         cp.CurrentStep,
		Converged:          cp.IsConverged,
		Steps:              cp.Steps,
		ConvergenceHistory: cp.ConvergenceHistory,
		Metrics:            safe,
	}
}

// CompareRow is one strategy run. Optional values are null when unknown.
type CompareRow struct {
	Strategy      string    `json:"strategy"`
	Iterations    int       `json:"iterations"`
	Converged     bool      `json:"converged"`
	FinalResidual float64   `json:"final_residual"`
	Rate          *float64  `json:"rate"`
	Error         *float64  `json:"error"`
	Fallbacks     int       `json:"fallbacks"`
	ElapsedNs     int64     `json:"elapsed_ns"`
	History       []float64 `json:"history"`
}

type CompareReport struct {
	Problem string       `json:"problem"`
	Best    string       `json:"best,omitempty"`
	Results []CompareRow `json:"results"`
}

func NewCompareReport(problem string, results []experiment.Result) CompareReport {
	report := CompareReport{Problem: problem, Results: make([]CompareRow, 0, len(results))}
	if best, ok := experiment.Best(results); ok && best.Converged {
		report.Best = string(best.Strategy)
	}
	for _, r := range results {
		history := make([]float64, len(r.History))
		for i, v := range r.History {
			history[i] = finite(v)
		}
		report.Results = append(report.Results, CompareRow{
			Strategy:      string(r.Strategy),
			Iterations:    r.Iterations,
			Converged:     r.Converged,
			FinalResidual: finite(r.FinalResidual),
			Rate:          optional(r.Rate),
			Error:         optional(r.Error),
			Fallbacks:     r.Fallbacks,
			ElapsedNs:     r.Elapsed.Nanoseconds(),
			History:       history,
		})
	}
	return report
}

// WriteJSON encodes v indented.
func WriteJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func ExportJSON(path string, v any) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteJSON(file, v)
}

func finite(v float64) float64 {
	switch {
	case math.IsNaN(v), math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}

func optional(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
