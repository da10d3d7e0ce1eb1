package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/couplesim/internal/session"
)

const (
	checkpointFile = "checkpoint.json"
	historyFile    = "history.csv"
)

var historyHeader = []string{"step", "time", "dt", "iterations", "residual", "converged", "retries", "fallbacks"}

// Store keeps one directory per session under baseDir holding the latest
// checkpoint and a per-step history table.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// Summary is the listing view of a stored checkpoint.
type Summary struct {
	ID             string                 `json:"id"`
	ProjectID      string                 `json:"project_id,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	CouplingType   session.CouplingType   `json:"coupling_type"`
	CouplingScheme session.CouplingScheme `json:"coupling_scheme"`
	Strategy       string                 `json:"strategy"`
	CurrentStep    int                    `json:"current_step"`
	CurrentTime    float64                `json:"current_time"`
	IsConverged    bool                   `json:"is_converged"`
}

func (s *Store) runDir(id string) (string, error) {
	if id == "" || filepath.Base(id) != id || id == "." || id == ".." {
		return "", fmt.Errorf("invalid checkpoint id %q", id)
	}
	return filepath.Join(s.baseDir, id), nil
}

// SaveCheckpoint writes cp, replacing any earlier checkpoint of the same
// session. It satisfies session.Checkpointer.
func (s *Store) SaveCheckpoint(cp *session.Checkpoint) error {
	dir, err := s.runDir(cp.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, checkpointFile), data); err != nil {
		return err
	}
	return s.saveHistory(dir, cp.Steps)
}

func (s *Store) saveHistory(dir string, steps []session.StepResult) error {
	tmp := filepath.Join(dir, historyFile+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(historyHeader); err != nil {
		f.Close()
		return err
	}
	for _, r := range steps {
		row := []string{
			strconv.Itoa(r.Step),
			strconv.FormatFloat(r.Time, 'g', -1, 64),
			strconv.FormatFloat(r.Dt, 'g', -1, 64),
			strconv.Itoa(r.Iterations),
			strconv.FormatFloat(r.Residual, 'g', -1, 64),
			strconv.FormatBool(r.Converged),
			strconv.Itoa(r.Retries),
			strconv.Itoa(r.Fallbacks),
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, historyFile))
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) Load(id string) (*session.Checkpoint, error) {
	dir, err := s.runDir(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, checkpointFile))
	if err != nil {
		return nil, err
	}

	var cp session.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	return &cp, nil
}

// List returns every readable checkpoint, newest first.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Summary{}, nil
		}
		return nil, err
	}

	runs := make([]Summary, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		cp, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, Summary{
			ID:             cp.ID,
			ProjectID:      cp.ProjectID,
			CreatedAt:      cp.CreatedAt,
			CouplingType:   cp.CouplingType,
			CouplingScheme: cp.CouplingScheme,
			Strategy:       string(cp.Config.Convergence.Strategy),
			CurrentStep:    cp.CurrentStep,
			CurrentTime:    cp.CurrentTime,
			IsConverged:    cp.IsConverged,
		})
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	return runs, nil
}

// LoadHistory reads the per-step table written alongside a checkpoint.
func (s *Store) LoadHistory(id string) ([]session.StepResult, error) {
	dir, err := s.runDir(id)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(dir, historyFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = len(historyHeader)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []session.StepResult{}, nil
	}

	steps := make([]session.StepResult, 0, len(records)-1)
	for i, record := range records[1:] {
		var (
			row  session.StepResult
			errs []error
		)
		row.Step, err = strconv.Atoi(record[0])
		errs = append(errs, err)
		row.Time, err = strconv.ParseFloat(record[1], 64)
		errs = append(errs, err)
		row.Dt, err = strconv.ParseFloat(record[2], 64)
		errs = append(errs, err)
		row.Iterations, err = strconv.Atoi(record[3])
		errs = append(errs, err)
		row.Residual, err = strconv.ParseFloat(record[4], 64)
		errs = append(errs, err)
		row.Converged, err = strconv.ParseBool(record[5])
		errs = append(errs, err)
		row.Retries, err = strconv.Atoi(record[6])
		errs = append(errs, err)
		row.Fallbacks, err = strconv.Atoi(record[7])
		errs = append(errs, err)
		for _, e := range errs {
			if e != nil {
				return nil, fmt.Errorf("%s line %d: %w", historyFile, i+2, e)
			}
		}
		steps = append(steps, row)
	}
	return steps, nil
}

func (s *Store) Delete(id string) error {
	dir, err := s.runDir(id)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}
