package coupling

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// anderson mixes the last depth raw iterates with least-squares optimal
// weights. The window is a FIFO of (raw solution, increment) pairs; the
// Gram system is solved in the difference form
//
//	(ΔFᵀΔF)·γ = ΔFᵀ·f_last,  x_new = g_last − ΔG·γ
//
// where Δf_i = f_{i+1} − f_i and Δg_i = g_{i+1} − g_i. With a single pair
// γ is empty and the raw iterate is returned unchanged.
type anderson struct {
	depth      int
	solutions  []State
	increments []State
}

func newAnderson(depth int) *anderson {
	return &anderson{
		depth:      depth,
		solutions:  make([]State, 0, depth),
		increments: make([]State, 0, depth),
	}
}

func (s *anderson) strategy() Strategy { return Anderson }

func (s *anderson) reset() {
	s.solutions = s.solutions[:0]
	s.increments = s.increments[:0]
}

// Window returns the number of retained pairs.
func (s *anderson) window() int { return len(s.solutions) }

func (s *anderson) push(solution, increment State) {
	if len(s.solutions) == s.depth {
		copy(s.solutions, s.solutions[1:])
		copy(s.increments, s.increments[1:])
		s.solutions = s.solutions[:s.depth-1]
		s.increments = s.increments[:s.depth-1]
	}
	s.solutions = append(s.solutions, solution.Clone())
	s.increments = append(s.increments, increment.Clone())
}

func (s *anderson) step(a *Accelerator, in stepInput) (State, float64, string) {
	s.push(in.raw, in.increment)

	m := len(s.solutions)
	if m == 1 {
		return in.raw.Clone(), 1.0, ""
	}

	k := m - 1
	dF := make([]State, k)
	dG := make([]State, k)
	for i := 0; i < k; i++ {
		dF[i] = s.increments[i+1].Sub(s.increments[i])
		dG[i] = s.solutions[i+1].Sub(s.solutions[i])
	}
	fLast := s.increments[k]

	gram := mat.NewDense(k, k, nil)
	rhs := mat.NewVecDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			v := dF[i].Dot(dF[j])
			gram.Set(i, j, v)
			gram.Set(j, i, v)
		}
		rhs.SetVec(i, dF[i].Dot(fLast))
	}

	var gamma mat.VecDense
	if err := gamma.SolveVec(gram, rhs); err != nil {
		return nil, 0, fmt.Sprintf("anderson gram solve failed: %v", err)
	}
	for i := 0; i < k; i++ {
		if g := gamma.AtVec(i); math.IsNaN(g) || math.IsInf(g, 0) {
			return nil, 0, "anderson gram solve produced non-finite coefficients"
		}
	}

	accelerated := s.solutions[k].Clone()
	for i := 0; i < k; i++ {
		accelerated = accelerated.AddScaled(-gamma.AtVec(i), dG[i])
	}

	// weight carried by the newest raw iterate
	return accelerated, 1 - gamma.AtVec(k-1), ""
}
