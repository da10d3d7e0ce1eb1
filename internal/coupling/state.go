package coupling

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// State is a flattened interface field. Its length is fixed per session.
type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	if len(s) == 0 {
		return 0
	}
	return floats.Norm(s, 2)
}

func (s State) Dot(other State) float64 {
	return floats.Dot(s, other)
}

// Sub returns s - other. Both operands must have the same length.
func (s State) Sub(other State) State {
	result := make(State, len(s))
	floats.SubTo(result, s, other)
	return result
}

// Lerp returns (1-alpha)*s + alpha*target, so alpha=1 reproduces target
// bit for bit.
func (s State) Lerp(target State, alpha float64) State {
	result := make(State, len(s))
	for i := range result {
		result[i] = (1-alpha)*s[i] + alpha*target[i]
	}
	return result
}

// AddScaled returns s + alpha*dir.
func (s State) AddScaled(alpha float64, dir State) State {
	result := make(State, len(s))
	floats.AddScaledTo(result, s, alpha, dir)
	return result
}
