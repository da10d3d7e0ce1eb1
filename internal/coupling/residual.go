package coupling

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ResidualEpsilon guards the relative residual against a vanishing field.
const ResidualEpsilon = 1e-10

// ResidualFunc measures the distance between two successive iterates.
// A nil previous iterate must yield +Inf so the caller iterates again.
type ResidualFunc func(current, previous State) float64

// RelativeResidual is ‖current − previous‖₂ / ‖current‖₂, falling back to
// the raw difference norm when ‖current‖₂ is below ResidualEpsilon.
func RelativeResidual(current, previous State) float64 {
	if previous == nil {
		return math.Inf(1)
	}
	diff := floats.Distance(current, previous, 2)
	norm := current.Norm()
	if norm < ResidualEpsilon {
		return diff
	}
	return diff / math.Max(norm, ResidualEpsilon)
}

// AbsoluteResidual is ‖current − previous‖₂.
func AbsoluteResidual(current, previous State) float64 {
	if previous == nil {
		return math.Inf(1)
	}
	return floats.Distance(current, previous, 2)
}

// RelativeMaxResidual is the infinity-norm analogue of RelativeResidual.
func RelativeMaxResidual(current, previous State) float64 {
	if previous == nil {
		return math.Inf(1)
	}
	diff := floats.Distance(current, previous, math.Inf(1))
	norm := 0.0
	if len(current) > 0 {
		norm = floats.Norm(current, math.Inf(1))
	}
	if norm < ResidualEpsilon {
		return diff
	}
	return diff / norm
}

// Residual norm names accepted by ResidualByName.
const (
	NormRelativeL2  = "relative_l2"
	NormAbsoluteL2  = "absolute_l2"
	NormRelativeMax = "relative_max"
)

var residuals = map[string]ResidualFunc{
	NormRelativeL2:  RelativeResidual,
	NormAbsoluteL2:  AbsoluteResidual,
	NormRelativeMax: RelativeMaxResidual,
}

// ResidualByName resolves a configured residual norm. An empty name selects
// RelativeResidual.
func ResidualByName(name string) (ResidualFunc, error) {
	if name == "" {
		return RelativeResidual, nil
	}
	fn, ok := residuals[name]
	if !ok {
		return nil, fmt.Errorf("unknown residual norm: %s", name)
	}
	return fn, nil
}
