package analysis

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

var ErrInsufficientData = errors.New("analysis: need at least two finite positive residuals")

// Rate is a fit of log10(r_k) = Intercept + Slope*k.
type Rate struct {
	Factor    float64 // 10^Slope, the per-iteration contraction
	Slope     float64
	Intercept float64
	RSquared  float64
	Samples   int
	Last      float64 // index of the last sample used
}

// ConvergenceRate fits the residual history. Non-finite and non-positive
// entries are skipped. A positive window restricts the fit to the last
// window entries, which estimates the asymptotic rate.
func ConvergenceRate(history []float64, window int) (Rate, error) {
	start := 0
	if window > 0 && window < len(history) {
		start = len(history) - window
	}

	var xs, ys []float64
	for k := start; k < len(history); k++ {
		r := history[k]
		if r <= 0 || math.IsInf(r, 0) || math.IsNaN(r) {
			continue
		}
		xs = append(xs, float64(k))
		ys = append(ys, math.Log10(r))
	}
	if len(xs) < 2 {
		return Rate{}, ErrInsufficientData
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	r2 := stat.RSquared(xs, ys, nil, alpha, beta)
	if math.IsNaN(r2) {
		// constant series: the fit is exact
		r2 = 1
	}
	return Rate{
		Factor:    math.Pow(10, beta),
		Slope:     beta,
		Intercept: alpha,
		RSquared:  r2,
		Samples:   len(xs),
		Last:      xs[len(xs)-1],
	}, nil
}

// PredictIterations returns how many more iterations past the last fitted
// sample the rate needs to drop below tol, or -1 if it never will.
func PredictIterations(rate Rate, tol float64) int {
	if tol <= 0 || rate.Slope >= 0 {
		return -1
	}
	current := rate.Intercept + rate.Slope*rate.Last
	target := math.Log10(tol)
	if current < target {
		return 0
	}
	return int(math.Ceil((target-current)/rate.Slope - 1e-9))
}

// Oscillation is the fraction of consecutive residual changes that reverse
// direction. Monotone decay scores 0; a residual bouncing every iteration
// scores 1.
func Oscillation(history []float64) float64 {
	var prev float64
	flips, pairs := 0, 0
	for k := 1; k < len(history); k++ {
		d := history[k] - history[k-1]
		if math.IsNaN(d) || math.IsInf(d, 0) || d == 0 {
			continue
		}
		if prev != 0 {
			pairs++
			if (d > 0) != (prev > 0) {
				flips++
			}
		}
		prev = d
	}
	if pairs == 0 {
		return 0
	}
	return float64(flips) / float64(pairs)
}
