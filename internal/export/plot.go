// Package export writes coupling runs to files: semilog convergence plots
// and JSON reports.
package export

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/san-kum/couplesim/internal/experiment"
	"github.com/san-kum/couplesim/internal/session"
)

const (
	PlotWidth  = 8 * vg.Inch
	PlotHeight = 5 * vg.Inch
)

// Series is one named residual curve, indexed by iteration or step.
type Series struct {
	Name   string
	Values []float64
}

// ResultSeries turns strategy runs into one curve per strategy.
func ResultSeries(results []experiment.Result) []Series {
	out := make([]Series, 0, len(results))
	for _, r := range results {
		out = append(out, Series{Name: string(r.Strategy), Values: r.History})
	}
	return out
}

// StepSeries is the final residual of every accepted step.
func StepSeries(name string, steps []session.StepResult) Series {
	values := make([]float64, len(steps))
	for i, r := range steps {
		values[i] = r.Residual
	}
	return Series{Name: name, Values: values}
}

// points keeps the strictly positive finite values, the only ones a log
// axis can place. X is the 1-based position in the original series.
func points(values []float64) plotter.XYs {
	xys := make(plotter.XYs, 0, len(values))
	for i, v := range values {
		if v > 0 && !math.IsInf(v, 1) {
			xys = append(xys, plotter.XY{X: float64(i + 1), Y: v})
		}
	}
	return xys
}

// ConvergencePlot draws every series on a log10 residual axis. Series
// with no plottable values are skipped.
func ConvergencePlot(title, xLabel string, series ...Series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "residual"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Add(plotter.NewGrid())

	var lines []any
	for _, s := range series {
		xys := points(s.Values)
		if len(xys) == 0 {
			continue
		}
		lines = append(lines, s.Name, xys)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("export: nothing to plot")
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return p, nil
}

// SaveConvergencePlot writes the plot to path; the extension picks the
// image format (png, svg, pdf, ...).
func SaveConvergencePlot(path, title, xLabel string, series ...Series) error {
	p, err := ConvergencePlot(title, xLabel, series...)
	if err != nil {
		return err
	}
	return p.Save(PlotWidth, PlotHeight, path)
}

// WriteConvergencePlot renders the plot in the given format to w.
func WriteConvergencePlot(w io.Writer, format, title, xLabel string, series ...Series) error {
	p, err := ConvergencePlot(title, xLabel, series...)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(PlotWidth, PlotHeight, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
