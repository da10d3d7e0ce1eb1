package viz

import (
	"fmt"
	"math"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/couplesim/internal/experiment"
	"github.com/san-kum/couplesim/internal/session"
)

// residualFloor stands in for zero or non-finite residuals on a log axis.
const residualFloor = -16.0

// Log10Series maps residuals onto a log10 axis. +Inf and NaN become the
// series maximum; zero and negatives become residualFloor.
func Log10Series(values []float64) []float64 {
	out := make([]float64, len(values))
	top := residualFloor
	for i, v := range values {
		switch {
		case math.IsNaN(v) || math.IsInf(v, 1):
			out[i] = math.NaN()
		case v <= 0:
			out[i] = residualFloor
		default:
			out[i] = math.Max(math.Log10(v), residualFloor)
			top = math.Max(top, out[i])
		}
	}
	for i := range out {
		if math.IsNaN(out[i]) {
			out[i] = top
		}
	}
	return out
}

// ResidualPlot charts log10 of a residual history. It returns an empty
// string when there is nothing to draw.
func ResidualPlot(history []float64, width, height int, caption string) string {
	if len(history) == 0 {
		return ""
	}
	series := Log10Series(history)
	if len(series) == 1 {
		series = append(series, series[0])
	}
	return asciigraph.Plot(series,
		asciigraph.Width(width),
		asciigraph.Height(height),
		asciigraph.Precision(1),
		asciigraph.Caption(caption),
	)
}

var seriesColors = []asciigraph.AnsiColor{
	asciigraph.Red,
	asciigraph.Green,
	asciigraph.Yellow,
	asciigraph.Blue,
	asciigraph.Magenta,
	asciigraph.Cyan,
}

// ComparePlot overlays the residual histories of several strategy runs.
// Shorter histories are padded with their last value so every series
// spans the same iterations.
func ComparePlot(results []experiment.Result, width, height int) string {
	longest := 0
	for _, r := range results {
		longest = max(longest, len(r.History))
	}
	if longest == 0 {
		return ""
	}
	longest = max(longest, 2)

	series := make([][]float64, 0, len(results))
	colors := make([]asciigraph.AnsiColor, 0, len(results))
	legend := ""
	for i, r := range results {
		if len(r.History) == 0 {
			continue
		}
		s := Log10Series(r.History)
		for len(s) < longest {
			s = append(s, s[len(s)-1])
		}
		color := seriesColors[i%len(seriesColors)]
		series = append(series, s)
		colors = append(colors, color)
		legend += fmt.Sprintf("%s■%s %s  ", color, asciigraph.Default, r.Strategy)
	}

	chart := asciigraph.PlotMany(series,
		asciigraph.Width(width),
		asciigraph.Height(height),
		asciigraph.Precision(1),
		asciigraph.SeriesColors(colors...),
		asciigraph.Caption("log10 residual per iteration"),
	)
	return chart + "\n" + legend
}

// StepTable lists accepted steps.
func StepTable(st Styles, steps []session.StepResult) string {
	rows := make([][]string, 0, len(steps))
	for _, r := range steps {
		rows = append(rows, []string{
			strconv.Itoa(r.Step),
			fmt.Sprintf("%.4g", r.Time),
			fmt.Sprintf("%.4g", r.Dt),
			strconv.Itoa(r.Iterations),
			fmt.Sprintf("%.3e", r.Residual),
			convergedMark(r.Converged),
			strconv.Itoa(r.Retries),
			strconv.Itoa(r.Fallbacks),
		})
	}
	return renderTable(st,
		[]string{"step", "time", "dt", "iter", "residual", "conv", "retry", "fallback"},
		rows)
}

// CompareTable lists one row per strategy run.
func CompareTable(st Styles, results []experiment.Result) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			string(r.Strategy),
			strconv.Itoa(r.Iterations),
			convergedMark(r.Converged),
			fmt.Sprintf("%.3e", r.FinalResidual),
			formatOptional(r.Rate, "%.3f"),
			formatOptional(r.Error, "%.2e"),
			strconv.Itoa(r.Fallbacks),
			r.Elapsed.String(),
		})
	}
	return renderTable(st,
		[]string{"strategy", "iter", "conv", "residual", "rate", "error", "fallback", "time"},
		rows)
}

func renderTable(st Styles, headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(st.Subtle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return st.TableHead
			}
			return st.TableCell
		})
	return t.Render()
}

func convergedMark(ok bool) string {
	if ok {
		return "yes"
	}
	return "NO"
}

func formatOptional(v float64, format string) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf(format, v)
}
