package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/san-kum/couplesim/internal/analysis"
	"github.com/san-kum/couplesim/internal/export"
	"github.com/san-kum/couplesim/internal/metrics"
	"github.com/san-kum/couplesim/internal/viz"
)

func listRuns(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no checkpoints found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tSTRATEGY\tTYPE\tSTEP\tTIME\tCONVERGED\tSAVED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%g\t%v\t%s\n",
			r.ID, r.ProjectID, r.Strategy, r.CouplingType, r.CurrentStep, r.CurrentTime,
			r.IsConverged, r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	cp, err := st.Load(args[0])
	if err != nil {
		return err
	}
	styles := viz.NewStyles(viz.Themes[0])

	fmt.Println(styles.Header.Render(fmt.Sprintf("session %s", cp.ID)))
	fmt.Printf("project:   %s\n", cp.ProjectID)
	fmt.Printf("coupling:  %s / %s\n", cp.CouplingType, cp.CouplingScheme)
	fmt.Printf("strategy:  %s, stepping %s\n", cp.Config.Convergence.Strategy, cp.Config.TimeStepping.Strategy)
	fmt.Printf("time:      %g after %d steps, next dt %g\n", cp.CurrentTime, cp.CurrentStep, cp.StepSize)
	fmt.Printf("converged: %v\n\n", cp.IsConverged)

	if plot := viz.ResidualPlot(cp.ConvergenceHistory, 60, 10, "log10 residual per coupling iteration"); plot != "" {
		fmt.Println(plot)
		fmt.Println()
	}
	if rate, err := analysis.ConvergenceRate(cp.ConvergenceHistory, 0); err == nil {
		fmt.Printf("fitted contraction %.4f (r2 %.3f over %d iterations), oscillation %.2f\n\n",
			rate.Factor, rate.RSquared, rate.Samples, analysis.Oscillation(cp.ConvergenceHistory))
	}

	steps, err := st.LoadHistory(cp.ID)
	if err != nil {
		steps = cp.Steps
	}
	if len(steps) > 0 {
		fmt.Println(viz.StepTable(styles, steps))
	}
	printMetrics(metrics.Summarize(steps))
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	cp, err := st.Load(args[0])
	if err != nil {
		return err
	}
	out := outPath
	if out == "" {
		out = cp.ID + ".png"
	}
	err = export.SaveConvergencePlot(out,
		fmt.Sprintf("%s (%s)", cp.ProjectID, cp.Config.Convergence.Strategy),
		"coupling iteration",
		export.Series{Name: "residual", Values: cp.ConvergenceHistory},
	)
	if err != nil {
		return err
	}
	fmt.Printf("plot saved to %s\n", out)
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	cp, err := st.Load(args[0])
	if err != nil {
		return err
	}
	report := export.NewRunReport(cp, metrics.Summarize(cp.Steps))
	if outPath == "" {
		return export.WriteJSON(os.Stdout, report)
	}
	if err := export.ExportJSON(outPath, report); err != nil {
		return err
	}
	fmt.Printf("exported to %s\n", outPath)
	return nil
}

func printMetrics(values map[string]float64) {
	for _, name := range sortedKeys(values) {
		fmt.Printf("  %s: %.6g\n", name, values[name])
	}
}
