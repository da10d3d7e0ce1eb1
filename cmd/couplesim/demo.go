package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/san-kum/couplesim/internal/config"
	"github.com/san-kum/couplesim/internal/coupling"
	"github.com/san-kum/couplesim/internal/experiment"
	"github.com/san-kum/couplesim/internal/export"
	"github.com/san-kum/couplesim/internal/viz"
)

func compareStrategies(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	var strategies []coupling.Strategy
	for _, name := range args[1:] {
		s, err := coupling.ParseStrategy(name)
		if err != nil {
			return err
		}
		strategies = append(strategies, s)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := experiment.Compare(ctx, cfg.Problem.Name, cfg.Problem.Map, cfg.Convergence, strategies,
		coupling.WithLogger(newLogger()))
	if err != nil {
		return err
	}

	styles := viz.NewStyles(viz.Themes[0])
	fmt.Println(styles.Header.Render(fmt.Sprintf("%s, size %d, tol %g", cfg.Problem.Name, cfg.Problem.Map.Dim, cfg.Convergence.Tolerance)))
	fmt.Println(viz.CompareTable(styles, results))
	fmt.Println()
	fmt.Println(viz.ComparePlot(results, 60, 12))
	if best, ok := experiment.Best(results); ok && best.Converged {
		fmt.Printf("\nfastest: %s (%d iterations)\n", best.Strategy, best.Iterations)
	}

	if pngOut != "" {
		title := fmt.Sprintf("%s: residual per iteration", cfg.Problem.Name)
		if err := export.SaveConvergencePlot(pngOut, title, "iteration", export.ResultSeries(results)...); err != nil {
			return err
		}
		fmt.Printf("plot saved to %s\n", pngOut)
	}
	if jsonOut != "" {
		if err := export.ExportJSON(jsonOut, export.NewCompareReport(cfg.Problem.Name, results)); err != nil {
			return err
		}
		fmt.Printf("report saved to %s\n", jsonOut)
	}
	return nil
}

func sweepParameter(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args[0])
	if err != nil {
		return err
	}
	values := experiment.Linspace(sweepFrom, sweepTo, sweepPoints)
	if sweepParam == "anderson_depth" || sweepParam == "line_search_steps" {
		values = integerValues(values)
	}
	grid, err := experiment.NewGrid([]string{sweepParam}, [][]float64{values})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	best, points, err := grid.Sweep(ctx, cfg.Problem.Name, cfg.Problem.Map, cfg.Convergence)
	if err != nil {
		return err
	}

	fmt.Printf("sweeping %s for %s on %s\n\n", sweepParam, cfg.Convergence.Strategy, cfg.Problem.Name)
	for _, p := range points {
		value := strconv.FormatFloat(p.Params[sweepParam], 'g', 4, 64)
		switch {
		case p.Err != nil:
			fmt.Printf("  %-8s invalid: %v\n", value, p.Err)
		case !p.Result.Converged:
			fmt.Printf("  %-8s %s no convergence in %d\n", value, strings.Repeat("·", 20), p.Result.Iterations)
		default:
			fmt.Printf("  %-8s %s %d\n", value, bar(p.Result.Iterations, cfg.Convergence.MaxIterations, 20), p.Result.Iterations)
		}
	}
	if best.Err == nil && best.Result.Converged {
		fmt.Printf("\nbest %s = %g (%d iterations)\n", sweepParam, best.Params[sweepParam], best.Result.Iterations)
	} else {
		fmt.Println("\nno grid point converged")
	}
	return nil
}

func integerValues(values []float64) []float64 {
	seen := map[float64]bool{}
	var out []float64
	for _, v := range values {
		r := float64(int(v + 0.5))
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

func bar(n, limit, width int) string {
	filled := n * width / max(limit, 1)
	filled = min(max(filled, 0), width)
	return strings.Repeat("█", filled) + strings.Repeat("·", width-filled)
}

func listPresets(cmd *cobra.Command, args []string) error {
	problems := config.ListProblems()
	if len(args) > 0 {
		problems = args[:1]
	}
	for _, problem := range problems {
		presets := config.ListPresets(problem)
		if len(presets) == 0 {
			fmt.Printf("no presets for problem: %s\n", problem)
			continue
		}
		fmt.Printf("presets for %s:\n", problem)
		for _, p := range presets {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	return slices.Sorted(maps.Keys(m))
}
