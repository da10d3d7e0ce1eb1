package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/san-kum/couplesim/internal/config"
	"github.com/san-kum/couplesim/internal/coupling"
	"github.com/san-kum/couplesim/internal/experiment"
	"github.com/san-kum/couplesim/internal/logging"
	"github.com/san-kum/couplesim/internal/stepping"
)

var (
	dataDir  string
	logLevel string

	configFile string
	preset     string
	projectID  string

	strategy      string
	relaxation    float64
	tolerance     float64
	maxIterations int
	andersonDepth int
	residualNorm  string
	criterion     string

	totalTime    float64
	initialStep  float64
	stepStrategy string
	policy       string
	couplingType string

	problemSize int
	seed        int64

	metricsOut string
	outPath    string
	pngOut     string
	jsonOut    string

	sweepParam  string
	sweepFrom   float64
	sweepTo     float64
	sweepPoints int
)

var registry = experiment.NewRegistry()

func main() {
	rootCmd := &cobra.Command{
		Use:           "couplesim",
		Short:         "partitioned coupling convergence lab",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".couplesim", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace|debug|info|warn|error|disabled)")

	runCmd := &cobra.Command{
		Use:   "run [problem]",
		Short: "run a coupled session and checkpoint it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSession,
	}
	addSessionFlags(runCmd)
	runCmd.Flags().StringVar(&metricsOut, "metrics-out", "", "write prometheus metrics to this file")

	resumeCmd := &cobra.Command{
		Use:   "resume [id]",
		Short: "continue a checkpointed session",
		Args:  cobra.ExactArgs(1),
		RunE:  resumeSession,
	}
	addSessionFlags(resumeCmd)
	resumeCmd.Flags().StringVar(&metricsOut, "metrics-out", "", "write prometheus metrics to this file")

	liveCmd := &cobra.Command{
		Use:   "live [problem]",
		Short: "step a coupled session in the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	addSessionFlags(liveCmd)

	compareCmd := &cobra.Command{
		Use:   "compare [problem] [strategy...]",
		Short: "compare acceleration strategies on a fixed-point problem",
		Args:  cobra.MinimumNArgs(1),
		RunE:  compareStrategies,
	}
	addSessionFlags(compareCmd)
	compareCmd.Flags().StringVar(&pngOut, "png", "", "save a convergence plot")
	compareCmd.Flags().StringVar(&jsonOut, "json", "", "save a JSON report")

	sweepCmd := &cobra.Command{
		Use:   "sweep [problem]",
		Short: "grid search one convergence parameter",
		Args:  cobra.ExactArgs(1),
		RunE:  sweepParameter,
	}
	addSessionFlags(sweepCmd)
	sweepCmd.Flags().StringVar(&sweepParam, "param", "relaxation_factor", "parameter to sweep")
	sweepCmd.Flags().Float64Var(&sweepFrom, "from", 0.1, "first value")
	sweepCmd.Flags().Float64Var(&sweepTo, "to", 1.0, "last value")
	sweepCmd.Flags().IntVar(&sweepPoints, "points", 10, "number of values")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list checkpointed sessions",
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [id]",
		Short: "show a checkpointed session",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [id]",
		Short: "plot the residual history of a session",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&outPath, "out", "", "output image (default <id>.png)")

	exportCmd := &cobra.Command{
		Use:   "export [id]",
		Short: "export a session report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVar(&outPath, "out", "", "output file (default stdout)")

	presetsCmd := &cobra.Command{
		Use:   "presets [problem]",
		Short: "list presets",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listPresets,
	}

	problemsCmd := &cobra.Command{
		Use:   "problems",
		Short: "list problems and strategies",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("problems:")
			for _, p := range registry.ListProblems() {
				fmt.Printf("  %s\n", p)
			}
			fmt.Println("acceleration strategies:")
			for _, s := range coupling.Strategies() {
				fmt.Printf("  %s\n", s)
			}
			fmt.Println("time stepping strategies:")
			for _, s := range stepping.Strategies() {
				fmt.Printf("  %s\n", s)
			}
		},
	}

	initCmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "write a configuration file (.yaml or .toml)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, "")
			if err != nil {
				return err
			}
			if err := config.Save(args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	}
	addSessionFlags(initCmd)

	rootCmd.AddCommand(runCmd, resumeCmd, liveCmd, compareCmd, sweepCmd, listCmd, showCmd, plotCmd, exportCmd, presetsCmd, problemsCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func addSessionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "config file (.yaml, .yml or .toml)")
	f.StringVar(&preset, "preset", "", "start from a preset")
	f.StringVar(&projectID, "project", "", "project id")
	f.StringVar(&strategy, "strategy", string(coupling.FixedRelaxation), "acceleration strategy")
	f.Float64Var(&relaxation, "relaxation", coupling.DefaultRelaxationFactor, "relaxation factor")
	f.Float64Var(&tolerance, "tol", coupling.DefaultTolerance, "convergence tolerance")
	f.IntVar(&maxIterations, "max-iter", coupling.DefaultMaxIterations, "coupling iterations per step")
	f.IntVar(&andersonDepth, "anderson-depth", coupling.DefaultAndersonDepth, "anderson window")
	f.StringVar(&residualNorm, "norm", coupling.NormRelativeL2, "residual norm")
	f.StringVar(&criterion, "criterion", "pressure", "field that must settle (pressure|displacement|combined)")
	f.Float64Var(&totalTime, "time", config.DefaultTotalTime, "total simulated time")
	f.Float64Var(&initialStep, "dt", stepping.DefaultInitialStep, "initial step size")
	f.StringVar(&stepStrategy, "stepping", string(stepping.AdaptiveIterations), "time stepping strategy")
	f.StringVar(&policy, "on-diverge", "accept", "non-convergence policy (accept|abort|retry)")
	f.StringVar(&couplingType, "coupling", "staggered", "coupling type (staggered|one_way)")
	f.IntVar(&problemSize, "size", 20, "problem size")
	f.Int64Var(&seed, "seed", 42, "random seed for noisy problems")
}

func newLogger() zerolog.Logger {
	logger := logging.New(logging.ProfileRuntime, os.Stderr)
	if lvl, ok := logging.ParseLevel(logLevel); ok {
		logger = logger.Level(lvl)
	}
	return logger
}
