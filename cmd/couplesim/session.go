package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/san-kum/couplesim/internal/config"
	"github.com/san-kum/couplesim/internal/metrics"
	"github.com/san-kum/couplesim/internal/session"
	"github.com/san-kum/couplesim/internal/storage"
	"github.com/san-kum/couplesim/internal/viz"
)

func problemArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func openStore() (*storage.Store, error) {
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return nil, err
	}
	return st, nil
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, problemArg(args))
	if err != nil {
		return err
	}
	return drive(cfg, nil)
}

func resumeSession(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	cp, err := st.Load(args[0])
	if err != nil {
		return err
	}

	problem := ""
	for _, name := range registry.ListProblems() {
		if name == cp.ProjectID {
			problem = name
		}
	}
	cfg, err := resolveConfig(cmd, problem)
	if err != nil {
		return err
	}
	replaced, err := cfg.ApplyCheckpoint(cp)
	if err != nil {
		return err
	}
	if replaced {
		logger := newLogger()
		logger.Warn().
			Str("session", cp.ID).
			Str("problem", cfg.Problem.Name).
			Msg("problem settings from flags or config ignored, resuming with the checkpointed problem")
	}
	if !cmd.Flags().Changed("time") && cfg.TotalTime <= cp.CurrentTime {
		cfg.TotalTime = cp.CurrentTime + cfg.TotalTime
	}
	if cfg.TotalTime <= cp.CurrentTime {
		return fmt.Errorf("session %s is already at t=%g, nothing to do before t=%g", cp.ID, cp.CurrentTime, cfg.TotalTime)
	}
	return drive(cfg, cp)
}

// drive runs cfg to its total time, optionally restoring from cp first,
// and always leaves a final checkpoint behind.
func drive(cfg *config.Config, cp *session.Checkpoint) error {
	logger := newLogger()
	st, err := openStore()
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	summary := metrics.DefaultSet()
	s, err := registry.NewSession(cfg,
		session.WithLogger(logger),
		session.WithCheckpointer(st),
		session.WithObserver(collector),
		session.WithObserver(summary),
		session.WithAcceleratorObserver(collector),
	)
	if err != nil {
		return err
	}
	if err := s.Initialize(); err != nil {
		return err
	}
	if cp != nil {
		if err := s.Restore(cp); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("running %s (%s, %s) to t=%g...\n", cfg.Problem.Name, cfg.Convergence.Strategy, cfg.TimeStepping.Strategy, cfg.TotalTime)
	steps, runErr := s.Run(ctx, cfg.TotalTime)
	if runErr != nil && s.CurrentStep() > 0 {
		// keep whatever was accepted before the failure
		if err := s.SaveCheckpoint(); err != nil {
			logger.Error().Err(err).Msg("final checkpoint failed")
		}
	} else if runErr == nil && cfg.CheckpointEvery == 0 {
		if err := s.SaveCheckpoint(); err != nil {
			return err
		}
	}

	if len(steps) > 0 {
		fmt.Println(viz.StepTable(viz.NewStyles(viz.Themes[0]), steps))
	}
	fmt.Printf("session id: %s\n", s.ID())
	fmt.Printf("time: %g  steps: %d  fallbacks: %d\n", s.CurrentTime(), s.CurrentStep(), s.Accelerator().TotalFallbacks())
	fmt.Println("\nmetrics:")
	printMetrics(summary.Values())

	if metricsOut != "" {
		if err := writeMetrics(collector, metricsOut); err != nil {
			return err
		}
	}
	if errors.Is(runErr, context.Canceled) {
		fmt.Println("interrupted")
		return nil
	}
	return runErr
}

func writeMetrics(c *metrics.Collector, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.WriteText(f)
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, problemArg(args))
	if err != nil {
		return err
	}
	// the view owns the terminal, so logging is opt-in
	logger := zerolog.Nop()
	if logLevel != "" {
		logger = newLogger()
	}
	s, err := registry.NewSession(cfg, session.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	final, err := tea.NewProgram(viz.NewLive(ctx, s, cfg.Problem.Name, cfg.TotalTime), tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	if live, ok := final.(viz.Live); ok && live.Err() != nil {
		return live.Err()
	}
	return nil
}
