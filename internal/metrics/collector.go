package metrics

import (
	"io"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/san-kum/couplesim/internal/coupling"
	"github.com/san-kum/couplesim/internal/session"
)

const namespace = "couplesim"

// Collector exports accelerator events and step results on its own
// registry. It satisfies both coupling.Observer and session.StepObserver.
type Collector struct {
	registry *prometheus.Registry

	iterations   *prometheus.CounterVec
	degeneracies *prometheus.CounterVec
	stagnations  *prometheus.CounterVec
	steps        *prometheus.CounterVec
	retries      prometheus.Counter
	stepIters    prometheus.Histogram
	stepSize     prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		iterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "accelerator",
				Name:      "iterations_total",
				Help:      "Accelerated coupling iterations.",
			},
			[]string{"strategy"},
		),
		degeneracies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "accelerator",
				Name:      "degeneracy_fallbacks_total",
				Help:      "Iterations that fell back to fixed relaxation.",
			},
			[]string{"strategy"},
		),
		stagnations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "accelerator",
				Name:      "stagnations_total",
				Help:      "Relaxation stagnation events.",
			},
			[]string{"strategy"},
		),
		steps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "steps_total",
				Help:      "Accepted outer time steps.",
			},
			[]string{"converged"},
		),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "retries_total",
			Help:      "Step attempts rewound and retried.",
		}),
		stepIters: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "step_iterations",
			Help:      "Coupling iterations per accepted step.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 9),
		}),
		stepSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "step_size",
			Help:      "Size of the last accepted step.",
		}),
	}
	c.registry.MustRegister(
		c.iterations,
		c.degeneracies,
		c.stagnations,
		c.steps,
		c.retries,
		c.stepIters,
		c.stepSize,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) OnEvent(e coupling.Event) {
	strategy := string(e.Strategy)
	switch e.Kind {
	case coupling.EventIteration:
		c.iterations.WithLabelValues(strategy).Inc()
	case coupling.EventDegeneracy:
		c.degeneracies.WithLabelValues(strategy).Inc()
	case coupling.EventStagnation:
		c.stagnations.WithLabelValues(strategy).Inc()
	}
}

func (c *Collector) OnStep(r session.StepResult) {
	c.steps.WithLabelValues(strconv.FormatBool(r.Converged)).Inc()
	c.retries.Add(float64(r.Retries))
	c.stepIters.Observe(float64(r.Iterations))
	c.stepSize.Set(r.Dt)
}

// WriteText dumps every family in the text exposition format.
func (c *Collector) WriteText(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
