package stepping_test

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/couplesim/internal/coupling"
	"github.com/san-kum/couplesim/internal/stepping"
)

func newStepper(strategy stepping.Strategy, mutate ...func(*stepping.Params)) *stepping.Stepper {
	p := stepping.DefaultParams()
	p.Strategy = strategy
	for _, m := range mutate {
		m(&p)
	}
	s, err := stepping.New(p)
	Expect(err).NotTo(HaveOccurred())
	return s
}

var _ = Describe("Params", func() {
	DescribeTable("rejects invalid hyperparameters",
		func(field string, mutate func(*stepping.Params)) {
			p := stepping.DefaultParams()
			mutate(&p)
			_, err := stepping.New(p)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, coupling.ErrConfiguration)).To(BeTrue())

			var cfgErr *coupling.ConfigError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
			Expect(cfgErr.Field).To(Equal(field))
		},
		Entry("unknown strategy", "time_stepping.strategy", func(p *stepping.Params) { p.Strategy = "pid" }),
		Entry("min equals max", "min_step", func(p *stepping.Params) { p.MinStep, p.MaxStep = 1, 1 }),
		Entry("min above max", "min_step", func(p *stepping.Params) { p.MinStep, p.MaxStep = 5, 1 }),
		Entry("zero min", "min_step", func(p *stepping.Params) { p.MinStep = 0 }),
		Entry("initial outside range", "initial_step", func(p *stepping.Params) { p.InitialStep = 50 }),
		Entry("zero target", "target_iterations", func(p *stepping.Params) { p.TargetIterations = 0 }),
		Entry("shrinking increase", "increase_factor", func(p *stepping.Params) { p.IncreaseFactor = 0.9 }),
		Entry("growing decrease", "decrease_factor", func(p *stepping.Params) { p.DecreaseFactor = 1.5 }),
		Entry("zero threshold", "error_threshold", func(p *stepping.Params) { p.ErrorThreshold = 0 }),
		Entry("empty window", "iteration_window", func(p *stepping.Params) { p.IterationWindow = 0 }),
	)

	It("accepts the defaults", func() {
		Expect(stepping.DefaultParams().Validate()).To(Succeed())
	})
})

var _ = Describe("Stepper", func() {
	It("returns initial_step when nothing has been observed", func() {
		for _, strategy := range stepping.Strategies() {
			s := newStepper(strategy)
			Expect(s.NextStep(stepping.Observation{})).To(Equal(stepping.DefaultInitialStep), string(strategy))
		}
	})

	It("always proposes initial_step under the fixed strategy", func() {
		s := newStepper(stepping.Fixed)
		Expect(s.NextStep(stepping.Observe(1, 0))).To(Equal(1.0))
		Expect(s.NextStep(stepping.Observe(50, 1))).To(Equal(1.0))
	})

	Describe("adaptive_error", func() {
		It("grows below half the threshold", func() {
			s := newStepper(stepping.AdaptiveError)
			Expect(s.NextStep(stepping.ObserveError(1e-5))).To(BeNumerically("~", 1.2, 1e-12))
		})

		It("shrinks above the threshold", func() {
			s := newStepper(stepping.AdaptiveError)
			Expect(s.NextStep(stepping.ObserveError(1e-2))).To(BeNumerically("~", 0.5, 1e-12))
		})

		It("keeps the step inside the dead band", func() {
			s := newStepper(stepping.AdaptiveError)
			Expect(s.NextStep(stepping.ObserveError(7e-4))).To(Equal(1.0))
		})

		It("treats a non-finite error as a failure", func() {
			s := newStepper(stepping.AdaptiveError)
			Expect(s.NextStep(stepping.ObserveError(math.NaN()))).To(BeNumerically("~", 0.5, 1e-12))
		})

		It("never exceeds max_step", func() {
			s := newStepper(stepping.AdaptiveError)
			for i := 0; i < 40; i++ {
				s.NextStep(stepping.ObserveError(0))
			}
			Expect(s.CurrentStep()).To(Equal(stepping.DefaultMaxStep))
		})
	})

	Describe("adaptive_iterations", func() {
		DescribeTable("reacts to the iteration count",
			func(iterations int, want float64) {
				s := newStepper(stepping.AdaptiveIterations)
				Expect(s.NextStep(stepping.ObserveIterations(iterations))).To(BeNumerically("~", want, 1e-12))
			},
			Entry("easy step grows", 3, 1.2),
			Entry("near target holds", 5, 1.0),
			Entry("just inside band holds", 6, 1.0),
			Entry("hard step shrinks", 7, 0.5),
		)

		It("never drops below min_step", func() {
			s := newStepper(stepping.AdaptiveIterations)
			for i := 0; i < 40; i++ {
				s.NextStep(stepping.ObserveIterations(100))
			}
			Expect(s.CurrentStep()).To(Equal(stepping.DefaultMinStep))
		})
	})

	Describe("adaptive_combined", func() {
		It("leaves the step alone when the iteration ratio is one and the error is at threshold", func() {
			s := newStepper(stepping.AdaptiveCombined)
			Expect(s.NextStep(stepping.Observe(5, 1e-3))).To(BeNumerically("~", 1.0, 1e-12))
		})

		It("is invariant to scaling target and iterations together", func() {
			a := newStepper(stepping.AdaptiveCombined)
			b := newStepper(stepping.AdaptiveCombined, func(p *stepping.Params) { p.TargetIterations = 10 })

			Expect(a.NextStep(stepping.Observe(5, 7e-4))).
				To(BeNumerically("~", b.NextStep(stepping.Observe(10, 7e-4)), 1e-12))
		})

		It("clamps the multiplier to the increase and decrease factors", func() {
			up := newStepper(stepping.AdaptiveCombined)
			Expect(up.NextStep(stepping.Observe(1, 0))).To(BeNumerically("~", 1.2, 1e-12))

			down := newStepper(stepping.AdaptiveCombined)
			Expect(down.NextStep(stepping.Observe(100, math.Inf(1)))).To(BeNumerically("~", 0.5, 1e-12))
		})

		It("uses a neutral factor for a missing input", func() {
			s := newStepper(stepping.AdaptiveCombined)
			// iter factor 5/4, error factor absent: sqrt(1.25)
			Expect(s.NextStep(stepping.ObserveIterations(4))).To(BeNumerically("~", math.Sqrt(1.25), 1e-12))
		})
	})

	It("stays in [min_step, max_step] for degenerate inputs", func() {
		inputs := []stepping.Observation{
			stepping.Observe(0, 0),
			stepping.Observe(0, math.Inf(1)),
			stepping.Observe(-3, -1),
			stepping.Observe(1<<20, math.NaN()),
			stepping.ObserveError(math.Inf(-1)),
			stepping.ObserveIterations(0),
		}
		for _, strategy := range stepping.Strategies() {
			s := newStepper(strategy)
			for i := 0; i < 50; i++ {
				step := s.NextStep(inputs[i%len(inputs)])
				Expect(step).To(BeNumerically(">=", stepping.DefaultMinStep), string(strategy))
				Expect(step).To(BeNumerically("<=", stepping.DefaultMaxStep), string(strategy))
			}
		}
	})

	It("advances time without proposing", func() {
		s := newStepper(stepping.AdaptiveIterations)
		s.NextStep(stepping.ObserveIterations(2))
		s.AdvanceTime()
		s.AdvanceTimeBy(0.25)
		s.AdvanceTimeBy(-1)

		Expect(s.CurrentTime()).To(BeNumerically("~", 1.2+0.25+1.2, 1e-12))
		Expect(s.TotalSteps()).To(Equal(3))
		Expect(s.StepHistory()).To(HaveLen(3))
		Expect(s.CurrentStep()).To(BeNumerically("~", 1.2, 1e-12))
	})

	It("bounds the observation history by iteration_window", func() {
		s := newStepper(stepping.AdaptiveCombined, func(p *stepping.Params) { p.IterationWindow = 3 })
		for i := 1; i <= 7; i++ {
			s.NextStep(stepping.Observe(i, float64(i)*1e-4))
		}
		Expect(s.IterationHistory()).To(Equal([]int{5, 6, 7}))
		Expect(s.ErrorHistory()).To(HaveLen(3))

		st := s.Status()
		Expect(st.LastIterations).To(Equal(7))
		Expect(st.LastError).To(BeNumerically("~", 7e-4, 1e-15))
	})

	It("proposes from an arbitrary step without recording anything", func() {
		s := newStepper(stepping.AdaptiveIterations)

		Expect(s.Propose(0.25, stepping.ObserveIterations(2))).To(BeNumerically("~", 0.3, 1e-12))
		Expect(s.Propose(0.25, stepping.ObserveIterations(9))).To(BeNumerically("~", 0.125, 1e-12))
		Expect(s.Propose(0.05, stepping.ObserveIterations(9))).To(Equal(stepping.DefaultMinStep))
		Expect(s.Propose(0.25, stepping.Observation{})).To(Equal(stepping.DefaultInitialStep))

		Expect(s.IterationHistory()).To(BeEmpty())
		Expect(s.CurrentStep()).To(Equal(stepping.DefaultInitialStep))
	})

	It("adapts from a step set by the driver", func() {
		s := newStepper(stepping.AdaptiveIterations)
		s.SetStep(0.25)
		Expect(s.CurrentStep()).To(Equal(0.25))
		Expect(s.NextStep(stepping.ObserveIterations(5))).To(Equal(0.25))

		s.SetStep(0.01)
		Expect(s.CurrentStep()).To(Equal(stepping.DefaultMinStep))
		s.SetStep(math.Inf(1))
		Expect(s.CurrentStep()).To(Equal(stepping.DefaultMinStep))
	})

	It("resets and resumes bookkeeping", func() {
		s := newStepper(stepping.AdaptiveIterations)
		s.NextStep(stepping.ObserveIterations(1))
		s.AdvanceTime()

		s.Reset()
		Expect(s.Status()).To(Equal(stepping.Status{
			Strategy:    stepping.AdaptiveIterations,
			CurrentStep: stepping.DefaultInitialStep,
		}))

		s.Resume(12.5, 9, 42)
		Expect(s.CurrentTime()).To(Equal(12.5))
		Expect(s.TotalSteps()).To(Equal(9))
		Expect(s.CurrentStep()).To(Equal(stepping.DefaultMaxStep))
		Expect(s.IterationHistory()).To(BeEmpty())
	})
})
