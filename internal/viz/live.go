package viz

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/couplesim/internal/session"
)

const (
	tickInterval = time.Second / 10
	recentSteps  = 8
	graphWidth   = 48
	graphHeight  = 8
)

type tickMsg time.Time

// stepMsg carries the outcome of one session step back to Update.
type stepMsg struct {
	result session.StepResult
	err    error
}

// Live advances a session one outer step per tick until totalTime.
type Live struct {
	ctx       context.Context
	sess      *session.Session
	problem   string
	totalTime float64

	theme   Theme
	styles  Styles
	running bool
	busy    bool
	done    bool
	err     error
	steps   []session.StepResult
}

func NewLive(ctx context.Context, s *session.Session, problem string, totalTime float64) Live {
	return Live{
		ctx:       ctx,
		sess:      s,
		problem:   problem,
		totalTime: totalTime,
		theme:     Themes[0],
		styles:    NewStyles(Themes[0]),
		running:   true,
	}
}

func (m Live) Init() tea.Cmd { return tick() }

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// stepCmd solves the next step off the UI goroutine, clipping it to land
// on totalTime.
func (m Live) stepCmd() tea.Cmd {
	s, ctx, total := m.sess, m.ctx, m.totalTime
	return func() tea.Msg {
		if err := s.Initialize(); err != nil {
			return stepMsg{err: err}
		}
		dt := math.Min(s.Stepper().CurrentStep(), total-s.CurrentTime())
		r, err := s.StepBy(ctx, dt)
		return stepMsg{result: r, err: err}
	}
}

func (m Live) finished() bool {
	eps := 1e-9 * math.Max(1, math.Abs(m.totalTime))
	return m.totalTime-m.sess.CurrentTime() <= eps
}

func (m Live) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ", "space":
			m.running = !m.running
		case "n":
			if !m.running && !m.busy && !m.done {
				m.busy = true
				return m, m.stepCmd()
			}
		case "t":
			m.theme = NextTheme(m.theme)
			m.styles = NewStyles(m.theme)
		}
	case tickMsg:
		if m.running && !m.busy && !m.done {
			m.busy = true
			return m, tea.Batch(m.stepCmd(), tick())
		}
		return m, tick()
	case stepMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			m.done = true
			return m, nil
		}
		m.steps = append(m.steps, msg.result)
		if m.finished() {
			m.done = true
		}
	}
	return m, nil
}

func (m Live) View() string {
	st := m.styles
	cfg := m.sess.Config()
	var b strings.Builder

	b.WriteString(st.Header.Render(fmt.Sprintf("COUPLESIM  %s  %s", strings.ToUpper(m.problem), cfg.Convergence.Strategy)) + "\n")
	b.WriteString(m.status() + "\n\n")

	fraction := 1.0
	if m.totalTime > 0 {
		fraction = m.sess.CurrentTime() / m.totalTime
	}
	b.WriteString(st.ProgressBar(fraction, 40) + fmt.Sprintf(" %.3g / %.3g\n\n", m.sess.CurrentTime(), m.totalTime))

	if len(m.steps) > 0 {
		residuals := make([]float64, len(m.steps))
		iterations := make([]float64, len(m.steps))
		for i, r := range m.steps {
			residuals[i] = r.Residual
			iterations[i] = float64(r.Iterations)
		}
		chart := ResidualPlot(residuals, graphWidth, graphHeight, "log10 residual per step")
		b.WriteString(st.Graph.Render(chart) + "\n")
		b.WriteString(st.Label.Render("iterations") + st.Value.Render(Sparkline(iterations, graphWidth)) + "\n")
	}

	stepper := m.sess.Stepper().Status()
	acc := m.sess.Accelerator()
	b.WriteString(st.Label.Render("step") + st.Value.Render(fmt.Sprintf("%d", m.sess.CurrentStep())) + "\n")
	b.WriteString(st.Label.Render("next dt") + st.Value.Render(fmt.Sprintf("%.4g (%s)", stepper.CurrentStep, stepper.Strategy)) + "\n")
	b.WriteString(st.Label.Render("fallbacks") + st.Value.Render(fmt.Sprintf("%d", acc.TotalFallbacks())) + "\n\n")

	recent := m.steps
	if len(recent) > recentSteps {
		recent = recent[len(recent)-recentSteps:]
	}
	if len(recent) > 0 {
		b.WriteString(StepTable(st, recent) + "\n")
	}

	b.WriteString(st.Help.Render("SP:Pause N:Step T:Theme Q:Quit"))
	return lipgloss.NewStyle().Padding(1, 2).Render(b.String())
}

func (m Live) status() string {
	st := m.styles
	switch {
	case m.err != nil:
		return st.Bad.Render("FAILED: " + m.err.Error())
	case m.done:
		return st.Good.Render("DONE")
	case !m.running:
		return st.Warn.Render("PAUSED")
	case len(m.steps) > 0 && !m.steps[len(m.steps)-1].Converged:
		return st.Warn.Render("RUNNING (last step did not converge)")
	default:
		return st.Good.Render("RUNNING")
	}
}

// Err reports the error that stopped the run, if any.
func (m Live) Err() error { return m.err }

func (m Live) Steps() []session.StepResult { return m.steps }
