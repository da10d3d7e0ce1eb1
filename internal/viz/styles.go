package viz

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles are the lipgloss styles derived from one Theme.
type Styles struct {
	Header    lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Subtle    lipgloss.Style
	Good      lipgloss.Style
	Warn      lipgloss.Style
	Bad       lipgloss.Style
	Graph     lipgloss.Style
	Panel     lipgloss.Style
	Help      lipgloss.Style
	TableHead lipgloss.Style
	TableCell lipgloss.Style
}

func NewStyles(t Theme) Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(t.Accent).
			MarginBottom(1),
		Label:  lipgloss.NewStyle().Foreground(t.Muted).Width(14),
		Value:  lipgloss.NewStyle().Foreground(t.Text),
		Subtle: lipgloss.NewStyle().Foreground(t.Muted),
		Good:   lipgloss.NewStyle().Bold(true).Foreground(t.Good),
		Warn:   lipgloss.NewStyle().Bold(true).Foreground(t.Warn),
		Bad:    lipgloss.NewStyle().Bold(true).Foreground(t.Bad),
		Graph:  lipgloss.NewStyle().Foreground(t.Accent).Padding(1, 0),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(t.Muted).
			Padding(0, 1),
		Help:      lipgloss.NewStyle().Foreground(t.Muted).Italic(true).MarginTop(1),
		TableHead: lipgloss.NewStyle().Bold(true).Foreground(t.Accent).Padding(0, 1),
		TableCell: lipgloss.NewStyle().Foreground(t.Text).Padding(0, 1),
	}
}

// ProgressBar renders a fraction in [0, 1] as a bar of the given width.
func (s Styles) ProgressBar(fraction float64, width int) string {
	if math.IsNaN(fraction) {
		fraction = 0
	}
	filled := int(math.Round(fraction * float64(width)))
	filled = max(0, min(filled, width))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	switch {
	case fraction >= 1:
		return s.Good.Render(bar)
	case fraction > 0.4:
		return s.Value.Render(bar)
	default:
		return s.Subtle.Render(bar)
	}
}

var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline renders the last width values as block characters scaled
// between their min and max.
func Sparkline(values []float64, width int) string {
	if width <= 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	if len(values) == 0 {
		return strings.Repeat("─", width)
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	span := hi - lo
	if !(span > 0) {
		span = 1
	}

	var b strings.Builder
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			b.WriteRune('?')
			continue
		}
		idx := int(math.Round((v - lo) / span * float64(len(sparkChars)-1)))
		b.WriteRune(sparkChars[max(0, min(idx, len(sparkChars)-1))])
	}
	return b.String()
}
