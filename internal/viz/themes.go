package viz

import "github.com/charmbracelet/lipgloss"

// Theme is the palette every style in this package is built from.
type Theme struct {
	Name   string
	Accent lipgloss.Color
	Text   lipgloss.Color
	Muted  lipgloss.Color
	Good   lipgloss.Color
	Warn   lipgloss.Color
	Bad    lipgloss.Color
}

var (
	ThemeTerminal = Theme{
		Name:   "terminal",
		Accent: lipgloss.Color("86"),
		Text:   lipgloss.Color("252"),
		Muted:  lipgloss.Color("245"),
		Good:   lipgloss.Color("42"),
		Warn:   lipgloss.Color("214"),
		Bad:    lipgloss.Color("196"),
	}

	ThemeOcean = Theme{
		Name:   "ocean",
		Accent: lipgloss.Color("#00a8cc"),
		Text:   lipgloss.Color("#e0f0ff"),
		Muted:  lipgloss.Color("#4488aa"),
		Good:   lipgloss.Color("#00ff88"),
		Warn:   lipgloss.Color("#ffcc00"),
		Bad:    lipgloss.Color("#ff4444"),
	}

	ThemeMono = Theme{
		Name:   "mono",
		Accent: lipgloss.Color("#ffffff"),
		Text:   lipgloss.Color("#cccccc"),
		Muted:  lipgloss.Color("#888888"),
		Good:   lipgloss.Color("#ffffff"),
		Warn:   lipgloss.Color("#cccccc"),
		Bad:    lipgloss.Color("#888888"),
	}

	Themes = []Theme{ThemeTerminal, ThemeOcean, ThemeMono}
)

// GetTheme returns the named theme, or the first one for unknown names.
func GetTheme(name string) Theme {
	for _, t := range Themes {
		if t.Name == name {
			return t
		}
	}
	return Themes[0]
}

func ThemeNames() []string {
	names := make([]string, len(Themes))
	for i, t := range Themes {
		names[i] = t.Name
	}
	return names
}

// NextTheme cycles through Themes.
func NextTheme(current Theme) Theme {
	for i, t := range Themes {
		if t.Name == current.Name {
			return Themes[(i+1)%len(Themes)]
		}
	}
	return Themes[0]
}
