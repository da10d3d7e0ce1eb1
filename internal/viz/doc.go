// Package viz renders coupling runs in the terminal.
//
//   - [ResidualPlot] and [ComparePlot]: asciigraph charts of log10 residuals
//   - [StepTable] and [CompareTable]: lipgloss tables of step and strategy results
//   - [Live]: a Bubble Tea view that advances a session step by step
//
// # Key Bindings
//
//	Space - Pause/Resume stepping
//	N     - Single step while paused
//	T     - Cycle color themes
//	Q     - Quit
package viz
