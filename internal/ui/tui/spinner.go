package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Spinner wraps bubbles/spinner for the TUI status bar.
type Spinner struct {
	spinner spinner.Model
}

// NewSpinner creates a spinner using the dot animation.
func NewSpinner() Spinner {
	return Spinner{
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
	}
}

func (s Spinner) Init() tea.Cmd {
	return spinner.Tick
}

func (s Spinner) Update(msg tea.Msg) (Spinner, tea.Cmd) {
	var cmd tea.Cmd
	s.spinner, cmd = s.spinner.Update(msg)
	return s, cmd
}

func (s Spinner) View() string {
	return s.spinner.View()
}
