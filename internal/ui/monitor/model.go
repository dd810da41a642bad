// Package monitor tracks the running Coordinator's event stream into a
// small in-memory model the TUI's status pane renders from, so the pane
// never has to re-derive current-task/phase/history from the raw JSON-lines
// event log on every frame.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/FacuVCanale/gralph/internal/contracts"
)

const historyLimit = 10

// Model is the monitor's mutable view of one run, updated by Apply as
// events arrive.
type Model struct {
	now func() time.Time

	currentTaskID string
	phase         contracts.EventType
	lastOutputAt  time.Time
	history       []string
}

// NewModel returns an empty Model. now is normally time.Now; tests supply a
// fixed clock.
func NewModel(now func() time.Time) *Model {
	if now == nil {
		now = time.Now
	}
	return &Model{now: now}
}

// Apply folds one event into the model.
func (m *Model) Apply(event contracts.Event) {
	if event.TaskID != "" {
		m.currentTaskID = event.TaskID
	}
	m.phase = event.Type
	if !event.Timestamp.IsZero() {
		m.lastOutputAt = event.Timestamp
	}
	if event.Message != "" {
		m.history = append(m.history, event.Message)
		if len(m.history) > historyLimit {
			m.history = m.history[len(m.history)-historyLimit:]
		}
	}
}

// View renders the current model as plain text lines for the TUI's status
// pane.
func (m *Model) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current Task: %s\n", m.currentTaskID)
	fmt.Fprintf(&b, "Phase: %s\n", m.phase)

	age := "n/a"
	if !m.lastOutputAt.IsZero() {
		elapsed := m.now().Sub(m.lastOutputAt)
		if elapsed < 0 {
			elapsed = 0
		}
		age = fmt.Sprintf("%ds", int64(elapsed.Seconds()))
	}
	fmt.Fprintf(&b, "Last Output Age: %s\n", age)

	for _, line := range m.history {
		fmt.Fprintln(&b, line)
	}
	return b.String()
}
