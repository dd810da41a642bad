// Package tui is the Bubble Tea status view shown while "gralph run" drives
// a terminal session: a spinner, a one-line status bar, and an optional log
// browser pane, all fed by the same contracts.Event stream the headless
// writer and the run's event log consume.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/FacuVCanale/gralph/internal/contracts"
)

// Model is the TUI's event-driven view state for one run.
type Model struct {
	taskID            string
	taskTitle         string
	phase             string
	model             string
	progressCompleted int
	progressTotal     int
	lastOutputAt      time.Time
	now               func() time.Time
	spinner           Spinner
	logBrowser        *LogBrowser
	showLogBrowser    bool
	stopRequested     bool
	stopping          bool
	stopCh            chan struct{}
	stopNotified      bool
}

// OutputMsg marks that the running task produced output, resetting the
// staleness clock independent of a full Event.
type OutputMsg struct{}

type stopTickMsg struct{}
type tickMsg struct{}

// NewModel returns a Model with no log browser attached.
func NewModel(now func() time.Time) Model {
	return NewModelWithStop(now, nil)
}

// NewModelWithStop returns a Model that closes stopCh the first time the
// user requests a stop (ctrl-c or 'q'), so the caller's run loop can react.
func NewModelWithStop(now func() time.Time, stopCh chan struct{}) Model {
	if now == nil {
		now = time.Now
	}
	return Model{now: now, stopCh: stopCh, spinner: NewSpinner()}
}

// WithLogBrowser attaches a log browser rooted at logRoot, toggled into
// view with 'l'.
func (m Model) WithLogBrowser(logRoot string) Model {
	browser, err := NewLogBrowser(logRoot)
	if err != nil {
		return m
	}
	m.logBrowser = browser
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Init(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)

	switch typed := msg.(type) {
	case contracts.Event:
		if typed.TaskID != "" {
			m.taskID = typed.TaskID
		}
		if typed.Title != "" {
			m.taskTitle = typed.Title
		}
		m.phase = phaseLabel(typed.Type)
		if model, ok := typed.Metadata["model"]; ok {
			m.model = model
		}
		if completed, total, ok := progressFromMetadata(typed.Metadata); ok {
			m.progressCompleted = completed
			m.progressTotal = total
		}
		m.lastOutputAt = typed.Timestamp
		if typed.Type == contracts.EventTaskDone || typed.Type == contracts.EventTaskFailed {
			m.lastOutputAt = m.now()
		}
	case OutputMsg:
		m.lastOutputAt = m.now()
	case tickMsg:
		return m, tea.Batch(cmd, tickCmd())
	case tea.KeyMsg:
		switch {
		case typed.Type == tea.KeyCtrlC || (typed.Type == tea.KeyRunes && len(typed.Runes) == 1 && typed.Runes[0] == 'q'):
			m.stopRequested = true
			m.stopping = true
			if m.stopCh != nil && !m.stopNotified {
				m.stopNotified = true
				select {
				case <-m.stopCh:
				default:
					close(m.stopCh)
				}
			}
			return m, func() tea.Msg { return stopTickMsg{} }
		case typed.Type == tea.KeyRunes && len(typed.Runes) == 1 && typed.Runes[0] == 'l' && m.logBrowser != nil:
			m.showLogBrowser = !m.showLogBrowser
		case m.showLogBrowser && typed.Type == tea.KeyDown:
			m.logBrowser.NextTask()
		case m.showLogBrowser && typed.Type == tea.KeyUp:
			m.logBrowser.PrevTask()
		case m.showLogBrowser && typed.Type == tea.KeyRight:
			m.logBrowser.NextLogFile()
		case m.showLogBrowser && typed.Type == tea.KeyLeft:
			m.logBrowser.PrevLogFile()
		}
	case stopTickMsg:
		m.stopRequested = true
		m.stopping = true
	}
	return m, cmd
}

func progressFromMetadata(metadata map[string]string) (completed, total int, ok bool) {
	if metadata == nil {
		return 0, 0, false
	}
	rawCompleted, hasCompleted := metadata["progressCompleted"]
	rawTotal, hasTotal := metadata["progressTotal"]
	if !hasCompleted || !hasTotal {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(rawCompleted, "%d", &completed); err != nil {
		return 0, 0, false
	}
	if _, err := fmt.Sscanf(rawTotal, "%d", &total); err != nil {
		return 0, 0, false
	}
	return completed, total, true
}

func phaseLabel(eventType contracts.EventType) string {
	switch eventType {
	case contracts.EventTaskStarted:
		return "starting task"
	case contracts.EventTaskDone:
		return "task done"
	case contracts.EventTaskFailed:
		return "task failed"
	case contracts.EventMutexWait:
		return "waiting on mutex"
	case contracts.EventMutexAcquired:
		return "mutex acquired"
	case contracts.EventRunnerProgress:
		return "agent running"
	case contracts.EventRunnerOutput:
		return "agent output"
	case contracts.EventGitCommit:
		return "committing changes"
	case contracts.EventMergeAttempt:
		return "merging"
	case contracts.EventMergeConflict:
		return "resolving merge conflict"
	case contracts.EventMergeResolved:
		return "merge resolved"
	case contracts.EventWorktreePreserved:
		return "worktree preserved"
	default:
		return string(eventType)
	}
}

func (m Model) View() string {
	if m.showLogBrowser && m.logBrowser != nil {
		return m.logBrowser.View() + "\nl: back to status, q: stop runner\n"
	}

	spinnerChar := m.spinner.View()
	age := m.lastOutputAge()

	var parts []string
	if m.taskID != "" || m.taskTitle != "" {
		parts = append(parts, fmt.Sprintf("%s %s - %s", spinnerChar, m.taskID, m.taskTitle))
	}

	statusBarParts := []string{spinnerChar}
	if m.progressTotal > 0 {
		statusBarParts = append(statusBarParts, fmt.Sprintf("[%d/%d]", m.progressCompleted, m.progressTotal))
	}
	if m.phase != "" {
		statusBarParts = append(statusBarParts, m.phase)
	}
	if m.taskID != "" {
		statusBarParts = append(statusBarParts, m.taskID)
	}
	if m.model != "" {
		statusBarParts = append(statusBarParts, fmt.Sprintf("[%s]", m.model))
	}
	statusBarParts = append(statusBarParts, fmt.Sprintf("(%s)", age))
	parts = append(parts, strings.Join(statusBarParts, " "))

	if m.stopping {
		parts = append(parts, "Stopping...")
	}

	hint := "q: stop runner"
	if m.logBrowser != nil {
		hint = "l: logs, " + hint
	}
	parts = append(parts, hint)

	return strings.Join(parts, "\n") + "\n"
}

func (m Model) lastOutputAge() string {
	if m.lastOutputAt.IsZero() {
		return "n/a"
	}
	age := m.now().Sub(m.lastOutputAt).Round(time.Second)
	return fmt.Sprintf("%ds", int(age.Seconds()))
}

func (m Model) StopRequested() bool {
	return m.stopRequested
}

func (m Model) StopChannel() chan struct{} {
	return m.stopCh
}
