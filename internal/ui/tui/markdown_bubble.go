package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// MarkdownBubble renders markdown content with glamour, used for the
// decision-log and merge-conflict notes shown inside the log browser pane.
type MarkdownBubble struct {
	content string
	width   int
}

// NewMarkdownBubble creates an empty markdown bubble at the default width.
func NewMarkdownBubble() MarkdownBubble {
	return MarkdownBubble{width: 80}
}

func (m MarkdownBubble) Init() tea.Cmd {
	return nil
}

// SetMarkdownContentMsg replaces the bubble's rendered content.
type SetMarkdownContentMsg struct {
	Content string
}

func (m MarkdownBubble) Update(msg tea.Msg) (MarkdownBubble, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
	case SetMarkdownContentMsg:
		m.content = typed.Content
	}
	return m, nil
}

func (m MarkdownBubble) View() string {
	if m.content == "" {
		style := lipgloss.NewStyle().Width(m.width)
		return style.Render("")
	}

	normalized := normalizeMarkdownNewlines(stripControlSequences(m.content))

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(m.width),
	)
	if err != nil {
		return normalized
	}

	rendered, err := renderer.Render(normalized)
	if err != nil {
		return normalized
	}
	return rendered
}

func stripControlSequences(text string) string {
	result := text
	for {
		start := strings.Index(result, "\x1b[")
		if start < 0 {
			break
		}
		end := strings.Index(result[start:], "m")
		if end < 0 {
			break
		}
		result = result[:start] + result[start+end+1:]
	}

	result = strings.ReplaceAll(result, "\x00", "")

	clean := make([]rune, 0, len(result))
	for _, r := range result {
		if r == '\n' || r == '\r' || r == '\t' || r >= 32 {
			clean = append(clean, r)
		}
	}
	return string(clean)
}

// SetWidth sets the width for markdown rendering.
func (m *MarkdownBubble) SetWidth(width int) {
	m.width = width
}

func normalizeMarkdownNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return text
}
