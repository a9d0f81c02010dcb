package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// CommentSubmittedMsg is sent when the reviewer submits a comment.
type CommentSubmittedMsg struct {
	Comment string
}

// CommentField is a text input for reviewer comments.
type CommentField struct {
	input textinput.Model
	width int
}

// NewCommentField creates a new CommentField.
func NewCommentField() *CommentField {
	ti := textinput.New()
	ti.Placeholder = "Optional comment, Enter to submit..."
	ti.CharLimit = 500
	ti.Width = 60

	return &CommentField{
		input: ti,
		width: 80,
	}
}

// SetWidth sets the width of the field.
func (f *CommentField) SetWidth(width int) {
	f.width = width
	f.input.Width = width - 4 // prompt and padding
}

// Update handles messages for the field. Enter submits, including an
// empty comment.
func (f *CommentField) Update(msg tea.Msg) (*CommentField, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.Type == tea.KeyEnter {
		text := strings.TrimSpace(f.input.Value())
		f.input.Reset()
		return f, func() tea.Msg {
			return CommentSubmittedMsg{Comment: text}
		}
	}

	var cmd tea.Cmd
	f.input, cmd = f.input.Update(msg)
	return f, cmd
}

// Value returns the current text.
func (f *CommentField) Value() string {
	return f.input.Value()
}

// Reset clears the field.
func (f *CommentField) Reset() {
	f.input.Reset()
}

// View renders the field.
func (f *CommentField) View() string {
	promptStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")).
		Bold(true)

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(f.width - 2)

	return boxStyle.Render(promptStyle.Render("> ") + f.input.View())
}

// Focus sets focus on the field.
func (f *CommentField) Focus() tea.Cmd {
	return f.input.Focus()
}

// Blur removes focus from the field.
func (f *CommentField) Blur() {
	f.input.Blur()
}

// Focused reports whether the field has focus.
func (f *CommentField) Focused() bool {
	return f.input.Focused()
}
