package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestNewCommentField(t *testing.T) {
	field := NewCommentField()
	if field.width != 80 {
		t.Errorf("Default width = %d, want 80", field.width)
	}
	if field.Focused() {
		t.Error("field should start blurred")
	}
}

func TestCommentField_SetWidth(t *testing.T) {
	field := NewCommentField()
	field.SetWidth(120)
	if field.input.Width != 116 {
		t.Errorf("Input width = %d, want 116", field.input.Width)
	}
}

func TestCommentField_SubmitTrims(t *testing.T) {
	field := NewCommentField()
	field.Focus()
	field.input.SetValue("  looks fine  ")

	_, cmd := field.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("Enter should return a command")
	}
	msg, ok := cmd().(CommentSubmittedMsg)
	if !ok {
		t.Fatal("expected CommentSubmittedMsg")
	}
	if msg.Comment != "looks fine" {
		t.Errorf("Comment = %q, want %q", msg.Comment, "looks fine")
	}
	if field.Value() != "" {
		t.Error("field should be reset after submit")
	}
}

func TestCommentField_SubmitEmpty(t *testing.T) {
	field := NewCommentField()
	field.Focus()
	_, cmd := field.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if msg, ok := cmd().(CommentSubmittedMsg); !ok || msg.Comment != "" {
		t.Errorf("empty submit = %#v", msg)
	}
}
