package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/conductor/pkg/models"
)

type fakeQueue struct {
	mu       sync.Mutex
	pending  []*models.ApprovalRequest
	err      error
	resolved map[string]string
	comments map[string]string
}

func newFakeQueue(reqs ...*models.ApprovalRequest) *fakeQueue {
	return &fakeQueue{
		pending:  reqs,
		resolved: make(map[string]string),
		comments: make(map[string]string),
	}
}

func (q *fakeQueue) Pending(ctx context.Context) ([]*models.ApprovalRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	return append([]*models.ApprovalRequest(nil), q.pending...), nil
}

func (q *fakeQueue) Approve(ctx context.Context, id, comment string) (*models.ApprovalRequest, error) {
	return q.resolve(id, models.ApprovalApproved, comment)
}

func (q *fakeQueue) Reject(ctx context.Context, id, comment string) (*models.ApprovalRequest, error) {
	return q.resolve(id, models.ApprovalRejected, comment)
}

func (q *fakeQueue) resolve(id string, status models.ApprovalStatus, comment string) (*models.ApprovalRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.pending {
		if r.ID != id {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.resolved[id] = string(status)
		q.comments[id] = comment
		c := r.Clone()
		c.Status = status
		c.ReviewerComment = comment
		return c, nil
	}
	return nil, errors.New("approval request not found")
}

var baseTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func request(id string, offset time.Duration) *models.ApprovalRequest {
	return &models.ApprovalRequest{
		ID:                id,
		SessionID:         "sess-1",
		ActionType:        "worker_execution",
		ActionDescription: "Run coder for " + id,
		ActionData:        map[string]any{"worker": "coder", "step_id": id},
		Status:            models.ApprovalPending,
		CreatedAt:         baseTime.Add(offset),
		ExpiresAt:         baseTime.Add(offset + 5*time.Minute),
	}
}

func newTestReview(q Queue) *ReviewModel {
	return NewReviewModel(context.Background(), q,
		WithRefreshInterval(0),
		WithClock(func() time.Time { return baseTime }),
	)
}

// run executes cmd and feeds its message back into the model.
func run(t *testing.T, m *ReviewModel, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	m.Update(cmd())
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestReviewInitLoadsSortedPending(t *testing.T) {
	q := newFakeQueue(request("req-later", time.Minute), request("req-first", 0))
	m := newTestReview(q)

	run(t, m, m.load())

	reqs := m.Requests()
	if len(reqs) != 2 {
		t.Fatalf("Requests() = %d, want 2", len(reqs))
	}
	if reqs[0].ID != "req-first" {
		t.Errorf("first request = %s, want req-first", reqs[0].ID)
	}
	if sel := m.Selected(); sel == nil || sel.ID != "req-first" {
		t.Errorf("Selected() = %v, want req-first", sel)
	}
}

func TestReviewApproveWithKey(t *testing.T) {
	q := newFakeQueue(request("req-1", 0), request("req-2", time.Minute))
	m := newTestReview(q)
	run(t, m, m.load())

	_, cmd := m.Update(key("y"))
	msg := cmd()
	resolved, ok := msg.(ResolvedMsg)
	if !ok {
		t.Fatalf("expected ResolvedMsg, got %T", msg)
	}
	if !resolved.Approved || resolved.Request.Status != models.ApprovalApproved {
		t.Errorf("unexpected resolution %+v", resolved)
	}

	_, reload := m.Update(resolved)
	if got := q.resolved["req-1"]; got != "approved" {
		t.Errorf("req-1 = %q, want approved", got)
	}
	if m.Resolved() != 1 {
		t.Errorf("Resolved() = %d, want 1", m.Resolved())
	}
	if len(m.Requests()) != 1 || m.Selected().ID != "req-2" {
		t.Errorf("req-2 should remain selected, got %+v", m.Requests())
	}
	run(t, m, reload)
	if len(m.Requests()) != 1 {
		t.Errorf("reload should keep one request, got %d", len(m.Requests()))
	}
}

func TestReviewRejectWithComment(t *testing.T) {
	q := newFakeQueue(request("req-1", 0))
	m := newTestReview(q)
	run(t, m, m.load())

	m.Update(key("x"))
	if !m.commenting {
		t.Fatal("x should open the comment field")
	}
	if !strings.Contains(m.View(), "Reject with comment") {
		t.Error("view should prompt for a reject comment")
	}

	// Keys go to the comment field while it is open.
	for _, r := range "too risky" {
		m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	if len(q.resolved) != 0 {
		t.Fatal("typing must not resolve anything")
	}

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	submitted := cmd()
	_, resolveCmd := m.Update(submitted)
	m.Update(resolveCmd())

	if q.resolved["req-1"] != "rejected" {
		t.Errorf("req-1 = %q, want rejected", q.resolved["req-1"])
	}
	if q.comments["req-1"] != "too risky" {
		t.Errorf("comment = %q, want %q", q.comments["req-1"], "too risky")
	}
	if m.commenting {
		t.Error("comment field should close after submit")
	}
}

func TestReviewEscCancelsComment(t *testing.T) {
	q := newFakeQueue(request("req-1", 0))
	m := newTestReview(q)
	run(t, m, m.load())

	m.Update(key("a"))
	m.Update(key("n"))
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})

	if m.commenting {
		t.Error("esc should close the comment field")
	}
	if m.comment.Value() != "" {
		t.Errorf("comment should be cleared, got %q", m.comment.Value())
	}
	if len(q.resolved) != 0 {
		t.Error("nothing should be resolved")
	}
}

func TestReviewNoSelection(t *testing.T) {
	m := newTestReview(newFakeQueue())
	run(t, m, m.load())

	for _, k := range []string{"y", "n", "a", "x"} {
		if _, cmd := m.Update(key(k)); cmd != nil {
			t.Errorf("key %q with nothing pending should do nothing", k)
		}
	}
	if !strings.Contains(m.View(), "No pending approval requests.") {
		t.Error("empty view should say nothing is pending")
	}
}

func TestReviewLoadError(t *testing.T) {
	q := newFakeQueue(request("req-1", 0))
	m := newTestReview(q)
	run(t, m, m.load())

	q.err = errors.New("connection refused")
	run(t, m, m.load())

	if m.Err() == nil {
		t.Fatal("Err() should report the failed load")
	}
	if len(m.Requests()) != 1 {
		t.Error("a failed load should keep the previous list")
	}
	if !strings.Contains(m.View(), "Error: connection refused") {
		t.Error("view should show the error")
	}
}

func TestReviewCursorWraps(t *testing.T) {
	q := newFakeQueue(request("a", 0), request("b", time.Minute), request("c", 2*time.Minute))
	m := newTestReview(q)
	run(t, m, m.load())

	m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.Selected().ID != "c" {
		t.Errorf("shift+tab from first = %s, want c", m.Selected().ID)
	}
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if m.Selected().ID != "a" {
		t.Errorf("tab from last = %s, want a", m.Selected().ID)
	}

	// A reload keeps the selection on the same request.
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	run(t, m, m.load())
	if m.Selected().ID != "b" {
		t.Errorf("selection after reload = %s, want b", m.Selected().ID)
	}
}

func TestReviewScroll(t *testing.T) {
	req := request("req-1", 0)
	for i := 0; i < 40; i++ {
		req.ActionData[strings.Repeat("k", i+1)] = i
	}
	m := newTestReview(newFakeQueue(req))
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 20})
	run(t, m, m.load())

	m.Update(key("j"))
	if m.scrollOffset != 1 {
		t.Errorf("scrollOffset after j = %d, want 1", m.scrollOffset)
	}
	m.Update(key("k"))
	m.Update(key("k"))
	if m.scrollOffset != 0 {
		t.Errorf("scrollOffset should not go negative, got %d", m.scrollOffset)
	}

	m.Update(key("G"))
	bottom := len(m.detailLines()) - m.detailHeight()
	if m.scrollOffset != bottom {
		t.Errorf("scrollOffset after G = %d, want %d", m.scrollOffset, bottom)
	}
	m.Update(key("f"))
	if m.scrollOffset != bottom {
		t.Errorf("page down past the end = %d, want %d", m.scrollOffset, bottom)
	}
	if !strings.Contains(m.View(), "100%") {
		t.Error("scroll indicator should show 100% at the bottom")
	}
	m.Update(key("g"))
	if m.scrollOffset != 0 {
		t.Errorf("scrollOffset after g = %d, want 0", m.scrollOffset)
	}
}

func TestReviewViewShowsDetails(t *testing.T) {
	m := newTestReview(newFakeQueue(request("0123456789abcdef", 0)))
	run(t, m, m.load())

	view := m.View()
	for _, want := range []string{
		"Human Review Required",
		"01234567",
		"Run coder for 0123456789abcdef",
		"Expires: in 5m0s",
		`"worker": "coder"`,
		"Approve this action? [Y]es / [N]o",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestReviewExpiredCountdown(t *testing.T) {
	req := request("req-1", -10*time.Minute)
	m := newTestReview(newFakeQueue(req))
	if got := m.expiry(req); got != "expired" {
		t.Errorf("expiry = %q, want expired", got)
	}
}

func TestReviewQuit(t *testing.T) {
	m := newTestReview(newFakeQueue())
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
	if m.View() != "" {
		t.Error("view should be empty after quitting")
	}
}
