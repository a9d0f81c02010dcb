package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// Queue is the approval queue the review console works against.
// httpapi.Client satisfies it.
type Queue interface {
	Pending(ctx context.Context) ([]*models.ApprovalRequest, error)
	Approve(ctx context.Context, id, comment string) (*models.ApprovalRequest, error)
	Reject(ctx context.Context, id, comment string) (*models.ApprovalRequest, error)
}

// PendingLoadedMsg carries a fresh pending list.
type PendingLoadedMsg struct {
	Requests []*models.ApprovalRequest
	Err      error
}

// ResolvedMsg is sent after a request was approved or rejected.
type ResolvedMsg struct {
	Request  *models.ApprovalRequest
	Approved bool
	Err      error
}

type tickMsg time.Time

// ReviewModel lists pending approval requests and lets a human resolve them.
type ReviewModel struct {
	queue   Queue
	ctx     context.Context
	timeout time.Duration
	refresh time.Duration
	now     func() time.Time

	width  int
	height int

	requests []*models.ApprovalRequest
	cursor   int
	// scrollOffset is the first visible line of the detail pane.
	scrollOffset int

	comment    *CommentField
	commenting bool
	// pendingApprove is the action to run once the comment is submitted.
	pendingApprove bool

	status   string
	lastErr  error
	resolved int
	quitting bool

	// Styles for rendering.
	addStyle     lipgloss.Style
	removeStyle  lipgloss.Style
	contextStyle lipgloss.Style
	headerStyle  lipgloss.Style
	promptStyle  lipgloss.Style
	titleStyle   lipgloss.Style
	cursorStyle  lipgloss.Style
}

// ReviewOption configures a ReviewModel.
type ReviewOption func(*ReviewModel)

// WithRefreshInterval sets how often the pending list is reloaded. Zero
// disables polling.
func WithRefreshInterval(d time.Duration) ReviewOption {
	return func(m *ReviewModel) { m.refresh = d }
}

// WithRequestTimeout bounds every call to the queue.
func WithRequestTimeout(d time.Duration) ReviewOption {
	return func(m *ReviewModel) { m.timeout = d }
}

// WithClock overrides the time source used for expiry countdowns.
func WithClock(now func() time.Time) ReviewOption {
	return func(m *ReviewModel) { m.now = now }
}

// NewReviewModel creates a review console for queue.
func NewReviewModel(ctx context.Context, queue Queue, opts ...ReviewOption) *ReviewModel {
	m := &ReviewModel{
		queue:   queue,
		ctx:     ctx,
		timeout: 10 * time.Second,
		refresh: 5 * time.Second,
		now:     time.Now,
		width:   80,
		height:  24,
		comment: NewCommentField(),

		addStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")), // Green
		removeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")), // Red
		contextStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")), // Gray
		headerStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")). // Blue
			Bold(true),
		promptStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")). // Yellow
			Bold(true),
		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Background(lipgloss.Color("236")).
			Padding(0, 2),
		cursorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init loads the pending list.
func (m *ReviewModel) Init() tea.Cmd {
	return tea.Batch(m.load(), m.tick())
}

func (m *ReviewModel) load() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		defer cancel()
		reqs, err := m.queue.Pending(ctx)
		return PendingLoadedMsg{Requests: reqs, Err: err}
	}
}

func (m *ReviewModel) tick() tea.Cmd {
	if m.refresh <= 0 {
		return nil
	}
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *ReviewModel) resolve(id string, approve bool, comment string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		defer cancel()
		var (
			req *models.ApprovalRequest
			err error
		)
		if approve {
			req, err = m.queue.Approve(ctx, id, comment)
		} else {
			req, err = m.queue.Reject(ctx, id, comment)
		}
		return ResolvedMsg{Request: req, Approved: approve, Err: err}
	}
}

// Update handles input and queue results.
func (m *ReviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.comment.SetWidth(msg.Width)
		return m, nil

	case PendingLoadedMsg:
		if msg.Err != nil {
			m.lastErr = msg.Err
			return m, nil
		}
		m.lastErr = nil
		m.setRequests(msg.Requests)
		return m, nil

	case ResolvedMsg:
		if msg.Err != nil {
			m.lastErr = msg.Err
			return m, m.load()
		}
		m.lastErr = nil
		m.resolved++
		verb := "Rejected"
		if msg.Approved {
			verb = "Approved"
		}
		if msg.Request != nil {
			m.status = fmt.Sprintf("%s %s", verb, shortID(msg.Request.ID))
			m.drop(msg.Request.ID)
		}
		return m, m.load()

	case CommentSubmittedMsg:
		m.commenting = false
		m.comment.Blur()
		sel := m.Selected()
		if sel == nil {
			return m, nil
		}
		return m, m.resolve(sel.ID, m.pendingApprove, msg.Comment)

	case tickMsg:
		return m, tea.Batch(m.load(), m.tick())

	case tea.KeyMsg:
		if m.commenting {
			if msg.Type == tea.KeyEsc {
				m.commenting = false
				m.comment.Blur()
				m.comment.Reset()
				return m, nil
			}
			var cmd tea.Cmd
			m.comment, cmd = m.comment.Update(msg)
			return m, cmd
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *ReviewModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "r":
		m.status = "Refreshing..."
		return m, m.load()
	case "tab":
		m.moveCursor(1)
	case "shift+tab":
		m.moveCursor(-1)
	case "y", "Y", "n", "N":
		sel := m.Selected()
		if sel == nil {
			return m, nil
		}
		return m, m.resolve(sel.ID, strings.EqualFold(msg.String(), "y"), "")
	case "a", "x":
		// Approve or reject with a comment.
		if m.Selected() == nil {
			return m, nil
		}
		m.pendingApprove = msg.String() == "a"
		m.commenting = true
		return m, m.comment.Focus()
	case "up", "k":
		m.scrollUp()
	case "down", "j":
		m.scrollDown()
	case "pgup", "b":
		m.scrollPageUp()
	case "pgdown", "f", " ":
		m.scrollPageDown()
	case "home", "g":
		m.scrollOffset = 0
	case "end", "G":
		m.scrollToBottom()
	}
	return m, nil
}

// setRequests replaces the list, keeping the cursor on the same request
// when it is still pending.
func (m *ReviewModel) setRequests(reqs []*models.ApprovalRequest) {
	var selected string
	if sel := m.Selected(); sel != nil {
		selected = sel.ID
	}
	sorted := append([]*models.ApprovalRequest(nil), reqs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	m.requests = sorted
	m.cursor = 0
	for i, r := range sorted {
		if r.ID == selected {
			m.cursor = i
			return
		}
	}
	m.scrollOffset = 0
}

func (m *ReviewModel) drop(id string) {
	for i, r := range m.requests {
		if r.ID != id {
			continue
		}
		m.requests = append(m.requests[:i], m.requests[i+1:]...)
		if m.cursor >= len(m.requests) && m.cursor > 0 {
			m.cursor--
		}
		m.scrollOffset = 0
		return
	}
}

func (m *ReviewModel) moveCursor(delta int) {
	if len(m.requests) == 0 {
		return
	}
	m.cursor = (m.cursor + delta + len(m.requests)) % len(m.requests)
	m.scrollOffset = 0
}

// Selected returns the request under the cursor, or nil.
func (m *ReviewModel) Selected() *models.ApprovalRequest {
	if m.cursor < 0 || m.cursor >= len(m.requests) {
		return nil
	}
	return m.requests[m.cursor]
}

// Requests returns the pending requests currently shown.
func (m *ReviewModel) Requests() []*models.ApprovalRequest {
	return m.requests
}

// Resolved returns how many requests were resolved in this session.
func (m *ReviewModel) Resolved() int {
	return m.resolved
}

// Err returns the last queue error, if any.
func (m *ReviewModel) Err() error {
	return m.lastErr
}

// View renders the console.
func (m *ReviewModel) View() string {
	if m.quitting {
		return ""
	}
	var sb strings.Builder

	sb.WriteString(m.titleStyle.Render(" Human Review Required "))
	sb.WriteString("\n\n")

	if len(m.requests) == 0 {
		sb.WriteString(m.contextStyle.Render("No pending approval requests."))
		sb.WriteString("\n\n")
		m.writeFooter(&sb)
		return sb.String()
	}

	for i, r := range m.requests {
		marker := "  "
		line := fmt.Sprintf("%s  %-18s %s", shortID(r.ID), r.ActionType, r.ActionDescription)
		if i == m.cursor {
			marker = m.cursorStyle.Render("> ")
			line = m.cursorStyle.Render(line)
		}
		sb.WriteString(marker)
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString(strings.Repeat("-", min(m.width, 80)))
	sb.WriteString("\n")

	lines := m.detailLines()
	area := m.detailHeight()
	if m.scrollOffset > len(lines)-area {
		m.scrollOffset = max(0, len(lines)-area)
	}
	end := min(m.scrollOffset+area, len(lines))
	for _, line := range lines[m.scrollOffset:end] {
		sb.WriteString(m.styleDetailLine(line))
		sb.WriteString("\n")
	}
	if len(lines) > area {
		maxOffset := len(lines) - area
		percent := (m.scrollOffset * 100) / maxOffset
		sb.WriteString(m.contextStyle.Render(fmt.Sprintf("--- %d%% (%d/%d lines) ---", percent, end, len(lines))))
		sb.WriteString("\n")
	}
	sb.WriteString(strings.Repeat("-", min(m.width, 80)))
	sb.WriteString("\n\n")

	if m.commenting {
		verb := "Reject"
		if m.pendingApprove {
			verb = "Approve"
		}
		sb.WriteString(m.promptStyle.Render(verb + " with comment (Enter to submit, Esc to cancel):"))
		sb.WriteString("\n")
		sb.WriteString(m.comment.View())
		sb.WriteString("\n")
		return sb.String()
	}

	sb.WriteString(m.promptStyle.Render("Approve this action? [Y]es / [N]o"))
	sb.WriteString("\n")
	m.writeFooter(&sb)
	return sb.String()
}

func (m *ReviewModel) writeFooter(sb *strings.Builder) {
	sb.WriteString(m.contextStyle.Render("(tab to select, j/k to scroll, a/x to approve/reject with comment, r to refresh, q to quit)"))
	if m.lastErr != nil {
		sb.WriteString("\n")
		sb.WriteString(m.removeStyle.Render("Error: " + m.lastErr.Error()))
	} else if m.status != "" {
		sb.WriteString("\n")
		sb.WriteString(m.addStyle.Render(m.status))
	}
}

// detailLines renders the selected request as plain lines.
func (m *ReviewModel) detailLines() []string {
	r := m.Selected()
	if r == nil {
		return nil
	}
	lines := []string{
		"Request: " + r.ID,
		"Session: " + r.SessionID,
		"Action: " + r.ActionType,
		"Description: " + r.ActionDescription,
		"Expires: " + m.expiry(r),
	}
	if r.UserID != "" {
		lines = append(lines, "User: "+r.UserID)
	}
	if len(r.ActionData) > 0 {
		lines = append(lines, "", "Action data:")
		data, err := json.MarshalIndent(r.ActionData, "", "  ")
		if err != nil {
			lines = append(lines, fmt.Sprintf("%v", r.ActionData))
		} else {
			lines = append(lines, strings.Split(string(data), "\n")...)
		}
	}
	return lines
}

func (m *ReviewModel) expiry(r *models.ApprovalRequest) string {
	left := r.ExpiresAt.Sub(m.now())
	if left <= 0 {
		return "expired"
	}
	return fmt.Sprintf("in %s", left.Round(time.Second))
}

func (m *ReviewModel) styleDetailLine(line string) string {
	switch {
	case strings.HasPrefix(line, "Action data:"):
		return m.headerStyle.Render(line)
	case line == "Expires: expired":
		return m.removeStyle.Render(line)
	case strings.HasPrefix(line, "Description: "):
		return m.addStyle.Render(line)
	default:
		return m.contextStyle.Render(line)
	}
}

// detailHeight is the number of detail lines that fit below the list.
func (m *ReviewModel) detailHeight() int {
	h := m.height - 10 - len(m.requests)
	if h < 5 {
		h = 5
	}
	return h
}

func (m *ReviewModel) scrollUp() {
	if m.scrollOffset > 0 {
		m.scrollOffset--
	}
}

func (m *ReviewModel) scrollDown() {
	maxOffset := max(0, len(m.detailLines())-m.detailHeight())
	if m.scrollOffset < maxOffset {
		m.scrollOffset++
	}
}

func (m *ReviewModel) scrollPageUp() {
	m.scrollOffset -= m.detailHeight()
	if m.scrollOffset < 0 {
		m.scrollOffset = 0
	}
}

func (m *ReviewModel) scrollPageDown() {
	maxOffset := max(0, len(m.detailLines())-m.detailHeight())
	m.scrollOffset += m.detailHeight()
	if m.scrollOffset > maxOffset {
		m.scrollOffset = maxOffset
	}
}

func (m *ReviewModel) scrollToBottom() {
	m.scrollOffset = max(0, len(m.detailLines())-m.detailHeight())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RunReview runs the review console until the user quits.
func RunReview(ctx context.Context, queue Queue, opts ...ReviewOption) (*ReviewModel, error) {
	m := NewReviewModel(ctx, queue, opts...)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return m, err
	}
	return m, nil
}
