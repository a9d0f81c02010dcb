// Package approval implements the human-in-the-loop approval state machine.
//
// A request starts PENDING and moves exactly once to APPROVED, REJECTED or
// EXPIRED. Any goroutine may block in Wait until a reviewer resolves the
// request or its wait timeout elapses.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	// ErrNotFound is returned for an unknown request id.
	ErrNotFound = errors.New("approval request not found")
	// ErrInvalidState is returned when resolving a request that is no longer pending.
	ErrInvalidState = errors.New("approval request is not pending")
	// ErrTimeout is returned when a wait ends without a reviewer decision.
	ErrTimeout = errors.New("timed out waiting for approval")
)

// DefaultTimeout is how long a request stays pending when Create is given no timeout.
const DefaultTimeout = time.Hour

// DefaultWaitTimeout bounds Wait when the caller passes a non-positive timeout.
const DefaultWaitTimeout = 3600 * time.Second

// CreateParams describes the action being gated.
type CreateParams struct {
	SessionID         string
	UserID            string
	ActionType        string
	ActionDescription string
	ActionData        map[string]any
	// Timeout overrides the manager's default expiry when positive.
	Timeout time.Duration
}

// Manager stores approval requests and the signal channels their waiters
// block on. All methods are safe for concurrent use and return copies.
type Manager struct {
	mu       sync.Mutex
	requests map[string]*models.ApprovalRequest
	// signals holds one channel per request, closed when it leaves PENDING.
	signals map[string]chan struct{}

	defaultTimeout time.Duration
	now            func() time.Time
	debugLog       func(format string, args ...interface{})
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultTimeout sets the expiry used when CreateParams.Timeout is zero.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.defaultTimeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithDebugLog sets the debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(m *Manager) {
		if fn != nil {
			m.debugLog = fn
		}
	}
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		requests:       make(map[string]*models.ApprovalRequest),
		signals:        make(map[string]chan struct{}),
		defaultTimeout: DefaultTimeout,
		now:            time.Now,
		debugLog:       func(string, ...interface{}) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a new PENDING request. It never blocks.
func (m *Manager) Create(p CreateParams) *models.ApprovalRequest {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	req := &models.ApprovalRequest{
		ID:                uuid.New().String(),
		SessionID:         p.SessionID,
		UserID:            p.UserID,
		ActionType:        p.ActionType,
		ActionDescription: p.ActionDescription,
		ActionData:        p.ActionData,
		Status:            models.ApprovalPending,
		CreatedAt:         now,
		ExpiresAt:         now.Add(timeout),
	}
	if req.ActionData == nil {
		req.ActionData = map[string]any{}
	}
	req = req.Clone()

	m.requests[req.ID] = req
	m.signals[req.ID] = make(chan struct{})

	m.debugLog("[approval] created %s session=%s action=%s expires=%s",
		req.ID, req.SessionID, req.ActionType, req.ExpiresAt.Format(time.RFC3339))
	return req.Clone()
}

// Get returns a copy of the request, expiring it first if it is overdue.
func (m *Manager) Get(id string) (*models.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.expireIfOverdueLocked(req, m.now())
	return req.Clone(), nil
}

// Wait blocks until the request is resolved, timeout elapses or ctx is done.
// On timeout a still-pending request is marked EXPIRED and ErrTimeout is
// returned together with the expired request. A request already resolved
// when Wait is called is returned immediately.
func (m *Manager) Wait(ctx context.Context, id string, timeout time.Duration) (*models.ApprovalRequest, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	m.mu.Lock()
	req, ok := m.requests[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	signal := m.signals[id]
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-signal:
	case <-timer.C:
		m.mu.Lock()
		if req.Status == models.ApprovalPending {
			m.resolveLocked(req, models.ApprovalExpired, "")
			m.debugLog("[approval] %s expired after waiting %s", id, timeout)
		}
		m.mu.Unlock()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	out := req.Clone()
	m.mu.Unlock()

	if out.Status == models.ApprovalExpired {
		return out, fmt.Errorf("%w: %s", ErrTimeout, id)
	}
	return out, nil
}

// Approve moves a PENDING request to APPROVED and wakes its waiters.
func (m *Manager) Approve(id, comment string) (*models.ApprovalRequest, error) {
	return m.resolve(id, models.ApprovalApproved, comment)
}

// Reject moves a PENDING request to REJECTED and wakes its waiters.
func (m *Manager) Reject(id, comment string) (*models.ApprovalRequest, error) {
	return m.resolve(id, models.ApprovalRejected, comment)
}

// Expire moves a PENDING request to EXPIRED ahead of its deadline, recording
// reason as the comment. Used when the action it gates is abandoned.
func (m *Manager) Expire(id, reason string) (*models.ApprovalRequest, error) {
	return m.resolve(id, models.ApprovalExpired, reason)
}

func (m *Manager) resolve(id string, status models.ApprovalStatus, comment string) (*models.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.expireIfOverdueLocked(req, m.now())
	if req.Status != models.ApprovalPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, id, req.Status)
	}

	m.resolveLocked(req, status, comment)
	m.debugLog("[approval] %s %s", id, status)
	return req.Clone(), nil
}

// Pending returns the requests still PENDING, oldest first. Overdue requests
// are expired as a side effect. An empty sessionID lists every session.
func (m *Manager) Pending(sessionID string) []*models.ApprovalRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []*models.ApprovalRequest
	for _, req := range m.requests {
		m.expireIfOverdueLocked(req, now)
		if req.Status != models.ApprovalPending {
			continue
		}
		if sessionID != "" && req.SessionID != sessionID {
			continue
		}
		out = append(out, req.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// CleanupExpired expires every overdue PENDING request, signalling its
// waiters, and returns how many were expired.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	count := 0
	for _, req := range m.requests {
		if m.expireIfOverdueLocked(req, now) {
			count++
		}
	}
	if count > 0 {
		m.debugLog("[approval] cleanup expired %d requests", count)
	}
	return count
}

// Prune forgets terminal requests resolved more than retain ago and returns
// how many were removed.
func (m *Manager) Prune(retain time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-retain)
	count := 0
	for id, req := range m.requests {
		if !req.Status.Terminal() || req.ResolvedAt == nil || req.ResolvedAt.After(cutoff) {
			continue
		}
		delete(m.requests, id)
		delete(m.signals, id)
		count++
	}
	return count
}

// Len returns the number of stored requests in any state.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// expireIfOverdueLocked marks req EXPIRED if it is pending past its deadline.
// Must be called with m.mu held.
func (m *Manager) expireIfOverdueLocked(req *models.ApprovalRequest, now time.Time) bool {
	if req.Status != models.ApprovalPending || now.Before(req.ExpiresAt) {
		return false
	}
	m.resolveLocked(req, models.ApprovalExpired, "")
	m.debugLog("[approval] %s expired (deadline %s)", req.ID, req.ExpiresAt.Format(time.RFC3339))
	return true
}

// resolveLocked performs the single PENDING->terminal transition.
// Must be called with m.mu held and req pending.
func (m *Manager) resolveLocked(req *models.ApprovalRequest, status models.ApprovalStatus, comment string) {
	now := m.now()
	req.Status = status
	req.ResolvedAt = &now
	req.ReviewerComment = comment
	if ch, ok := m.signals[req.ID]; ok {
		close(ch)
	}
}
