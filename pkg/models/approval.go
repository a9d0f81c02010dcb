package models

import "time"

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	// ApprovalPending is the only non-terminal state.
	ApprovalPending ApprovalStatus = "pending"
	// ApprovalApproved means a reviewer allowed the action.
	ApprovalApproved ApprovalStatus = "approved"
	// ApprovalRejected means a reviewer denied the action.
	ApprovalRejected ApprovalStatus = "rejected"
	// ApprovalExpired means nobody resolved the request in time.
	ApprovalExpired ApprovalStatus = "expired"
)

// Valid returns true if the status is a known value.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalExpired:
		return true
	default:
		return false
	}
}

// Terminal returns true once the status can no longer change.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalExpired
}

// ApprovalRequest gates a sensitive action until a human resolves it.
type ApprovalRequest struct {
	// ID is the unique identifier of the request.
	ID string `json:"id"`
	// SessionID is the session the gated action runs in.
	SessionID string `json:"session_id"`
	// UserID is the user who triggered the action, if known.
	UserID string `json:"user_id,omitempty"`
	// ActionType classifies the action (e.g. "worker_execution").
	ActionType string `json:"action_type"`
	// ActionDescription is shown to the reviewer.
	ActionDescription string `json:"action_description"`
	// ActionData carries the action's parameters.
	ActionData map[string]any `json:"action_data"`
	// Status is the current lifecycle state.
	Status ApprovalStatus `json:"status"`
	// CreatedAt is when the request was created.
	CreatedAt time.Time `json:"created_at"`
	// ResolvedAt is set when the request leaves PENDING.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	// ReviewerComment is the optional comment given on approve/reject.
	ReviewerComment string `json:"reviewer_comment,omitempty"`
	// ExpiresAt is the deadline after which the request lazily expires.
	ExpiresAt time.Time `json:"expires_at"`
}

// Clone returns a copy that shares no mutable state with r.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.ActionData != nil {
		c.ActionData = make(map[string]any, len(r.ActionData))
		for k, v := range r.ActionData {
			c.ActionData[k] = v
		}
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
