package httpapi

import (
	"errors"
	"log"
	"net/http"

	"github.com/ShayCichocki/conductor/internal/approval"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// ApprovalListResponse lists approval requests.
type ApprovalListResponse struct {
	Requests []*models.ApprovalRequest `json:"requests"`
	Total    int                       `json:"total"`
}

// ApprovalActionRequest is the optional body of approve and reject.
type ApprovalActionRequest struct {
	Comment string `json:"comment,omitempty"`
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request, who caller) {
	pending := s.approvals.Pending(who.SessionID)
	if pending == nil {
		pending = []*models.ApprovalRequest{}
	}
	writeJSON(w, http.StatusOK, ApprovalListResponse{Requests: pending, Total: len(pending)})
}

// lookup fetches a request owned by the caller, writing 404 or 403 otherwise.
func (s *Server) lookup(w http.ResponseWriter, id string, who caller) (*models.ApprovalRequest, bool) {
	req, err := s.approvals.Get(id)
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Approval request not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	if req.SessionID != who.SessionID {
		writeError(w, http.StatusForbidden, "Access denied")
		return nil, false
	}
	return req, true
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request, who caller) {
	req, ok := s.lookup(w, r.PathValue("id"), who)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleResolve(approve bool) sessionHandler {
	return func(w http.ResponseWriter, r *http.Request, who caller) {
		id := r.PathValue("id")
		if _, ok := s.lookup(w, id, who); !ok {
			return
		}

		var body ApprovalActionRequest
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		resolve, verb := s.approvals.Reject, "rejected"
		if approve {
			resolve, verb = s.approvals.Approve, "approved"
		}
		updated, err := resolve(id, body.Comment)
		if err != nil {
			switch {
			case errors.Is(err, approval.ErrNotFound):
				writeError(w, http.StatusNotFound, "Approval request not found")
				return
			case errors.Is(err, approval.ErrInvalidState):
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		log.Printf("[httpapi] approval %s %s via api (session=%s)", id, verb, who.SessionID)
		writeJSON(w, http.StatusOK, updated)
	}
}
