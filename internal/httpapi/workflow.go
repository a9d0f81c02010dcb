package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/ShayCichocki/conductor/internal/stream"
	"github.com/ShayCichocki/conductor/internal/templates"
	"github.com/ShayCichocki/conductor/internal/workers"
	"github.com/ShayCichocki/conductor/internal/workflow"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// ChatRequest is the body of the chat routes and the first WebSocket message.
type ChatRequest struct {
	Messages []models.Message `json:"messages"`
	// Template is only read from WebSocket messages; HTTP routes take the
	// ?template= query parameter.
	Template string `json:"template,omitempty"`
}

// ChatResponse is the body returned by the chat and history routes.
type ChatResponse struct {
	Messages []models.Message `json:"messages"`
}

// TemplatesResponse lists workflow templates.
type TemplatesResponse struct {
	Templates []templates.Info `json:"templates"`
}

// WorkersResponse lists workers.
type WorkersResponse struct {
	Workers []workers.Info `json:"workers"`
}

var errNoMessages = errors.New("messages must not be empty")

// validate checks roles and content of every message.
func (c ChatRequest) validate() error {
	if len(c.Messages) == 0 {
		return errNoMessages
	}
	for i, m := range c.Messages {
		switch m.Role {
		case models.RoleUser, models.RoleAssistant, models.RoleSystem:
		default:
			return fmt.Errorf("messages[%d]: invalid role %q", i, m.Role)
		}
		if m.Content == "" {
			return fmt.Errorf("messages[%d]: content must not be empty", i)
		}
	}
	return nil
}

func (c ChatRequest) workflowRequest(who caller, template string) workflow.Request {
	return workflow.Request{
		Messages:     c.Messages,
		SessionID:    who.SessionID,
		UserID:       who.UserID,
		TemplateName: template,
	}
}

func readChatRequest(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var req ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return req, false
	}
	return req, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, who caller) {
	req, ok := readChatRequest(w, r)
	if !ok {
		return
	}
	template := r.URL.Query().Get("template")
	log.Printf("[httpapi] workflow request (session=%s messages=%d template=%q)", who.SessionID, len(req.Messages), template)

	msgs := s.engine.Respond(r.Context(), req.workflowRequest(who, template))
	writeJSON(w, http.StatusOK, ChatResponse{Messages: msgs})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, who caller) {
	req, ok := readChatRequest(w, r)
	if !ok {
		return
	}
	template := r.URL.Query().Get("template")
	log.Printf("[httpapi] workflow stream request (session=%s messages=%d template=%q)", who.SessionID, len(req.Messages), template)

	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	chunks := s.engine.Stream(r.Context(), req.workflowRequest(who, template))
	if err := stream.Pump(r.Context(), sse, chunks); err != nil {
		log.Printf("[httpapi] workflow stream ended early (session=%s): %v", who.SessionID, err)
	}
}

func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request, who caller) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[httpapi] websocket upgrade (session=%s): %v", who.SessionID, err)
		return
	}
	sink := stream.NewWebSocketSink(conn, 30*time.Second)
	defer sink.Close()

	var req ChatRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = sink.Send(stream.Frame{Content: "invalid request: " + err.Error(), Done: true})
		return
	}
	if err := req.validate(); err != nil {
		_ = sink.Send(stream.Frame{Content: err.Error(), Done: true})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// The client sends nothing further; a read error means it went away.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	chunks := s.engine.Stream(ctx, req.workflowRequest(who, req.Template))
	if err := stream.Pump(ctx, sink, chunks); err != nil {
		log.Printf("[httpapi] websocket stream ended early (session=%s): %v", who.SessionID, err)
	}
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request, who caller) {
	msgs, err := s.engine.History(r.Context(), who.SessionID)
	if err != nil {
		log.Printf("[httpapi] load history (session=%s): %v", who.SessionID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Messages: msgs})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request, who caller) {
	if err := s.engine.ClearHistory(r.Context(), who.SessionID); err != nil {
		log.Printf("[httpapi] clear history (session=%s): %v", who.SessionID, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat history cleared successfully"})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request, _ caller) {
	resp := TemplatesResponse{Templates: []templates.Info{}}
	if s.templates != nil {
		resp.Templates = append(resp.Templates, s.templates.List()...)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request, _ caller) {
	resp := WorkersResponse{Workers: []workers.Info{}}
	if s.workers != nil {
		resp.Workers = append(resp.Workers, s.workers.List()...)
	}
	writeJSON(w, http.StatusOK, resp)
}
