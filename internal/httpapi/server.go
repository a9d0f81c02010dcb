// Package httpapi exposes workflow execution, history, templates and the
// approval queue over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ShayCichocki/conductor/internal/templates"
	"github.com/ShayCichocki/conductor/internal/workers"
	"github.com/ShayCichocki/conductor/internal/workflow"
	"github.com/ShayCichocki/conductor/pkg/models"
)

const (
	// SessionHeader carries the caller's session id. Every API route except
	// /health requires it.
	SessionHeader = "X-Session-ID"
	// UserHeader optionally carries the caller's user id.
	UserHeader = "X-User-ID"

	maxBodyBytes = 1 << 20
)

// ChatEngine runs workflows and manages session history.
type ChatEngine interface {
	Respond(ctx context.Context, req workflow.Request) []models.Message
	Stream(ctx context.Context, req workflow.Request) <-chan workflow.Chunk
	History(ctx context.Context, sessionID string) ([]models.Message, error)
	ClearHistory(ctx context.Context, sessionID string) error
}

// ApprovalQueue is the subset of the approval manager the API serves.
type ApprovalQueue interface {
	Get(id string) (*models.ApprovalRequest, error)
	Pending(sessionID string) []*models.ApprovalRequest
	Approve(id, comment string) (*models.ApprovalRequest, error)
	Reject(id, comment string) (*models.ApprovalRequest, error)
}

// TemplateLister lists workflow templates.
type TemplateLister interface {
	List() []templates.Info
}

// WorkerLister lists registered workers.
type WorkerLister interface {
	List() []workers.Info
}

// RequiredConfig contains the minimal required configuration for a Server.
type RequiredConfig struct {
	Engine    ChatEngine
	Approvals ApprovalQueue
}

// Option configures a Server. Use With* functions to create Options.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithTimeouts sets the HTTP server read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

// WithTemplates enables the template listing route.
func WithTemplates(t TemplateLister) Option {
	return func(s *Server) { s.templates = t }
}

// WithWorkers enables the worker listing route.
func WithWorkers(w WorkerLister) Option {
	return func(s *Server) { s.workers = w }
}

// WithCheckOrigin overrides the WebSocket origin check.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// Server serves the workflow API.
type Server struct {
	engine    ChatEngine
	approvals ApprovalQueue
	templates TemplateLister
	workers   WorkerLister

	mux          *http.ServeMux
	upgrader     websocket.Upgrader
	addr         string
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// New creates a Server with its routes registered.
func New(cfg RequiredConfig, opts ...Option) *Server {
	s := &Server{
		engine:       cfg.Engine,
		approvals:    cfg.Approvals,
		mux:          http.NewServeMux(),
		addr:         "127.0.0.1:8080",
		readTimeout:  30 * time.Second,
		writeTimeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/v1/workflow/chat", s.withSession(s.handleChat))
	s.mux.HandleFunc("POST /api/v1/workflow/chat/stream", s.withSession(s.handleChatStream))
	s.mux.HandleFunc("GET /api/v1/workflow/chat/ws", s.withSession(s.handleChatWebSocket))
	s.mux.HandleFunc("GET /api/v1/workflow/history", s.withSession(s.handleGetHistory))
	s.mux.HandleFunc("DELETE /api/v1/workflow/history", s.withSession(s.handleClearHistory))
	s.mux.HandleFunc("GET /api/v1/workflow/templates", s.withSession(s.handleListTemplates))
	s.mux.HandleFunc("GET /api/v1/workflow/workers", s.withSession(s.handleListWorkers))

	s.mux.HandleFunc("GET /api/v1/approvals/pending", s.withSession(s.handleListPending))
	s.mux.HandleFunc("GET /api/v1/approvals/{id}", s.withSession(s.handleGetApproval))
	s.mux.HandleFunc("POST /api/v1/approvals/{id}/approve", s.withSession(s.handleResolve(true)))
	s.mux.HandleFunc("POST /api/v1/approvals/{id}/reject", s.withSession(s.handleResolve(false)))
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[httpapi] listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// caller identifies who a request is made on behalf of.
type caller struct {
	SessionID string
	UserID    string
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, c caller)

// withSession rejects requests without a session header.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(SessionHeader)
		if sessionID == "" {
			// Browsers cannot set headers on WebSocket handshakes.
			sessionID = r.URL.Query().Get("session_id")
		}
		if sessionID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+SessionHeader+" header")
			return
		}
		h(w, r, caller{SessionID: sessionID, UserID: r.Header.Get(UserHeader)})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[httpapi] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
