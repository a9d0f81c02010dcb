package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ShayCichocki/conductor/internal/templates"
	"github.com/ShayCichocki/conductor/pkg/models"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Detail)
}

// Client calls a conductor server on behalf of one session.
type Client struct {
	baseURL   string
	sessionID string
	http      *http.Client
}

// NewClient creates a client. A nil httpClient uses a client with a 30s timeout.
func NewClient(baseURL, sessionID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sessionID: sessionID,
		http:      httpClient,
	}
}

// SessionID returns the session the client acts for.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Pending lists the session's pending approval requests, oldest first.
func (c *Client) Pending(ctx context.Context) ([]*models.ApprovalRequest, error) {
	var resp ApprovalListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/approvals/pending", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Requests, nil
}

// Get fetches one approval request.
func (c *Client) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	if err := c.do(ctx, http.MethodGet, "/api/v1/approvals/"+url.PathEscape(id), nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Approve approves a pending request.
func (c *Client) Approve(ctx context.Context, id, comment string) (*models.ApprovalRequest, error) {
	return c.resolve(ctx, id, "approve", comment)
}

// Reject rejects a pending request.
func (c *Client) Reject(ctx context.Context, id, comment string) (*models.ApprovalRequest, error) {
	return c.resolve(ctx, id, "reject", comment)
}

func (c *Client) resolve(ctx context.Context, id, action, comment string) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	path := "/api/v1/approvals/" + url.PathEscape(id) + "/" + action
	if err := c.do(ctx, http.MethodPost, path, ApprovalActionRequest{Comment: comment}, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Templates lists the server's workflow templates.
func (c *Client) Templates(ctx context.Context) ([]templates.Info, error) {
	var resp TemplatesResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflow/templates", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Templates, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(SessionHeader, c.sessionID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if json.Unmarshal(data, &e) != nil || e.Detail == "" {
			e.Detail = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Detail: e.Detail}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
