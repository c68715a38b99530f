// Package apiclient provides an HTTP client for the orchestrator's public API.
package apiclient

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

	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// Client is an HTTP client for the orchestrator API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new orchestrator client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// ErrorResponse represents an error response from the orchestrator.
type ErrorResponse struct {
	Error   string        `json:"error"`
	Missing []domain.Role `json:"missing,omitempty"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Missing    []domain.Role
}

func (e *APIError) Error() string {
	if len(e.Missing) > 0 {
		names := make([]string, len(e.Missing))
		for i, r := range e.Missing {
			names[i] = string(r)
		}
		return fmt.Sprintf("orchestrator error: %s (%s)", e.Code, strings.Join(names, ", "))
	}
	if e.Code != "" {
		return "orchestrator error: " + e.Code
	}
	return fmt.Sprintf("orchestrator returned status %d", e.StatusCode)
}

// StartRun calls POST /v1/projects/:project_id/runs.
func (c *Client) StartRun(ctx context.Context, projectID string, req *domain.StartRunRequest) (*domain.Run, error) {
	var run domain.Run
	if err := c.do(ctx, http.MethodPost, "/v1/projects/"+url.PathEscape(projectID)+"/runs", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun calls GET /v1/projects/:project_id/run.
func (c *Client) GetRun(ctx context.Context, projectID string) (*domain.Run, error) {
	var run domain.Run
	if err := c.do(ctx, http.MethodGet, "/v1/projects/"+url.PathEscape(projectID)+"/run", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// CancelRun calls POST /v1/projects/:project_id/run/cancel.
func (c *Client) CancelRun(ctx context.Context, projectID string) (*domain.Run, error) {
	var run domain.Run
	if err := c.do(ctx, http.MethodPost, "/v1/projects/"+url.PathEscape(projectID)+"/run/cancel", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListPlans calls GET /v1/projects/:project_id/plans.
func (c *Client) ListPlans(ctx context.Context, projectID string) ([]domain.PlanReview, error) {
	var resp domain.ListPlansResponse
	if err := c.do(ctx, http.MethodGet, "/v1/projects/"+url.PathEscape(projectID)+"/plans", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Plans, nil
}

// GetPlan calls GET /v1/plans/:plan_id.
func (c *Client) GetPlan(ctx context.Context, planID string) (*domain.PlanReview, error) {
	var review domain.PlanReview
	if err := c.do(ctx, http.MethodGet, "/v1/plans/"+url.PathEscape(planID), nil, &review); err != nil {
		return nil, err
	}
	return &review, nil
}

// ApprovePlan calls POST /v1/plans/:plan_id/approve.
func (c *Client) ApprovePlan(ctx context.Context, planID string) (*domain.PlanReview, error) {
	var review domain.PlanReview
	if err := c.do(ctx, http.MethodPost, "/v1/plans/"+url.PathEscape(planID)+"/approve", nil, &review); err != nil {
		return nil, err
	}
	return &review, nil
}

// RejectPlan calls POST /v1/plans/:plan_id/reject.
func (c *Client) RejectPlan(ctx context.Context, planID, reason string) (*domain.PlanReview, error) {
	var review domain.PlanReview
	req := &domain.ReviewDecisionRequest{Reason: reason}
	if err := c.do(ctx, http.MethodPost, "/v1/plans/"+url.PathEscape(planID)+"/reject", req, &review); err != nil {
		return nil, err
	}
	return &review, nil
}

// ListRoles calls GET /v1/roles.
func (c *Client) ListRoles(ctx context.Context) ([]domain.RoleView, error) {
	var resp domain.ListRolesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/roles", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Roles, nil
}

// UpdateRole calls PUT /v1/roles/:role.
func (c *Client) UpdateRole(ctx context.Context, role string, req *domain.RoleUpdateRequest) (*domain.RoleView, error) {
	var view domain.RoleView
	if err := c.do(ctx, http.MethodPut, "/v1/roles/"+url.PathEscape(role), req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetRunEvents calls GET /v1/runs/:run_id/events.
func (c *Client) GetRunEvents(ctx context.Context, runID string, afterTs int64, limit int) ([]domain.Event, error) {
	q := url.Values{}
	if afterTs > 0 {
		q.Set("after_ts", fmt.Sprint(afterTs))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/v1/runs/" + url.PathEscape(runID) + "/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp domain.ListEventsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// PreviewURL returns the websocket address of a project's annotation channel.
func (c *Client) PreviewURL(projectID string) string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/v1/projects/" + url.PathEscape(projectID) + "/preview/ws"
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call orchestrator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil {
			apiErr.Code = errResp.Error
			apiErr.Missing = errResp.Missing
		}
		if apiErr.Code == "" {
			apiErr.Code = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
