package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/xiaot623/gogo/autopilot/internal/adapter/llm"
	"github.com/xiaot623/gogo/autopilot/internal/config"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
	"github.com/xiaot623/gogo/autopilot/internal/policy"
	"github.com/xiaot623/gogo/autopilot/internal/repository"
	"github.com/xiaot623/gogo/autopilot/internal/router"
	"github.com/xiaot623/gogo/autopilot/internal/service"
	"github.com/xiaot623/gogo/autopilot/internal/workspace"
)

func TestMain(m *testing.M) {
	logging.Discard()
	m.Run()
}

func newTestHandler(t *testing.T, seedRoles bool) (*Handler, *service.Service) {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	cfg.WatchProjects = false

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if seedRoles {
		for _, role := range domain.AllRoles {
			err := db.UpsertRoleAssignment(ctx, &domain.RoleAssignment{
				Role: role, Provider: "mock", Credential: "test-key", UpdatedAt: time.Now(),
			})
			if err != nil {
				t.Fatalf("UpsertRoleAssignment failed: %v", err)
			}
		}
	}
	rt := router.New(db, router.WithFactory(func(context.Context, llm.Config) (llm.Provider, error) {
		return llm.NewMockClient(), nil
	}))
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	svc, err := service.New(service.Deps{
		Store:    db,
		Config:   cfg,
		Router:   rt,
		Projects: workspace.NewMemRegistry(),
		Policy:   policyEngine,
	})
	if err != nil {
		t.Fatalf("service.New failed: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
		db.Close()
	})
	return NewHandler(svc), svc
}

func newContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func waitStatus(t *testing.T, svc *service.Service, projectID string, want domain.RunStatus) domain.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		run, err := svc.GetRunStatus(context.Background(), projectID)
		if err != nil {
			t.Fatalf("GetRunStatus failed: %v", err)
		}
		if run.Status == want {
			return *run
		}
		if time.Now().After(deadline) {
			t.Fatalf("run stuck in %s, want %s", run.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartRunValidation(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, true)

	for _, body := range []string{`{`, `{"objective":""}`, `{"objective":"x","mode":"turbo"}`} {
		c, rec := newContext(e, http.MethodPost, "/v1/projects/shop/runs", body)
		c.SetParamNames("project_id")
		c.SetParamValues("shop")

		if err := h.StartRun(c); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestStartRunMissingCredentials(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, false)

	c, rec := newContext(e, http.MethodPost, "/v1/projects/shop/runs", `{"objective":"add a footer"}`)
	c.SetParamNames("project_id")
	c.SetParamValues("shop")

	if err := h.StartRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", rec.Code)
	}
	var resp domain.MissingCredentialsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != "missing_credentials" || len(resp.Missing) != len(domain.AllRoles) {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestStartRunAutonomousFinishes(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t, true)

	c, rec := newContext(e, http.MethodPost, "/v1/projects/shop/runs", `{"objective":"write notes"}`)
	c.SetParamNames("project_id")
	c.SetParamValues("shop")
	if err := h.StartRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var started domain.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	run := waitStatus(t, svc, "shop", domain.RunStatusFinished)
	if run.CurrentTaskIndex != len(run.Plan) {
		t.Fatalf("cursor %d, plan length %d", run.CurrentTaskIndex, len(run.Plan))
	}

	c, rec = newContext(e, http.MethodGet, "/v1/projects/shop/files/"+llm.MockNotesPath, "")
	c.SetParamNames("project_id", "*")
	c.SetParamValues("shop", llm.MockNotesPath)
	if err := h.ReadFile(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	c, rec = newContext(e, http.MethodGet, "/v1/runs/"+started.RunID+"/events?types=run_finished", "")
	c.SetParamNames("run_id")
	c.SetParamValues(started.RunID)
	if err := h.GetRunEvents(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var events domain.ListEventsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(events.Events) != 1 || events.Events[0].Type != domain.EventTypeRunFinished {
		t.Fatalf("unexpected events: %+v", events.Events)
	}
}

func TestGodModeReviewOverHTTP(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t, true)

	c, rec := newContext(e, http.MethodPost, "/v1/projects/shop/runs", `{"objective":"write notes","mode":"god"}`)
	c.SetParamNames("project_id")
	c.SetParamValues("shop")
	if err := h.StartRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	run := waitStatus(t, svc, "shop", domain.RunStatusAwaitingReview)

	// A second start while the first is awaiting review.
	c, rec = newContext(e, http.MethodPost, "/v1/projects/shop/runs", `{"objective":"again"}`)
	c.SetParamNames("project_id")
	c.SetParamValues("shop")
	if err := h.StartRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "run_active") {
		t.Fatalf("expected 409 run_active, got %d: %s", rec.Code, rec.Body.String())
	}

	// Manual edits are refused while the run is active.
	c, rec = newContext(e, http.MethodPut, "/v1/projects/shop/files/README.md", `{"content":"hi"}`)
	c.SetParamNames("project_id", "*")
	c.SetParamValues("shop", "README.md")
	if err := h.WriteFile(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	c, rec = newContext(e, http.MethodGet, "/v1/projects/shop/plans", "")
	c.SetParamNames("project_id")
	c.SetParamValues("shop")
	if err := h.ListPlans(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var plans domain.ListPlansResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &plans); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(plans.Plans) != 1 || plans.Plans[0].PlanID != run.PlanID {
		t.Fatalf("unexpected plans: %+v", plans.Plans)
	}

	c, rec = newContext(e, http.MethodPost, "/v1/plans/"+run.PlanID+"/approve", "")
	c.SetParamNames("plan_id")
	c.SetParamValues(run.PlanID)
	if err := h.ApprovePlan(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	waitStatus(t, svc, "shop", domain.RunStatusFinished)

	// Rejecting a plan that already ran changes nothing.
	c, rec = newContext(e, http.MethodPost, "/v1/plans/"+run.PlanID+"/reject", `{"reason":"too late"}`)
	c.SetParamNames("plan_id")
	c.SetParamValues(run.PlanID)
	if err := h.RejectPlan(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	var review domain.PlanReview
	if err := json.Unmarshal(rec.Body.Bytes(), &review); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if rec.Code != http.StatusOK || review.Status == domain.ReviewStatusRejected {
		t.Fatalf("expected unchanged review, got %d: %+v", rec.Code, review)
	}
}

func TestCancelRunIsNoOpWhenIdle(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, true)

	c, rec := newContext(e, http.MethodPost, "/v1/projects/shop/run/cancel", "")
	c.SetParamNames("project_id")
	c.SetParamValues("shop")
	if err := h.CancelRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var run domain.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if run.Status != domain.RunStatusIdle {
		t.Fatalf("expected idle, got %s", run.Status)
	}
}

func TestNotFoundMapping(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, true)

	c, rec := newContext(e, http.MethodPost, "/v1/plans/plan_missing/approve", "")
	c.SetParamNames("plan_id")
	c.SetParamValues("plan_missing")
	if err := h.ApprovePlan(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	c, rec = newContext(e, http.MethodGet, "/v1/runs/run_missing/events", "")
	c.SetParamNames("run_id")
	c.SetParamValues("run_missing")
	if err := h.GetRunEvents(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	c, rec = newContext(e, http.MethodGet, "/v1/projects/shop/files/nope.txt", "")
	c.SetParamNames("project_id", "*")
	c.SetParamValues("shop", "nope.txt")
	if err := h.ReadFile(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	c, rec = newContext(e, http.MethodGet, "/v1/projects/shop/files/../etc/passwd", "")
	c.SetParamNames("project_id", "*")
	c.SetParamValues("shop", "../etc/passwd")
	if err := h.ReadFile(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRoles(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, false)

	c, rec := newContext(e, http.MethodPut, "/v1/roles/architect", `{"provider":"mock","credential":"secret"}`)
	c.SetParamNames("role")
	c.SetParamValues("architect")
	if err := h.UpdateRole(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	c, rec = newContext(e, http.MethodPut, "/v1/roles/janitor", `{"provider":"mock"}`)
	c.SetParamNames("role")
	c.SetParamValues("janitor")
	if err := h.UpdateRole(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	c, rec = newContext(e, http.MethodGet, "/v1/roles", "")
	if err := h.ListRoles(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("credential leaked: %s", rec.Body.String())
	}
	var roles domain.ListRolesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &roles); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	ready := 0
	for _, r := range roles.Roles {
		if r.Ready {
			ready++
		}
	}
	if len(roles.Roles) != len(domain.AllRoles) || ready != 1 {
		t.Fatalf("unexpected roles: %+v", roles.Roles)
	}
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t, false)

	c, rec := newContext(e, http.MethodGet, "/health", "")
	if err := h.Health(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("unexpected health response %d: %s", rec.Code, rec.Body.String())
	}
}
