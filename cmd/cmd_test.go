package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/gogo/autopilot/internal/adapter/llm"
	"github.com/xiaot623/gogo/autopilot/internal/annotate"
	"github.com/xiaot623/gogo/autopilot/internal/apiclient"
	"github.com/xiaot623/gogo/autopilot/internal/config"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
	"github.com/xiaot623/gogo/autopilot/internal/policy"
	"github.com/xiaot623/gogo/autopilot/internal/repository"
	"github.com/xiaot623/gogo/autopilot/internal/router"
	"github.com/xiaot623/gogo/autopilot/internal/service"
	handler "github.com/xiaot623/gogo/autopilot/internal/transport/http"
	"github.com/xiaot623/gogo/autopilot/internal/workspace"
)

func TestMain(m *testing.M) {
	logging.Discard()
	m.Run()
}

// lineConfirm answers prompts from the first line of input.
func lineConfirm(label string, in io.Reader, out io.Writer) (bool, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	fmt.Fprintf(out, "%s? [y/N] %s", label, line)
	return strings.EqualFold(strings.TrimSpace(line), "y"), nil
}

type testServer struct {
	url string
	hub *annotate.Hub
	svc *service.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	t.Chdir(t.TempDir())

	cfg := config.Default()
	cfg.WatchProjects = false

	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	rt := router.New(db, router.WithFactory(func(context.Context, llm.Config) (llm.Provider, error) {
		return llm.NewMockClient(), nil
	}))
	pol, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)

	hub := annotate.NewHub()
	hubCtx, hubCancel := context.WithCancel(ctx)
	go hub.Run(hubCtx)

	svc, err := service.New(service.Deps{
		Store:    db,
		Config:   cfg,
		Router:   rt,
		Projects: workspace.NewMemRegistry(),
		Policy:   pol,
		Channel:  hub,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(handler.NewServer(svc, annotate.NewServer(annotate.DefaultServerConfig(), hub)))
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, svc.Shutdown(shutdownCtx))
		hubCancel()
		srv.Close()
		db.Close()
	})
	return &testServer{url: srv.URL, hub: hub, svc: svc}
}

func (s *testServer) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(&app{confirm: lineConfirm})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--server", s.url}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStartFollowFinishes(t *testing.T) {
	s := newTestServer(t)

	out, err := s.run(t, "", "roles", "set", "architect", "mock", "--credential", "test-key")
	require.NoError(t, err)
	assert.Contains(t, out, "Architect -> mock (ready)")

	_, err = s.run(t, "", "start", "shop", "write notes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing_credentials")
	assert.Contains(t, err.Error(), string(domain.RoleCoder))

	for _, role := range []string{"coder", "reviewer"} {
		_, err := s.run(t, "", "roles", "set", role, "mock", "--credential", "unused")
		require.NoError(t, err)
	}

	out, err = s.run(t, "", "start", "shop", "write notes", "--follow")
	require.NoError(t, err)
	assert.Contains(t, out, "Run started (autonomous): write notes")
	assert.Contains(t, out, "FINISHED")

	out, err = s.run(t, "", "status", "shop", "--logs")
	require.NoError(t, err)
	assert.Contains(t, out, "create "+llm.MockNotesPath)
	assert.Contains(t, out, "Verification passed")

	out, err = s.run(t, "", "cancel", "shop")
	require.NoError(t, err)
	assert.Contains(t, out, "FINISHED", "cancel is a no-op once the run finished")
}

func TestGodModeApproveWithPrompt(t *testing.T) {
	s := newTestServer(t)
	for _, role := range []string{"architect", "coder", "reviewer"} {
		_, err := s.run(t, "", "roles", "set", role, "mock", "--credential", "test-key")
		require.NoError(t, err)
	}

	out, err := s.run(t, "", "start", "shop", "write notes", "--god", "--follow")
	require.NoError(t, err)
	assert.Contains(t, out, "AWAITING-REVIEW")

	plans, err := apiclient.NewClient(s.url).ListPlans(context.Background(), "shop")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	planID := plans[0].PlanID

	out, err = s.run(t, "n\n", "approve", planID)
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing changed")

	out, err = s.run(t, "y\n", "approve", planID)
	require.NoError(t, err)
	assert.Contains(t, out, "Plan "+planID+" is ")
	assert.NotContains(t, out, "is pending")

	require.Eventually(t, func() bool {
		run, err := s.svc.GetRunStatus(context.Background(), "shop")
		return err == nil && run.Status == domain.RunStatusFinished
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRejectSkipsPromptWithYes(t *testing.T) {
	s := newTestServer(t)
	for _, role := range []string{"architect", "coder", "reviewer"} {
		_, err := s.run(t, "", "roles", "set", role, "mock", "--credential", "test-key")
		require.NoError(t, err)
	}
	_, err := s.run(t, "", "start", "shop", "write notes", "--god", "--follow")
	require.NoError(t, err)

	plans, err := apiclient.NewClient(s.url).ListPlans(context.Background(), "shop")
	require.NoError(t, err)
	require.Len(t, plans, 1)

	out, err := s.run(t, "", "reject", plans[0].PlanID, "--yes", "--reason", "not now")
	require.NoError(t, err)
	assert.Contains(t, out, "is rejected")

	out, err = s.run(t, "", "status", "shop", "--logs")
	require.NoError(t, err)
	assert.Contains(t, out, "IDLE")
	assert.Contains(t, out, "rejected: not now")
}

func TestRolesList(t *testing.T) {
	s := newTestServer(t)
	_, err := s.run(t, "", "roles", "set", "reviewer", "mock", "--model", "m1", "--credential", "test-key")
	require.NoError(t, err)

	out, err := s.run(t, "", "roles", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Architect")
	assert.Contains(t, lines[0], "missing")
	assert.Contains(t, lines[2], "Reviewer")
	assert.Contains(t, lines[2], "mock/m1")
}

func TestPreviewClientFollowsHighlights(t *testing.T) {
	s := newTestServer(t)
	var out syncBuffer

	client, err := dialPreview(context.Background(), apiclient.NewClient(s.url).PreviewURL("shop"), &out)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- client.readLoop() }()

	require.Eventually(t, func() bool { return s.hub.HasActiveConnections("shop") }, 2*time.Second, 5*time.Millisecond)
	s.hub.Highlight("shop", annotate.CSSSelector("footer"), domain.ActionHighlightType)
	s.hub.Clear("shop")

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "cleared") }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, out.String(), `[data-testid="footer"]`)
	_, visible := client.surface.Current()
	assert.False(t, visible)

	client.Close()
	<-done
}

func TestRenderRun(t *testing.T) {
	out := renderRun(&domain.Run{
		ProjectID:        "shop",
		RunID:            "run_1",
		Mode:             domain.RunModeAutonomous,
		Status:           domain.RunStatusError,
		Objective:        "add a footer",
		Plan:             []string{"create footer", "render footer"},
		CurrentTaskIndex: 1,
		LastError:        "retry budget exhausted after 3 attempt(s)",
	})
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "1. create footer")
	assert.Contains(t, out, "2. render footer")
	assert.Contains(t, out, "retry budget exhausted")
}
