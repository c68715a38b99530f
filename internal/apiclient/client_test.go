package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

func TestStartRunSendsObjective(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/projects/shop/runs", r.URL.Path)
		var req domain.StartRunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "add a footer", req.Objective)

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(domain.Run{RunID: "run_1", ProjectID: "shop", Status: domain.RunStatusPlanning})
	}))
	defer srv.Close()

	run, err := NewClient(srv.URL+"/").StartRun(context.Background(), "shop", &domain.StartRunRequest{Objective: "add a footer"})
	require.NoError(t, err)
	assert.Equal(t, "run_1", run.RunID)
	assert.Equal(t, domain.RunStatusPlanning, run.Status)
}

func TestMissingCredentialsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		json.NewEncoder(w).Encode(domain.MissingCredentialsResponse{
			Error:   "missing_credentials",
			Missing: []domain.Role{domain.RoleArchitect},
		})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).StartRun(context.Background(), "shop", &domain.StartRunRequest{Objective: "x"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusPreconditionFailed, apiErr.StatusCode)
	assert.Equal(t, "missing_credentials", apiErr.Code)
	assert.Equal(t, []domain.Role{domain.RoleArchitect}, apiErr.Missing)
	assert.Contains(t, err.Error(), string(domain.RoleArchitect))
}

func TestGetRunEventsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/runs/run_1/events", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("after_ts"))
		json.NewEncoder(w).Encode(domain.ListEventsResponse{Events: []domain.Event{{EventID: "evt_1"}}})
	}))
	defer srv.Close()

	events, err := NewClient(srv.URL).GetRunEvents(context.Background(), "run_1", 42, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt_1", events[0].EventID)
}

func TestPreviewURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/v1/projects/shop/preview/ws", NewClient("http://localhost:8080").PreviewURL("shop"))
	assert.Equal(t, "wss://example.com/v1/projects/shop/preview/ws", NewClient("https://example.com/").PreviewURL("shop"))
}
