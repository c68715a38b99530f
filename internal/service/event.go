package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xiaot623/gogo/autopilot/internal/adapter/llm"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
	"github.com/xiaot623/gogo/autopilot/internal/router"
)

// recordEvent records an event to the store. Failures are logged; the run
// carries on without its trace.
func (s *Service) recordEvent(ctx context.Context, runID string, eventType domain.EventType, payload interface{}) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		logging.Error("failed to marshal event payload", "type", eventType, "error", err)
		return
	}

	event := &domain.Event{
		EventID: "evt_" + uuid.New().String()[:8],
		RunID:   runID,
		Ts:      time.Now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}
	if err := s.store.CreateEvent(context.WithoutCancel(ctx), event); err != nil {
		logging.Error("failed to record event", "run_id", runID, "type", eventType, "error", err)
	}
}

// GetRunEvents returns a run's persisted events.
func (s *Service) GetRunEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, domain.ErrRunNotFound
	}
	events, err := s.store.GetEvents(ctx, runID, afterTs, types, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}

type runIDKey struct{}

func withRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// instrumentedInvoker records latency, usage and errors of every provider call.
type instrumentedInvoker struct {
	next router.Invoker
	svc  *Service
}

func (i *instrumentedInvoker) Invoke(ctx context.Context, role domain.Role, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := i.next.Invoke(ctx, role, req)
	latency := time.Since(start)

	payload := domain.LLMCallDonePayload{
		RequestID: "req_" + uuid.New().String()[:8],
		Role:      role,
		LatencyMs: latency.Milliseconds(),
	}
	if resp != nil {
		payload.Provider = resp.Provider
		payload.Model = resp.Model
		if resp.Usage != nil {
			payload.PromptTokens = resp.Usage.PromptTokens
			payload.CompletionTokens = resp.Usage.CompletionTokens
			payload.TotalTokens = resp.Usage.TotalTokens
		}
	}
	if err != nil {
		payload.Error = err.Error()
	}
	i.svc.metrics.ObserveProviderCall(string(role), payload.Provider, latency, err)

	if runID := runIDFrom(ctx); runID != "" {
		i.svc.recordEvent(ctx, runID, domain.EventTypeLLMCallDone, payload)
	}
	return resp, err
}
