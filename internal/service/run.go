package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
	"github.com/xiaot623/gogo/autopilot/internal/verifier"
)

// StartRun starts a run for a project and returns its first snapshot. The
// run itself proceeds in the background.
func (s *Service) StartRun(ctx context.Context, projectID string, req domain.StartRunRequest) (*domain.Run, error) {
	objective := strings.TrimSpace(req.Objective)
	if objective == "" {
		return nil, fmt.Errorf("%w: objective is required", domain.ErrInvalidInput)
	}
	mode, ok := domain.ParseRunMode(req.Mode)
	if !ok {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrInvalidInput, req.Mode)
	}

	pr, err := s.project(projectID)
	if err != nil {
		return nil, err
	}

	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.machine.Snapshot().Status.IsActive() {
		return nil, domain.ErrRunActive
	}
	missing, err := s.router.Missing(ctx, domain.AllRoles...)
	if err != nil {
		return nil, fmt.Errorf("failed to check role assignments: %w", err)
	}
	if len(missing) > 0 {
		return nil, &domain.MissingCredentialError{Roles: missing}
	}

	runID := "run_" + uuid.New().String()[:8]
	epoch, err := pr.machine.Start(runID, objective, mode)
	if err != nil {
		return nil, err
	}

	pr.tree.ResetConflicts()
	baseline, err := pr.tree.Snapshot()
	if err != nil {
		pr.machine.Cancel()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(withRunID(s.baseCtx, runID))
	att := &attempt{
		runID:     runID,
		objective: objective,
		mode:      mode,
		epoch:     epoch,
		ctx:       runCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		budget:    verifier.NewBudget(s.config.MaxRetries),
		baseline:  baseline,
		approvals: make(chan struct{}, 1),
	}
	pr.current = att

	s.recordEvent(ctx, runID, domain.EventTypeRunStarted, domain.RunStartedPayload{
		ProjectID: projectID,
		Objective: objective,
		Mode:      mode,
	})
	s.metrics.RunsStarted.Inc()
	s.metrics.ActiveRuns.Inc()
	logging.Info("run started", "project_id", projectID, "run_id", runID, "mode", mode)

	s.wg.Add(1)
	go s.drive(pr, att)

	snap := pr.machine.Snapshot()
	return &snap, nil
}

// GetRunStatus returns the project's current Run. Projects that never ran
// in this process are answered from the store.
func (s *Service) GetRunStatus(ctx context.Context, projectID string) (*domain.Run, error) {
	if pr := s.lookup(projectID); pr != nil {
		snap := pr.machine.Snapshot()
		if snap.RunID != "" {
			return &snap, nil
		}
	}

	run, err := s.store.GetLatestRun(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return &domain.Run{ProjectID: projectID, Status: domain.RunStatusIdle, Plan: []string{}, Logs: []domain.LogEntry{}}, nil
	}
	if run.Status.IsActive() {
		// The process that drove it is gone.
		run.Status = domain.RunStatusError
		run.LastError = "orchestrator restarted while the run was active"
	}
	return run, nil
}

// CancelRun moves an active run to idle. Cancelling an idle or ended run is
// a no-op that returns the unchanged snapshot.
func (s *Service) CancelRun(ctx context.Context, projectID string) (*domain.Run, error) {
	pr := s.lookup(projectID)
	if pr == nil {
		return s.GetRunStatus(ctx, projectID)
	}

	before := pr.machine.Snapshot()
	if !pr.machine.Cancel() {
		return &before, nil
	}

	pr.mu.Lock()
	att := pr.current
	pr.mu.Unlock()
	if att != nil {
		att.cancel()
	}
	if before.PlanID != "" {
		if err := s.gate.Discard(ctx, before.PlanID); err != nil {
			logging.Warn("failed to discard plan", "plan_id", before.PlanID, "error", err)
		} else if r, err := s.gate.Get(ctx, before.PlanID); err == nil {
			s.recordEvent(ctx, before.RunID, domain.EventTypePlanReviewed, domain.PlanReviewedPayload{
				PlanID: r.PlanID,
				Status: r.Status,
				Reason: r.Reason,
			})
		}
	}
	s.recordEvent(ctx, before.RunID, domain.EventTypeRunCancelled, map[string]string{"status": string(before.Status)})
	s.channel.Clear(projectID)
	logging.Info("run cancelled", "project_id", projectID, "run_id", before.RunID)

	snap := pr.machine.Snapshot()
	return &snap, nil
}
