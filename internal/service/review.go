package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
)

// ListPlans returns a project's plan reviews in creation order.
func (s *Service) ListPlans(ctx context.Context, projectID string) ([]domain.PlanReview, error) {
	return s.gate.List(ctx, projectID)
}

// GetPlan returns one plan review.
func (s *Service) GetPlan(ctx context.Context, planID string) (*domain.PlanReview, error) {
	return s.gate.Get(ctx, planID)
}

// ApprovePlan approves a pending plan and resumes its run. Approving a plan
// that is not pending is a no-op.
func (s *Service) ApprovePlan(ctx context.Context, planID string) (*domain.PlanReview, error) {
	unlock, err := s.lockReview(ctx, planID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, changed, err := s.gate.Approve(ctx, planID)
	if err != nil || !changed {
		return r, err
	}
	s.metrics.PlanReviews.WithLabelValues(string(domain.ReviewStatusApproved)).Inc()

	pr, att := s.awaiting(r)
	if att == nil {
		s.gate.Discard(ctx, planID)
		return nil, fmt.Errorf("%w: run %s is no longer awaiting review", domain.ErrInvalidTransition, r.RunID)
	}

	if err := s.gate.MarkExecuting(ctx, planID); err != nil {
		s.gate.Undo(ctx, planID)
		return nil, err
	}
	if err := pr.machine.Approve(att.epoch, planID); err != nil {
		s.gate.Complete(ctx, planID)
		return nil, fmt.Errorf("failed to approve plan: %w", err)
	}

	s.recordEvent(ctx, r.RunID, domain.EventTypePlanReviewed, domain.PlanReviewedPayload{
		PlanID: planID,
		Status: domain.ReviewStatusApproved,
	})
	select {
	case att.approvals <- struct{}{}:
	default:
	}
	logging.Info("plan approved", "plan_id", planID, "run_id", r.RunID)
	return s.gate.Get(ctx, planID)
}

// RejectPlan rejects a pending plan and returns its run to idle. Rejecting a
// plan that is not pending is a no-op.
func (s *Service) RejectPlan(ctx context.Context, planID, reason string) (*domain.PlanReview, error) {
	unlock, err := s.lockReview(ctx, planID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, changed, err := s.gate.Reject(ctx, planID, reason)
	if err != nil || !changed {
		return r, err
	}
	s.metrics.PlanReviews.WithLabelValues(string(domain.ReviewStatusRejected)).Inc()

	if pr, att := s.awaiting(r); att != nil {
		if err := pr.machine.Reject(att.epoch, planID, reason); err != nil {
			logging.Warn("failed to reject plan on run", "plan_id", planID, "error", err)
		} else {
			att.cancel()
		}
	}
	s.recordEvent(ctx, r.RunID, domain.EventTypePlanReviewed, domain.PlanReviewedPayload{
		PlanID: planID,
		Status: domain.ReviewStatusRejected,
		Reason: reason,
	})
	logging.Info("plan rejected", "plan_id", planID, "run_id", r.RunID)
	return r, nil
}

// lockReview takes the review lock of the project owning planID, so a
// decision never lands between submission and the run awaiting it.
func (s *Service) lockReview(ctx context.Context, planID string) (func(), error) {
	r, err := s.gate.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	pr := s.lookup(r.ProjectID)
	if pr == nil {
		return func() {}, nil
	}
	pr.review.Lock()
	return pr.review.Unlock, nil
}

// awaiting finds the live run reviewing r.
func (s *Service) awaiting(r *domain.PlanReview) (*projectRun, *attempt) {
	pr := s.lookup(r.ProjectID)
	if pr == nil {
		return nil, nil
	}
	pr.mu.Lock()
	att := pr.current
	pr.mu.Unlock()
	if att == nil || att.runID != r.RunID {
		return pr, nil
	}
	snap := pr.machine.Snapshot()
	if snap.Status != domain.RunStatusAwaitingReview || snap.PlanID != r.PlanID {
		return pr, nil
	}
	return pr, att
}
