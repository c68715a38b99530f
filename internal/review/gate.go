// Package review holds the plan review gate. A plan is shown to the user as
// a PlanReview and only runs once it is approved.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// Store is the persistence the gate needs.
type Store interface {
	CreatePlanReview(ctx context.Context, review *domain.PlanReview) error
	GetPlanReview(ctx context.Context, planID string) (*domain.PlanReview, error)
	ListPlanReviews(ctx context.Context, projectID string) ([]domain.PlanReview, error)
	UpdatePlanReviewStatus(ctx context.Context, planID string, from []domain.ReviewStatus, to domain.ReviewStatus, reason string) (bool, error)
}

// CancelledReason is recorded on plans discarded by a cancel.
const CancelledReason = "run cancelled"

// Gate tracks plan reviews.
type Gate struct {
	store Store
	now   func() time.Time
}

// NewGate creates a Gate.
func NewGate(store Store) *Gate {
	return &Gate{store: store, now: time.Now}
}

// NewPlanID returns a lexicographically sortable plan id.
func NewPlanID() string {
	return "plan_" + ulid.Make().String()
}

// Submit records a plan waiting for a human decision.
func (g *Gate) Submit(ctx context.Context, projectID, runID string, plan domain.Plan) (*domain.PlanReview, error) {
	return g.create(ctx, projectID, runID, plan, domain.ReviewStatusPending)
}

// Record records a plan that needs no review. It starts out approved.
func (g *Gate) Record(ctx context.Context, projectID, runID string, plan domain.Plan) (*domain.PlanReview, error) {
	return g.create(ctx, projectID, runID, plan, domain.ReviewStatusApproved)
}

func (g *Gate) create(ctx context.Context, projectID, runID string, plan domain.Plan, status domain.ReviewStatus) (*domain.PlanReview, error) {
	now := g.now()
	r := &domain.PlanReview{
		PlanID:    NewPlanID(),
		ProjectID: projectID,
		RunID:     runID,
		Plan:      plan,
		Status:    status,
		CreatedAt: now,
	}
	if status != domain.ReviewStatusPending {
		r.DecidedAt = &now
	}
	if err := g.store.CreatePlanReview(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create plan review: %w", err)
	}
	return r, nil
}

// Get returns a review or domain.ErrPlanNotFound.
func (g *Gate) Get(ctx context.Context, planID string) (*domain.PlanReview, error) {
	r, err := g.store.GetPlanReview(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan review: %w", err)
	}
	if r == nil {
		return nil, domain.ErrPlanNotFound
	}
	return r, nil
}

// List returns a project's reviews in creation order.
func (g *Gate) List(ctx context.Context, projectID string) ([]domain.PlanReview, error) {
	reviews, err := g.store.ListPlanReviews(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list plan reviews: %w", err)
	}
	if reviews == nil {
		reviews = []domain.PlanReview{}
	}
	return reviews, nil
}

// Approve approves a pending plan. On any other status it is a no-op and
// reports changed=false with the unchanged review.
func (g *Gate) Approve(ctx context.Context, planID string) (*domain.PlanReview, bool, error) {
	return g.decide(ctx, planID, domain.ReviewStatusApproved, "")
}

// Reject rejects a pending plan. On any other status it is a no-op.
func (g *Gate) Reject(ctx context.Context, planID, reason string) (*domain.PlanReview, bool, error) {
	return g.decide(ctx, planID, domain.ReviewStatusRejected, reason)
}

func (g *Gate) decide(ctx context.Context, planID string, to domain.ReviewStatus, reason string) (*domain.PlanReview, bool, error) {
	if _, err := g.Get(ctx, planID); err != nil {
		return nil, false, err
	}
	changed, err := g.store.UpdatePlanReviewStatus(ctx, planID,
		[]domain.ReviewStatus{domain.ReviewStatusPending}, to, reason)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update plan review: %w", err)
	}
	r, err := g.Get(ctx, planID)
	return r, changed, err
}

// Undo moves an approved plan back to pending. Used when the run it was
// approved for is gone by the time the approval lands.
func (g *Gate) Undo(ctx context.Context, planID string) error {
	_, err := g.store.UpdatePlanReviewStatus(ctx, planID,
		[]domain.ReviewStatus{domain.ReviewStatusApproved}, domain.ReviewStatusPending, "")
	return err
}

// MarkExecuting moves an approved plan to executing. A second executing
// plan in the same project yields domain.ErrPlanExecuting.
func (g *Gate) MarkExecuting(ctx context.Context, planID string) error {
	changed, err := g.store.UpdatePlanReviewStatus(ctx, planID,
		[]domain.ReviewStatus{domain.ReviewStatusApproved}, domain.ReviewStatusExecuting, "")
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%w: plan %s is not approved", domain.ErrInvalidTransition, planID)
	}
	return nil
}

// Complete marks an executing plan as done. The run has moved past it.
func (g *Gate) Complete(ctx context.Context, planID string) error {
	_, err := g.store.UpdatePlanReviewStatus(ctx, planID,
		[]domain.ReviewStatus{domain.ReviewStatusExecuting, domain.ReviewStatusApproved}, domain.ReviewStatusCompleted, "")
	return err
}

// Discard closes a plan because its run was cancelled. Pending plans become
// rejected, approved or executing plans become completed.
func (g *Gate) Discard(ctx context.Context, planID string) error {
	if _, err := g.store.UpdatePlanReviewStatus(ctx, planID,
		[]domain.ReviewStatus{domain.ReviewStatusPending}, domain.ReviewStatusRejected, CancelledReason); err != nil {
		return err
	}
	return g.Complete(ctx, planID)
}
