// Package store defines the storage interface and implementations.
package store

import (
	"context"

	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Run operations
	SaveRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	GetLatestRun(ctx context.Context, projectID string) (*domain.Run, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error)

	// Plan review operations
	CreatePlanReview(ctx context.Context, review *domain.PlanReview) error
	GetPlanReview(ctx context.Context, planID string) (*domain.PlanReview, error)
	ListPlanReviews(ctx context.Context, projectID string) ([]domain.PlanReview, error)
	UpdatePlanReviewStatus(ctx context.Context, planID string, from []domain.ReviewStatus, to domain.ReviewStatus, reason string) (bool, error)

	// Role assignment operations
	UpsertRoleAssignment(ctx context.Context, assignment *domain.RoleAssignment) error
	GetRoleAssignment(ctx context.Context, role domain.Role) (*domain.RoleAssignment, error)
	ListRoleAssignments(ctx context.Context) ([]domain.RoleAssignment, error)

	// Lifecycle
	Close() error
}

var _ Store = (*SQLiteStore)(nil)
