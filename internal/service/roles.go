package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/xiaot623/gogo/autopilot/internal/adapter/llm"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
)

// ListRoles returns every role in canonical order. Credentials are never
// included.
func (s *Service) ListRoles(ctx context.Context) ([]domain.RoleView, error) {
	assignments, err := s.store.ListRoleAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list role assignments: %w", err)
	}
	byRole := make(map[domain.Role]domain.RoleAssignment, len(assignments))
	for _, a := range assignments {
		byRole[a.Role] = a
	}

	views := make([]domain.RoleView, 0, len(domain.AllRoles))
	for _, role := range domain.AllRoles {
		a, ok := byRole[role]
		if !ok {
			views = append(views, domain.RoleView{Role: role})
			continue
		}
		views = append(views, roleView(&a))
	}
	return views, nil
}

// UpdateRole assigns a provider to a role. An empty credential keeps the
// stored one, so a model can be changed without resending the secret.
func (s *Service) UpdateRole(ctx context.Context, roleName string, req domain.RoleUpdateRequest) (*domain.RoleView, error) {
	role, ok := domain.ParseRole(roleName)
	if !ok {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, roleName)
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if !slices.Contains(llm.Providers, provider) {
		return nil, fmt.Errorf("%w: unknown provider %q (want one of %s)", domain.ErrInvalidInput, req.Provider, strings.Join(llm.Providers, ", "))
	}

	a := &domain.RoleAssignment{
		Role:       role,
		Provider:   provider,
		Model:      strings.TrimSpace(req.Model),
		Credential: req.Credential,
		UpdatedAt:  time.Now(),
	}
	if a.Credential == "" {
		existing, err := s.store.GetRoleAssignment(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("failed to get role assignment: %w", err)
		}
		if existing != nil && existing.Provider == provider {
			a.Credential = existing.Credential
		}
	}

	if err := s.store.UpsertRoleAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to save role assignment: %w", err)
	}
	s.router.Forget()
	logging.Info("role updated", "role", role, "provider", provider, "model", a.Model, "ready", a.Ready())

	view := roleView(a)
	return &view, nil
}

// SeedRoles stores assignments from the roles file. Roles already assigned
// are left alone.
func (s *Service) SeedRoles(ctx context.Context, assignments []domain.RoleAssignment) error {
	for i := range assignments {
		a := assignments[i]
		existing, err := s.store.GetRoleAssignment(ctx, a.Role)
		if err != nil {
			return fmt.Errorf("failed to get role assignment: %w", err)
		}
		if existing.Ready() {
			continue
		}
		a.UpdatedAt = time.Now()
		if err := s.store.UpsertRoleAssignment(ctx, &a); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", a.Role, err)
		}
	}
	s.router.Forget()
	return nil
}

func roleView(a *domain.RoleAssignment) domain.RoleView {
	return domain.RoleView{
		Role:     a.Role,
		Provider: a.Provider,
		Model:    a.Model,
		Ready:    a.Ready(),
	}
}
