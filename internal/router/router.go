// Package router resolves abstract roles to provider clients.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xiaot623/gogo/autopilot/internal/adapter/llm"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/logging"
)

// RoleSource is where role assignments are read from. It is consulted on
// every resolution, so credentials added mid-session are picked up.
type RoleSource interface {
	GetRoleAssignment(ctx context.Context, role domain.Role) (*domain.RoleAssignment, error)
}

// Factory builds a provider client.
type Factory func(ctx context.Context, cfg llm.Config) (llm.Provider, error)

// Invoker is the provider boundary used by the planner, engine and verifier.
type Invoker interface {
	Invoke(ctx context.Context, role domain.Role, req *llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Binding is a resolved role.
type Binding struct {
	Role       domain.Role
	ProviderID string
	Model      string
	Provider   llm.Provider
}

// Router maps roles to cached provider clients.
type Router struct {
	roles    RoleSource
	factory  Factory
	baseURLs map[string]string
	timeout  time.Duration

	mu    sync.Mutex
	cache map[string]llm.Provider
}

// Option configures a Router.
type Option func(*Router)

// WithFactory overrides how provider clients are built.
func WithFactory(f Factory) Option {
	return func(r *Router) { r.factory = f }
}

// WithBaseURL sets the endpoint used for a provider id.
func WithBaseURL(providerID, baseURL string) Option {
	return func(r *Router) {
		if baseURL != "" {
			r.baseURLs[providerID] = baseURL
		}
	}
}

// WithTimeout sets the per-call HTTP timeout of built clients.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) { r.timeout = d }
}

// New creates a Router.
func New(roles RoleSource, opts ...Option) *Router {
	r := &Router{
		roles:    roles,
		factory:  llm.NewProvider,
		baseURLs: make(map[string]string),
		timeout:  120 * time.Second,
		cache:    make(map[string]llm.Provider),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the provider bound to role. A role without a credential
// yields a *domain.MissingCredentialError. Build failures are not cached.
func (r *Router) Resolve(ctx context.Context, role domain.Role) (*Binding, error) {
	a, err := r.roles.GetRoleAssignment(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("failed to load role %s: %w", role, err)
	}
	if !a.Ready() {
		return nil, &domain.MissingCredentialError{Roles: []domain.Role{role}}
	}

	key := cacheKey(a)
	r.mu.Lock()
	p, ok := r.cache[key]
	r.mu.Unlock()

	if !ok {
		p, err = r.factory(ctx, llm.Config{
			Provider: a.Provider,
			Model:    a.Model,
			APIKey:   a.Credential,
			BaseURL:  r.baseURLs[a.Provider],
			Timeout:  r.timeout,
		})
		if err != nil {
			return nil, &domain.ProviderFailure{Role: role, Err: err}
		}

		r.mu.Lock()
		if existing, found := r.cache[key]; found {
			p = existing
		} else {
			r.cache[key] = p
		}
		r.mu.Unlock()
		logging.Debug("provider client built", "role", role, "provider", a.Provider, "model", a.Model)
	}

	return &Binding{Role: role, ProviderID: a.Provider, Model: a.Model, Provider: p}, nil
}

// Missing returns the roles among roles that cannot be resolved, in
// canonical order. With no arguments every role is checked.
func (r *Router) Missing(ctx context.Context, roles ...domain.Role) ([]domain.Role, error) {
	want := make(map[domain.Role]bool, len(roles))
	for _, role := range roles {
		want[role] = true
	}

	var missing []domain.Role
	for _, role := range domain.AllRoles {
		if len(roles) > 0 && !want[role] {
			continue
		}
		a, err := r.roles.GetRoleAssignment(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("failed to load role %s: %w", role, err)
		}
		if !a.Ready() {
			missing = append(missing, role)
		}
	}
	return missing, nil
}

// Invoke resolves role and sends req to its provider. Provider errors are
// wrapped in *domain.ProviderFailure.
func (r *Router) Invoke(ctx context.Context, role domain.Role, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	b, err := r.Resolve(ctx, role)
	if err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = b.Model
	}

	resp, err := b.Provider.Complete(ctx, req)
	if err != nil {
		var pf *domain.ProviderFailure
		if errors.As(err, &pf) {
			return nil, err
		}
		return nil, &domain.ProviderFailure{Role: role, Err: err}
	}
	resp.Provider = b.ProviderID
	return resp, nil
}

// Forget drops cached clients. Called after a role is reconfigured.
func (r *Router) Forget() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]llm.Provider)
}

func cacheKey(a *domain.RoleAssignment) string {
	sum := sha256.Sum256([]byte(a.Credential))
	return a.Provider + "|" + a.Model + "|" + hex.EncodeToString(sum[:8])
}

// Fixed sends every role to one provider. Useful for tests and demos.
type Fixed struct {
	Provider llm.Provider
}

// Invoke implements Invoker.
func (f Fixed) Invoke(ctx context.Context, role domain.Role, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := f.Provider.Complete(ctx, req)
	if err != nil {
		return nil, &domain.ProviderFailure{Role: role, Err: err}
	}
	resp.Provider = f.Provider.Name()
	return resp, nil
}
