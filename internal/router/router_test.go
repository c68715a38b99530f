package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/gogo/autopilot/internal/adapter/llm"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

type memRoles struct {
	mu    sync.Mutex
	roles map[domain.Role]domain.RoleAssignment
}

func (m *memRoles) GetRoleAssignment(_ context.Context, role domain.Role) (*domain.RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.roles[role]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memRoles) set(a domain.RoleAssignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[a.Role] = a
}

type countingFactory struct {
	builds int
	fail   error
}

func (f *countingFactory) build(_ context.Context, cfg llm.Config) (llm.Provider, error) {
	f.builds++
	if f.fail != nil {
		return nil, f.fail
	}
	return llm.NewMockClient(), nil
}

func TestMissingReturnsCanonicalOrder(t *testing.T) {
	roles := &memRoles{roles: map[domain.Role]domain.RoleAssignment{
		domain.RoleCoder:    {Role: domain.RoleCoder, Provider: "openai", Credential: "sk-1"},
		domain.RoleReviewer: {Role: domain.RoleReviewer, Provider: "openai"},
	}}
	r := New(roles)

	missing, err := r.Missing(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.Role{domain.RoleArchitect, domain.RoleReviewer}, missing)

	missing, err = r.Missing(context.Background(), domain.RoleReviewer, domain.RoleCoder)
	require.NoError(t, err)
	assert.Equal(t, []domain.Role{domain.RoleReviewer}, missing)
}

func TestResolveSeesCredentialAddedLater(t *testing.T) {
	roles := &memRoles{roles: map[domain.Role]domain.RoleAssignment{}}
	f := &countingFactory{}
	r := New(roles, WithFactory(f.build))
	ctx := context.Background()

	_, err := r.Resolve(ctx, domain.RoleArchitect)
	var missing *domain.MissingCredentialError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []domain.Role{domain.RoleArchitect}, missing.Roles)

	roles.set(domain.RoleAssignment{Role: domain.RoleArchitect, Provider: "mock", Credential: "k"})
	b, err := r.Resolve(ctx, domain.RoleArchitect)
	require.NoError(t, err)
	assert.Equal(t, "mock", b.ProviderID)

	_, err = r.Resolve(ctx, domain.RoleArchitect)
	require.NoError(t, err)
	assert.Equal(t, 1, f.builds, "built clients are cached")

	roles.set(domain.RoleAssignment{Role: domain.RoleArchitect, Provider: "mock", Credential: "rotated"})
	_, err = r.Resolve(ctx, domain.RoleArchitect)
	require.NoError(t, err)
	assert.Equal(t, 2, f.builds, "a new credential builds a new client")
}

func TestResolveDoesNotCacheFailures(t *testing.T) {
	roles := &memRoles{roles: map[domain.Role]domain.RoleAssignment{
		domain.RoleCoder: {Role: domain.RoleCoder, Provider: "gemini", Credential: "k"},
	}}
	f := &countingFactory{fail: errors.New("dial failed")}
	r := New(roles, WithFactory(f.build))
	ctx := context.Background()

	_, err := r.Resolve(ctx, domain.RoleCoder)
	var pf *domain.ProviderFailure
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, domain.RoleCoder, pf.Role)

	f.fail = nil
	_, err = r.Resolve(ctx, domain.RoleCoder)
	require.NoError(t, err)
	assert.Equal(t, 2, f.builds)
}

func TestInvokeWrapsProviderErrors(t *testing.T) {
	boom := errors.New("rate limited")
	scripted := llm.NewScriptedClient(map[llm.Kind][]llm.Reply{
		llm.KindVerdict: {{Err: boom}},
		llm.KindPlan:    {{Text: `{"reasoning":"ok"}`}},
	})
	roles := &memRoles{roles: map[domain.Role]domain.RoleAssignment{
		domain.RoleReviewer:  {Role: domain.RoleReviewer, Provider: "mock", Model: "judge", Credential: "k"},
		domain.RoleArchitect: {Role: domain.RoleArchitect, Provider: "mock", Model: "planner", Credential: "k"},
	}}
	r := New(roles, WithFactory(func(context.Context, llm.Config) (llm.Provider, error) { return scripted, nil }))
	ctx := context.Background()

	_, err := r.Invoke(ctx, domain.RoleReviewer, &llm.CompletionRequest{Kind: llm.KindVerdict})
	var pf *domain.ProviderFailure
	require.ErrorAs(t, err, &pf)
	assert.ErrorIs(t, err, boom)

	resp, err := r.Invoke(ctx, domain.RoleArchitect, &llm.CompletionRequest{Kind: llm.KindPlan})
	require.NoError(t, err)
	assert.Equal(t, "mock", resp.Provider)
	assert.Equal(t, "planner", resp.Model)
}
