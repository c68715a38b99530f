package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the orchestrator.
var (
	ErrRunActive         = errors.New("a run is already active for this project")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrPlanNotFound      = errors.New("plan not found")
	ErrPlanExecuting     = errors.New("another plan is already executing for this project")
	ErrEditConflict      = errors.New("project files are locked by an active run")
	ErrInvalidPlan       = errors.New("invalid plan")
	ErrInvalidInput      = errors.New("invalid input")
	ErrRunNotFound       = errors.New("run not found")
)

// MissingCredentialError is returned when roles required by a run have no credential.
// It is never retried automatically.
type MissingCredentialError struct {
	Roles []Role
}

func (e *MissingCredentialError) Error() string {
	names := make([]string, len(e.Roles))
	for i, r := range e.Roles {
		names[i] = string(r)
	}
	return "missing credentials for roles: " + strings.Join(names, ", ")
}

// ProviderFailure wraps an error returned by a role invocation.
type ProviderFailure struct {
	Role Role
	Err  error
}

func (e *ProviderFailure) Error() string {
	return fmt.Sprintf("%s provider failed: %v", e.Role, e.Err)
}

func (e *ProviderFailure) Unwrap() error { return e.Err }

// MutationApplyFailure is returned when a task's file writes could not be applied.
// The project tree is left unchanged.
type MutationApplyFailure struct {
	Path string
	Err  error
}

func (e *MutationApplyFailure) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to apply mutations: %v", e.Err)
	}
	return fmt.Sprintf("failed to apply mutation to %s: %v", e.Path, e.Err)
}

func (e *MutationApplyFailure) Unwrap() error { return e.Err }

// RetryBudgetExhausted is the terminal error of a run.
type RetryBudgetExhausted struct {
	Attempts int
	Cause    string
}

func (e *RetryBudgetExhausted) Error() string {
	return fmt.Sprintf("retry budget exhausted after %d attempt(s): %s", e.Attempts, e.Cause)
}
