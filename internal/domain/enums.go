// Package domain defines the core domain models for the orchestrator.
package domain

import "strings"

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusIdle           RunStatus = "idle"
	RunStatusPlanning       RunStatus = "planning"
	RunStatusAwaitingReview RunStatus = "awaiting-review"
	RunStatusExecuting      RunStatus = "executing"
	RunStatusAnalyzing      RunStatus = "analyzing"
	RunStatusSelfCorrecting RunStatus = "self-correcting"
	RunStatusFinished       RunStatus = "finished"
	RunStatusError          RunStatus = "error"
)

// IsActive reports whether a run in this status is still in flight.
// Active runs block new starts, accept cancellation and lock the project tree.
func (s RunStatus) IsActive() bool {
	switch s {
	case RunStatusPlanning, RunStatusAwaitingReview, RunStatusExecuting,
		RunStatusAnalyzing, RunStatusSelfCorrecting:
		return true
	}
	return false
}

// IsTerminal reports whether the run ended.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusFinished || s == RunStatusError
}

// RunMode selects whether plans go through the review gate.
type RunMode string

const (
	// RunModeAutonomous skips the review gate.
	RunModeAutonomous RunMode = "autonomous"
	// RunModeGod requires a human approval for every plan.
	RunModeGod RunMode = "god"
)

// ParseRunMode parses a mode string. An empty string means autonomous.
func ParseRunMode(s string) (RunMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(RunModeAutonomous):
		return RunModeAutonomous, true
	case string(RunModeGod), "god-mode", "god_mode":
		return RunModeGod, true
	}
	return "", false
}

// EventType represents the type of an event.
type EventType string

const (
	EventTypeRunStarted     EventType = "run_started"
	EventTypePlanGenerated  EventType = "plan_generated"
	EventTypePlanReviewed   EventType = "plan_reviewed"
	EventTypeTaskStarted    EventType = "task_started"
	EventTypeTaskSucceeded  EventType = "task_succeeded"
	EventTypeTaskFailed     EventType = "task_failed"
	EventTypeVerification   EventType = "verification"
	EventTypeSelfCorrection EventType = "self_correction"
	EventTypeRunFinished    EventType = "run_finished"
	EventTypeRunFailed      EventType = "run_failed"
	EventTypeRunCancelled   EventType = "run_cancelled"
	EventTypeLLMCallDone    EventType = "llm_call_done"
)

// ReviewStatus represents the status of a plan review.
type ReviewStatus string

const (
	ReviewStatusPending   ReviewStatus = "pending"
	ReviewStatusApproved  ReviewStatus = "approved"
	ReviewStatusRejected  ReviewStatus = "rejected"
	ReviewStatusExecuting ReviewStatus = "executing"
	// ReviewStatusCompleted marks an executing plan whose run moved on
	// (re-plan, finish, error or cancel).
	ReviewStatusCompleted ReviewStatus = "completed"
)

// Role is an abstract model role.
type Role string

const (
	RoleArchitect Role = "Architect"
	RoleCoder     Role = "Coder"
	RoleReviewer  Role = "Reviewer"
)

// AllRoles lists every role in canonical order.
var AllRoles = []Role{RoleArchitect, RoleCoder, RoleReviewer}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, bool) {
	for _, r := range AllRoles {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r, true
		}
	}
	return "", false
}

// ActionKind is the kind of UI interaction an annotation narrates.
type ActionKind string

const (
	ActionHighlightClick ActionKind = "highlight-click"
	ActionHighlightType  ActionKind = "highlight-type"
	ActionClear          ActionKind = "clear"
)

// Label returns the text shown next to a highlighted element.
func (k ActionKind) Label() string {
	switch k {
	case ActionHighlightType:
		return "Typing"
	case ActionHighlightClick:
		return "Clicking"
	}
	return ""
}

// MutationOp is a file operation produced by the Coder role.
type MutationOp string

const (
	MutationWrite  MutationOp = "write"
	MutationDelete MutationOp = "delete"
)
