// Package statemachine holds the orchestrator's run state machine.
//
// The transition table is pure data so it can be tested without any
// provider, store or transport. Machine applies transitions to a single
// Run record and guarantees that callers only ever observe whole updates.
package statemachine

import (
	"fmt"

	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// Event is an input to the state machine.
type Event string

const (
	EventStart           Event = "start"
	EventPlanProduced    Event = "plan_produced"
	EventPlanNeedsReview Event = "plan_needs_review"
	EventPlanFailed      Event = "plan_failed"
	EventApprove         Event = "approve"
	EventReject          Event = "reject"
	EventTaskSucceeded   Event = "task_succeeded"
	EventTasksCompleted  Event = "tasks_completed"
	EventTaskFailed      Event = "task_failed"
	EventVerifyPassed    Event = "verify_passed"
	EventVerifyFailed    Event = "verify_failed"
	EventRetry           Event = "retry"
	EventExhausted       Event = "exhausted"
	EventCancel          Event = "cancel"
)

var transitions = map[domain.RunStatus]map[Event]domain.RunStatus{
	domain.RunStatusIdle: {
		EventStart: domain.RunStatusPlanning,
	},
	domain.RunStatusPlanning: {
		EventPlanProduced:    domain.RunStatusExecuting,
		EventPlanNeedsReview: domain.RunStatusAwaitingReview,
		EventPlanFailed:      domain.RunStatusSelfCorrecting,
		EventCancel:          domain.RunStatusIdle,
	},
	domain.RunStatusAwaitingReview: {
		EventApprove: domain.RunStatusExecuting,
		EventReject:  domain.RunStatusIdle,
		EventCancel:  domain.RunStatusIdle,
	},
	domain.RunStatusExecuting: {
		EventTaskSucceeded:  domain.RunStatusExecuting,
		EventTasksCompleted: domain.RunStatusAnalyzing,
		EventTaskFailed:     domain.RunStatusSelfCorrecting,
		EventCancel:         domain.RunStatusIdle,
	},
	domain.RunStatusAnalyzing: {
		EventVerifyPassed: domain.RunStatusFinished,
		EventVerifyFailed: domain.RunStatusSelfCorrecting,
		EventCancel:       domain.RunStatusIdle,
	},
	domain.RunStatusSelfCorrecting: {
		EventRetry:     domain.RunStatusPlanning,
		EventExhausted: domain.RunStatusError,
		EventCancel:    domain.RunStatusIdle,
	},
	domain.RunStatusFinished: {
		EventStart: domain.RunStatusPlanning,
	},
	domain.RunStatusError: {
		EventStart: domain.RunStatusPlanning,
	},
}

// Next returns the status reached by applying ev in status from.
func Next(from domain.RunStatus, ev Event) (domain.RunStatus, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %s on %s", domain.ErrInvalidTransition, ev, from)
}
