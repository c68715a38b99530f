package domain

import (
	"encoding/json"
	"time"
)

// LogEntry is one human-readable line of a run's log.
type LogEntry struct {
	Ts      int64  `json:"ts"` // Unix milliseconds
	Message string `json:"message"`
}

// Run is the mutable record of one orchestration attempt for a project.
type Run struct {
	RunID            string     `json:"run_id,omitempty"`
	ProjectID        string     `json:"project_id"`
	Mode             RunMode    `json:"mode,omitempty"`
	Status           RunStatus  `json:"status"`
	Objective        string     `json:"objective,omitempty"`
	Plan             []string   `json:"plan"`
	PlanID           string     `json:"plan_id,omitempty"`
	CurrentTaskIndex int        `json:"current_task_index"`
	Attempt          int        `json:"attempt"`
	Thoughts         string     `json:"thoughts,omitempty"`
	Logs             []LogEntry `json:"logs"`
	LastError        string     `json:"last_error,omitempty"`
	StartedAt        time.Time  `json:"started_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at,omitempty"`
}

// Clone returns a deep copy of the run.
func (r Run) Clone() Run {
	out := r
	out.Plan = append([]string(nil), r.Plan...)
	out.Logs = append([]LogEntry(nil), r.Logs...)
	return out
}

// Event represents a trace event for replay.
type Event struct {
	EventID string          `json:"event_id"`
	RunID   string          `json:"run_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
