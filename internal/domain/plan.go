package domain

import "time"

// FileIntent lists the files a plan intends to touch.
type FileIntent struct {
	Create []string `json:"create,omitempty"`
	Update []string `json:"update,omitempty"`
	Delete []string `json:"delete,omitempty"`
}

// Plan is the structured output of the Architect role.
type Plan struct {
	Reasoning string     `json:"reasoning"`
	Thoughts  string     `json:"thoughts,omitempty"`
	Plan      FileIntent `json:"plan"`
	Tasks     []string   `json:"tasks,omitempty"`
}

// Paths returns every path named by the plan, create first, then update, then delete.
func (p *Plan) Paths() []string {
	out := make([]string, 0, len(p.Plan.Create)+len(p.Plan.Update)+len(p.Plan.Delete))
	out = append(out, p.Plan.Create...)
	out = append(out, p.Plan.Update...)
	return append(out, p.Plan.Delete...)
}

// PlanReview associates a plan shown in chat with its review status.
type PlanReview struct {
	PlanID    string       `json:"plan_id"`
	ProjectID string       `json:"project_id"`
	RunID     string       `json:"run_id"`
	Plan      Plan         `json:"plan"`
	Status    ReviewStatus `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	DecidedAt *time.Time   `json:"decided_at,omitempty"`
}

// Mutation is a single file change.
type Mutation struct {
	Path    string     `json:"path"`
	Op      MutationOp `json:"op"`
	Content string     `json:"content,omitempty"`
}

// MutationSet is the Coder role's output for one task.
// Selector and Action optionally name the UI element the task acts on.
type MutationSet struct {
	Mutations []Mutation `json:"mutations"`
	Thoughts  string     `json:"thoughts,omitempty"`
	Selector  string     `json:"selector,omitempty"`
	Action    ActionKind `json:"action,omitempty"`
}

// Verdict is the Reviewer role's judgement of a finished plan.
type Verdict struct {
	Pass      bool     `json:"pass"`
	Rationale string   `json:"rationale"`
	Issues    []string `json:"issues,omitempty"`
}
