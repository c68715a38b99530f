package domain

// RunStartedPayload is the payload for run_started event.
type RunStartedPayload struct {
	ProjectID string  `json:"project_id"`
	Objective string  `json:"objective"`
	Mode      RunMode `json:"mode"`
}

// PlanGeneratedPayload is the payload for plan_generated event.
type PlanGeneratedPayload struct {
	PlanID         string `json:"plan_id"`
	Attempt        int    `json:"attempt"`
	Plan           Plan   `json:"plan"`
	RequiresReview bool   `json:"requires_review"`
	Decision       string `json:"decision,omitempty"`
}

// PlanReviewedPayload is the payload for plan_reviewed event.
type PlanReviewedPayload struct {
	PlanID string       `json:"plan_id"`
	Status ReviewStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

// TaskPayload is the payload for task_* events.
type TaskPayload struct {
	Index   int      `json:"index"`
	Task    string   `json:"task"`
	Changed []string `json:"changed,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// VerificationPayload is the payload for verification event.
type VerificationPayload struct {
	Pass      bool     `json:"pass"`
	Rationale string   `json:"rationale"`
	Issues    []string `json:"issues,omitempty"`
}

// SelfCorrectionPayload is the payload for self_correction event.
type SelfCorrectionPayload struct {
	Attempt        int    `json:"attempt"`
	FailureContext string `json:"failure_context"`
}

// RunFailedPayload is the payload for run_failed event.
type RunFailedPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LLMCallDonePayload is the payload for llm_call_done event.
type LLMCallDonePayload struct {
	RequestID        string `json:"request_id"`
	Role             Role   `json:"role"`
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	LatencyMs        int64  `json:"latency_ms"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
	TotalTokens      int    `json:"total_tokens,omitempty"`
	Error            string `json:"error,omitempty"`
}
