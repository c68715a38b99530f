package domain

// StartRunRequest is the request body for starting a run.
type StartRunRequest struct {
	Objective string `json:"objective"`
	Mode      string `json:"mode,omitempty"` // autonomous (default) or god
}

// ReviewDecisionRequest is the request body for rejecting a plan.
type ReviewDecisionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RoleUpdateRequest configures a role assignment.
type RoleUpdateRequest struct {
	Provider   string `json:"provider"`
	Model      string `json:"model,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// RoleView is the public view of a role assignment. Credentials are never returned.
type RoleView struct {
	Role     Role   `json:"role"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Ready    bool   `json:"ready"`
}

// ListRolesResponse represents the response for listing roles.
type ListRolesResponse struct {
	Roles []RoleView `json:"roles"`
}

// MissingCredentialsResponse is returned when a run cannot start.
type MissingCredentialsResponse struct {
	Error   string `json:"error"`
	Missing []Role `json:"missing"`
}

// ListPlansResponse represents the response for listing plan reviews.
type ListPlansResponse struct {
	Plans []PlanReview `json:"plans"`
}

// FileWriteRequest is the request body for a manual file edit.
type FileWriteRequest struct {
	Content string `json:"content"`
}

// FileResponse is the response for reading a project file.
type FileResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ListFilesResponse lists a project's files.
type ListFilesResponse struct {
	Files []string `json:"files"`
}

// ListEventsResponse represents the response for listing run events.
type ListEventsResponse struct {
	Events []Event `json:"events"`
}
