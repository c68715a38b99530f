package domain

import "time"

// RoleAssignment binds a role to a provider and credential.
type RoleAssignment struct {
	Role       Role      `json:"role"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model,omitempty"`
	Credential string    `json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Ready reports whether the role can be resolved.
func (a *RoleAssignment) Ready() bool {
	return a != nil && a.Provider != "" && a.Credential != ""
}
