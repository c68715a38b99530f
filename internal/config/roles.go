package config

import (
	"fmt"
	"os"

	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"gopkg.in/yaml.v3"
)

// RoleEntry is one role in the roles file.
type RoleEntry struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	Credential    string `yaml:"credential"`
	CredentialEnv string `yaml:"credential_env"`
}

// RolesFile seeds role assignments at startup:
//
//	roles:
//	  Architect: {provider: openai, model: gpt-4o, credential_env: OPENAI_API_KEY}
//	  Coder:     {provider: ollama, model: qwen2.5-coder, credential: local}
type RolesFile struct {
	Roles map[string]RoleEntry `yaml:"roles"`
}

// LoadRoles reads a roles file. Entries whose credential_env is unset keep an
// empty credential so the role reports not ready.
func LoadRoles(path string) ([]domain.RoleAssignment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}
	return ParseRoles(data)
}

// ParseRoles decodes roles file content. Assignments come back in canonical
// role order.
func ParseRoles(data []byte) ([]domain.RoleAssignment, error) {
	var f RolesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse roles file: %w", err)
	}

	byRole := make(map[domain.Role]RoleEntry, len(f.Roles))
	for name, entry := range f.Roles {
		role, ok := domain.ParseRole(name)
		if !ok {
			return nil, fmt.Errorf("unknown role %q in roles file", name)
		}
		if entry.Provider == "" {
			return nil, fmt.Errorf("role %s has no provider", role)
		}
		byRole[role] = entry
	}

	var out []domain.RoleAssignment
	for _, role := range domain.AllRoles {
		entry, ok := byRole[role]
		if !ok {
			continue
		}
		cred := entry.Credential
		if cred == "" && entry.CredentialEnv != "" {
			cred = os.Getenv(entry.CredentialEnv)
		}
		out = append(out, domain.RoleAssignment{
			Role:       role,
			Provider:   entry.Provider,
			Model:      entry.Model,
			Credential: cred,
		})
	}
	return out, nil
}
