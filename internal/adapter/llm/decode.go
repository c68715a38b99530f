package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON decodes a model answer into v. Models often wrap JSON in
// markdown fences or surround it with prose, so only the outermost object
// is parsed.
func DecodeJSON(text string, v any) error {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
	}

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object in response: %q", truncate(text, 80))
	}
	if err := json.Unmarshal([]byte(body[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
