package verifier

import (
	"fmt"
	"strings"
	"text/template"
)

// Stage names where a failure happened.
type Stage string

const (
	StagePlanning     Stage = "planning"
	StageExecution    Stage = "execution"
	StageVerification Stage = "verification"
)

// Failure describes what went wrong in the previous attempt.
type Failure struct {
	Attempt   int
	Stage     Stage
	TaskIndex int
	Task      string
	Error     string
	Rationale string
	Issues    []string
	Diff      string
}

// Cause is the one-line summary used for logs and lastError.
func (f Failure) Cause() string {
	switch {
	case f.Error != "":
		return f.Error
	case f.Rationale != "":
		return "verification failed: " + f.Rationale
	}
	return string(f.Stage) + " failed"
}

// DefaultCorrectionPrompt is the template used when none is configured.
const DefaultCorrectionPrompt = `Attempt {{.Attempt}} failed during {{.Stage}}.
{{- if .Task}}
Failed task {{add .TaskIndex 1}}: {{.Task}}
{{- end}}
{{- if .Error}}
Error: {{.Error}}
{{- end}}
{{- if .Rationale}}
Reviewer: {{.Rationale}}
{{- end}}
{{- range .Issues}}
- {{.}}
{{- end}}
{{- if .Diff}}
Changes made so far:
{{.Diff}}
{{- end}}
Keep what already works and fix only what failed.`

// maxContextDiff caps the diff embedded in a failure context.
const maxContextDiff = 8 * 1024

// Corrector renders failure contexts for the next planning round.
type Corrector struct {
	tmpl *template.Template
}

// NewCorrector parses a correction prompt template. An empty text selects
// DefaultCorrectionPrompt.
func NewCorrector(text string) (*Corrector, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultCorrectionPrompt
	}
	tmpl, err := template.New("correction").
		Funcs(template.FuncMap{"add": func(a, b int) int { return a + b }}).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse self-correction prompt: %w", err)
	}
	return &Corrector{tmpl: tmpl}, nil
}

// BuildFailureContext renders the failure for the Architect.
func (c *Corrector) BuildFailureContext(f Failure) (string, error) {
	if len(f.Diff) > maxContextDiff {
		f.Diff = clip(f.Diff, maxContextDiff) + "\n... (truncated)"
	}
	var b strings.Builder
	if err := c.tmpl.Execute(&b, f); err != nil {
		return "", fmt.Errorf("failed to render failure context: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
