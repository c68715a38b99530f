package engine

import (
	"fmt"
	"strings"
)

// maxFileBytes caps how much of an existing file the Coder sees.
const maxFileBytes = 32 * 1024

const systemPrompt = `You are the Coder of an application builder.
Carry out exactly one task of an approved plan by producing file changes.
Answer with a single JSON object and nothing else:
{
  "thoughts": "one line describing what you changed",
  "mutations": [{"path": "relative/path", "op": "write", "content": "full new file content"},
                {"path": "relative/path", "op": "delete"}],
  "selector": "data-testid of the UI element this task touches, if any",
  "action": "highlight-click or highlight-type"
}
Always send whole file contents for writes. Only touch files the plan names.`

type fileView struct {
	Path    string
	Content string
	Missing bool
}

func buildPrompt(in Input, index int, files []fileView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective:\n%s\n\n", in.Objective)
	if in.Plan.Reasoning != "" {
		fmt.Fprintf(&b, "Plan reasoning:\n%s\n\n", in.Plan.Reasoning)
	}

	b.WriteString("Plan tasks:\n")
	for i, t := range in.Tasks {
		marker := " "
		if i == index {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s %d. %s\n", marker, i+1, t)
	}
	fmt.Fprintf(&b, "\nCurrent task (%d/%d): %s\n", index+1, len(in.Tasks), in.Tasks[index])

	writeIntent(&b, "create", in.Plan.Plan.Create)
	writeIntent(&b, "update", in.Plan.Plan.Update)
	writeIntent(&b, "delete", in.Plan.Plan.Delete)

	for _, f := range files {
		if f.Missing {
			fmt.Fprintf(&b, "\n--- %s (does not exist yet)\n", f.Path)
			continue
		}
		fmt.Fprintf(&b, "\n--- %s\n%s\n", f.Path, f.Content)
	}
	return b.String()
}

func writeIntent(b *strings.Builder, verb string, paths []string) {
	if len(paths) == 0 {
		return
	}
	fmt.Fprintf(b, "Files to %s: %s\n", verb, strings.Join(paths, ", "))
}

func clip(s string) string {
	if len(s) <= maxFileBytes {
		return s
	}
	return s[:maxFileBytes] + "\n... (truncated)"
}

