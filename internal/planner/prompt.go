package planner

import (
	"fmt"
	"strings"
)

// maxSnapshotFiles caps the file listing sent to the Architect.
const maxSnapshotFiles = 400

const systemPrompt = `You are the Architect of an application builder.
Turn the user's objective into a plan over the project's files.
Answer with a single JSON object and nothing else:
{
  "reasoning": "why this plan meets the objective (required)",
  "thoughts": "short status line shown to the user",
  "plan": {"create": ["path"], "update": ["path"], "delete": ["path"]},
  "tasks": ["one imperative step per entry, in execution order"]
}
Paths are relative to the project root. A path appears in at most one of create, update and delete.`

func buildPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective:\n%s\n\n", in.Objective)

	b.WriteString("Project files:\n")
	if len(in.Snapshot) == 0 {
		b.WriteString("(empty project)\n")
	}
	for i, f := range in.Snapshot {
		if i == maxSnapshotFiles {
			fmt.Fprintf(&b, "... and %d more\n", len(in.Snapshot)-maxSnapshotFiles)
			break
		}
		b.WriteString("- " + f + "\n")
	}

	if in.FailureContext != "" {
		b.WriteString("\nThe previous attempt failed. Produce a corrected plan.\n")
		b.WriteString(in.FailureContext)
		b.WriteString("\n")
	}
	return b.String()
}
