package router

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/weave/pkg/models"
)

const stepPrompt = `You are acting as the %s in a multi-role workflow.

## Task
%s

## Planned role sequence
%s

## Available roles
%s

## Previous steps
%s

Do your part of the task in the current working directory. When you are done,
end your response with exactly these two lines:

NEXT: <one of the available roles, or COMPLETE if the task is finished>
REASON: <one sentence explaining the choice>
`

// BuildPrompt renders the step prompt for role.
func BuildPrompt(role, task string, sequence []string, available []models.RoleDescriptor, trace *models.ExecutionTrace, window int) string {
	seq := "(none)"
	if len(sequence) > 0 {
		seq = strings.Join(sequence, " -> ")
	}

	var roleLines strings.Builder
	for _, d := range available {
		fmt.Fprintf(&roleLines, "- %s", d.Name)
		if d.Description != "" {
			fmt.Fprintf(&roleLines, ": %s", d.Description)
		}
		roleLines.WriteString("\n")
	}

	return fmt.Sprintf(stepPrompt, role, task, seq, strings.TrimRight(roleLines.String(), "\n"), trace.Condensed(window))
}
