package decompose

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/weave/pkg/models"
)

// decompositionPrompt is filled with the role list, the part limit and the task.
const decompositionPrompt = `You are splitting a software task into parts that separate workers will
implement at the same time, each in its own copy of the repository.

Available roles:
%s

Rules:
- Only split when the parts are truly independent. If in doubt, do not split.
- Every part must name every file or directory it will modify in "target_files".
  A directory boundary ends with "/".
- No two parts may touch the same file or overlapping directories.
- Parts must not depend on each other. Use at most %d parts.
- Estimate overall complexity from 1 (trivial) to 10 (very large).

Respond with a single JSON object and nothing else:
{
  "parallel": true,
  "complexity": 6,
  "task_type": "FEATURE",
  "reasoning": "why this split is safe",
  "parts": [
    {"role": "coder", "description": "...", "target_files": ["internal/auth/"], "depends_on": []}
  ]
}

Task:
%s
`

// BuildPrompt renders the planning prompt for task.
func BuildPrompt(task string, roles []models.RoleDescriptor, maxParts int) string {
	var sb strings.Builder
	for _, r := range roles {
		sb.WriteString("- ")
		sb.WriteString(r.Name)
		if r.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(r.Description)
		}
		sb.WriteString("\n")
	}
	return fmt.Sprintf(decompositionPrompt, strings.TrimRight(sb.String(), "\n"), maxParts, task)
}
