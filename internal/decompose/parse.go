package decompose

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ShayCichocki/weave/pkg/models"
)

// proposedPart is the JSON structure a planning worker returns for one part.
type proposedPart struct {
	Role        string   `json:"role"`
	Description string   `json:"description"`
	TargetFiles []string `json:"target_files"`
	DependsOn   []int    `json:"depends_on"`
}

// Proposal is a planning worker's parsed split of a task.
type Proposal struct {
	// Parallel is the worker's own verdict; nil when it gave none.
	Parallel *bool
	// Complexity is the worker's estimate; nil when it gave none.
	Complexity *float64
	TaskType   models.TaskType
	Reasoning  string
	Parts      []models.SubtaskSpec
}

type proposalJSON struct {
	Parallel   *bool          `json:"parallel"`
	Complexity *float64       `json:"complexity"`
	TaskType   string         `json:"task_type"`
	Reasoning  string         `json:"reasoning"`
	Parts      []proposedPart `json:"parts"`
}

// ParseResponse extracts a Proposal from a worker's response. The response
// may wrap the JSON object in prose or code fences.
func ParseResponse(response string) (*Proposal, error) {
	objStart := strings.Index(response, "{")
	jsonEnd := strings.LastIndex(response, "}")
	if objStart == -1 || jsonEnd == -1 || jsonEnd <= objStart {
		preview := response
		if len(preview) > 500 {
			preview = preview[:500] + "... (truncated)"
		}
		return nil, fmt.Errorf("no valid JSON object found in response (got %d chars): %q", len(response), preview)
	}

	var raw proposalJSON
	if err := json.Unmarshal([]byte(response[objStart:jsonEnd+1]), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}

	p := &Proposal{
		Parallel:   raw.Parallel,
		Complexity: raw.Complexity,
		Reasoning:  strings.TrimSpace(raw.Reasoning),
		Parts:      toSpecs(raw.Parts),
	}
	if tt := models.TaskType(strings.ToUpper(strings.TrimSpace(raw.TaskType))); tt.Valid() {
		p.TaskType = tt
	}
	return p, nil
}

func toSpecs(parts []proposedPart) []models.SubtaskSpec {
	specs := make([]models.SubtaskSpec, len(parts))
	for i, pp := range parts {
		specs[i] = models.SubtaskSpec{
			Role:        strings.ToLower(strings.TrimSpace(pp.Role)),
			Description: strings.TrimSpace(pp.Description),
			TargetFiles: pp.TargetFiles,
			DependsOn:   pp.DependsOn,
		}
	}
	return specs
}
