package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ShayCichocki/weave/pkg/models"
)

func TestRequestAnalyzer_Type(t *testing.T) {
	a := NewRequestAnalyzer()

	tests := []struct {
		task string
		want models.TaskType
	}{
		{"set up the project and configure eslint", models.TaskTypeSetup},
		{"implement user login", models.TaskTypeFeature},
		{"fix the panic in the handler", models.TaskTypeBugfix},
		{"refactor the storage layer and simplify it", models.TaskTypeRefactor},
		{"something vague", models.TaskTypeFeature},
	}

	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Analyze(tt.task).Type)
		})
	}
}

func TestRequestAnalyzer_NoMatchConfidence(t *testing.T) {
	r := NewRequestAnalyzer().Analyze("something vague")
	assert.Equal(t, 0.5, r.Confidence)
	assert.Empty(t, r.Keywords)
}

func TestRequestAnalyzer_Complexity(t *testing.T) {
	a := NewRequestAnalyzer()

	simple := a.Analyze("rename a variable")
	assert.Equal(t, 1, simple.Complexity)

	heavy := a.Analyze("migrate the database schema, redesign the auth architecture, and rewrite the " +
		"concurrency model across the entire codebase; " + strings.Repeat("also handle edge cases ", 20))
	assert.Greater(t, heavy.Complexity, simple.Complexity)
	assert.LessOrEqual(t, heavy.Complexity, 10)
	assert.Greater(t, heavy.Items, 1)
}
