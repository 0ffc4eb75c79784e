package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ShayCichocki/weave/pkg/models"
)

func TestTextParser_Parse(t *testing.T) {
	p := NewTextParser("Coder")

	tests := []struct {
		name string
		text string
		want models.RoutingDecision
	}{
		{
			name: "next marker with reason",
			text: "Designed the schema.\n\nNEXT: coder\nREASON: schema is ready",
			want: models.RouteTo("coder", "schema is ready", true),
		},
		{
			name: "complete marker",
			text: "All tests pass.\nNEXT: COMPLETE\nREASON: nothing left",
			want: models.Complete("nothing left", true),
		},
		{
			name: "role is lowercased",
			text: "NEXT: Reviewer",
			want: models.RouteTo("reviewer", "", true),
		},
		{
			name: "markdown emphasis",
			text: "**NEXT:** tester\n**REASON:** needs coverage",
			want: models.RouteTo("tester", "needs coverage", true),
		},
		{
			name: "last marker wins",
			text: "I considered NEXT: architect earlier.\nNEXT: architect\n...\nNEXT: reviewer",
			want: models.RouteTo("reviewer", "", true),
		},
		{
			name: "completion phrase",
			text: "The task is complete and committed.",
			want: models.Complete(`inferred from "task is complete"`, false),
		},
		{
			name: "unparseable routes to safe role",
			text: "I made some changes.",
			want: models.RouteTo("coder", "no routing marker in output", false),
		},
		{
			name: "empty output",
			text: "",
			want: models.RouteTo("coder", "no routing marker in output", false),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Parse(tt.text))
		})
	}
}

func TestTextParser_MarkerMustStartLine(t *testing.T) {
	d := NewTextParser("coder").Parse("the word NEXT: reviewer appears mid-sentence")
	assert.False(t, d.Explicit)
	assert.Equal(t, "coder", d.NextRole)
}
