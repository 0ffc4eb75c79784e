package router

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ShayCichocki/weave/internal/roles"
	"github.com/ShayCichocki/weave/pkg/models"
)

// DecisionParser turns a worker's text output into a routing decision.
type DecisionParser interface {
	Parse(text string) models.RoutingDecision
}

var (
	nextPattern   = regexp.MustCompile(`(?im)^\s*[*_]*NEXT[*_]*\s*:[*_]*\s*([A-Za-z0-9_-]+)`)
	reasonPattern = regexp.MustCompile(`(?im)^\s*[*_]*REASON[*_]*\s*:[*_]*\s*(.+?)\s*$`)
)

// completionPhrases are matched case-insensitively when no NEXT marker is present.
var completionPhrases = []string{
	"task complete",
	"task is complete",
	"task has been completed",
	"work is complete",
	"all done",
	"nothing left to do",
	"no further action",
	"no further changes",
}

// TextParser reads the NEXT:/REASON: marker grammar.
//
// The last NEXT marker wins. Without a marker, a completion phrase ends
// routing; anything else routes to SafeRole. Both fallbacks set
// Explicit to false.
type TextParser struct {
	SafeRole string
}

// NewTextParser creates a parser that falls back to safeRole.
func NewTextParser(safeRole string) *TextParser {
	return &TextParser{SafeRole: roles.Normalize(safeRole)}
}

// Parse implements DecisionParser.
func (p *TextParser) Parse(text string) models.RoutingDecision {
	reason := lastSubmatch(reasonPattern, text)

	if next := lastSubmatch(nextPattern, text); next != "" {
		if strings.EqualFold(next, "complete") {
			return models.Complete(reason, true)
		}
		return models.RouteTo(roles.Normalize(next), reason, true)
	}

	lower := strings.ToLower(text)
	for _, phrase := range completionPhrases {
		if strings.Contains(lower, phrase) {
			return models.Complete(fmt.Sprintf("inferred from %q", phrase), false)
		}
	}

	return models.RouteTo(p.SafeRole, "no routing marker in output", false)
}

func lastSubmatch(re *regexp.Regexp, text string) string {
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.TrimSpace(matches[len(matches)-1][1])
}
