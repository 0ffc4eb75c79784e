package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ShayCichocki/weave/internal/roles"
	"github.com/ShayCichocki/weave/pkg/models"
)

// cueBonus adds weight to every role carrying Capability when Pattern
// matches the task text.
type cueBonus struct {
	Name       string
	Pattern    *regexp.Regexp
	Capability string
	Weight     int
}

var defaultCues = []cueBonus{
	{"design", regexp.MustCompile(`(?i)\b(design|architect\w*|schema|interface|api|migration)\b`), "design", 2},
	{"test", regexp.MustCompile(`(?i)\b(tests?|testing|coverage|regression)\b`), "test", 2},
	{"docs", regexp.MustCompile(`(?i)\b(docs?|documentation|readme|changelog)\b`), "docs", 2},
	{"security", regexp.MustCompile(`(?i)\b(security|auth\w*|vulnerab\w*|permissions?|secrets?)\b`), "security", 2},
	{"bugfix", regexp.MustCompile(`(?i)\b(fix|bug|crash|broken|regression)\b`), "fix", 2},
}

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// HeuristicStrategy plans without calling a worker. It never fails.
type HeuristicStrategy struct {
	registry        roles.RoleRegistry
	analyzer        *RequestAnalyzer
	defaultSequence []string
}

// NewHeuristicStrategy creates a heuristic strategy. defaultSequence is
// used when no role scores above zero.
func NewHeuristicStrategy(registry roles.RoleRegistry, defaultSequence []string) *HeuristicStrategy {
	return &HeuristicStrategy{
		registry:        registry,
		analyzer:        NewRequestAnalyzer(),
		defaultSequence: defaultSequence,
	}
}

// Name implements Strategy.
func (h *HeuristicStrategy) Name() string { return "heuristic" }

// Plan implements Strategy.
func (h *HeuristicStrategy) Plan(ctx context.Context, task string) (*models.TaskPlan, error) {
	analysis := h.analyzer.Analyze(task)
	scores := h.Scores(task)

	var sequence, reasons []string
	for _, d := range h.registry.ListAll() {
		if s := scores[d.Name]; s > 0 {
			sequence = append(sequence, d.Name)
			reasons = append(reasons, fmt.Sprintf("%s=%d", d.Name, s))
		}
	}

	reasoning := "matched role capabilities: " + strings.Join(reasons, ", ")
	if len(sequence) == 0 {
		sequence = h.fallbackSequence()
		reasoning = "no role matched the task; using the default sequence"
	}

	return &models.TaskPlan{
		RoleSequence: sequence,
		TaskType:     analysis.Type,
		Complexity:   analysis.Complexity,
		Reasoning:    reasoning,
		Strategy:     h.Name(),
	}, nil
}

// Scores returns each role's score for task. Roles absent from the map
// scored zero.
func (h *HeuristicStrategy) Scores(task string) map[string]int {
	tokens := make(map[string]bool)
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(task), -1) {
		tokens[tok] = true
	}

	var cues []cueBonus
	for _, c := range defaultCues {
		if c.Pattern.MatchString(task) {
			cues = append(cues, c)
		}
	}

	scores := make(map[string]int)
	for _, d := range h.registry.ListAll() {
		score := 0
		for _, capability := range d.Capabilities {
			if tokens[capability] {
				score++
			}
			for _, c := range cues {
				if c.Capability == capability {
					score += c.Weight
				}
			}
		}
		if score > 0 {
			scores[d.Name] = score
		}
	}
	return scores
}

// fallbackSequence keeps the registered roles of the default sequence.
// If none are registered it uses the first registered role.
func (h *HeuristicStrategy) fallbackSequence() []string {
	var out []string
	for _, name := range h.defaultSequence {
		if n := roles.Normalize(name); h.registry.Has(n) {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		if all := h.registry.ListAll(); len(all) > 0 {
			out = []string{all[0].Name}
		}
	}
	return out
}
