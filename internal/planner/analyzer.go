package planner

import (
	"regexp"
	"strings"

	"github.com/ShayCichocki/weave/pkg/models"
)

// RequestAnalysis contains the result of analyzing a task description.
type RequestAnalysis struct {
	// Type is the classified task type.
	Type models.TaskType
	// Confidence is the share of matched patterns that agree with Type (0.0-1.0).
	Confidence float64
	// Complexity is an estimate on a 1-10 scale.
	Complexity int
	// Items is the number of distinct work items the text appears to list.
	Items int
	// Keywords are the matched keywords that influenced the classification.
	Keywords []string
}

// RequestAnalyzer classifies task descriptions with keyword patterns.
type RequestAnalyzer struct {
	setupPatterns    []*regexp.Regexp
	featurePatterns  []*regexp.Regexp
	bugfixPatterns   []*regexp.Regexp
	refactorPatterns []*regexp.Regexp
	heavyPatterns    []*regexp.Regexp
}

// NewRequestAnalyzer creates a RequestAnalyzer with the default patterns.
func NewRequestAnalyzer() *RequestAnalyzer {
	return &RequestAnalyzer{
		setupPatterns: compilePatterns([]string{
			`\b(setup|set up|set-up)\b`,
			`\b(scaffold|scaffolding)\b`,
			`\b(initialize|initialise|init)\b`,
			`\b(configure|configuration)\b`,
			`\b(install|installation)\b`,
			`\b(bootstrap)\b`,
			`\b(new project|new app|new service)\b`,
		}),
		featurePatterns: compilePatterns([]string{
			`\b(implement|implementing)\b`,
			`\b(add|adding)\s+(a\s+)?(new\s+)?(feature|endpoint|command|page|component|api)\b`,
			`\b(build|building|create|creating)\s+(a\s+)?(new\s+)?\w+`,
			`\b(support|supporting)\s+for\b`,
			`\b(login|signup|registration|authentication)\b`,
		}),
		bugfixPatterns: compilePatterns([]string{
			`\b(fix|fixing|fixes)\b`,
			`\b(bug|bugs)\b`,
			`\b(debug|debugging)\b`,
			`\b(crash|crashes|panic|panics)\b`,
			`\b(broken|not working|doesn't work|regression)\b`,
			`\b(error|errors)\b`,
		}),
		refactorPatterns: compilePatterns([]string{
			`\b(refactor|refactoring)\b`,
			`\b(reorganize|reorganise|restructure|restructuring)\b`,
			`\b(clean\s*up|cleanup)\b`,
			`\b(simplify|simplifying)\b`,
			`\b(extract|extracting)\s+(\w+\s+)?(to|into)\b`,
			`\b(rename|renaming|move|moving)\b`,
		}),
		heavyPatterns: compilePatterns([]string{
			`\b(migrate|migration)\b`,
			`\b(architecture|redesign|rewrite)\b`,
			`\b(distributed|concurren\w*|parallel)\b`,
			`\b(security|auth\w*|encrypt\w*)\b`,
			`\b(database|schema)\b`,
			`\b(across|entire|whole|all)\s+(the\s+)?(codebase|project|repo\w*|modules?)\b`,
		}),
	}
}

// compilePatterns compiles case-insensitive regexps, skipping invalid ones.
func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if r, err := regexp.Compile("(?i)" + p); err == nil {
			compiled = append(compiled, r)
		}
	}
	return compiled
}

// Analyze classifies a task. With no pattern matches the task is a FEATURE
// with confidence 0.5.
func (a *RequestAnalyzer) Analyze(task string) *RequestAnalysis {
	lower := strings.ToLower(task)

	setup := countMatches(lower, a.setupPatterns)
	feature := countMatches(lower, a.featurePatterns)
	bugfix := countMatches(lower, a.bugfixPatterns)
	refactor := countMatches(lower, a.refactorPatterns)

	var keywords []string
	for _, group := range [][]*regexp.Regexp{a.setupPatterns, a.featurePatterns, a.bugfixPatterns, a.refactorPatterns} {
		keywords = append(keywords, matchedKeywords(lower, group)...)
	}

	result := &RequestAnalysis{
		Type:       models.TaskTypeFeature,
		Confidence: 0.5,
		Items:      countItems(lower),
		Keywords:   keywords,
	}

	best := max(setup, feature, bugfix, refactor)
	if total := setup + feature + bugfix + refactor; total > 0 {
		result.Confidence = float64(best) / float64(total)
		// Ties resolve in this order.
		switch best {
		case bugfix:
			result.Type = models.TaskTypeBugfix
		case setup:
			result.Type = models.TaskTypeSetup
		case refactor:
			result.Type = models.TaskTypeRefactor
		}
	}

	result.Complexity = a.complexity(lower, result.Items)
	return result
}

// complexity scores length, listed items and heavy keywords onto 1-10.
func (a *RequestAnalyzer) complexity(lower string, items int) int {
	score := 1
	switch words := len(strings.Fields(lower)); {
	case words > 80:
		score += 3
	case words > 30:
		score += 2
	case words > 12:
		score++
	}
	if items > 1 {
		score += min(items-1, 3)
	}
	score += min(countMatches(lower, a.heavyPatterns), 3)
	return min(score, 10)
}

// countItems estimates how many distinct items a task lists.
func countItems(lower string) int {
	items := 1
	for _, sep := range []string{",", " and ", "\n-", "\n*", "\n1.", "\n2.", ";"} {
		if strings.Contains(lower, sep) {
			items = max(items, strings.Count(lower, sep)+1)
		}
	}
	return items
}

func countMatches(input string, patterns []*regexp.Regexp) int {
	count := 0
	for _, p := range patterns {
		if p.MatchString(input) {
			count++
		}
	}
	return count
}

func matchedKeywords(input string, patterns []*regexp.Regexp) []string {
	var keywords []string
	for _, p := range patterns {
		if m := p.FindString(input); m != "" {
			keywords = append(keywords, m)
		}
	}
	return keywords
}
