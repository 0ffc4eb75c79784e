package decompose

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/ShayCichocki/weave/internal/graph"
	"github.com/ShayCichocki/weave/pkg/models"
)

// FileConflict is the first pair of parts found claiming overlapping paths.
type FileConflict struct {
	// Path is the contested path as the later part wrote it, normalized.
	Path string
	// With is the earlier part's overlapping path, when it differs from Path.
	With string
	First  int
	Second int
}

// ValidationResult is the Conflict Validator's verdict.
type ValidationResult struct {
	Valid  bool
	Reason string
	// Conflict is set when two parts target overlapping paths.
	Conflict *FileConflict
	// Cycle is set when dependencies are circular, as a closed path.
	Cycle []int
	// Order is a dependency-respecting order over all parts when the only
	// defect is that dependencies were declared at all.
	Order []int
}

type target struct {
	path string
	dir  bool
}

// NormalizePath canonicalizes a target path. Directory boundaries keep a
// trailing "/"; the repository root normalizes to "./".
func NormalizePath(p string) string {
	t, ok := normalize(p)
	if !ok {
		return ""
	}
	if t.path == "." {
		return "./"
	}
	if t.dir {
		return t.path + "/"
	}
	return t.path
}

func normalize(p string) (target, bool) {
	p = strings.TrimSpace(filepath.ToSlash(p))
	if p == "" {
		return target{}, false
	}
	dir := strings.HasSuffix(p, "/")
	clean := path.Clean(p)
	for strings.HasPrefix(clean, "./") {
		clean = strings.TrimPrefix(clean, "./")
	}
	if clean == "." {
		dir = true
	}
	return target{path: clean, dir: dir}, true
}

// overlaps reports whether two normalized targets can touch the same file.
func overlaps(a, b target) bool {
	if a.path == b.path {
		return true
	}
	return contains(a, b) || contains(b, a)
}

// contains reports whether directory boundary d covers t.
func contains(d, t target) bool {
	if !d.dir {
		return false
	}
	if d.path == "." {
		return true
	}
	return strings.HasPrefix(t.path, d.path+"/")
}

// ValidateIndependence checks that parts can safely run concurrently:
// no two parts target overlapping paths and no part declares dependencies.
// Only the first conflict in declaration order is reported.
func ValidateIndependence(parts []models.SubtaskSpec) ValidationResult {
	if c := findConflict(parts); c != nil {
		reason := fmt.Sprintf("conflicting path %s: parts %d and %d both target it", c.Path, c.First, c.Second)
		if c.With != "" && c.With != c.Path {
			reason = fmt.Sprintf("conflicting path %s: part %d overlaps part %d's %s", c.Path, c.Second, c.First, c.With)
		}
		return ValidationResult{Valid: false, Reason: reason, Conflict: c}
	}

	deps := make([][]int, len(parts))
	declared := -1
	for i, p := range parts {
		deps[i] = p.DependsOn
		if declared < 0 && len(p.DependsOn) > 0 {
			declared = i
		}
	}
	if declared < 0 {
		return ValidationResult{Valid: true}
	}

	g, err := graph.Build(deps)
	if err != nil {
		return ValidationResult{Valid: false, Reason: fmt.Sprintf("invalid dependency: %v", err)}
	}
	if cycle := g.FindCycle(); cycle != nil {
		return ValidationResult{
			Valid:  false,
			Reason: fmt.Sprintf("%v: %s", graph.ErrCycleDetected, graph.FormatCycle(cycle)),
			Cycle:  cycle,
		}
	}

	order, _ := g.TopologicalSort()
	return ValidationResult{
		Valid:  false,
		Reason: fmt.Sprintf("part %d depends on part %d; parallel parts must be independent", declared, parts[declared].DependsOn[0]),
		Order:  order,
	}
}

// findConflict returns the first overlapping pair in declaration order.
func findConflict(parts []models.SubtaskSpec) *FileConflict {
	owners := make(map[string]int)
	type owned struct {
		t     target
		owner int
	}
	var seen []owned

	for i, p := range parts {
		for _, raw := range p.TargetFiles {
			t, ok := normalize(raw)
			if !ok {
				continue
			}
			key := NormalizePath(raw)
			if owner, ok := owners[key]; ok {
				if owner != i {
					return &FileConflict{Path: key, First: owner, Second: i}
				}
				continue
			}
			for _, s := range seen {
				if s.owner != i && overlaps(s.t, t) {
					return &FileConflict{Path: key, With: NormalizePath(s.t.path + dirSuffix(s.t)), First: s.owner, Second: i}
				}
			}
			owners[key] = i
			seen = append(seen, owned{t: t, owner: i})
		}
	}
	return nil
}

func dirSuffix(t target) string {
	if t.dir && t.path != "." {
		return "/"
	}
	return ""
}
