// Package roles provides the role registry consulted by the planner,
// decomposer and router.
//
// A Registry is built explicitly for one coordination run and passed to the
// components that need it. There is no process-wide registry.
package roles

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/weave/pkg/models"
)

// RoleRegistry is the read-only view of registered roles.
type RoleRegistry interface {
	// Has returns true if a role with the given name is registered.
	Has(name string) bool
	// ListAll returns every registered role in declaration order.
	ListAll() []models.RoleDescriptor
}

// Registry holds role descriptors in declaration order.
// Declaration order is treated as pipeline order by the heuristic planner.
type Registry struct {
	roles map[string]models.RoleDescriptor
	order []string
}

// Verify Registry implements RoleRegistry at compile time.
var _ RoleRegistry = (*Registry)(nil)

// NewRegistry creates a registry from descriptors.
// Names are normalized to lowercase; empty and duplicate names are rejected.
func NewRegistry(descs ...models.RoleDescriptor) (*Registry, error) {
	r := &Registry{roles: make(map[string]models.RoleDescriptor, len(descs))}
	for _, d := range descs {
		if err := r.add(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(d models.RoleDescriptor) error {
	name := Normalize(d.Name)
	if name == "" {
		return fmt.Errorf("role name is required")
	}
	if strings.EqualFold(name, "complete") {
		return fmt.Errorf("role name %q is reserved", d.Name)
	}
	if _, exists := r.roles[name]; exists {
		return fmt.Errorf("duplicate role %q", name)
	}
	d.Name = name
	caps := make([]string, 0, len(d.Capabilities))
	for _, c := range d.Capabilities {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			caps = append(caps, c)
		}
	}
	d.Capabilities = caps
	r.roles[name] = d
	r.order = append(r.order, name)
	return nil
}

// Normalize returns the canonical form of a role name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Has returns true if the role is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.roles[Normalize(name)]
	return ok
}

// Get returns the descriptor for name.
func (r *Registry) Get(name string) (models.RoleDescriptor, bool) {
	d, ok := r.roles[Normalize(name)]
	return d, ok
}

// ListAll returns all descriptors in declaration order.
func (r *Registry) ListAll() []models.RoleDescriptor {
	out := make([]models.RoleDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.roles[name])
	}
	return out
}

// Names returns all role names in declaration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered roles.
func (r *Registry) Len() int {
	return len(r.order)
}

// file is the on-disk layout of a roles file.
type file struct {
	Roles []models.RoleDescriptor `yaml:"roles"`
}

// LoadFile reads a YAML roles file:
//
//	roles:
//	  - name: coder
//	    capabilities: [implement, code, feature]
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML role definitions.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse roles: %w", err)
	}
	if len(f.Roles) == 0 {
		return nil, fmt.Errorf("parse roles: no roles defined")
	}
	return NewRegistry(f.Roles...)
}

// Default returns the built-in role set.
func Default() *Registry {
	r, err := NewRegistry(DefaultRoles()...)
	if err != nil {
		panic(fmt.Sprintf("roles: invalid built-in role set: %v", err))
	}
	return r
}

// DefaultRoles returns the built-in role descriptors in pipeline order.
func DefaultRoles() []models.RoleDescriptor {
	return []models.RoleDescriptor{
		{
			Name:         "planner",
			Description:  "Breaks tasks into steps and parallel parts",
			Capabilities: []string{"plan", "decompose", "split", "breakdown"},
		},
		{
			Name:         "architect",
			Description:  "Designs interfaces, schemas and module boundaries",
			Capabilities: []string{"design", "architecture", "interface", "schema", "api", "migration", "structure"},
		},
		{
			Name:         "coder",
			Description:  "Implements features and fixes in code",
			Capabilities: []string{"implement", "code", "feature", "add", "build", "fix", "bug", "refactor", "endpoint", "function"},
		},
		{
			Name:         "tester",
			Description:  "Writes and runs tests",
			Capabilities: []string{"test", "tests", "coverage", "regression", "verify", "benchmark"},
		},
		{
			Name:         "reviewer",
			Description:  "Reviews changes for correctness and security",
			Capabilities: []string{"review", "audit", "security", "check", "quality", "lint"},
		},
		{
			Name:         "documenter",
			Description:  "Writes documentation and comments",
			Capabilities: []string{"docs", "documentation", "readme", "comment", "changelog", "guide"},
		},
	}
}
