// Package routes holds the resource mapping table: which console routes
// require which (resource, action), and the navigation catalog a denied user
// is redirected through. A Table is loaded once at startup and never mutated.
package routes

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"consolegate/internal/domain"
	"consolegate/internal/permission"
)

//go:embed default.yaml
var defaultTable []byte

// PolicyOrderManagement routes an entry through the order management
// composite policy instead of the plain evaluator.
const PolicyOrderManagement = "order-management"

// Entry is one mapped route.
type Entry struct {
	Path           string        `yaml:"path"`
	Resource       string        `yaml:"resource"`
	Action         domain.Action `yaml:"action"`
	AnyRole        []string      `yaml:"anyRole"`
	RequirePM      bool          `yaml:"requirePM"`
	RequireManager bool          `yaml:"requireManager"`
	Policy         string        `yaml:"policy"`
}

// Check converts the entry to an evaluator check.
func (e Entry) Check() permission.Check {
	return permission.Check{
		Resource:       e.Resource,
		Action:         e.Action,
		AnyRole:        e.AnyRole,
		RequirePM:      e.RequirePM,
		RequireManager: e.RequireManager,
	}
}

// Allow reports whether claims may visit the entry's route.
func (e Entry) Allow(claims domain.Claims) bool {
	if e.Policy == PolicyOrderManagement {
		return permission.AllowOrderManagement(claims, e.Action) && permission.Decide(claims, permission.Check{
			AnyRole:        e.AnyRole,
			RequirePM:      e.RequirePM,
			RequireManager: e.RequireManager,
		})
	}
	return permission.Decide(claims, e.Check())
}

// NavItem is a navigation catalog destination.
type NavItem struct {
	Path  string `yaml:"path" json:"path"`
	Title string `yaml:"title" json:"title"`
}

// UnmappedPolicy decides routes that have no table entry.
type UnmappedPolicy string

const (
	UnmappedAllow UnmappedPolicy = "allow"
	UnmappedDeny  UnmappedPolicy = "deny"
)

// ParseUnmappedPolicy validates s; the empty string selects UnmappedAllow.
func ParseUnmappedPolicy(s string) (UnmappedPolicy, error) {
	switch p := UnmappedPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return UnmappedAllow, nil
	case UnmappedAllow, UnmappedDeny:
		return p, nil
	default:
		return "", fmt.Errorf("unknown unmapped route policy %q (supported: allow, deny)", s)
	}
}

// Table is the immutable route table plus navigation catalog.
type Table struct {
	entries    map[string]Entry
	navigation []NavItem
	unmapped   UnmappedPolicy
}

type tableFile struct {
	Routes     []Entry   `yaml:"routes"`
	Navigation []NavItem `yaml:"navigation"`
}

// Default returns the table compiled into the binary.
func Default(unmapped UnmappedPolicy) (*Table, error) {
	return Parse(defaultTable, unmapped)
}

// Load reads a YAML table from path.
func Load(path string, unmapped UnmappedPolicy) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading route table: %w", err)
	}
	return Parse(data, unmapped)
}

// Parse decodes and validates a YAML table.
func Parse(data []byte, unmapped UnmappedPolicy) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing route table: %w", err)
	}
	if unmapped == "" {
		unmapped = UnmappedAllow
	}

	t := &Table{
		entries:    make(map[string]Entry, len(f.Routes)),
		navigation: f.Navigation,
		unmapped:   unmapped,
	}
	for i, e := range f.Routes {
		if !strings.HasPrefix(e.Path, "/") {
			return nil, fmt.Errorf("route %d: path %q must start with /", i, e.Path)
		}
		e.Path = normalize(e.Path)
		if _, dup := t.entries[e.Path]; dup {
			return nil, fmt.Errorf("route %q: duplicate entry", e.Path)
		}
		action, ok := domain.ParseAction(string(e.Action))
		if !ok {
			return nil, fmt.Errorf("route %q: unknown action %q", e.Path, e.Action)
		}
		e.Action = action
		if e.Policy != "" && e.Policy != PolicyOrderManagement {
			return nil, fmt.Errorf("route %q: unknown policy %q", e.Path, e.Policy)
		}
		t.entries[e.Path] = e
	}
	for i, n := range t.navigation {
		if !strings.HasPrefix(n.Path, "/") {
			return nil, fmt.Errorf("navigation %d: path %q must start with /", i, n.Path)
		}
		t.navigation[i].Path = normalize(n.Path)
	}
	return t, nil
}

// Lookup returns the entry for an exact path.
func (t *Table) Lookup(path string) (Entry, bool) {
	e, ok := t.entries[normalize(path)]
	return e, ok
}

// Navigation returns a copy of the navigation catalog in priority order.
func (t *Table) Navigation() []NavItem {
	out := make([]NavItem, len(t.navigation))
	copy(out, t.navigation)
	return out
}

// Unmapped returns the policy applied to routes without an entry.
func (t *Table) Unmapped() UnmappedPolicy { return t.unmapped }

// Len returns the number of mapped routes.
func (t *Table) Len() int { return len(t.entries) }

// Decide reports whether claims may visit path and whether path was mapped.
func (t *Table) Decide(claims domain.Claims, path string) (allowed, mapped bool) {
	e, ok := t.Lookup(path)
	if !ok {
		return t.unmapped == UnmappedAllow, false
	}
	return e.Allow(claims), true
}

// FirstAllowed returns the first navigation destination other than exclude
// that claims may visit.
func (t *Table) FirstAllowed(claims domain.Claims, exclude string) (string, bool) {
	exclude = normalize(exclude)
	for _, n := range t.navigation {
		if n.Path == exclude {
			continue
		}
		if ok, _ := t.Decide(claims, n.Path); ok {
			return n.Path, true
		}
	}
	return "", false
}

// normalize drops a trailing slash so "/khach-hang/" matches "/khach-hang".
func normalize(path string) string {
	if len(path) > 1 {
		return strings.TrimSuffix(path, "/")
	}
	return path
}
