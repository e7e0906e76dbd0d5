// Package importmap models browser import maps: a global specifier table plus
// per-scope overrides keyed by base URL.
package importmap

import (
	"fmt"
	"sort"
	"strings"
)

// Map is a module specifier -> URL table, partitioned into global imports
// and scoped overrides.
type Map struct {
	Imports map[string]string            `json:"imports"`
	Scopes  map[string]map[string]string `json:"scopes,omitempty"`
}

// New returns an empty map with initialised tables.
func New() *Map {
	return &Map{
		Imports: make(map[string]string),
		Scopes:  make(map[string]map[string]string),
	}
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	out := New()
	if m == nil {
		return out
	}
	for k, v := range m.Imports {
		out.Imports[k] = v
	}
	for scope, table := range m.Scopes {
		copied := make(map[string]string, len(table))
		for k, v := range table {
			copied[k] = v
		}
		out.Scopes[scope] = copied
	}
	return out
}

// Merge returns a new map holding m with overrides applied on top. Override
// entries always win on key collision, in both the imports and scopes tables.
func (m *Map) Merge(overrides *Map) *Map {
	out := m.Clone()
	if overrides == nil {
		return out
	}
	for k, v := range overrides.Imports {
		out.Imports[k] = v
	}
	for scope, table := range overrides.Scopes {
		target, ok := out.Scopes[scope]
		if !ok {
			target = make(map[string]string, len(table))
			out.Scopes[scope] = target
		}
		for k, v := range table {
			target[k] = v
		}
	}
	return out
}

// Resolve maps a specifier to a URL. Scopes whose prefix matches parentURL are
// consulted first, longest prefix first, then the global imports table.
func (m *Map) Resolve(specifier, parentURL string) (string, bool) {
	if m == nil {
		return "", false
	}

	if parentURL != "" {
		for _, scope := range m.scopesFor(parentURL) {
			if url, ok := lookup(m.Scopes[scope], specifier); ok {
				return url, true
			}
		}
	}

	return lookup(m.Imports, specifier)
}

func (m *Map) scopesFor(parentURL string) []string {
	var matched []string
	for scope := range m.Scopes {
		if strings.HasPrefix(parentURL, scope) {
			matched = append(matched, scope)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return len(matched[i]) > len(matched[j])
	})
	return matched
}

// lookup does an exact match, then the longest trailing-slash package prefix.
func lookup(table map[string]string, specifier string) (string, bool) {
	if table == nil {
		return "", false
	}
	if url, ok := table[specifier]; ok {
		return url, true
	}

	best := ""
	for key := range table {
		if strings.HasSuffix(key, "/") && strings.HasPrefix(specifier, key) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return "", false
	}
	return table[best] + strings.TrimPrefix(specifier, best), true
}

// Validate reports every required specifier that does not resolve through the
// global table or any scope.
func (m *Map) Validate(required []string) error {
	var missing []string
	for _, spec := range required {
		if _, ok := m.Resolve(spec, ""); ok {
			continue
		}
		found := false
		for _, table := range m.Scopes {
			if _, ok := lookup(table, spec); ok {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, spec)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("unresolved specifiers: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Equal reports structural equality.
func (m *Map) Equal(other *Map) bool {
	if m == nil || other == nil {
		return m == other
	}
	if !equalTable(m.Imports, other.Imports) || len(m.Scopes) != len(other.Scopes) {
		return false
	}
	for scope, table := range m.Scopes {
		if !equalTable(table, other.Scopes[scope]) {
			return false
		}
	}
	return true
}

func equalTable(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// Len returns the number of global imports.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Imports)
}
