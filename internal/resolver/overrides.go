package resolver

import "github.com/orgrosua/yabe-siul/internal/importmap"

// NodeLibsBase hosts browser builds of Node core modules.
const NodeLibsBase = "https://ga.jspm.io/npm:@jspm/core@2.1.0/nodelibs/browser/"

// OverrideScopes are the CDN scopes the generic resolvers leave Node core
// imports unmapped under.
var OverrideScopes = []string{
	"https://esm.sh/",
	"https://ga.jspm.io/",
}

var polyfilled = []string{"fs", "path", "url", "os"}

// DefaultOverrides returns the manual entries merged over every resolved
// map: browser polyfills for the Node modules the compiler touches, globally
// and under each CDN scope.
func DefaultOverrides() *importmap.Map {
	table := make(map[string]string, len(polyfilled)*2)
	for _, mod := range polyfilled {
		url := NodeLibsBase + mod + ".js"
		table[mod] = url
		table["node:"+mod] = url
	}

	m := importmap.New()
	for spec, url := range table {
		m.Imports[spec] = url
	}
	for _, scope := range OverrideScopes {
		scoped := make(map[string]string, len(table))
		for spec, url := range table {
			scoped[spec] = url
		}
		m.Scopes[scope] = scoped
	}
	return m
}
