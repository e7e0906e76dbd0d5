package resolver

import "strings"

// CompilerPackage is the npm package the compiler sandbox loads.
const CompilerPackage = "tailwindcss"

// Install is one entry of a resolution manifest: a package target such as
// "tailwindcss@3.4.1" plus the subpaths that must be mapped.
type Install struct {
	Target   string   `json:"target"`
	Subpaths []string `json:"subpaths,omitempty"`
}

// Name returns the package name without its version or range.
func (i Install) Name() string {
	name, _ := splitTarget(i.Target)
	return name
}

// Range returns the version, range or dist-tag after the package name.
func (i Install) Range() string {
	_, rng := splitTarget(i.Target)
	return rng
}

// Specifiers lists the bare specifiers the install makes available.
func (i Install) Specifiers() []string {
	name := i.Name()
	specs := []string{name}
	for _, sub := range i.Subpaths {
		specs = append(specs, name+strings.TrimPrefix(sub, "."))
	}
	return specs
}

// CompilerInstalls is the manifest for one compiler version: the compiler
// package with its subpaths, plus the two auxiliary packages it needs.
func CompilerInstalls(version string) []Install {
	return []Install{
		{
			Target: CompilerPackage + "@" + version,
			Subpaths: []string{
				"./nesting",
				"./resolveConfig",
				"./lib/processTailwindFeatures",
				"./package.json.js",
			},
		},
		{Target: "browserslist"},
		{Target: "postcss"},
	}
}

// RequiredSpecifiers flattens the specifiers of every install.
func RequiredSpecifiers(installs []Install) []string {
	var specs []string
	for _, install := range installs {
		specs = append(specs, install.Specifiers()...)
	}
	return specs
}

// splitTarget splits "name@range", keeping the leading @ of scoped packages.
func splitTarget(target string) (string, string) {
	at := strings.LastIndex(target, "@")
	if at <= 0 {
		return target, ""
	}
	return target[:at], target[at+1:]
}
