package types

import "strings"

// VersionLatest selects the newest supported compiler version.
const VersionLatest = "latest"

// Settings are the user-selected pipeline options.
type Settings struct {
	CompilerVersion string `json:"compiler_version"`
}

// Wrapper holds the fixed fragments integrations place around a user value.
type Wrapper struct {
	Prepend string `json:"prepend"`
	Append  string `json:"append"`
}

// Wrappers groups the config and stylesheet wrappers.
type Wrappers struct {
	Config Wrapper `json:"config"`
	CSS    Wrapper `json:"css"`
}

// Workspace is the user-edited configuration and stylesheet.
type Workspace struct {
	Config   string   `json:"config"`
	CSS      string   `json:"css"`
	Wrappers Wrappers `json:"_custom"`
}

// Wrap surrounds value with the wrapper fragments, one per line.
func Wrap(w Wrapper, value string) string {
	return strings.Join([]string{w.Prepend, value, w.Append}, "\n")
}

// EffectiveVersion resolves "latest" (or empty) against a newest-first list.
func (s Settings) EffectiveVersion(available []string) string {
	if s.CompilerVersion != "" && s.CompilerVersion != VersionLatest {
		return s.CompilerVersion
	}
	if len(available) == 0 {
		return ""
	}
	return available[0]
}
