package sandbox

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed bootstrap/compiler.js
var compilerDocument string

//go:embed bootstrap/config-resolver.js
var configResolverDocument string

// CompilerDocument returns the built-in compiler bootstrap.
func CompilerDocument() string { return compilerDocument }

// ConfigResolverDocument returns the built-in config resolver bootstrap.
func ConfigResolverDocument() string { return configResolverDocument }

// LoadDocument reads a bootstrap override from path, or returns fallback
// when path is empty.
func LoadDocument(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read bootstrap document: %w", err)
	}
	return string(raw), nil
}
