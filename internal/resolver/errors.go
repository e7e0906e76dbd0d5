package resolver

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyVersion = errors.New("resolver: version is required")
	ErrMalformedMap = errors.New("resolver: malformed import map")
)

// ResolutionError reports that both the remote and the local source failed.
// Both causes are kept for diagnostics.
type ResolutionError struct {
	Version   string
	RemoteErr error
	LocalErr  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s@%s: remote: %v; local: %v", CompilerPackage, e.Version, e.RemoteErr, e.LocalErr)
}

func (e *ResolutionError) Unwrap() []error {
	return []error{e.RemoteErr, e.LocalErr}
}
