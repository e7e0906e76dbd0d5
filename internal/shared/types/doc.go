// Package types provides shared data structures for the build pipeline.
//
// This package defines the values that cross component boundaries, so that
// the sandbox host, content aggregator, resolver and orchestrator agree on a
// single vocabulary without importing each other.
//
// Core Types:
//   - Stage: Pipeline stage names used to tag failures
//   - StageError: The single externally visible error shape {message, action}
//   - ContentFragment: Decoded markup ready for class scanning
//   - CompileRequest / CompileResult: Input and output of one compile
//   - Settings / Workspace / Wrapper: Session-scoped compile inputs
//
// Example Usage:
//
//	req := types.CompileRequest{
//	    Version:  "3.4.1",
//	    Config:   types.Wrap(ws.Wrappers.Config, ws.Config),
//	    CSS:      types.Wrap(ws.Wrappers.CSS, ws.CSS),
//	    Contents: fragments,
//	}
package types
