package types

// CompileRequest is the full input to one compile invocation.
type CompileRequest struct {
	Version  string            `json:"version"`
	Config   string            `json:"config"`
	CSS      string            `json:"css"`
	Contents []ContentFragment `json:"contents"`
}

// CompileFailure is the structured error a sandboxed compiler reports.
type CompileFailure struct {
	Message string `json:"message"`
	Stage   Stage  `json:"stage"`
}

// CompileResult holds exactly one of CSS or Error.
type CompileResult struct {
	CSS   string          `json:"css,omitempty"`
	Error *CompileFailure `json:"error,omitempty"`
}

// Failed reports whether the compiler returned an error.
func (r CompileResult) Failed() bool {
	return r.Error != nil
}
