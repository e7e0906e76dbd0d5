package types

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step a failure belongs to.
type Stage string

const (
	StagePullVersions         Stage = "pull-versions"
	StagePullSettings         Stage = "pull-settings"
	StagePullConfig           Stage = "pull-config"
	StageScanContent          Stage = "scan-content"
	StageDependencyResolution Stage = "dependency-resolution"
	StageCompile              Stage = "compile"
	StagePersist              Stage = "persist"
	StageSandboxTimeout       Stage = "sandbox-timeout"
	StageSandboxBootstrap     Stage = "sandbox-bootstrap"
	StageRunInProgress        Stage = "run-in-progress"
)

// StageError is a fatal pipeline failure tagged with the stage that failed.
// Its JSON form {message, action} is the only error shape exposed to callers.
type StageError struct {
	Message string `json:"message"`
	Stage   Stage  `json:"action"`

	cause error
}

// NewStageError tags err with stage.
func NewStageError(stage Stage, err error) *StageError {
	if err == nil {
		return nil
	}
	return &StageError{Message: err.Error(), Stage: stage, cause: err}
}

// StageErrorf builds a StageError from a format string.
func StageErrorf(stage Stage, format string, args ...interface{}) *StageError {
	return NewStageError(stage, fmt.Errorf(format, args...))
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.cause
}

// AsStageError extracts a StageError from err, tagging untagged errors with
// fallback.
func AsStageError(err error, fallback Stage) *StageError {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return NewStageError(fallback, err)
}
