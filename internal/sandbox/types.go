package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/orgrosua/yabe-siul/internal/importmap"
)

var (
	ErrMissingParameter = errors.New("sandbox: missing construction parameter")
	ErrTimeout          = errors.New("sandbox: timed out")
	ErrReleased         = errors.New("sandbox: released")
	ErrBootstrap        = errors.New("sandbox: bootstrap failed")
	ErrHostClosed       = errors.New("sandbox: host closed")
)

// Kind names a sandbox role. At most one sandbox per kind exists at a time.
type Kind string

const (
	KindConfigResolver Kind = "config-resolver"
	KindCompiler       Kind = "compiler"
)

// State is the lifecycle state of a kind's sandbox.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ImportMapPlaceholder is replaced by the JSON import map in compiler documents.
const ImportMapPlaceholder = "/* importmap */"

// Message types used by the bootstrap documents.
const (
	TypeReady         = "iframe-ready"
	TypeAction        = "action"
	TypeCompileResult = "compile-result"
)

// Payload is the bootstrap content injected into a new sandbox.
type Payload struct {
	Document  string
	Version   string
	ImportMap *importmap.Map
}

func (p Payload) validate(kind Kind) error {
	if p.Document == "" {
		return fmt.Errorf("%w: %s requires a bootstrap document", ErrMissingParameter, kind)
	}
	if kind != KindCompiler {
		return nil
	}
	if p.Version == "" {
		return fmt.Errorf("%w: compiler requires a version", ErrMissingParameter)
	}
	if p.ImportMap == nil {
		return fmt.Errorf("%w: compiler requires an import map", ErrMissingParameter)
	}
	return nil
}

// render substitutes the import map placeholder.
func (p Payload) render() (string, error) {
	if p.ImportMap == nil {
		return p.Document, nil
	}
	raw, err := sonic.MarshalString(p.ImportMap)
	if err != nil {
		return "", fmt.Errorf("encode import map: %w", err)
	}
	return strings.Replace(p.Document, ImportMapPlaceholder, raw, 1), nil
}

// Envelope is one message posted by a sandbox. Source is set by the host.
type Envelope struct {
	Source string
	Data   interface{}
}

// Fields returns the message as an object, or nil for non-object messages.
func (e Envelope) Fields() map[string]interface{} {
	m, _ := e.Data.(map[string]interface{})
	return m
}

// Type returns the message's "type" field.
func (e Envelope) Type() string {
	s, _ := e.Fields()["type"].(string)
	return s
}

// Action returns the message's "action" field.
func (e Envelope) Action() string {
	s, _ := e.Fields()["action"].(string)
	return s
}

// Decode re-encodes the message into out.
func (e Envelope) Decode(out interface{}) error {
	raw, err := sonic.Marshal(e.Data)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(raw, out)
}

// Match selects the response a Request waits for.
type Match func(Envelope) bool

// MatchType matches envelopes by their type field.
func MatchType(t string) Match {
	return func(e Envelope) bool { return e.Type() == t }
}

// MatchAction matches {type: "action", action: action} envelopes.
func MatchAction(action string) Match {
	return func(e Envelope) bool { return e.Type() == TypeAction && e.Action() == action }
}

// Options configures a Host.
type Options struct {
	// ReadyTimeout bounds Acquire's wait for readiness; zero waits forever.
	ReadyTimeout time.Duration
	// RequestTimeout bounds each Request; zero waits forever.
	RequestTimeout time.Duration
	// Loader serves require() in compiler sandboxes.
	Loader ModuleLoader
}

// DefaultOptions returns the production timeouts.
func DefaultOptions() Options {
	return Options{
		ReadyTimeout:   30 * time.Second,
		RequestTimeout: 2 * time.Minute,
	}
}
