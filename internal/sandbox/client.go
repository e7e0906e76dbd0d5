package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/orgrosua/yabe-siul/internal/importmap"
	"github.com/orgrosua/yabe-siul/internal/shared/types"
)

// CompilerClient drives the compiler sandbox. The sandbox is recreated
// whenever the requested version or import map differs from the one it was
// bootstrapped with.
type CompilerClient struct {
	host     *Host
	document string

	mu      sync.Mutex
	version string
	imports *importmap.Map
}

// NewCompilerClient uses document as the bootstrap, or the built-in one when
// document is empty.
func NewCompilerClient(host *Host, document string) *CompilerClient {
	if document == "" {
		document = CompilerDocument()
	}
	return &CompilerClient{host: host, document: document}
}

// Compile runs req in the compiler sandbox. Compiler-reported failures come
// back inside the result; the error covers the protocol only.
func (c *CompilerClient) Compile(ctx context.Context, version string, imports *importmap.Map, req types.CompileRequest) (types.CompileResult, error) {
	handle, err := c.acquire(ctx, version, imports)
	if err != nil {
		return types.CompileResult{}, err
	}

	req.Version = version
	env, err := c.host.Request(ctx, handle, map[string]interface{}{
		"type":    "compile",
		"request": req,
	}, MatchType(TypeCompileResult))
	if err != nil {
		return types.CompileResult{}, err
	}

	var result types.CompileResult
	if err := env.Decode(&result); err != nil {
		return types.CompileResult{}, fmt.Errorf("decode compile result: %w", err)
	}
	if result.Error != nil && result.Error.Stage == "" {
		result.Error.Stage = types.StageCompile
	}
	return result, nil
}

func (c *CompilerClient) acquire(ctx context.Context, version string, imports *importmap.Map) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	force := c.version != version || !c.imports.Equal(imports)
	handle, err := c.host.Acquire(ctx, KindCompiler, Payload{
		Document:  c.document,
		Version:   version,
		ImportMap: imports,
	}, force)
	if err != nil {
		return nil, err
	}

	c.version, c.imports = version, imports.Clone()
	return handle, nil
}

// Reset forgets the bootstrapped version and releases the sandbox.
func (c *CompilerClient) Reset() {
	c.mu.Lock()
	c.version, c.imports = "", nil
	c.mu.Unlock()
	c.host.Release(KindCompiler)
}

// ConfigResolver evaluates a config module in the config-resolver sandbox
// and returns its exported value.
type ConfigResolver struct {
	host     *Host
	document string
}

func NewConfigResolver(host *Host, document string) *ConfigResolver {
	if document == "" {
		document = ConfigResolverDocument()
	}
	return &ConfigResolver{host: host, document: document}
}

func (r *ConfigResolver) Resolve(ctx context.Context, source string) (map[string]interface{}, error) {
	handle, err := r.host.Acquire(ctx, KindConfigResolver, Payload{Document: r.document}, false)
	if err != nil {
		return nil, err
	}

	env, err := r.host.Request(ctx, handle, source, MatchAction("resolve-config"))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Config map[string]interface{} `json:"config"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := env.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode resolved config: %w", err)
	}
	if resp.Error != nil {
		return nil, errors.New(resp.Error.Message)
	}
	if resp.Config == nil {
		resp.Config = map[string]interface{}{}
	}
	return resp.Config, nil
}
