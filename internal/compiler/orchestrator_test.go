package compiler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgrosua/yabe-siul/internal/cachestore"
	"github.com/orgrosua/yabe-siul/internal/content"
	"github.com/orgrosua/yabe-siul/internal/importmap"
	"github.com/orgrosua/yabe-siul/internal/sandbox"
	"github.com/orgrosua/yabe-siul/internal/shared/types"
)

type stubVersions struct {
	list  []string
	err   error
	calls atomic.Int32
}

func (s *stubVersions) Versions(context.Context) ([]string, error) {
	s.calls.Add(1)
	return s.list, s.err
}

type stubSettings struct {
	settings      types.Settings
	workspace     types.Workspace
	settingsErr   error
	workspaceErr  error
	settingsCalls atomic.Int32
}

func (s *stubSettings) Settings(context.Context) (types.Settings, error) {
	s.settingsCalls.Add(1)
	return s.settings, s.settingsErr
}

func (s *stubSettings) Workspace(context.Context) (types.Workspace, error) {
	return s.workspace, s.workspaceErr
}

type stubProviders []content.Provider

func (s stubProviders) Providers(context.Context) ([]content.Provider, error) {
	return s, nil
}

type stubResolver struct {
	m       *importmap.Map
	err     error
	version string
}

func (s *stubResolver) Resolve(_ context.Context, version string) (*importmap.Map, error) {
	s.version = version
	return s.m, s.err
}

type stubCompiler struct {
	result  types.CompileResult
	err     error
	block   chan struct{}
	started chan struct{}

	mu  sync.Mutex
	req types.CompileRequest
}

func (s *stubCompiler) Compile(ctx context.Context, version string, _ *importmap.Map, req types.CompileRequest) (types.CompileResult, error) {
	s.mu.Lock()
	s.req = req
	s.mu.Unlock()
	if s.started != nil {
		close(s.started)
	}
	if s.block != nil {
		<-s.block
	}
	return s.result, s.err
}

type stubStore struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
}

func (s *stubStore) Write(_ context.Context, data []byte) (*cachestore.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.writes = append(s.writes, append([]byte(nil), data...))
	return &cachestore.Artifact{Size: len(data), Fingerprint: cachestore.Fingerprint(data)}, nil
}

type fixture struct {
	versions *stubVersions
	settings *stubSettings
	resolver *stubResolver
	compiler *stubCompiler
	store    *stubStore
	deps     Deps
}

func newFixture() *fixture {
	m := importmap.New()
	m.Imports["tailwindcss"] = "https://esm.sh/tailwindcss@3.4.1"

	f := &fixture{
		versions: &stubVersions{list: []string{"3.4.1"}},
		settings: &stubSettings{
			settings: types.Settings{CompilerVersion: types.VersionLatest},
			workspace: types.Workspace{
				Config: "module.exports = {}",
				CSS:    "@tailwind utilities;",
			},
		},
		resolver: &stubResolver{m: m},
		compiler: &stubCompiler{result: types.CompileResult{CSS: ".a{color:red}"}},
		store:    &stubStore{},
	}
	f.deps = Deps{
		Versions: f.versions,
		Settings: f.settings,
		Providers: stubProviders{
			content.NewStaticProvider("posts", "Posts", `<div class="a">`, types.EncodingText, true),
			content.NewStaticProvider("blocks", "Blocks", `{"class":"b"}`, types.EncodingJSON, true),
		},
		Aggregator: content.NewAggregator(nil, nil),
		Resolver:   f.resolver,
		Compiler:   f.compiler,
		Store:      f.store,
	}
	return f
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture()
	o := New(f.deps, nil, nil)

	outcome := o.Run(context.Background())
	require.True(t, outcome.Success, "%v", outcome.Error)
	assert.Nil(t, outcome.Error)
	assert.Equal(t, "3.4.1", outcome.Version)
	assert.NotEmpty(t, outcome.RunID)
	require.NotNil(t, outcome.Artifact)

	require.Len(t, f.store.writes, 1)
	assert.Equal(t, Banner("3.4.1")+"\n.a{color:red}", string(f.store.writes[0]))
	assert.Equal(t, "3.4.1", f.resolver.version)

	req := f.compiler.req
	assert.Equal(t, "3.4.1", req.Version)
	require.Len(t, req.Contents, 2)
	assert.Equal(t, "posts", req.Contents[0].Provider)
	assert.Equal(t, "blocks", req.Contents[1].Provider)
}

func TestRunWrapsConfigAndCSS(t *testing.T) {
	f := newFixture()
	f.settings.workspace.Wrappers = types.Wrappers{
		Config: types.Wrapper{Prepend: "const siul = {};", Append: "// end"},
		CSS:    types.Wrapper{Prepend: "/* top */"},
	}
	o := New(f.deps, nil, nil)

	require.True(t, o.Run(context.Background()).Success)
	assert.Equal(t, "const siul = {};\nmodule.exports = {}\n// end", f.compiler.req.Config)
	assert.Equal(t, "/* top */\n@tailwind utilities;\n", f.compiler.req.CSS)
}

func TestRunCompileFailurePassthrough(t *testing.T) {
	f := newFixture()
	f.compiler.result = types.CompileResult{Error: &types.CompileFailure{Message: "Unexpected token", Stage: types.StageCompile}}
	o := New(f.deps, nil, nil)

	outcome := o.Run(context.Background())
	assert.False(t, outcome.Success)
	require.NotNil(t, outcome.Error)
	assert.Equal(t, "Unexpected token", outcome.Error.Message)
	assert.Equal(t, types.StageCompile, outcome.Error.Stage)
	assert.Empty(t, f.store.writes)
}

func TestRunMemoizesSessionInputs(t *testing.T) {
	f := newFixture()
	o := New(f.deps, nil, nil)

	require.True(t, o.Run(context.Background()).Success)
	require.True(t, o.Run(context.Background()).Success)
	assert.EqualValues(t, 1, f.versions.calls.Load())
	assert.EqualValues(t, 1, f.settings.settingsCalls.Load())

	o.Invalidate()
	require.True(t, o.Run(context.Background()).Success)
	assert.EqualValues(t, 2, f.versions.calls.Load())
	assert.EqualValues(t, 2, f.settings.settingsCalls.Load())
}

func TestRunFailureIsNotMemoized(t *testing.T) {
	f := newFixture()
	f.versions.err = errors.New("registry down")
	o := New(f.deps, nil, nil)

	outcome := o.Run(context.Background())
	require.NotNil(t, outcome.Error)
	assert.Equal(t, types.StagePullVersions, outcome.Error.Stage)

	f.versions.err = nil
	assert.True(t, o.Run(context.Background()).Success)
	assert.EqualValues(t, 2, f.versions.calls.Load())
}

func TestRunEmptyVersionListIsRefetched(t *testing.T) {
	f := newFixture()
	f.versions.list = nil
	o := New(f.deps, nil, nil)

	outcome := o.Run(context.Background())
	require.NotNil(t, outcome.Error)
	assert.Equal(t, types.StageDependencyResolution, outcome.Error.Stage)

	f.versions.list = []string{"3.4.1"}
	require.True(t, o.Run(context.Background()).Success)
	assert.EqualValues(t, 2, f.versions.calls.Load())

	require.True(t, o.Run(context.Background()).Success)
	assert.EqualValues(t, 2, f.versions.calls.Load())
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	f := newFixture()
	f.compiler.block = make(chan struct{})
	f.compiler.started = make(chan struct{})
	o := New(f.deps, nil, nil)

	done := make(chan Outcome, 1)
	go func() { done <- o.Run(context.Background()) }()
	<-f.compiler.started
	assert.True(t, o.Running())

	second := o.Run(context.Background())
	assert.False(t, second.Success)
	require.NotNil(t, second.Error)
	assert.Equal(t, types.StageRunInProgress, second.Error.Stage)
	assert.ErrorIs(t, second.Error, ErrRunInProgress)

	close(f.compiler.block)
	first := <-done
	assert.True(t, first.Success)
	assert.False(t, o.Running())
	assert.Len(t, f.store.writes, 1)
}

func TestRunStageTagging(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		stage types.Stage
	}{
		{
			name:  "settings",
			setup: func(f *fixture) { f.settings.settingsErr = errors.New("db locked") },
			stage: types.StagePullSettings,
		},
		{
			name:  "workspace",
			setup: func(f *fixture) { f.settings.workspaceErr = errors.New("db locked") },
			stage: types.StagePullConfig,
		},
		{
			name:  "no providers",
			setup: func(f *fixture) { f.deps.Providers = stubProviders{} },
			stage: types.StageScanContent,
		},
		{
			name: "all providers disabled",
			setup: func(f *fixture) {
				f.deps.Providers = stubProviders{content.NewStaticProvider("x", "X", "", types.EncodingText, false)}
			},
			stage: types.StageScanContent,
		},
		{
			name:  "no versions",
			setup: func(f *fixture) { f.versions.list = nil },
			stage: types.StageDependencyResolution,
		},
		{
			name:  "resolver",
			setup: func(f *fixture) { f.resolver.err = errors.New("both sources failed") },
			stage: types.StageDependencyResolution,
		},
		{
			name:  "sandbox timeout",
			setup: func(f *fixture) { f.compiler.err = fmt.Errorf("compile: %w", sandbox.ErrTimeout) },
			stage: types.StageSandboxTimeout,
		},
		{
			name:  "sandbox bootstrap",
			setup: func(f *fixture) { f.compiler.err = fmt.Errorf("acquire: %w", sandbox.ErrBootstrap) },
			stage: types.StageSandboxBootstrap,
		},
		{
			name:  "protocol error",
			setup: func(f *fixture) { f.compiler.err = errors.New("decode compile result") },
			stage: types.StageCompile,
		},
		{
			name:  "persist",
			setup: func(f *fixture) { f.store.err = errors.New("disk full") },
			stage: types.StagePersist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)
			outcome := New(f.deps, nil, nil).Run(context.Background())
			assert.False(t, outcome.Success)
			require.NotNil(t, outcome.Error)
			assert.Equal(t, tt.stage, outcome.Error.Stage)
		})
	}
}

func TestRunUsesExplicitVersion(t *testing.T) {
	f := newFixture()
	f.versions.list = []string{"3.4.1", "3.3.0"}
	f.settings.settings.CompilerVersion = "3.3.0"

	outcome := New(f.deps, nil, nil).Run(context.Background())
	require.True(t, outcome.Success)
	assert.Equal(t, "3.3.0", outcome.Version)
	assert.Equal(t, "3.3.0", f.resolver.version)
	assert.Equal(t, Banner("3.3.0")+"\n.a{color:red}", string(f.store.writes[0]))
}

func TestBanner(t *testing.T) {
	assert.Equal(t, "/* ! tailwindcss v3.4.1 | MIT License | https://tailwindcss.com */", Banner("3.4.1"))
}
