package compiler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/orgrosua/yabe-siul/internal/cachestore"
	"github.com/orgrosua/yabe-siul/internal/content"
	"github.com/orgrosua/yabe-siul/internal/importmap"
	"github.com/orgrosua/yabe-siul/internal/infrastructure/monitoring"
	"github.com/orgrosua/yabe-siul/internal/sandbox"
	"github.com/orgrosua/yabe-siul/internal/shared/id"
	"github.com/orgrosua/yabe-siul/internal/shared/types"
)

// ErrRunInProgress rejects a Run started while another is in flight.
var ErrRunInProgress = errors.New("a compile is already running")

// VersionSource lists supported compiler versions, newest first.
type VersionSource interface {
	Versions(ctx context.Context) ([]string, error)
}

// SettingsSource loads the user's settings and workspace.
type SettingsSource interface {
	Settings(ctx context.Context) (types.Settings, error)
	Workspace(ctx context.Context) (types.Workspace, error)
}

// ProviderSource lists the registered content providers.
type ProviderSource interface {
	Providers(ctx context.Context) ([]content.Provider, error)
}

// ContentAggregator drains providers into one fragment pool.
type ContentAggregator interface {
	Aggregate(ctx context.Context, providers []content.Provider) ([]types.ContentFragment, error)
}

// DependencyResolver maps a compiler version to its import map.
type DependencyResolver interface {
	Resolve(ctx context.Context, version string) (*importmap.Map, error)
}

// Compiler runs one compile in a sandbox bootstrapped with imports.
type Compiler interface {
	Compile(ctx context.Context, version string, imports *importmap.Map, req types.CompileRequest) (types.CompileResult, error)
}

// ArtifactStore persists the compiled stylesheet.
type ArtifactStore interface {
	Write(ctx context.Context, data []byte) (*cachestore.Artifact, error)
}

// Deps are the Orchestrator's collaborators. All are required.
type Deps struct {
	Versions   VersionSource
	Settings   SettingsSource
	Providers  ProviderSource
	Aggregator ContentAggregator
	Resolver   DependencyResolver
	Compiler   Compiler
	Store      ArtifactStore
}

// Outcome is the result of one Run.
type Outcome struct {
	RunID    id.RunID             `json:"run_id"`
	Success  bool                 `json:"success"`
	Error    *types.StageError    `json:"error,omitempty"`
	Version  string               `json:"version,omitempty"`
	Artifact *cachestore.Artifact `json:"artifact,omitempty"`
	Duration time.Duration        `json:"-"`
}

type session struct {
	versions  []string
	settings  *types.Settings
	workspace *types.Workspace
}

// Orchestrator coordinates a compile run.
type Orchestrator struct {
	deps    Deps
	logger  *zap.Logger
	metrics *monitoring.Metrics

	running atomic.Bool

	mu      sync.Mutex
	session session
}

func New(deps Deps, logger *zap.Logger, metrics *monitoring.Metrics) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		deps:    deps,
		logger:  logger.Named("compiler"),
		metrics: metrics,
	}
}

// Invalidate drops the memoized versions, settings and workspace so the next
// Run refetches them.
func (o *Orchestrator) Invalidate() {
	o.mu.Lock()
	o.session = session{}
	o.mu.Unlock()
}

// Running reports whether a Run is in flight.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// Run builds and persists the stylesheet. It never returns a Go error; every
// failure lands in Outcome.Error.
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	outcome := Outcome{RunID: id.NewRunID()}
	logger := o.logger.With(zap.String("run_id", outcome.RunID.String()))

	if !o.running.CompareAndSwap(false, true) {
		outcome.Error = types.NewStageError(types.StageRunInProgress, ErrRunInProgress)
		logger.Warn("compile rejected", zap.Error(outcome.Error))
		return outcome
	}
	defer o.running.Store(false)

	start := time.Now()
	version, artifact, err := o.run(ctx, logger)
	outcome.Duration = time.Since(start)
	outcome.Version = version

	if err != nil {
		outcome.Error = types.AsStageError(err, types.StageCompile)
		o.metrics.RecordRun(string(outcome.Error.Stage), outcome.Duration)
		logger.Error("compile failed",
			zap.String("stage", string(outcome.Error.Stage)),
			zap.String("version", version),
			zap.Error(err))
		return outcome
	}

	outcome.Success = true
	outcome.Artifact = artifact
	o.metrics.RecordRun("", outcome.Duration)
	logger.Info("compile finished",
		zap.String("version", version),
		zap.Int("size", artifact.Size),
		zap.Duration("duration", outcome.Duration))
	return outcome
}

func (o *Orchestrator) run(ctx context.Context, logger *zap.Logger) (string, *cachestore.Artifact, error) {
	versions, err := o.loadVersions(ctx)
	if err != nil {
		return "", nil, types.NewStageError(types.StagePullVersions, err)
	}
	settings, err := o.loadSettings(ctx)
	if err != nil {
		return "", nil, types.NewStageError(types.StagePullSettings, err)
	}
	workspace, err := o.loadWorkspace(ctx)
	if err != nil {
		return "", nil, types.NewStageError(types.StagePullConfig, err)
	}

	var contents []types.ContentFragment
	err = o.stage(types.StageScanContent, func() error {
		providers, err := o.deps.Providers.Providers(ctx)
		if err != nil {
			return err
		}
		if len(providers) == 0 {
			return errors.New("no content provider found")
		}
		contents, err = o.deps.Aggregator.Aggregate(ctx, providers)
		return err
	})
	if err != nil {
		return "", nil, types.AsStageError(err, types.StageScanContent)
	}

	version := settings.EffectiveVersion(versions)
	if version == "" {
		return "", nil, types.StageErrorf(types.StageDependencyResolution, "no compiler version available")
	}
	logger.Debug("inputs ready",
		zap.String("version", version),
		zap.Int("fragments", len(contents)))

	var imports *importmap.Map
	err = o.stage(types.StageDependencyResolution, func() error {
		imports, err = o.deps.Resolver.Resolve(ctx, version)
		return err
	})
	if err != nil {
		return version, nil, types.AsStageError(err, types.StageDependencyResolution)
	}

	req := types.CompileRequest{
		Version:  version,
		Config:   types.Wrap(workspace.Wrappers.Config, workspace.Config),
		CSS:      types.Wrap(workspace.Wrappers.CSS, workspace.CSS),
		Contents: contents,
	}
	var result types.CompileResult
	err = o.stage(types.StageCompile, func() error {
		result, err = o.deps.Compiler.Compile(ctx, version, imports, req)
		return err
	})
	if err != nil {
		return version, nil, types.NewStageError(compileStage(err), err)
	}
	if result.Failed() {
		stage := result.Error.Stage
		if stage == "" {
			stage = types.StageCompile
		}
		return version, nil, &types.StageError{Message: result.Error.Message, Stage: stage}
	}

	var artifact *cachestore.Artifact
	err = o.stage(types.StagePersist, func() error {
		artifact, err = o.deps.Store.Write(ctx, []byte(Artifact(version, result.CSS)))
		return err
	})
	if err != nil {
		return version, nil, types.NewStageError(types.StagePersist, err)
	}
	return version, artifact, nil
}

func (o *Orchestrator) stage(stage types.Stage, fn func() error) error {
	timer := monitoring.NewTimer(o.metrics, string(stage))
	defer timer.Stop()
	return fn()
}

func (o *Orchestrator) loadVersions(ctx context.Context) ([]string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.session.versions) > 0 {
		return o.session.versions, nil
	}
	timer := monitoring.NewTimer(o.metrics, string(types.StagePullVersions))
	defer timer.Stop()

	versions, err := o.deps.Versions.Versions(ctx)
	if err != nil {
		return nil, err
	}
	// An empty list is not memoized, so the next run asks again.
	o.session.versions = versions
	return versions, nil
}

func (o *Orchestrator) loadSettings(ctx context.Context) (types.Settings, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session.settings != nil {
		return *o.session.settings, nil
	}
	timer := monitoring.NewTimer(o.metrics, string(types.StagePullSettings))
	defer timer.Stop()

	settings, err := o.deps.Settings.Settings(ctx)
	if err != nil {
		return types.Settings{}, err
	}
	o.session.settings = &settings
	return settings, nil
}

func (o *Orchestrator) loadWorkspace(ctx context.Context) (types.Workspace, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session.workspace != nil {
		return *o.session.workspace, nil
	}
	timer := monitoring.NewTimer(o.metrics, string(types.StagePullConfig))
	defer timer.Stop()

	ws, err := o.deps.Settings.Workspace(ctx)
	if err != nil {
		return types.Workspace{}, err
	}
	o.session.workspace = &ws
	return ws, nil
}

func compileStage(err error) types.Stage {
	switch {
	case errors.Is(err, sandbox.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return types.StageSandboxTimeout
	case errors.Is(err, sandbox.ErrBootstrap):
		return types.StageSandboxBootstrap
	default:
		return types.StageCompile
	}
}

// Banner is the license line placed at the top of every artifact.
func Banner(version string) string {
	return fmt.Sprintf("/* ! tailwindcss v%s | MIT License | https://tailwindcss.com */", version)
}

// Artifact prefixes css with the banner for version.
func Artifact(version, css string) string {
	return Banner(version) + "\n" + css
}
