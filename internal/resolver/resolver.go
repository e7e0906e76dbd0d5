// Package resolver produces the import map the compiler sandbox is
// bootstrapped with. Resolution goes cache, remote generator, local fallback;
// manual overrides are merged on top and the result is cached by version.
package resolver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/orgrosua/yabe-siul/internal/importmap"
	"github.com/orgrosua/yabe-siul/internal/infrastructure/monitoring"
	"github.com/orgrosua/yabe-siul/internal/shared/types"
)

// DefaultTTL is how long a cached map is trusted.
const DefaultTTL = 24 * time.Hour

// Options configures a Resolver.
type Options struct {
	TTL       time.Duration
	Overrides *importmap.Map
	Now       func() time.Time
}

// Resolver resolves compiler import maps.
type Resolver struct {
	remote  Source
	local   Source
	cache   Cache
	opts    Options
	logger  *zap.Logger
	metrics *monitoring.Metrics
	group   singleflight.Group
}

// New creates a resolver. Zero options take DefaultTTL, DefaultOverrides and
// the wall clock.
func New(remote, local Source, cache Cache, opts Options, logger *zap.Logger, metrics *monitoring.Metrics) *Resolver {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Overrides == nil {
		opts.Overrides = DefaultOverrides()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		remote:  remote,
		local:   local,
		cache:   cache,
		opts:    opts,
		logger:  logger.Named("resolver"),
		metrics: metrics,
	}
}

// resolution is the tagged outcome of the remote-then-local chain.
type resolution struct {
	m      *importmap.Map
	source string
}

// Resolve returns the import map for version. Concurrent calls for the same
// version share one resolution. Failures are tagged dependency-resolution.
func (r *Resolver) Resolve(ctx context.Context, version string) (*importmap.Map, error) {
	if version == "" {
		return nil, types.NewStageError(types.StageDependencyResolution, ErrEmptyVersion)
	}

	v, err, _ := r.group.Do(version, func() (interface{}, error) {
		return r.resolve(ctx, version)
	})
	if err != nil {
		return nil, err
	}
	return v.(*importmap.Map).Clone(), nil
}

func (r *Resolver) resolve(ctx context.Context, version string) (*importmap.Map, error) {
	logger := r.logger.With(zap.String("version", version))

	if entry := r.lookup(ctx, version, logger); entry != nil {
		r.metrics.RecordResolverLookup("hit")
		logger.Debug("import map cache hit", zap.Time("generated_at", entry.GeneratedAt))
		return entry.Map, nil
	}

	res, err := r.fetch(ctx, version, logger)
	if err != nil {
		r.metrics.RecordResolverLookup("failed")
		logger.Error("dependency resolution failed", zap.Error(err))
		return nil, types.NewStageError(types.StageDependencyResolution, err)
	}
	r.metrics.RecordResolverLookup(res.source)

	merged := res.m.Merge(r.opts.Overrides)
	entry := Entry{Version: version, Map: merged, GeneratedAt: r.opts.Now()}
	if err := r.cache.Put(ctx, entry); err != nil {
		logger.Warn("failed to cache import map", zap.Error(err))
	}

	logger.Info("import map resolved",
		zap.String("source", res.source),
		zap.Int("entries", merged.Len()))
	return merged, nil
}

// lookup returns a fresh cache entry or nil. Read errors count as a miss.
func (r *Resolver) lookup(ctx context.Context, version string, logger *zap.Logger) *Entry {
	entry, err := r.cache.Get(ctx, version)
	if err != nil {
		logger.Warn("import map cache read failed", zap.Error(err))
		return nil
	}
	if entry == nil || entry.Map == nil {
		return nil
	}
	if entry.Expired(r.opts.Now(), r.opts.TTL) {
		logger.Debug("import map cache entry expired", zap.Time("generated_at", entry.GeneratedAt))
		return nil
	}
	return entry
}

func (r *Resolver) fetch(ctx context.Context, version string, logger *zap.Logger) (resolution, error) {
	installs := CompilerInstalls(version)

	m, remoteErr := r.remote.Resolve(ctx, installs)
	if remoteErr == nil {
		return resolution{m: m, source: r.remote.Name()}, nil
	}
	logger.Warn("remote resolution failed, falling back to local", zap.Error(remoteErr))

	m, localErr := r.local.Resolve(ctx, installs)
	if localErr == nil {
		return resolution{m: m, source: r.local.Name()}, nil
	}

	return resolution{}, &ResolutionError{Version: version, RemoteErr: remoteErr, LocalErr: localErr}
}

// Invalidate drops the cached map for version so the next Resolve fetches
// it again.
func (r *Resolver) Invalidate(ctx context.Context, version string) error {
	r.group.Forget(version)
	return r.cache.Delete(ctx, version)
}
