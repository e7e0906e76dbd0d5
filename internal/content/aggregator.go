// Package content collects markup from pluggable providers for class-token
// scanning.
package content

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orgrosua/yabe-siul/internal/infrastructure/monitoring"
	"github.com/orgrosua/yabe-siul/internal/shared/types"
)

// DefaultMaxBatches stops a provider whose cursor never runs out.
const DefaultMaxBatches = 10000

// Aggregator drives providers through the cursor protocol and merges their
// fragments.
type Aggregator struct {
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	maxBatches int
}

func NewAggregator(logger *zap.Logger, metrics *monitoring.Metrics) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		logger:     logger.Named("content"),
		metrics:    metrics,
		maxBatches: DefaultMaxBatches,
	}
}

// Aggregate scans every enabled provider concurrently, each one strictly
// batch after batch, and returns all fragments grouped by provider in input
// order. Any provider failure fails the whole aggregation; no partial pool
// is returned. Errors are tagged scan-content.
func (a *Aggregator) Aggregate(ctx context.Context, providers []Provider) ([]types.ContentFragment, error) {
	enabled := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p.Enabled() {
			enabled = append(enabled, p)
		}
	}
	if len(enabled) == 0 {
		return nil, types.StageErrorf(types.StageScanContent, "no enabled content provider found")
	}

	partials := make([][]types.ContentFragment, len(enabled))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range enabled {
		i, p := i, p
		g.Go(func() error {
			fragments, err := a.drain(gctx, p)
			if err != nil {
				return fmt.Errorf("provider %s: %w", p.ID(), err)
			}
			partials[i] = fragments
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		a.logger.Error("content aggregation failed", zap.Error(err))
		return nil, types.NewStageError(types.StageScanContent, err)
	}

	var pool []types.ContentFragment
	for _, fragments := range partials {
		pool = append(pool, fragments...)
	}

	a.logger.Info("content aggregated",
		zap.Int("providers", len(enabled)),
		zap.Int("fragments", len(pool)))
	return pool, nil
}

// drain runs one provider's batch loop until it returns an empty cursor.
func (a *Aggregator) drain(ctx context.Context, p Provider) ([]types.ContentFragment, error) {
	var out []types.ContentFragment
	cursor := NoCursor

	for calls := 0; ; calls++ {
		if calls >= a.maxBatches {
			return nil, fmt.Errorf("still not exhausted after %d batches", calls)
		}

		batch, err := ScanOnce(ctx, p, cursor)
		if err != nil {
			a.metrics.RecordProviderBatch(p.ID(), "error", 0)
			return nil, err
		}

		for _, raw := range batch.Contents {
			fragment, err := Decode(raw)
			if err != nil {
				a.metrics.RecordProviderBatch(p.ID(), "error", 0)
				return nil, err
			}
			fragment.Provider = p.ID()
			out = append(out, fragment)
		}
		a.metrics.RecordProviderBatch(p.ID(), "ok", len(batch.Contents))

		a.logger.Debug("batch scanned",
			zap.String("provider", p.ID()),
			zap.String("cursor", string(cursor)),
			zap.Int("fragments", len(batch.Contents)))

		if batch.Metadata.NextBatch.Done() {
			return out, nil
		}
		cursor = batch.Metadata.NextBatch
	}
}
