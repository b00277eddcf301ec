// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// FeedMetrics tracks the mapping pipeline and feed submissions.
// All record methods are safe to call on a nil receiver.
type FeedMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	itemsMappedTotal      *Counter
	itemsExcludedTotal    *Counter
	imagesDroppedTotal    *Counter
	imagesPaddedTotal     *Counter
	substitutionsTotal    *Counter
	poolExhaustedTotal    *Counter
	subBatchStateTotal    *Counter
	reconcileMismatches   *Counter
	marketplaceCallsTotal *Counter

	// Histograms
	pollDuration *Histogram

	// Gauge metrics (point-in-time values)
	poolAvailable *Gauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	poolProvider PoolMetricsProvider
}

// PoolMetricsProvider reports identifier pool availability for periodic collection.
type PoolMetricsProvider interface {
	CountAvailable(ctx context.Context) (int64, error)
}

// FeedMetricsConfig holds configuration for feed metrics.
type FeedMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // Default: 1 minute
	PoolProvider    PoolMetricsProvider
}

// NewFeedMetrics creates a new FeedMetrics instance.
func NewFeedMetrics(cfg FeedMetricsConfig) (*FeedMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fm := &FeedMetrics{
		meter:        cfg.Meter,
		logger:       logger,
		stopChan:     make(chan struct{}),
		poolProvider: cfg.PoolProvider,
	}

	counters := []struct {
		target           **Counter
		name, desc, unit string
	}{
		{&fm.itemsMappedTotal, "feedsync_items_mapped_total", "Items mapped into marketplace listings", "{items}"},
		{&fm.itemsExcludedTotal, "feedsync_items_excluded_total", "Items excluded before submission", "{items}"},
		{&fm.imagesDroppedTotal, "feedsync_images_dropped_total", "Candidate images dropped while building image sets", "{images}"},
		{&fm.imagesPaddedTotal, "feedsync_images_padded_total", "Placeholder images appended to image sets", "{images}"},
		{&fm.substitutionsTotal, "feedsync_default_substitutions_total", "Default values substituted for mandatory attributes", "{values}"},
		{&fm.poolExhaustedTotal, "feedsync_identifier_pool_exhausted_total", "Identifier allocations refused because the pool is empty", "{allocations}"},
		{&fm.subBatchStateTotal, "feedsync_sub_batch_transitions_total", "Sub-batch state transitions", "{transitions}"},
		{&fm.reconcileMismatches, "feedsync_reconciliation_mismatches_total", "Sub-batches whose summary disagrees with per-item results", "{sub_batches}"},
		{&fm.marketplaceCallsTotal, "feedsync_marketplace_calls_total", "Marketplace API calls", "{calls}"},
	}
	for _, c := range counters {
		counter, err := NewCounter(cfg.Meter, c.name, c.desc, c.unit)
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	var err error
	fm.pollDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "feedsync_feed_processing_duration_seconds",
		Description: "Time from submission until a terminal feed status",
		Unit:        "s",
		Boundaries:  FeedDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	fm.poolAvailable, err = NewGauge(
		cfg.Meter,
		"feedsync_identifier_pool_available",
		"Unused identifiers left in the pool",
		"{identifiers}",
	)
	if err != nil {
		return nil, err
	}

	return fm, nil
}

// =============================================================================
// Mapping Metrics
// =============================================================================

// RecordItemMapped records a successfully mapped item.
func (fm *FeedMetrics) RecordItemMapped(ctx context.Context, targetCategory string) {
	if fm == nil {
		return
	}
	fm.itemsMappedTotal.Inc(ctx, AttrTargetCategory.String(targetCategory))
}

// RecordItemExcluded records a pre-submission failure.
func (fm *FeedMetrics) RecordItemExcluded(ctx context.Context, kind string) {
	if fm == nil {
		return
	}
	fm.itemsExcludedTotal.Inc(ctx, AttrFailureKind.String(kind))
}

// RecordImageDropped records a dropped image candidate.
func (fm *FeedMetrics) RecordImageDropped(ctx context.Context, reason string) {
	if fm == nil {
		return
	}
	fm.imagesDroppedTotal.Inc(ctx, AttrDropReason.String(reason))
}

// RecordImagesPadded records placeholder images appended to an image set.
func (fm *FeedMetrics) RecordImagesPadded(ctx context.Context, count int) {
	if fm == nil || count <= 0 {
		return
	}
	fm.imagesPaddedTotal.Add(ctx, int64(count))
}

// RecordSubstitution records a default value substitution.
func (fm *FeedMetrics) RecordSubstitution(ctx context.Context, attributeName string) {
	if fm == nil {
		return
	}
	fm.substitutionsTotal.Inc(ctx, AttrAttributeName.String(attributeName))
}

// RecordPoolExhausted records an allocation refused by an empty pool.
func (fm *FeedMetrics) RecordPoolExhausted(ctx context.Context) {
	if fm == nil {
		return
	}
	fm.poolExhaustedTotal.Inc(ctx)
}

// =============================================================================
// Feed Metrics
// =============================================================================

// RecordSubBatchState records a sub-batch entering a state.
func (fm *FeedMetrics) RecordSubBatchState(ctx context.Context, state string) {
	if fm == nil {
		return
	}
	fm.subBatchStateTotal.Inc(ctx, AttrSubBatchState.String(state))
}

// RecordMarketplaceCall records one marketplace API call and its outcome.
func (fm *FeedMetrics) RecordMarketplaceCall(ctx context.Context, operation string, ok bool) {
	if fm == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	fm.marketplaceCallsTotal.Inc(ctx,
		AttrMarketplaceOperation.String(operation),
		AttrOutcome.String(outcome),
	)
}

// RecordFeedProcessed records how long the marketplace took to process a feed.
func (fm *FeedMetrics) RecordFeedProcessed(ctx context.Context, d time.Duration, status string) {
	if fm == nil {
		return
	}
	fm.pollDuration.RecordDuration(ctx, d, AttrFeedStatus.String(status))
}

// RecordReconciliationMismatch records a summary/result divergence.
func (fm *FeedMetrics) RecordReconciliationMismatch(ctx context.Context) {
	if fm == nil {
		return
	}
	fm.reconcileMismatches.Inc(ctx)
}

// RecordPoolAvailable records the number of unused identifiers.
func (fm *FeedMetrics) RecordPoolAvailable(ctx context.Context, count int64) {
	if fm == nil {
		return
	}
	fm.poolAvailable.Record(ctx, count)
}

// =============================================================================
// Periodic Collection
// =============================================================================

// StartPeriodicCollection starts periodic collection of gauge metrics.
// This is non-blocking - use Stop() to stop collection.
func (fm *FeedMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	fm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = time.Minute
		}

		go fm.runPeriodicCollection(ctx, interval)
	})
}

func (fm *FeedMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fm.collectPoolMetrics(ctx)

	for {
		select {
		case <-fm.stopChan:
			fm.logger.Info("Stopping periodic feed metrics collection")
			return
		case <-ctx.Done():
			fm.logger.Info("Context cancelled, stopping periodic feed metrics collection")
			return
		case <-ticker.C:
			fm.collectPoolMetrics(ctx)
		}
	}
}

func (fm *FeedMetrics) collectPoolMetrics(ctx context.Context) {
	if fm.poolProvider == nil {
		fm.logger.Debug("No pool provider configured, skipping pool metrics collection")
		return
	}

	available, err := fm.poolProvider.CountAvailable(ctx)
	if err != nil {
		fm.logger.Warn("Failed to count available identifiers", zap.Error(err))
		return
	}
	fm.RecordPoolAvailable(ctx, available)
}

// Stop stops the periodic collection.
func (fm *FeedMetrics) Stop() {
	fm.stopOnce.Do(func() {
		close(fm.stopChan)
	})
}

// =============================================================================
// Error Types
// =============================================================================

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewFeedMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// =============================================================================
// Attribute Key Constants
// =============================================================================

var (
	AttrTargetCategory       = attribute.Key("target_category")
	AttrFailureKind          = attribute.Key("failure_kind")
	AttrDropReason           = attribute.Key("drop_reason")
	AttrAttributeName        = attribute.Key("attribute")
	AttrSubBatchState        = attribute.Key("sub_batch_state")
	AttrMarketplaceOperation = attribute.Key("marketplace_operation")
	AttrOutcome              = attribute.Key("outcome")
	AttrFeedStatus           = attribute.Key("feed_status")
)

// FeedDurationBuckets are bucket boundaries for marketplace feed processing (seconds).
var FeedDurationBuckets = []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600}
