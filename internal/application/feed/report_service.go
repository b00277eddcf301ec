package feed

import (
	"context"
	"fmt"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReportService reconciles batches and stores report snapshots for display
type ReportService struct {
	batches    feed.BatchRepository
	snapshots  feed.ReportSnapshotRepository
	aggregator *feed.ReconciliationAggregator
	logger     *zap.Logger
	metrics    *telemetry.FeedMetrics
}

// NewReportService creates a new ReportService
func NewReportService(batches feed.BatchRepository, snapshots feed.ReportSnapshotRepository, logger *zap.Logger) *ReportService {
	return &ReportService{
		batches:    batches,
		snapshots:  snapshots,
		aggregator: feed.NewReconciliationAggregator(),
		logger:     logger,
	}
}

// WithMetrics sets the metrics recorder
func (s *ReportService) WithMetrics(m *telemetry.FeedMetrics) *ReportService {
	s.metrics = m
	return s
}

// Report recomputes the BatchReport from the stored sub-batch responses and
// saves a snapshot of it. A report with pending items is still returned; use
// BatchReport.Err to detect partial data.
func (s *ReportService) Report(ctx context.Context, batchID uuid.UUID) (*feed.BatchReport, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "feed_report", "report")
	defer span.End()
	telemetry.SetAttributes(span, "batch_id", batchID.String())

	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	report := s.aggregator.Aggregate(batch)
	for _, m := range report.Mismatches {
		s.logger.Warn("reconciliation mismatch",
			zap.String("batch_id", batchID.String()),
			zap.String("sub_batch_id", m.SubBatchID.String()),
			zap.String("feed_id", m.FeedID),
			zap.Int("expected_failures", m.ReportedInvalid),
			zap.Int("extracted_failures", m.ExtractedFailed),
			zap.Strings("unconfirmed_skus", m.UnconfirmedSKUs),
		)
		s.metrics.RecordReconciliationMismatch(ctx)
	}
	if err := report.Err(); err != nil {
		s.logger.Info("batch report has pending items",
			zap.String("batch_id", batchID.String()),
			zap.Int("pending_count", report.PendingCount),
			zap.Int("unconfirmed_count", report.UnconfirmedCount),
			zap.Int("missing_sub_batches", len(report.Missing)),
		)
	}

	if s.snapshots != nil {
		if err := s.snapshots.SaveSnapshot(ctx, report); err != nil {
			s.logger.Warn("failed to save report snapshot",
				zap.String("batch_id", batchID.String()),
				zap.Error(err),
			)
		}
	}

	telemetry.SetAttributes(span,
		"success_count", report.SuccessCount,
		"failure_count", report.FailureCount,
		"pending_count", report.PendingCount,
		"unconfirmed_count", report.UnconfirmedCount,
	)
	telemetry.SetOK(span)
	return report, nil
}

// LatestSnapshot returns the most recently stored report for a batch
func (s *ReportService) LatestSnapshot(ctx context.Context, batchID uuid.UUID) (*feed.BatchReport, error) {
	if s.snapshots == nil {
		return nil, feed.ErrReportNotFound
	}
	report, err := s.snapshots.FindLatest(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load report snapshot: %w", err)
	}
	return report, nil
}
