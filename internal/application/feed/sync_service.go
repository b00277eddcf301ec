package feed

import (
	"context"
	"fmt"
	"time"

	listingapp "github.com/erp/feedsync/internal/application/listing"
	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubBatchDispatcher hands a SubBatch to background processing
type SubBatchDispatcher interface {
	Dispatch(ctx context.Context, sb *feed.SubBatch) error
}

// SyncService runs the mapping pipeline for a set of items and enqueues the
// resulting sub-batches. Submission and polling happen in the background.
type SyncService struct {
	mapping    *listingapp.MappingService
	builder    *feed.BatchBuilder
	batches    feed.BatchRepository
	inflight   feed.InFlightRegistry
	dispatcher SubBatchDispatcher
	logger     *zap.Logger
}

// NewSyncService creates a new SyncService
func NewSyncService(
	mapping *listingapp.MappingService,
	builder *feed.BatchBuilder,
	batches feed.BatchRepository,
	inflight feed.InFlightRegistry,
	dispatcher SubBatchDispatcher,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		mapping:    mapping,
		builder:    builder,
		batches:    batches,
		inflight:   inflight,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Sync maps the items, builds and persists one Batch and dispatches its
// sub-batches. Items already held by another batch and items that fail mapping
// are recorded as pre-submission failures on the returned Batch.
func (s *SyncService) Sync(ctx context.Context, itemIDs []uuid.UUID) (*feed.Batch, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "feed_sync", "sync")
	defer span.End()

	batchID := uuid.New()
	telemetry.SetAttributes(span, "batch_id", batchID.String(), "items_count", len(itemIDs))

	ids := uniqueIDs(itemIDs)
	acquired := make([]uuid.UUID, 0, len(ids))
	var failures []feed.PreSubmissionFailure
	for _, id := range ids {
		ok, err := s.inflight.Acquire(ctx, id, batchID)
		if err != nil {
			s.release(ctx, acquired)
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to mark item %s in flight: %w", id, err)
		}
		if !ok {
			failures = append(failures, feed.PreSubmissionFailure{
				SourceItemID: id,
				Kind:         feed.KindInFlight,
				Reason:       feed.ErrItemInFlight.Error(),
			})
			continue
		}
		acquired = append(acquired, id)
	}

	outcome, err := s.mapping.MapItems(ctx, acquired)
	if err != nil {
		s.release(ctx, acquired)
		telemetry.RecordError(span, err)
		return nil, err
	}
	for _, f := range outcome.Failures {
		failures = append(failures, feed.PreSubmissionFailure{
			SourceItemID: f.ItemID,
			SKU:          f.SKU,
			Kind:         f.Code(),
			Reason:       f.Error(),
		})
	}

	batch, err := s.builder.BuildFor(batchID, outcome.Items, failures)
	if err != nil {
		s.release(ctx, acquired)
		telemetry.RecordError(span, err)
		return nil, err
	}
	if err := s.batches.SaveBatch(ctx, batch); err != nil {
		s.release(ctx, acquired)
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to save batch: %w", err)
	}

	// Items excluded by this batch are free again; only submitted items stay in flight.
	submitted := make(map[uuid.UUID]struct{}, batch.ItemCount())
	for _, id := range batch.ItemIDs() {
		submitted[id] = struct{}{}
	}
	var excluded []uuid.UUID
	for _, id := range acquired {
		if _, ok := submitted[id]; !ok {
			excluded = append(excluded, id)
		}
	}
	s.release(ctx, excluded)

	s.logger.Info("batch built",
		zap.String("batch_id", batch.ID.String()),
		zap.Int("sub_batches", len(batch.SubBatches)),
		zap.Int("items", batch.ItemCount()),
		zap.Int("pre_submission_failures", len(batch.PreSubmissionFailures)),
	)

	for _, sb := range batch.SubBatches {
		if err := s.dispatcher.Dispatch(ctx, sb); err != nil {
			// The sub-batch stays BUILT and is picked up by ResumePending.
			s.logger.Warn("failed to dispatch sub-batch",
				zap.String("batch_id", batch.ID.String()),
				zap.String("sub_batch_id", sb.ID.String()),
				zap.Error(err),
			)
		}
	}

	telemetry.SetOK(span)
	return batch, nil
}

// ResumePending dispatches every stored sub-batch that has not reached a
// terminal state, returning how many were dispatched.
func (s *SyncService) ResumePending(ctx context.Context) (int, error) {
	pending, err := s.batches.FindSubBatchesByState(ctx, feed.NonTerminalSubBatchStates()...)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending sub-batches: %w", err)
	}
	n := 0
	for _, sb := range pending {
		if err := s.dispatcher.Dispatch(ctx, sb); err != nil {
			s.logger.Warn("failed to resume sub-batch",
				zap.String("sub_batch_id", sb.ID.String()),
				zap.String("state", string(sb.State)),
				zap.Error(err),
			)
			continue
		}
		n++
	}
	if n > 0 {
		s.logger.Info("resumed pending sub-batches", zap.Int("count", n))
	}
	return n, nil
}

// Batch returns a stored batch
func (s *SyncService) Batch(ctx context.Context, id uuid.UUID) (*feed.Batch, error) {
	return s.batches.FindByID(ctx, id)
}

func (s *SyncService) release(ctx context.Context, ids []uuid.UUID) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.inflight.Release(ctx, ids...); err != nil {
		s.logger.Warn("failed to release in-flight items",
			zap.Int("count", len(ids)),
			zap.Error(err),
		)
	}
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
