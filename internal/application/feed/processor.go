package feed

import (
	"context"
	"fmt"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubBatchProcessor runs one SubBatch through submission and polling.
// It is the executor the background scheduler calls per SubBatch.
type SubBatchProcessor struct {
	submitter *FeedSubmitter
	poller    *FeedStatusPoller
	batches   feed.BatchRepository
	inflight  feed.InFlightRegistry
	reports   *ReportService
	logger    *zap.Logger
}

// NewSubBatchProcessor creates a new SubBatchProcessor. inflight and reports may be nil.
func NewSubBatchProcessor(
	submitter *FeedSubmitter,
	poller *FeedStatusPoller,
	batches feed.BatchRepository,
	inflight feed.InFlightRegistry,
	reports *ReportService,
	logger *zap.Logger,
) *SubBatchProcessor {
	return &SubBatchProcessor{
		submitter: submitter,
		poller:    poller,
		batches:   batches,
		inflight:  inflight,
		reports:   reports,
		logger:    logger,
	}
}

// Execute advances the SubBatch from whatever state it is in. Once it is
// terminal and every sibling SubBatch is terminal too, the batch is settled:
// in-flight marks are released and a report snapshot is taken.
func (p *SubBatchProcessor) Execute(ctx context.Context, sb *feed.SubBatch) error {
	switch sb.State {
	case feed.SubBatchStateBuilt, feed.SubBatchStateSubmitting:
		if err := p.submitter.Submit(ctx, sb); err != nil {
			return err
		}
	}
	switch sb.State {
	case feed.SubBatchStateSubmitted, feed.SubBatchStatePolling:
		if err := p.poller.Poll(ctx, sb); err != nil {
			return err
		}
	}
	if !sb.State.IsTerminal() {
		return fmt.Errorf("%w: sub-batch %s stopped in state %s", feed.ErrInvalidStateTransition, sb.ID, sb.State)
	}
	return p.settle(ctx, sb.BatchID)
}

func (p *SubBatchProcessor) settle(ctx context.Context, batchID uuid.UUID) error {
	batch, err := p.batches.FindByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	if !batch.IsSettled() {
		return nil
	}

	if p.inflight != nil {
		if err := p.inflight.Release(ctx, batch.ItemIDs()...); err != nil {
			p.logger.Warn("failed to release in-flight items",
				zap.String("batch_id", batchID.String()),
				zap.Error(err),
			)
		}
	}

	p.logger.Info("batch settled",
		zap.String("batch_id", batchID.String()),
		zap.Int("sub_batches", len(batch.SubBatches)),
		zap.Int("items", batch.ItemCount()),
	)
	if p.reports != nil {
		if _, err := p.reports.Report(ctx, batchID); err != nil {
			p.logger.Warn("failed to build batch report",
				zap.String("batch_id", batchID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}
