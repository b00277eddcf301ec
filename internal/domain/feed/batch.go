package feed

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// PreSubmissionFailure is an item excluded from a Batch before submission
type PreSubmissionFailure struct {
	SourceItemID uuid.UUID `json:"source_item_id"`
	SKU          string    `json:"sku,omitempty"`
	Kind         string    `json:"kind"`
	Reason       string    `json:"reason"`
}

// Batch is one submission request. It is mutated only while being built.
type Batch struct {
	ID                    uuid.UUID
	SubBatches            []*SubBatch
	PreSubmissionFailures []PreSubmissionFailure
	CreatedAt             time.Time
}

// ItemCount returns the number of items across all sub-batches
func (b *Batch) ItemCount() int {
	n := 0
	for _, sb := range b.SubBatches {
		n += len(sb.Items)
	}
	return n
}

// ItemIDs returns every submitted source item id
func (b *Batch) ItemIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, b.ItemCount())
	for _, sb := range b.SubBatches {
		ids = append(ids, sb.ItemIDs()...)
	}
	return ids
}

// IsSettled returns true once every sub-batch reached a terminal state
func (b *Batch) IsSettled() bool {
	for _, sb := range b.SubBatches {
		if !sb.State.IsTerminal() {
			return false
		}
	}
	return true
}

// SortSubBatches orders sub-batches by sequence
func (b *Batch) SortSubBatches() {
	sort.SliceStable(b.SubBatches, func(i, j int) bool {
		return b.SubBatches[i].Sequence < b.SubBatches[j].Sequence
	})
}

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

// MarketplaceClient is the port for the marketplace feed API.
// Authentication is handled by the implementation.
type MarketplaceClient interface {
	SubmitFeed(ctx context.Context, payload FeedPayload) (string, error)
	GetFeedStatus(ctx context.Context, feedID string) (*FeedStatusResponse, error)
}

// BatchRepository persists batches and sub-batches.
// Sub-batch records and their responses are the authoritative source for reports.
type BatchRepository interface {
	SaveBatch(ctx context.Context, batch *Batch) error
	SaveSubBatch(ctx context.Context, sub *SubBatch) error
	FindByID(ctx context.Context, id uuid.UUID) (*Batch, error)
	FindSubBatch(ctx context.Context, id uuid.UUID) (*SubBatch, error)
	FindSubBatchesByState(ctx context.Context, states ...SubBatchState) ([]*SubBatch, error)
}

// ReportSnapshotRepository stores BatchReports for display. Snapshots are never
// authoritative.
type ReportSnapshotRepository interface {
	SaveSnapshot(ctx context.Context, report *BatchReport) error
	FindLatest(ctx context.Context, batchID uuid.UUID) (*BatchReport, error)
}

// InFlightRegistry marks items enqueued in a Batch so that one item is never
// part of two Batches at the same time.
type InFlightRegistry interface {
	// Acquire marks the item as held by the batch; false means another batch holds it.
	Acquire(ctx context.Context, itemID, batchID uuid.UUID) (bool, error)
	Release(ctx context.Context, itemIDs ...uuid.UUID) error
}
