package feed

import (
	"fmt"
	"time"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/google/uuid"
)

// Limits bounds the size of a single SubBatch
type Limits struct {
	MaxItemsPerSubBatch int
	MaxPayloadBytes     int
}

// Validate checks the limits are usable
func (l Limits) Validate() error {
	if l.MaxItemsPerSubBatch <= 0 {
		return fmt.Errorf("%w: max items per sub-batch must be positive", ErrInvalidLimits)
	}
	if l.MaxPayloadBytes <= envelopeSize() {
		return fmt.Errorf("%w: max payload bytes must exceed the envelope size", ErrInvalidLimits)
	}
	return nil
}

// BatchBuilder partitions mapped items into SubBatches
type BatchBuilder struct {
	limits Limits
	now    func() time.Time
}

// NewBatchBuilder creates a builder with the given limits
func NewBatchBuilder(limits Limits) (*BatchBuilder, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return &BatchBuilder{limits: limits, now: time.Now}, nil
}

// Limits returns the configured limits
func (b *BatchBuilder) Limits() Limits {
	return b.limits
}

// Build creates a Batch with a new id
func (b *BatchBuilder) Build(items []listing.MappedItem, failures []PreSubmissionFailure) (*Batch, error) {
	return b.BuildFor(uuid.New(), items, failures)
}

// BuildFor accumulates items in input order. A SubBatch is closed when adding
// the next item would exceed either limit. An item that exceeds the payload
// limit on its own is recorded as a pre-submission failure.
func (b *BatchBuilder) BuildFor(batchID uuid.UUID, items []listing.MappedItem, failures []PreSubmissionFailure) (*Batch, error) {
	now := b.now()
	batch := &Batch{
		ID:                    batchID,
		PreSubmissionFailures: append([]PreSubmissionFailure(nil), failures...),
		CreatedAt:             now,
	}

	envelope := envelopeSize()
	var (
		current     []listing.MappedItem
		currentSize = envelope
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		batch.SubBatches = append(batch.SubBatches, NewSubBatch(batchID, len(batch.SubBatches)+1, current, now))
		current = nil
		currentSize = envelope
	}

	for _, item := range items {
		size, err := NewFeedItem(item).EstimatedSize()
		if err != nil {
			batch.PreSubmissionFailures = append(batch.PreSubmissionFailures, PreSubmissionFailure{
				SourceItemID: item.SourceItemID,
				SKU:          item.Identity.SKU,
				Kind:         listing.KindInternal,
				Reason:       fmt.Sprintf("item cannot be serialized: %v", err),
			})
			continue
		}
		if envelope+size > b.limits.MaxPayloadBytes {
			batch.PreSubmissionFailures = append(batch.PreSubmissionFailures, PreSubmissionFailure{
				SourceItemID: item.SourceItemID,
				SKU:          item.Identity.SKU,
				Kind:         KindPayloadTooLarge,
				Reason:       fmt.Sprintf("%v: %d bytes, limit %d", ErrPayloadTooLarge, envelope+size, b.limits.MaxPayloadBytes),
			})
			continue
		}

		added := size
		if len(current) > 0 {
			added++ // separator
		}
		if len(current) >= b.limits.MaxItemsPerSubBatch || currentSize+added > b.limits.MaxPayloadBytes {
			flush()
			added = size
		}
		current = append(current, item)
		currentSize += added
	}
	flush()

	return batch, nil
}
