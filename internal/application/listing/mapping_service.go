package listing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/erp/feedsync/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MappingOutcome holds the results of one mapping pass in input order
type MappingOutcome struct {
	Items    []listing.MappedItem
	Failures []*listing.ItemError
}

// MappingService maps many items concurrently
type MappingService struct {
	catalog listing.CatalogRepository
	mapper  *ItemMapper
	pool    *IdentifierPool
	workers int
	logger  *zap.Logger
}

// NewMappingService creates a new MappingService
func NewMappingService(catalog listing.CatalogRepository, mapper *ItemMapper, pool *IdentifierPool, workers int, logger *zap.Logger) *MappingService {
	if workers <= 0 {
		workers = 1
	}
	return &MappingService{
		catalog: catalog,
		mapper:  mapper,
		pool:    pool,
		workers: workers,
		logger:  logger,
	}
}

type mappingResult struct {
	item *listing.MappedItem
	err  *listing.ItemError
}

// MapItems loads and maps the given items. Per-item failures never abort the
// pass. Once the identifier pool runs dry, items without an existing
// assignment fail with ErrResourceExhausted while already-assigned items proceed.
func (s *MappingService) MapItems(ctx context.Context, itemIDs []uuid.UUID) (*MappingOutcome, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "mapping", "map_items")
	defer span.End()
	telemetry.SetAttributes(span, "items_count", len(itemIDs))

	results := make([]mappingResult, len(itemIDs))
	alloc := &haltingAllocator{pool: s.pool}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(s.workers, len(itemIDs)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = s.mapOne(ctx, itemIDs[i], alloc)
			}
		}()
	}

dispatch:
	for i := range itemIDs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	outcome := &MappingOutcome{}
	for _, r := range results {
		if r.err != nil {
			outcome.Failures = append(outcome.Failures, r.err)
			continue
		}
		outcome.Items = append(outcome.Items, *r.item)
	}

	s.logger.Info("mapping pass finished",
		zap.Int("requested", len(itemIDs)),
		zap.Int("mapped", len(outcome.Items)),
		zap.Int("failed", len(outcome.Failures)),
		zap.Bool("pool_exhausted", alloc.exhausted.Load()),
	)
	telemetry.SetOK(span)
	return outcome, nil
}

func (s *MappingService) mapOne(ctx context.Context, id uuid.UUID, alloc IdentifierAllocator) mappingResult {
	item, err := s.catalog.GetItem(ctx, id)
	if err != nil {
		kind := err
		if errors.Is(err, listing.ErrItemNotFound) {
			kind = listing.ErrConfiguration
		}
		return mappingResult{err: listing.NewItemError(id, "", kind, fmt.Sprintf("load item: %v", err))}
	}

	mapped, err := s.mapper.Map(ctx, item, alloc)
	if err != nil {
		var itemErr *listing.ItemError
		if !errors.As(err, &itemErr) {
			itemErr = listing.NewItemError(item.ID, item.SKU, err, err.Error())
		}
		s.logger.Warn("item excluded",
			zap.String("item_id", item.ID.String()),
			zap.String("sku", item.SKU),
			zap.String("kind", itemErr.Code()),
			zap.String("attribute", itemErr.Attribute),
			zap.String("reason", itemErr.Reason),
		)
		s.mapper.metrics.RecordItemExcluded(ctx, itemErr.Code())
		return mappingResult{err: itemErr}
	}
	return mappingResult{item: mapped}
}

// haltingAllocator stops claiming new identifiers after the first exhaustion.
// Items that already hold an assignment still receive it.
type haltingAllocator struct {
	pool      *IdentifierPool
	exhausted atomic.Bool
}

func (a *haltingAllocator) Allocate(ctx context.Context, item *listing.SourceItem) (string, error) {
	if a.exhausted.Load() {
		existing, err := a.pool.Lookup(ctx, item.ID)
		if err == nil {
			return existing.Identifier, nil
		}
		if !errors.Is(err, listing.ErrAssignmentNotFound) {
			return "", err
		}
		return "", listing.NewItemError(item.ID, item.SKU, listing.ErrResourceExhausted, "identifier pool exhausted earlier in this pass")
	}

	id, err := a.pool.Allocate(ctx, item)
	if errors.Is(err, listing.ErrResourceExhausted) {
		a.exhausted.Store(true)
	}
	return id, err
}
