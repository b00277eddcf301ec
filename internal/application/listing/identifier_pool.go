package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/erp/feedsync/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IdentifierAllocator hands out marketplace product identifiers
type IdentifierAllocator interface {
	Allocate(ctx context.Context, item *listing.SourceItem) (string, error)
}

// IdentifierPool allocates identifiers from a finite pool. Allocation is
// idempotent per item and assignments are never released.
type IdentifierPool struct {
	repo    listing.IdentifierPoolRepository
	logger  *zap.Logger
	metrics *telemetry.FeedMetrics
}

var _ IdentifierAllocator = (*IdentifierPool)(nil)

// NewIdentifierPool creates a new IdentifierPool
func NewIdentifierPool(repo listing.IdentifierPoolRepository, logger *zap.Logger) *IdentifierPool {
	return &IdentifierPool{repo: repo, logger: logger}
}

// WithMetrics sets the metrics recorder
func (p *IdentifierPool) WithMetrics(m *telemetry.FeedMetrics) *IdentifierPool {
	p.metrics = m
	return p
}

// Allocate returns the item's existing identifier or claims a new one.
// An empty pool yields an ItemError wrapping ErrResourceExhausted.
func (p *IdentifierPool) Allocate(ctx context.Context, item *listing.SourceItem) (string, error) {
	existing, err := p.Lookup(ctx, item.ID)
	if err == nil {
		return existing.Identifier, nil
	}
	if !errors.Is(err, listing.ErrAssignmentNotFound) {
		return "", err
	}

	assignment, err := p.repo.ClaimNext(ctx, item.ID)
	if err != nil {
		if errors.Is(err, listing.ErrResourceExhausted) {
			p.logger.Error("identifier pool exhausted",
				zap.String("item_id", item.ID.String()),
				zap.String("sku", item.SKU),
			)
			p.metrics.RecordPoolExhausted(ctx)
			return "", listing.NewItemError(item.ID, item.SKU, listing.ErrResourceExhausted, "no unused identifier left in the pool")
		}
		return "", fmt.Errorf("claim identifier: %w", err)
	}

	p.logger.Debug("identifier assigned",
		zap.String("item_id", item.ID.String()),
		zap.String("identifier", assignment.Identifier),
	)
	return assignment.Identifier, nil
}

// Lookup returns the existing assignment for an item
func (p *IdentifierPool) Lookup(ctx context.Context, itemID uuid.UUID) (*listing.IdentifierAssignment, error) {
	return p.repo.FindAssignment(ctx, itemID)
}

// ImportResult summarises a pool import
type ImportResult struct {
	Added      int      `json:"added"`
	Duplicates int      `json:"duplicates"`
	Invalid    []string `json:"invalid,omitempty"`
}

// Import validates identifiers and adds the valid ones to the pool.
// Identifiers already present are skipped.
func (p *IdentifierPool) Import(ctx context.Context, identifiers []string) (*ImportResult, error) {
	result := &ImportResult{}
	valid := make([]string, 0, len(identifiers))
	seen := make(map[string]struct{}, len(identifiers))
	for _, raw := range identifiers {
		code := strings.TrimSpace(raw)
		if code == "" {
			continue
		}
		if err := listing.ValidateGTIN(code); err != nil {
			result.Invalid = append(result.Invalid, code)
			continue
		}
		if _, dup := seen[code]; dup {
			result.Duplicates++
			continue
		}
		seen[code] = struct{}{}
		valid = append(valid, code)
	}

	if len(valid) > 0 {
		added, err := p.repo.AddIdentifiers(ctx, valid)
		if err != nil {
			return nil, fmt.Errorf("add identifiers: %w", err)
		}
		result.Added = added
		result.Duplicates += len(valid) - added
	}

	p.logger.Info("identifier pool import",
		zap.Int("added", result.Added),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("invalid", len(result.Invalid)),
	)
	return result, nil
}

// Available returns the number of unused identifiers
func (p *IdentifierPool) Available(ctx context.Context) (int64, error) {
	return p.repo.CountAvailable(ctx)
}
