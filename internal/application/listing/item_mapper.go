package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/erp/feedsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ItemMapper turns one SourceItem into a MappedItem
type ItemMapper struct {
	categories *CategoryResolver
	values     *AttributeValueResolver
	images     *ImageSetBuilder
	catalog    listing.CatalogRepository
	logger     *zap.Logger
	metrics    *telemetry.FeedMetrics
}

// NewItemMapper creates a new ItemMapper. The catalog repository is used to
// look up categories for items that carry none.
func NewItemMapper(
	categories *CategoryResolver,
	values *AttributeValueResolver,
	images *ImageSetBuilder,
	catalog listing.CatalogRepository,
	logger *zap.Logger,
) *ItemMapper {
	return &ItemMapper{
		categories: categories,
		values:     values,
		images:     images,
		catalog:    catalog,
		logger:     logger,
	}
}

// WithMetrics sets the metrics recorder
func (m *ItemMapper) WithMetrics(metrics *telemetry.FeedMetrics) *ItemMapper {
	m.metrics = metrics
	return m
}

// Map resolves the profile, attributes and images of an item and allocates its
// identifier last, so that excluded items never consume one. Failures are
// returned as *listing.ItemError.
func (m *ItemMapper) Map(ctx context.Context, item *listing.SourceItem, ids IdentifierAllocator) (*listing.MappedItem, error) {
	categoryIDs := item.CategoryIDs
	if len(categoryIDs) == 0 && m.catalog != nil {
		found, err := m.catalog.GetCategoriesForItem(ctx, item.ID)
		if err != nil {
			return nil, m.wrap(item, listing.ErrConfiguration, fmt.Sprintf("categories unavailable: %v", err))
		}
		categoryIDs = found
	}

	profile, err := m.categories.Resolve(ctx, categoryIDs)
	if err != nil {
		kind := error(listing.ErrConfiguration)
		if !errors.Is(err, listing.ErrConfiguration) {
			kind = err
		}
		return nil, m.wrap(item, kind, err.Error())
	}

	mapped := &listing.MappedItem{
		SourceItemID:        item.ID,
		ProfileID:           profile.ID,
		TargetCategory:      profile.TargetCategoryPath,
		Identity:            listing.Identity{SKU: item.SKU},
		VisibleAttributes:   make(map[string]any),
		OrderableAttributes: make(map[string]any),
	}

	for _, rule := range profile.Rules {
		res, err := m.values.Resolve(ctx, rule, item)
		if err != nil {
			return nil, err
		}
		if !res.Present {
			continue
		}
		if rule.EffectiveScope() == listing.ScopeOrderable {
			mapped.OrderableAttributes[rule.Name] = res.Value
		} else {
			mapped.VisibleAttributes[rule.Name] = res.Value
		}
		if res.Substitution != nil {
			mapped.Substitutions = append(mapped.Substitutions, *res.Substitution)
		}
	}

	images := m.images.Build(ctx, item, m.images.Settings().MinCount)
	mapped.Images = images.Set
	if images.Insufficient {
		mapped.Flags = append(mapped.Flags, listing.FlagInsufficientImages)
	}
	if mapped.Images.Main == "" {
		return nil, listing.NewItemError(item.ID, item.SKU, listing.ErrValidation, "no usable main image")
	}

	identifier, err := ids.Allocate(ctx, item)
	if err != nil {
		return nil, err
	}
	mapped.Identity.AllocatedID = identifier

	m.metrics.RecordItemMapped(ctx, mapped.TargetCategory)
	return mapped, nil
}

func (m *ItemMapper) wrap(item *listing.SourceItem, kind error, reason string) error {
	return listing.NewItemError(item.ID, item.SKU, kind, reason)
}
