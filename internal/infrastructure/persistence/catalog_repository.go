package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/erp/feedsync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCatalogRepository reads source items from the catalog_items table
type GormCatalogRepository struct {
	db *gorm.DB
}

func NewGormCatalogRepository(db *gorm.DB) *GormCatalogRepository {
	return &GormCatalogRepository{db: db}
}

// GetItem loads one source item snapshot
func (r *GormCatalogRepository) GetItem(ctx context.Context, id uuid.UUID) (*listing.SourceItem, error) {
	var m models.CatalogItemModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", listing.ErrItemNotFound, id)
		}
		return nil, err
	}
	item, err := m.ToDomain()
	if err != nil {
		return nil, fmt.Errorf("decode catalog item %s: %w", id, err)
	}
	return item, nil
}

// GetCategoriesForItem returns the category ids the item is filed under
func (r *GormCatalogRepository) GetCategoriesForItem(ctx context.Context, id uuid.UUID) ([]string, error) {
	item, err := r.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return item.CategoryIDs, nil
}

// Upsert writes catalog items keyed by id. It exists for imports and tests;
// the mapping engine only reads.
func (r *GormCatalogRepository) Upsert(ctx context.Context, items ...*listing.SourceItem) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]*models.CatalogItemModel, 0, len(items))
	for _, item := range items {
		m, err := models.CatalogItemModelFromDomain(item)
		if err != nil {
			return fmt.Errorf("encode catalog item %s: %w", item.SKU, err)
		}
		rows = append(rows, m)
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&rows).Error
}
