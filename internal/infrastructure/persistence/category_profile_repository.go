package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/erp/feedsync/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCategoryProfileRepository implements listing.CategoryProfileRepository using GORM
type GormCategoryProfileRepository struct {
	db *gorm.DB
}

// NewGormCategoryProfileRepository creates a new GormCategoryProfileRepository
func NewGormCategoryProfileRepository(db *gorm.DB) *GormCategoryProfileRepository {
	return &GormCategoryProfileRepository{db: db}
}

// FindByCategoryID returns the direct profile keyed by categoryID
func (r *GormCategoryProfileRepository) FindByCategoryID(ctx context.Context, categoryID string) (*listing.CategoryProfile, error) {
	var m models.CategoryProfileModel
	err := r.db.WithContext(ctx).
		Where("source_category_id = ?", categoryID).
		First(&m).Error
	return r.toDomain(&m, err)
}

// FindSharedByCategoryID returns the oldest shared profile listing categoryID
func (r *GormCategoryProfileRepository) FindSharedByCategoryID(ctx context.Context, categoryID string) (*listing.CategoryProfile, error) {
	var m models.CategoryProfileModel
	err := r.db.WithContext(ctx).
		Preload("Sources").
		Joins("JOIN category_profile_sources s ON s.profile_id = category_profiles.id").
		Where("s.source_category_id = ? AND category_profiles.source_category_id IS NULL", categoryID).
		Order("category_profiles.created_at, category_profiles.id").
		First(&m).Error
	return r.toDomain(&m, err)
}

func (r *GormCategoryProfileRepository) toDomain(m *models.CategoryProfileModel, err error) (*listing.CategoryProfile, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, listing.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	p, err := m.ToDomain()
	if err != nil {
		return nil, fmt.Errorf("%w: profile %s: %v", listing.ErrProfileInvalid, m.ID, err)
	}
	return p, nil
}

// Save inserts or replaces a profile together with its shared category list
func (r *GormCategoryProfileRepository) Save(ctx context.Context, profile *listing.CategoryProfile) error {
	if err := profile.CheckRuleNames(); err != nil {
		return err
	}
	m, err := models.CategoryProfileModelFromDomain(profile)
	if err != nil {
		return err
	}
	m.UpdatedAt = time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = m.UpdatedAt
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Sources").
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "target_category_path", "source_category_id", "rules", "updated_at"}),
			}).
			Create(m).Error; err != nil {
			return err
		}
		if err := tx.Where("profile_id = ?", m.ID).Delete(&models.CategoryProfileSourceModel{}).Error; err != nil {
			return err
		}
		if len(m.Sources) == 0 {
			return nil
		}
		return tx.Create(&m.Sources).Error
	})
}
