package models

import (
	"encoding/json"
	"time"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CategoryProfileModel is the persistence model for listing.CategoryProfile.
// Shared profiles leave SourceCategoryID empty and list their categories in
// category_profile_sources.
type CategoryProfileModel struct {
	BaseModel
	Name               string                       `gorm:"type:varchar(200);not null"`
	TargetCategoryPath string                       `gorm:"type:varchar(500);not null"`
	SourceCategoryID   *string                      `gorm:"type:varchar(100);uniqueIndex"`
	RulesJSON          string                       `gorm:"column:rules;not null"`
	Sources            []CategoryProfileSourceModel `gorm:"foreignKey:ProfileID;constraint:OnDelete:CASCADE"`
}

func (CategoryProfileModel) TableName() string {
	return "category_profiles"
}

// CategoryProfileSourceModel links a shared profile to one source category
type CategoryProfileSourceModel struct {
	ProfileID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	SourceCategoryID string    `gorm:"type:varchar(100);primaryKey;index"`
}

func (CategoryProfileSourceModel) TableName() string {
	return "category_profile_sources"
}

// CategoryProfileModelFromDomain converts a profile to its persistence form
func CategoryProfileModelFromDomain(p *listing.CategoryProfile) (*CategoryProfileModel, error) {
	rules, err := json.Marshal(p.Rules)
	if err != nil {
		return nil, err
	}
	m := &CategoryProfileModel{
		BaseModel:          BaseModel{ID: p.ID, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt},
		Name:               p.Name,
		TargetCategoryPath: p.TargetCategoryPath,
		RulesJSON:          string(rules),
	}
	if p.SourceCategoryID != "" {
		id := p.SourceCategoryID
		m.SourceCategoryID = &id
	}
	for _, c := range p.SourceCategoryIDs {
		m.Sources = append(m.Sources, CategoryProfileSourceModel{ProfileID: p.ID, SourceCategoryID: c})
	}
	return m, nil
}

// ToDomain converts the model back into a CategoryProfile
func (m *CategoryProfileModel) ToDomain() (*listing.CategoryProfile, error) {
	p := &listing.CategoryProfile{
		ID:                 m.ID,
		Name:               m.Name,
		TargetCategoryPath: m.TargetCategoryPath,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
	if m.SourceCategoryID != nil {
		p.SourceCategoryID = *m.SourceCategoryID
	}
	for _, s := range m.Sources {
		p.SourceCategoryIDs = append(p.SourceCategoryIDs, s.SourceCategoryID)
	}
	if err := json.Unmarshal([]byte(m.RulesJSON), &p.Rules); err != nil {
		return nil, err
	}
	return p, nil
}

// CatalogItemModel is the read model of the source catalog
type CatalogItemModel struct {
	BaseModel
	SKU                string          `gorm:"type:varchar(100);not null;uniqueIndex"`
	Name               string          `gorm:"type:varchar(500);not null"`
	Description        string          `gorm:"type:text"`
	ShortDescription   string          `gorm:"type:text"`
	Brand              string          `gorm:"type:varchar(200)"`
	AttributesJSON     string          `gorm:"column:attributes;not null;default:'{}'"`
	MainImageRef       string          `gorm:"type:varchar(1000)"`
	GalleryJSON        string          `gorm:"column:gallery_images;not null;default:'[]'"`
	RemoteImagesJSON   string          `gorm:"column:remote_image_urls;not null;default:'[]'"`
	ExcludedImagesJSON string          `gorm:"column:excluded_image_indices;not null;default:'[]'"`
	Price              decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Quantity           int             `gorm:"not null;default:0"`
	StockState         string          `gorm:"type:varchar(20);not null"`
	DimensionsJSON     string          `gorm:"column:dimensions;not null;default:'{}'"`
	CategoryIDsJSON    string          `gorm:"column:category_ids;not null;default:'[]'"`
}

func (CatalogItemModel) TableName() string {
	return "catalog_items"
}

// CatalogItemModelFromDomain converts a source item into its stored form
func CatalogItemModelFromDomain(item *listing.SourceItem) (*CatalogItemModel, error) {
	m := &CatalogItemModel{
		BaseModel:        BaseModel{ID: item.ID},
		SKU:              item.SKU,
		Name:             item.Name,
		Description:      item.Description,
		ShortDescription: item.ShortDescription,
		Brand:            item.Brand,
		MainImageRef:     item.MainImageRef,
		Price:            item.Price,
		Quantity:         item.Quantity,
		StockState:       string(item.StockState),
	}
	m.Touch(time.Now().UTC())
	attrs := item.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	cols := []struct {
		dst *string
		src any
	}{
		{&m.AttributesJSON, attrs},
		{&m.GalleryJSON, nonNil(item.GalleryImages)},
		{&m.RemoteImagesJSON, nonNil(item.RemoteImageURLs)},
		{&m.ExcludedImagesJSON, nonNil(item.ExcludedImageIndices)},
		{&m.DimensionsJSON, item.Dimensions},
		{&m.CategoryIDsJSON, nonNil(item.CategoryIDs)},
	}
	for _, c := range cols {
		b, err := json.Marshal(c.src)
		if err != nil {
			return nil, err
		}
		*c.dst = string(b)
	}
	return m, nil
}

// ToDomain converts the model into a SourceItem snapshot
func (m *CatalogItemModel) ToDomain() (*listing.SourceItem, error) {
	item := &listing.SourceItem{
		ID:               m.ID,
		SKU:              m.SKU,
		Name:             m.Name,
		Description:      m.Description,
		ShortDescription: m.ShortDescription,
		Brand:            m.Brand,
		MainImageRef:     m.MainImageRef,
		Price:            m.Price,
		Quantity:         m.Quantity,
		StockState:       listing.StockState(m.StockState),
	}
	cols := []struct {
		src string
		dst any
	}{
		{m.AttributesJSON, &item.Attributes},
		{m.GalleryJSON, &item.GalleryImages},
		{m.RemoteImagesJSON, &item.RemoteImageURLs},
		{m.ExcludedImagesJSON, &item.ExcludedImageIndices},
		{m.DimensionsJSON, &item.Dimensions},
		{m.CategoryIDsJSON, &item.CategoryIDs},
	}
	for _, c := range cols {
		if c.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c.src), c.dst); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// IdentifierPoolEntryModel is one pooled identifier. UsedBy stays nil until claimed.
type IdentifierPoolEntryModel struct {
	Identifier string     `gorm:"type:varchar(14);primaryKey"`
	UsedBy     *uuid.UUID `gorm:"type:uuid;index"`
	UsedAt     *time.Time
	CreatedAt  time.Time  `gorm:"not null"`
}

func (IdentifierPoolEntryModel) TableName() string {
	return "identifier_pool_entries"
}

// IdentifierAssignmentModel binds one identifier to one source item for good
type IdentifierAssignmentModel struct {
	SourceItemID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Identifier   string    `gorm:"type:varchar(14);not null;uniqueIndex"`
	AssignedAt   time.Time `gorm:"not null"`
}

func (IdentifierAssignmentModel) TableName() string {
	return "identifier_assignments"
}

func (m *IdentifierAssignmentModel) ToDomain() *listing.IdentifierAssignment {
	return &listing.IdentifierAssignment{
		SourceItemID: m.SourceItemID,
		Identifier:   m.Identifier,
		AssignedAt:   m.AssignedAt,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
