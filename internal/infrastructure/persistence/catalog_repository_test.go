package persistence

import (
	"context"
	"testing"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormCatalogRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGormCatalogRepository(setupTestDB(t))

	gallery := []listing.GalleryImage{
		{Ref: "lamps/arc-1.jpg", Position: 0},
		{Ref: "lamps/arc-2.jpg", Position: 1},
	}
	item := &listing.SourceItem{
		ID:                   uuid.New(),
		SKU:                  "LMP-1",
		Name:                 "Arc floor lamp",
		Brand:                "Lumen",
		Attributes:           map[string]any{"color": "Black", "bulb_count": float64(2)},
		GalleryImages:        gallery,
		RemoteImageURLs:      []string{"https://cdn.example.com/arc-3.jpg"},
		ExcludedImageIndices: []int{1},
		Price:                decimal.RequireFromString("129.50"),
		Quantity:             4,
		StockState:           listing.StockStateInStock,
		CategoryIDs:          []string{"cat-floor-lamps", "cat-lighting"},
	}
	require.NoError(t, repo.Upsert(ctx, item))

	t.Run("get item decodes json columns", func(t *testing.T) {
		got, err := repo.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, "LMP-1", got.SKU)
		assert.Equal(t, item.Attributes, got.Attributes)
		assert.Equal(t, item.GalleryImages, got.GalleryImages)
		assert.Equal(t, item.RemoteImageURLs, got.RemoteImageURLs)
		assert.Equal(t, []int{1}, got.ExcludedImageIndices)
		assert.True(t, item.Price.Equal(got.Price))
		assert.Equal(t, listing.StockStateInStock, got.StockState)
	})

	t.Run("categories for item", func(t *testing.T) {
		cats, err := repo.GetCategoriesForItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"cat-floor-lamps", "cat-lighting"}, cats)
	})

	t.Run("upsert overwrites by id", func(t *testing.T) {
		item.Name = "Arc floor lamp, brass"
		item.Quantity = 0
		item.StockState = listing.StockStateOutOfStock
		require.NoError(t, repo.Upsert(ctx, item))

		got, err := repo.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, "Arc floor lamp, brass", got.Name)
		assert.Equal(t, 0, got.Quantity)
		assert.Equal(t, listing.StockStateOutOfStock, got.StockState)
	})

	t.Run("unknown item", func(t *testing.T) {
		_, err := repo.GetItem(ctx, uuid.New())
		assert.ErrorIs(t, err, listing.ErrItemNotFound)
		_, err = repo.GetCategoriesForItem(ctx, uuid.New())
		assert.ErrorIs(t, err, listing.ErrItemNotFound)
	})

	t.Run("empty upsert is a no-op", func(t *testing.T) {
		assert.NoError(t, repo.Upsert(ctx))
	})
}
