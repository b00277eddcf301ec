package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/google/uuid"
)

func createTestMappedItems(n int) []listing.MappedItem {
	items := make([]listing.MappedItem, n)
	for i := range items {
		items[i] = listing.MappedItem{
			SourceItemID:   uuid.New(),
			ProfileID:      uuid.New(),
			TargetCategory: "Home > Furniture > Tables",
			Identity: listing.Identity{
				SKU:         fmt.Sprintf("SKU-%04d", i),
				AllocatedID: fmt.Sprintf("0000000%06d", i),
			},
			VisibleAttributes:   map[string]any{"title": fmt.Sprintf("Table %d", i)},
			OrderableAttributes: map[string]any{"price": "99.00"},
			Images: listing.ImageSet{
				Main:      "https://cdn.example.com/main.jpg",
				Secondary: []string{"https://cdn.example.com/a.jpg"},
			},
		}
	}
	return items
}

func createTestSubBatch(state SubBatchState, items int) *SubBatch {
	sb := NewSubBatch(uuid.New(), 1, createTestMappedItems(items), time.Now())
	sb.State = state
	return sb
}

func jsonSize(v any) (int, error) {
	data, err := json.Marshal(v)
	return len(data), err
}
