package feed

import (
	"encoding/json"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/google/uuid"
)

// FeedPayload is the document submitted for one SubBatch
type FeedPayload struct {
	BatchID    uuid.UUID  `json:"batch_id"`
	SubBatchID uuid.UUID  `json:"sub_batch_id"`
	Items      []FeedItem `json:"items"`
}

// FeedItem is the wire representation of a mapped item
type FeedItem struct {
	SKU         string         `json:"sku"`
	ProductID   string         `json:"product_id"`
	Category    string         `json:"category"`
	Attributes  map[string]any `json:"attributes"`
	Fulfillment map[string]any `json:"fulfillment,omitempty"`
	MainImage   string         `json:"main_image"`
	Images      []string       `json:"images,omitempty"`
}

// NewFeedItem converts a mapped item to its wire form
func NewFeedItem(m listing.MappedItem) FeedItem {
	return FeedItem{
		SKU:         m.Identity.SKU,
		ProductID:   m.Identity.AllocatedID,
		Category:    m.TargetCategory,
		Attributes:  m.VisibleAttributes,
		Fulfillment: m.OrderableAttributes,
		MainImage:   m.Images.Main,
		Images:      m.Images.Secondary,
	}
}

// EstimatedSize returns the serialized size of the item in bytes
func (f FeedItem) EstimatedSize() (int, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// envelopeSize is the serialized size of a payload with no items.
func envelopeSize() int {
	data, _ := json.Marshal(FeedPayload{Items: []FeedItem{}})
	return len(data)
}
