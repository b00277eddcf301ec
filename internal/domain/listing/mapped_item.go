package listing

import (
	"slices"

	"github.com/google/uuid"
)

// Flags attached to mapped items
const (
	// FlagInsufficientImages marks items whose image set stayed below the minimum after padding
	FlagInsufficientImages = "insufficient_images"
)

// Identity carries the marketplace identity of a mapped item
type Identity struct {
	SKU         string `json:"sku"`
	AllocatedID string `json:"allocated_id"`
}

// ImageSet holds the resolved main and secondary image URLs
type ImageSet struct {
	Main      string   `json:"main"`
	Secondary []string `json:"secondary"`
}

// Substitution records a default value used in place of unproducible data
type Substitution struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
	Reason    string `json:"reason"`
}

// MappedItem is the marketplace representation of one source item.
// It is created once per mapping pass and never mutated afterwards.
type MappedItem struct {
	SourceItemID        uuid.UUID      `json:"source_item_id"`
	ProfileID           uuid.UUID      `json:"profile_id"`
	TargetCategory      string         `json:"target_category"`
	Identity            Identity       `json:"identity"`
	VisibleAttributes   map[string]any `json:"visible_attributes"`
	OrderableAttributes map[string]any `json:"orderable_attributes"`
	Images              ImageSet       `json:"images"`
	Flags               []string       `json:"flags,omitempty"`
	Substitutions       []Substitution `json:"substitutions,omitempty"`
}

// HasFlag reports whether the item carries the flag
func (m *MappedItem) HasFlag(flag string) bool {
	return slices.Contains(m.Flags, flag)
}
