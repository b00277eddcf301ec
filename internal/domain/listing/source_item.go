package listing

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockState represents the availability of a catalog item
type StockState string

const (
	StockStateInStock    StockState = "in_stock"
	StockStateOutOfStock StockState = "out_of_stock"
	StockStateBackorder  StockState = "backorder"
)

// Dimensions holds the structured physical dimensions of an item
type Dimensions struct {
	Length *Measurement `json:"length,omitempty"`
	Width  *Measurement `json:"width,omitempty"`
	Height *Measurement `json:"height,omitempty"`
	Depth  *Measurement `json:"depth,omitempty"`
	Weight *Measurement `json:"weight,omitempty"`
}

// Get returns the named dimension
func (d Dimensions) Get(name string) *Measurement {
	switch name {
	case "length":
		return d.Length
	case "width":
		return d.Width
	case "height":
		return d.Height
	case "depth":
		return d.Depth
	case "weight":
		return d.Weight
	}
	return nil
}

// GalleryImage is a structured image reference stored with the catalog item
type GalleryImage struct {
	Ref      string `json:"ref"`
	Label    string `json:"label,omitempty"`
	Position int    `json:"position"`
}

// SourceItem is an immutable catalog snapshot used for one mapping pass
type SourceItem struct {
	ID               uuid.UUID
	SKU              string
	Name             string
	Description      string
	ShortDescription string
	Brand            string
	// Attributes holds the structured attribute map as decoded from the catalog.
	// Values are string, float64, bool or []any.
	Attributes      map[string]any
	MainImageRef    string
	GalleryImages   []GalleryImage
	RemoteImageURLs []string
	// ExcludedImageIndices are positions in the combined gallery+remote candidate list.
	ExcludedImageIndices []int
	Price                decimal.Decimal
	Quantity             int
	StockState           StockState
	Dimensions           Dimensions
	CategoryIDs          []string
}

// FreeText returns the free-text fields mined by heuristics and the unit normalizer
func (s *SourceItem) FreeText() []string {
	texts := make([]string, 0, 3)
	for _, t := range []string{s.Name, s.ShortDescription, s.Description} {
		if strings.TrimSpace(t) != "" {
			texts = append(texts, t)
		}
	}
	return texts
}

// Field reads a named field. The boolean is false when the field is absent or empty.
func (s *SourceItem) Field(name string) (FieldValue, bool) {
	var v FieldValue
	switch name {
	case "id":
		v = TextValue(s.ID.String())
	case "sku":
		v = TextValue(s.SKU)
	case "name", "title":
		v = TextValue(s.Name)
	case "description":
		v = TextValue(s.Description)
	case "short_description":
		v = TextValue(s.ShortDescription)
	case "brand":
		v = TextValue(s.Brand)
	case "price":
		v = NumberValue(s.Price)
	case "quantity":
		v = NumberValue(decimal.NewFromInt(int64(s.Quantity)))
	case "stock_state":
		v = TextValue(string(s.StockState))
	case "in_stock":
		v = BoolValue(s.StockState == StockStateInStock && s.Quantity > 0)
	case "category_ids":
		v = ListValue(s.CategoryIDs)
	case "length", "width", "height", "depth", "weight":
		if m := s.Dimensions.Get(name); m != nil {
			v = MeasurementValue(*m)
		}
	default:
		raw, ok := s.Attributes[name]
		if !ok {
			return FieldValue{}, false
		}
		v = FieldValueOf(raw)
	}
	if v.IsEmpty() {
		return FieldValue{}, false
	}
	return v, true
}

// CatalogRepository is the read-only port onto the source product repository
type CatalogRepository interface {
	GetItem(ctx context.Context, id uuid.UUID) (*SourceItem, error)
	GetCategoriesForItem(ctx context.Context, id uuid.UUID) ([]string, error)
}

// ---------------------------------------------------------------------------
// FieldValue
// ---------------------------------------------------------------------------

// FieldValue is a typed value read off a SourceItem
type FieldValue struct {
	Kind    FieldKind
	Text    string
	Number  decimal.Decimal
	Bool    bool
	List    []string
	Measure *Measurement
}

// TextValue creates a string field value
func TextValue(s string) FieldValue {
	return FieldValue{Kind: FieldKindString, Text: s}
}

// NumberValue creates a number field value
func NumberValue(d decimal.Decimal) FieldValue {
	return FieldValue{Kind: FieldKindNumber, Number: d}
}

// BoolValue creates a boolean field value
func BoolValue(b bool) FieldValue {
	return FieldValue{Kind: FieldKindBoolean, Bool: b}
}

// ListValue creates an array field value
func ListValue(items []string) FieldValue {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if t := strings.TrimSpace(it); t != "" {
			out = append(out, t)
		}
	}
	return FieldValue{Kind: FieldKindArray, List: out}
}

// MeasurementValue creates a measurement field value
func MeasurementValue(m Measurement) FieldValue {
	return FieldValue{Kind: FieldKindMeasurement, Measure: &m}
}

// FieldValueOf converts a decoded attribute value into a FieldValue
func FieldValueOf(raw any) FieldValue {
	switch t := raw.(type) {
	case nil:
		return FieldValue{}
	case string:
		return TextValue(t)
	case bool:
		return BoolValue(t)
	case float64:
		return NumberValue(decimal.NewFromFloat(t))
	case int:
		return NumberValue(decimal.NewFromInt(int64(t)))
	case int64:
		return NumberValue(decimal.NewFromInt(t))
	case decimal.Decimal:
		return NumberValue(t)
	case []string:
		return ListValue(t)
	case []any:
		items := make([]string, 0, len(t))
		for _, it := range t {
			if it != nil {
				items = append(items, fmt.Sprint(it))
			}
		}
		return ListValue(items)
	case map[string]any:
		if m, ok := measurementFromMap(t); ok {
			return MeasurementValue(m)
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return ListValue(keys)
	default:
		return TextValue(fmt.Sprint(t))
	}
}

func measurementFromMap(m map[string]any) (Measurement, bool) {
	unit, _ := m["unit"].(string)
	if unit == "" {
		return Measurement{}, false
	}
	var measure decimal.Decimal
	switch v := m["measure"].(type) {
	case float64:
		measure = decimal.NewFromFloat(v)
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return Measurement{}, false
		}
		measure = d
	default:
		return Measurement{}, false
	}
	return NewMeasurement(measure, unit)
}

// IsEmpty reports whether the value carries no data
func (v FieldValue) IsEmpty() bool {
	switch v.Kind {
	case FieldKindString:
		return strings.TrimSpace(v.Text) == ""
	case FieldKindArray:
		return len(v.List) == 0
	case FieldKindMeasurement:
		return v.Measure == nil
	case FieldKindNumber, FieldKindBoolean:
		return false
	}
	return true
}

// String renders the value as text
func (v FieldValue) String() string {
	switch v.Kind {
	case FieldKindString:
		return v.Text
	case FieldKindNumber:
		return v.Number.String()
	case FieldKindBoolean:
		return strconv.FormatBool(v.Bool)
	case FieldKindArray:
		return strings.Join(v.List, ", ")
	case FieldKindMeasurement:
		if v.Measure != nil {
			return v.Measure.String()
		}
	}
	return ""
}
