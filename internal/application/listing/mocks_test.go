package listing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// Mock implementations

type mockProfileRepository struct {
	mock.Mock
}

func (m *mockProfileRepository) FindByCategoryID(ctx context.Context, categoryID string) (*listing.CategoryProfile, error) {
	args := m.Called(ctx, categoryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*listing.CategoryProfile), args.Error(1)
}

func (m *mockProfileRepository) FindSharedByCategoryID(ctx context.Context, categoryID string) (*listing.CategoryProfile, error) {
	args := m.Called(ctx, categoryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*listing.CategoryProfile), args.Error(1)
}

func (m *mockProfileRepository) Save(ctx context.Context, profile *listing.CategoryProfile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

type mockCatalogRepository struct {
	mock.Mock
}

func (m *mockCatalogRepository) GetItem(ctx context.Context, id uuid.UUID) (*listing.SourceItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*listing.SourceItem), args.Error(1)
}

func (m *mockCatalogRepository) GetCategoriesForItem(ctx context.Context, id uuid.UUID) ([]string, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// memoryIdentifierRepository is an in-memory pool with a single lock around claims
type memoryIdentifierRepository struct {
	mu          sync.Mutex
	free        []string
	assignments map[uuid.UUID]*listing.IdentifierAssignment
	claims      int
}

func newMemoryIdentifierRepository(codes ...string) *memoryIdentifierRepository {
	return &memoryIdentifierRepository{
		free:        append([]string(nil), codes...),
		assignments: make(map[uuid.UUID]*listing.IdentifierAssignment),
	}
}

func (r *memoryIdentifierRepository) FindAssignment(ctx context.Context, id uuid.UUID) (*listing.IdentifierAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.assignments[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, listing.ErrAssignmentNotFound
}

func (r *memoryIdentifierRepository) ClaimNext(ctx context.Context, id uuid.UUID) (*listing.IdentifierAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.assignments[id]; ok {
		cp := *a
		return &cp, nil
	}
	if len(r.free) == 0 {
		return nil, listing.ErrResourceExhausted
	}
	r.claims++
	a := &listing.IdentifierAssignment{SourceItemID: id, Identifier: r.free[0], AssignedAt: time.Now()}
	r.free = r.free[1:]
	r.assignments[id] = a
	cp := *a
	return &cp, nil
}

func (r *memoryIdentifierRepository) AddIdentifiers(ctx context.Context, codes []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing := make(map[string]struct{})
	for _, c := range r.free {
		existing[c] = struct{}{}
	}
	for _, a := range r.assignments {
		existing[a.Identifier] = struct{}{}
	}
	added := 0
	for _, c := range codes {
		if _, ok := existing[c]; ok {
			continue
		}
		existing[c] = struct{}{}
		r.free = append(r.free, c)
		added++
	}
	return added, nil
}

func (r *memoryIdentifierRepository) CountAvailable(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.free)), nil
}

// stubGallery resolves "gallery:<name>" references to a CDN URL
type stubGallery struct {
	missing map[string]bool
}

func (g *stubGallery) ResolveURL(ctx context.Context, ref string) (string, error) {
	if g.missing[ref] {
		return "", listing.ErrImageUnresolvable
	}
	return "https://cdn.example.com/" + ref + ".jpg", nil
}

type stubProber struct {
	sizes map[string]int64
	calls map[string]int
	mu    sync.Mutex
}

func (p *stubProber) ContentLength(ctx context.Context, u string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = make(map[string]int)
	}
	p.calls[u]++
	if size, ok := p.sizes[u]; ok {
		return size, nil
	}
	return 1024, nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func remoteURLs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://img.example.com/remote-%d.jpg", i)
	}
	return out
}

// validGTINs returns n EAN-13 codes with correct check digits
func validGTINs(n int) []string {
	out := make([]string, n)
	for i := range out {
		body := fmt.Sprintf("400638133%03d", i)
		sum := 0
		for j, c := range body {
			d := int(c - '0')
			if j%2 == 1 {
				d *= 3
			}
			sum += d
		}
		out[i] = fmt.Sprintf("%s%d", body, (10-sum%10)%10)
	}
	return out
}

func createTestItem() *listing.SourceItem {
	height := listing.Measurement{Measure: decimal.NewFromInt(30), Unit: "in"}
	return &listing.SourceItem{
		ID:               uuid.New(),
		SKU:              "LMP-100",
		Name:             "Walnut Table Lamp",
		ShortDescription: "Mid-century walnut lamp with linen shade",
		Description:      "A retro table lamp in walnut and brass. Height 30 in, shade width 16 in.",
		Brand:            "Lumen & Co",
		Attributes: map[string]any{
			"wattage":  float64(60),
			"dimmable": "yes",
			"bulbs":    []any{"E26", "LED"},
			"color":    "walnut brown",
		},
		MainImageRef:    "gallery:main",
		GalleryImages:   []listing.GalleryImage{{Ref: "gallery:side", Position: 1}},
		RemoteImageURLs: remoteURLs(4),
		Price:           decimal.RequireFromString("129.99"),
		Quantity:        12,
		StockState:      listing.StockStateInStock,
		Dimensions:      listing.Dimensions{Height: &height},
		CategoryIDs:     []string{"table-lamps", "lighting"},
	}
}

func createTestProfile(rules ...listing.AttributeRule) *listing.CategoryProfile {
	if len(rules) == 0 {
		rules = []listing.AttributeRule{
			{Name: "title", SourceKind: listing.SourceKindFieldRead, SourceExpression: "name", Required: true},
			{Name: "brand", SourceKind: listing.SourceKindFieldRead, SourceExpression: "brand", Required: true},
			{Name: "style", SourceKind: listing.SourceKindDerived, SourceExpression: "style", Required: true},
			{Name: "material", SourceKind: listing.SourceKindDerived, SourceExpression: "material"},
			{Name: "height", SourceKind: listing.SourceKindFieldRead, SourceExpression: "height", FieldKind: listing.FieldKindMeasurement, AllowedUnits: []string{"cm"}},
			{Name: "price", SourceKind: listing.SourceKindFieldRead, SourceExpression: "price", FieldKind: listing.FieldKindNumber, Scope: listing.ScopeOrderable, Required: true},
			{Name: "in_stock", SourceKind: listing.SourceKindFieldRead, SourceExpression: "in_stock", FieldKind: listing.FieldKindBoolean, Scope: listing.ScopeOrderable},
		}
	}
	return &listing.CategoryProfile{
		ID:                 uuid.New(),
		Name:               "Table Lamps",
		TargetCategoryPath: "Home > Lighting > Table Lamps",
		SourceCategoryID:   "table-lamps",
		Rules:              rules,
	}
}
