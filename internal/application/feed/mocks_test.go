package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	listingapp "github.com/erp/feedsync/internal/application/listing"
	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

// Mock implementations

type mockMarketplaceClient struct {
	mock.Mock
}

func (m *mockMarketplaceClient) SubmitFeed(ctx context.Context, payload feed.FeedPayload) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

func (m *mockMarketplaceClient) GetFeedStatus(ctx context.Context, feedID string) (*feed.FeedStatusResponse, error) {
	args := m.Called(ctx, feedID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*feed.FeedStatusResponse), args.Error(1)
}

// memoryBatchRepository keeps batches in memory and records every saved state
type memoryBatchRepository struct {
	mu         sync.Mutex
	batches    map[uuid.UUID]*feed.Batch
	subBatches map[uuid.UUID]*feed.SubBatch
	saved      map[uuid.UUID][]feed.SubBatchState
	saveErr    error
}

func newMemoryBatchRepository() *memoryBatchRepository {
	return &memoryBatchRepository{
		batches:    make(map[uuid.UUID]*feed.Batch),
		subBatches: make(map[uuid.UUID]*feed.SubBatch),
		saved:      make(map[uuid.UUID][]feed.SubBatchState),
	}
}

func (r *memoryBatchRepository) SaveBatch(_ context.Context, batch *feed.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.batches[batch.ID] = &feed.Batch{
		ID:                    batch.ID,
		PreSubmissionFailures: batch.PreSubmissionFailures,
		CreatedAt:             batch.CreatedAt,
	}
	for _, sb := range batch.SubBatches {
		r.subBatches[sb.ID] = sb
	}
	return nil
}

func (r *memoryBatchRepository) SaveSubBatch(_ context.Context, sb *feed.SubBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.subBatches[sb.ID] = sb
	r.saved[sb.ID] = append(r.saved[sb.ID], sb.State)
	return nil
}

func (r *memoryBatchRepository) FindByID(_ context.Context, id uuid.UUID) (*feed.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, feed.ErrBatchNotFound
	}
	out := *b
	out.SubBatches = nil
	for _, sb := range r.subBatches {
		if sb.BatchID == id {
			out.SubBatches = append(out.SubBatches, sb)
		}
	}
	out.SortSubBatches()
	return &out, nil
}

func (r *memoryBatchRepository) FindSubBatch(_ context.Context, id uuid.UUID) (*feed.SubBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sb, ok := r.subBatches[id]
	if !ok {
		return nil, feed.ErrSubBatchNotFound
	}
	return sb, nil
}

func (r *memoryBatchRepository) FindSubBatchesByState(_ context.Context, states ...feed.SubBatchState) ([]*feed.SubBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*feed.SubBatch
	for _, sb := range r.subBatches {
		for _, s := range states {
			if sb.State == s {
				out = append(out, sb)
				break
			}
		}
	}
	return out, nil
}

func (r *memoryBatchRepository) savedStates(id uuid.UUID) []feed.SubBatchState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]feed.SubBatchState(nil), r.saved[id]...)
}

type memorySnapshotRepository struct {
	mu        sync.Mutex
	snapshots map[uuid.UUID][]*feed.BatchReport
}

func newMemorySnapshotRepository() *memorySnapshotRepository {
	return &memorySnapshotRepository{snapshots: make(map[uuid.UUID][]*feed.BatchReport)}
}

func (r *memorySnapshotRepository) SaveSnapshot(_ context.Context, report *feed.BatchReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[report.BatchID] = append(r.snapshots[report.BatchID], report)
	return nil
}

func (r *memorySnapshotRepository) FindLatest(_ context.Context, batchID uuid.UUID) (*feed.BatchReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.snapshots[batchID]
	if len(list) == 0 {
		return nil, feed.ErrReportNotFound
	}
	return list[len(list)-1], nil
}

type memoryInFlight struct {
	mu   sync.Mutex
	held map[uuid.UUID]uuid.UUID
	err  error
}

func newMemoryInFlight() *memoryInFlight {
	return &memoryInFlight{held: make(map[uuid.UUID]uuid.UUID)}
}

func (r *memoryInFlight) Acquire(_ context.Context, itemID, batchID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.held[itemID]; ok {
		return false, nil
	}
	r.held[itemID] = batchID
	return true, nil
}

func (r *memoryInFlight) Release(_ context.Context, itemIDs ...uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range itemIDs {
		delete(r.held, id)
	}
	return nil
}

func (r *memoryInFlight) holder(itemID uuid.UUID) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.held[itemID]
	return b, ok
}

type recordingDispatcher struct {
	mu         sync.Mutex
	dispatched []*feed.SubBatch
	err        error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, sb *feed.SubBatch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.dispatched = append(d.dispatched, sb)
	return nil
}

// fakeClock advances only when the code under test sleeps
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

// Fixtures

func createTestMappedItems(n int) []listing.MappedItem {
	items := make([]listing.MappedItem, n)
	for i := range items {
		items[i] = listing.MappedItem{
			SourceItemID:        uuid.New(),
			ProfileID:           uuid.New(),
			TargetCategory:      "Home > Lighting > Table Lamps",
			Identity:            listing.Identity{SKU: fmt.Sprintf("LMP-%03d", i), AllocatedID: fmt.Sprintf("4006381%06d", i)},
			VisibleAttributes:   map[string]any{"title": fmt.Sprintf("Lamp %d", i)},
			OrderableAttributes: map[string]any{},
			Images:              listing.ImageSet{Main: "https://cdn.example.com/main.jpg"},
		}
	}
	return items
}

// createTestBatch stores a batch with one BUILT sub-batch per size
func createTestBatch(repo *memoryBatchRepository, sizes ...int) *feed.Batch {
	batch := &feed.Batch{ID: uuid.New(), CreatedAt: time.Now()}
	for i, n := range sizes {
		batch.SubBatches = append(batch.SubBatches, feed.NewSubBatch(batch.ID, i+1, createTestMappedItems(n), time.Now()))
	}
	_ = repo.SaveBatch(context.Background(), batch)
	return batch
}

func doneResponse(feedID string, items []listing.MappedItem, failed int) *feed.FeedStatusResponse {
	resp := &feed.FeedStatusResponse{
		FeedID:  feedID,
		Status:  feed.ProcessingStatusDone,
		Summary: &feed.FeedSummary{MessagesProcessed: len(items), MessagesAccepted: len(items) - failed, MessagesInvalid: failed},
	}
	for i, it := range items {
		status := feed.ItemResultAccepted
		if i < failed {
			status = feed.ItemResultError
		}
		resp.Results = append(resp.Results, feed.FeedItemResult{SKU: it.Identity.SKU, Status: status})
	}
	return resp
}

func newTestSubmitter(client feed.MarketplaceClient, repo feed.BatchRepository, clock *fakeClock) *FeedSubmitter {
	s, err := NewFeedSubmitter(client, repo, SubmitPolicy{MaxAttempts: 3, InitialBackoff: 2 * time.Second, MaxBackoff: time.Minute}, zap.NewNop())
	if err != nil {
		panic(err)
	}
	s.now = clock.now
	s.sleep = clock.sleep
	return s
}

func newTestPoller(client feed.MarketplaceClient, repo feed.BatchRepository, clock *fakeClock, policy PollPolicy) *FeedStatusPoller {
	p, err := NewFeedStatusPoller(client, repo, policy, zap.NewNop())
	if err != nil {
		panic(err)
	}
	p.now = clock.now
	p.sleep = clock.sleep
	return p
}

// In-memory collaborators of the mapping pipeline

type memoryCatalog struct {
	items map[uuid.UUID]*listing.SourceItem
}

func (c *memoryCatalog) GetItem(_ context.Context, id uuid.UUID) (*listing.SourceItem, error) {
	it, ok := c.items[id]
	if !ok {
		return nil, listing.ErrItemNotFound
	}
	return it, nil
}

func (c *memoryCatalog) GetCategoriesForItem(_ context.Context, id uuid.UUID) ([]string, error) {
	it, ok := c.items[id]
	if !ok {
		return nil, listing.ErrItemNotFound
	}
	return it.CategoryIDs, nil
}

type memoryProfiles struct {
	byCategory map[string]*listing.CategoryProfile
}

func (r *memoryProfiles) FindByCategoryID(_ context.Context, categoryID string) (*listing.CategoryProfile, error) {
	p, ok := r.byCategory[categoryID]
	if !ok {
		return nil, listing.ErrProfileNotFound
	}
	return p, nil
}

func (r *memoryProfiles) FindSharedByCategoryID(context.Context, string) (*listing.CategoryProfile, error) {
	return nil, listing.ErrProfileNotFound
}

func (r *memoryProfiles) Save(_ context.Context, p *listing.CategoryProfile) error {
	r.byCategory[p.SourceCategoryID] = p
	return nil
}

type memoryIdentifiers struct {
	mu          sync.Mutex
	free        []string
	assignments map[uuid.UUID]*listing.IdentifierAssignment
}

func (r *memoryIdentifiers) FindAssignment(_ context.Context, id uuid.UUID) (*listing.IdentifierAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[id]
	if !ok {
		return nil, listing.ErrAssignmentNotFound
	}
	return a, nil
}

func (r *memoryIdentifiers) ClaimNext(_ context.Context, id uuid.UUID) (*listing.IdentifierAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.assignments[id]; ok {
		return a, nil
	}
	if len(r.free) == 0 {
		return nil, listing.ErrResourceExhausted
	}
	a := &listing.IdentifierAssignment{SourceItemID: id, Identifier: r.free[0], AssignedAt: time.Now()}
	r.free = r.free[1:]
	r.assignments[id] = a
	return a, nil
}

func (r *memoryIdentifiers) AddIdentifiers(_ context.Context, ids []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.free = append(r.free, ids...)
	return len(ids), nil
}

func (r *memoryIdentifiers) CountAvailable(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.free)), nil
}

// mappingFixture wires a real mapping pipeline over in-memory stores
type mappingFixture struct {
	catalog *memoryCatalog
	service *listingapp.MappingService
}

func newMappingFixture(identifiers int) *mappingFixture {
	logger := zap.NewNop()
	profile, err := listing.NewCategoryProfile("Table lamps", "Home > Lighting > Table Lamps", "table-lamps", []listing.AttributeRule{
		{Name: "title", SourceKind: listing.SourceKindFieldRead, SourceExpression: "name", FieldKind: listing.FieldKindString, Required: true},
		{Name: "brand", SourceKind: listing.SourceKindLiteral, SourceExpression: "Lumen & Co"},
	})
	if err != nil {
		panic(err)
	}
	profiles := &memoryProfiles{byCategory: map[string]*listing.CategoryProfile{"table-lamps": profile}}
	heuristics := listing.DefaultHeuristicRegistry()

	pool := &memoryIdentifiers{assignments: make(map[uuid.UUID]*listing.IdentifierAssignment)}
	for i := range identifiers {
		pool.free = append(pool.free, fmt.Sprintf("ID-%04d", i))
	}

	catalog := &memoryCatalog{items: make(map[uuid.UUID]*listing.SourceItem)}
	resolver := listingapp.NewCategoryResolver(profiles, listingapp.NewProfileValidator(heuristics), logger)
	values := listingapp.NewAttributeValueResolver(heuristics, listing.NewUnitNormalizer(), logger)
	images := listingapp.NewImageSetBuilder(nil, nil, listingapp.ImageSettings{
		MinCount:     1,
		Placeholders: []string{"https://cdn.example.com/placeholder.jpg"},
	}, logger)
	mapper := listingapp.NewItemMapper(resolver, values, images, catalog, logger)
	service := listingapp.NewMappingService(catalog, mapper, listingapp.NewIdentifierPool(pool, logger), 2, logger)
	return &mappingFixture{catalog: catalog, service: service}
}

// addItem stores a mappable item, or an unmappable one when category is unknown
func (f *mappingFixture) addItem(sku, category string) uuid.UUID {
	id := uuid.New()
	f.catalog.items[id] = &listing.SourceItem{
		ID:              id,
		SKU:             sku,
		Name:            "Brass desk lamp " + sku,
		RemoteImageURLs: []string{"https://cdn.example.com/" + sku + ".jpg"},
		CategoryIDs:     []string{category},
	}
	return id
}
