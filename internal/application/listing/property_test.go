package listing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
)

// TestImageSetBuilderProperties checks size, uniqueness and exclusion of built image sets.
// Property: len(secondary) >= min(minCount, candidates + placeholders), no duplicates, no excluded URL
func TestImageSetBuilderProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// URLs are drawn from a small space so duplicates and placeholder overlap happen often.
	urlGen := gen.IntRange(0, 9).Map(func(i int) string {
		return fmt.Sprintf("https://img.example.com/%d.jpg", i)
	})

	properties.Property("image set bounds hold", prop.ForAll(
		func(remote []string, placeholderIdx []int, excludedIdx []int, minCount int) bool {
			placeholders := make([]string, 0, len(placeholderIdx))
			for _, i := range placeholderIdx {
				placeholders = append(placeholders, fmt.Sprintf("https://img.example.com/%d.jpg", i))
			}
			b := NewImageSetBuilder(nil, nil, ImageSettings{Placeholders: placeholders}, zap.NewNop())
			item := &listing.SourceItem{ID: uuid.New(), RemoteImageURLs: remote, ExcludedImageIndices: excludedIdx}

			out := b.Build(context.Background(), item, minCount)

			excluded := map[string]bool{}
			for _, i := range excludedIdx {
				if i >= 0 && i < len(remote) {
					excluded[remote[i]] = true
				}
			}
			available := map[string]bool{}
			for _, u := range remote {
				if !excluded[u] {
					available[u] = true
				}
			}
			for _, p := range placeholders {
				if !excluded[p] {
					available[p] = true
				}
			}

			seen := map[string]bool{}
			for _, u := range out.Set.Secondary {
				if seen[u] || excluded[u] {
					return false
				}
				seen[u] = true
			}
			if len(out.Set.Secondary) < min(minCount, len(available)) {
				return false
			}
			return out.Insufficient == (len(out.Set.Secondary) < minCount)
		},
		gen.SliceOfN(8, urlGen),
		gen.SliceOfN(3, gen.IntRange(0, 12)),
		gen.SliceOfN(2, gen.IntRange(0, 7)),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}

// TestIdentifierAllocationIdempotence verifies repeated allocation returns the same identifier.
// Property: Allocate(item) == Allocate(item), and distinct items never share an identifier
func TestIdentifierAllocationIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("allocation is idempotent and unique", prop.ForAll(
		func(items int, repeats int) bool {
			repo := newMemoryIdentifierRepository(validGTINs(items)...)
			pool := NewIdentifierPool(repo, zap.NewNop())

			sources := make([]*listing.SourceItem, items)
			for i := range sources {
				sources[i] = &listing.SourceItem{ID: uuid.New()}
			}

			first := make([]string, items)
			var mu sync.Mutex
			var wg sync.WaitGroup
			ok := true
			for r := 0; r < repeats; r++ {
				for i, src := range sources {
					wg.Add(1)
					go func(i int, src *listing.SourceItem) {
						defer wg.Done()
						id, err := pool.Allocate(context.Background(), src)
						mu.Lock()
						defer mu.Unlock()
						if err != nil {
							ok = false
							return
						}
						if first[i] == "" {
							first[i] = id
						} else if first[i] != id {
							ok = false
						}
					}(i, src)
				}
			}
			wg.Wait()

			seen := map[string]bool{}
			for _, id := range first {
				if seen[id] {
					return false
				}
				seen[id] = true
			}
			return ok && repo.claims == items
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}

// propertyProfileRepository answers shared lookups with any shared profile when
// none covers the id, so the resolver's own coverage check is exercised.
type propertyProfileRepository struct {
	direct map[string]*listing.CategoryProfile
	shared []*listing.CategoryProfile
}

func (r *propertyProfileRepository) FindByCategoryID(_ context.Context, categoryID string) (*listing.CategoryProfile, error) {
	if p, ok := r.direct[categoryID]; ok {
		return p, nil
	}
	return nil, listing.ErrProfileNotFound
}

func (r *propertyProfileRepository) FindSharedByCategoryID(_ context.Context, categoryID string) (*listing.CategoryProfile, error) {
	for _, p := range r.shared {
		if p.Covers(categoryID) {
			return p, nil
		}
	}
	if len(r.shared) > 0 {
		return r.shared[0], nil
	}
	return nil, listing.ErrProfileNotFound
}

func (r *propertyProfileRepository) Save(context.Context, *listing.CategoryProfile) error {
	return nil
}

// TestCategoryResolverProperties checks priority order and shared-profile coverage.
// Property: the resolved profile is the direct profile of the first requested id that
// has one, else the first shared profile whose declared ids contain that id; a shared
// result always covers the id it was resolved for.
func TestCategoryResolverProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	rules := []listing.AttributeRule{{Name: "title", SourceKind: listing.SourceKindFieldRead, SourceExpression: "name"}}
	category := func(i int) string { return fmt.Sprintf("cat-%d", i) }

	properties.Property("resolution follows priority and coverage", prop.ForAll(
		func(directIdx []int, sharedIdx [][]int, requested []int) bool {
			repo := &propertyProfileRepository{direct: map[string]*listing.CategoryProfile{}}
			for _, i := range directIdx {
				p, err := listing.NewCategoryProfile("direct "+category(i), "Home", category(i), rules)
				if err != nil {
					return false
				}
				repo.direct[category(i)] = p
			}
			for n, set := range sharedIdx {
				ids := make([]string, 0, len(set))
				for _, i := range set {
					ids = append(ids, category(i))
				}
				p, err := listing.NewSharedCategoryProfile(fmt.Sprintf("shared %d", n), "Home", ids, rules)
				if err != nil {
					return false
				}
				repo.shared = append(repo.shared, p)
			}

			var want *listing.CategoryProfile
			var wantFor string
			ids := make([]string, 0, len(requested))
			for _, i := range requested {
				id := category(i)
				ids = append(ids, id)
				if want != nil {
					continue
				}
				if p, ok := repo.direct[id]; ok {
					want, wantFor = p, id
					continue
				}
				for _, p := range repo.shared {
					if p.Covers(id) {
						want, wantFor = p, id
						break
					}
				}
			}

			resolver := NewCategoryResolver(repo, NewProfileValidator(listing.DefaultHeuristicRegistry()), zap.NewNop())
			got, err := resolver.Resolve(context.Background(), ids)
			if want == nil {
				return got == nil && errors.Is(err, listing.ErrConfiguration)
			}
			if err != nil || got.ID != want.ID {
				return false
			}
			return !got.IsShared() || got.Covers(wantFor)
		},
		gen.SliceOfN(2, gen.IntRange(0, 5)),
		gen.SliceOfN(2, gen.SliceOfN(3, gen.IntRange(0, 5))),
		gen.SliceOfN(3, gen.IntRange(0, 7)),
	))

	properties.TestingRun(t)
}
