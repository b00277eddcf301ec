package listing

import (
	"context"
	"fmt"
	"testing"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testPlaceholder = "https://cdn.example.com/placeholder-1.jpg"

func newTestImageBuilder(settings ImageSettings, prober listing.ImageProber, logger *zap.Logger) *ImageSetBuilder {
	return NewImageSetBuilder(&stubGallery{missing: map[string]bool{"gallery:missing": true}}, prober, settings, logger)
}

func imageItem(gallery []string, remote []string) *listing.SourceItem {
	item := &listing.SourceItem{
		ID:              uuid.New(),
		SKU:             "IMG-1",
		MainImageRef:    "gallery:main",
		RemoteImageURLs: remote,
	}
	for i, ref := range gallery {
		item.GalleryImages = append(item.GalleryImages, listing.GalleryImage{Ref: ref, Position: i})
	}
	return item
}

func TestImageSetBuilder_PadsWithPlaceholderToMinimum(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	b := newTestImageBuilder(ImageSettings{Placeholders: []string{testPlaceholder}}, nil, zap.New(core))

	out := b.Build(context.Background(), imageItem(nil, remoteURLs(4)), 5)

	require.Len(t, out.Set.Secondary, 5)
	assert.Equal(t, testPlaceholder, out.Set.Secondary[4])
	assert.False(t, out.Insufficient)
	assert.Equal(t, 1, out.Padded)

	entries := logs.FilterMessage("image padding applied").All()
	require.Len(t, entries, 1)
	assert.EqualValues(t, 4, entries[0].ContextMap()["before"])
	assert.EqualValues(t, 5, entries[0].ContextMap()["after"])
}

func TestImageSetBuilder_DeduplicatesAcrossSources(t *testing.T) {
	b := newTestImageBuilder(ImageSettings{}, nil, zap.NewNop())
	gallery := []string{"gallery:a", "gallery:b", "gallery:c", "gallery:d"}
	remote := []string{
		"https://cdn.example.com/gallery:a.jpg",
		"https://img.example.com/x.jpg",
		"https://cdn.example.com/gallery:c.jpg",
		"https://img.example.com/y.jpg",
	}

	out := b.Build(context.Background(), imageItem(gallery, remote), 1)

	assert.Len(t, out.Set.Secondary, 6)
	assert.Equal(t, []string{
		"https://cdn.example.com/gallery:a.jpg",
		"https://cdn.example.com/gallery:b.jpg",
		"https://cdn.example.com/gallery:c.jpg",
		"https://cdn.example.com/gallery:d.jpg",
		"https://img.example.com/x.jpg",
		"https://img.example.com/y.jpg",
	}, out.Set.Secondary)
}

func TestImageSetBuilder_FlagsInsufficientWhenPlaceholdersRunOut(t *testing.T) {
	b := newTestImageBuilder(ImageSettings{Placeholders: []string{testPlaceholder}}, nil, zap.NewNop())

	out := b.Build(context.Background(), imageItem(nil, remoteURLs(2)), 5)

	assert.Len(t, out.Set.Secondary, 3)
	assert.True(t, out.Insufficient)
}

func TestImageSetBuilder_DropReasons(t *testing.T) {
	oversized := "https://img.example.com/huge.jpg"
	prober := &stubProber{sizes: map[string]int64{oversized: 50 << 20}}
	b := newTestImageBuilder(ImageSettings{MaxImageBytes: 10 << 20}, prober, zap.NewNop())

	item := imageItem([]string{"gallery:missing", "gallery:ok"}, []string{"not a url", oversized, "https://img.example.com/fine.jpg"})
	out := b.Build(context.Background(), item, 0)

	assert.Equal(t, []string{"https://cdn.example.com/gallery:ok.jpg", "https://img.example.com/fine.jpg"}, out.Set.Secondary)
	reasons := map[string]string{}
	for _, d := range out.Dropped {
		reasons[d.URL] = d.Reason
	}
	assert.Equal(t, DropUnresolvable, reasons["gallery:missing"])
	assert.Equal(t, DropInvalidURL, reasons["not a url"])
	assert.Equal(t, DropOversized, reasons[oversized])
	assert.Equal(t, 1, prober.calls[oversized])
}

func TestImageSetBuilder_ExcludedImageNeverReturns(t *testing.T) {
	excludedURL := "https://img.example.com/excluded.jpg"
	b := newTestImageBuilder(ImageSettings{Placeholders: []string{excludedURL, testPlaceholder}}, nil, zap.NewNop())

	item := imageItem([]string{"gallery:a"}, []string{excludedURL, "https://img.example.com/b.jpg", excludedURL})
	item.ExcludedImageIndices = []int{1}

	out := b.Build(context.Background(), item, 4)

	assert.NotContains(t, out.Set.Secondary, excludedURL)
	assert.Equal(t, []string{
		"https://cdn.example.com/gallery:a.jpg",
		"https://img.example.com/b.jpg",
		testPlaceholder,
	}, out.Set.Secondary)
	assert.True(t, out.Insufficient)
}

func TestImageSetBuilder_MainImage(t *testing.T) {
	t.Run("designated primary", func(t *testing.T) {
		b := newTestImageBuilder(ImageSettings{}, nil, zap.NewNop())
		out := b.Build(context.Background(), imageItem(nil, remoteURLs(2)), 0)
		assert.Equal(t, "https://cdn.example.com/gallery:main.jpg", out.Set.Main)
	})

	t.Run("placeholder primary replaced by first remote image", func(t *testing.T) {
		b := newTestImageBuilder(ImageSettings{PlaceholderMarkers: []string{"no-image"}}, nil, zap.NewNop())
		item := imageItem(nil, remoteURLs(2))
		item.MainImageRef = "https://shop.example.com/static/no-image.png"

		out := b.Build(context.Background(), item, 0)
		assert.Equal(t, remoteURLs(1)[0], out.Set.Main)
	})

	t.Run("unresolvable primary replaced by first remote image", func(t *testing.T) {
		b := newTestImageBuilder(ImageSettings{}, nil, zap.NewNop())
		item := imageItem(nil, remoteURLs(3))
		item.MainImageRef = "gallery:missing"

		out := b.Build(context.Background(), item, 0)
		assert.Equal(t, remoteURLs(1)[0], out.Set.Main)
	})

	t.Run("placeholder when nothing else exists", func(t *testing.T) {
		b := newTestImageBuilder(ImageSettings{Placeholders: []string{testPlaceholder}}, nil, zap.NewNop())
		item := imageItem(nil, nil)
		item.MainImageRef = ""

		out := b.Build(context.Background(), item, 0)
		assert.Equal(t, testPlaceholder, out.Set.Main)
	})
}

func TestImageSetBuilder_MaxCount(t *testing.T) {
	b := newTestImageBuilder(ImageSettings{MinCount: 2, MaxCount: 3}, nil, zap.NewNop())

	out := b.Build(context.Background(), imageItem(nil, remoteURLs(6)), 2)

	assert.Equal(t, remoteURLs(3), out.Set.Secondary)
}

func TestImageSetBuilder_PaddingSkipsPresentPlaceholders(t *testing.T) {
	second := "https://cdn.example.com/placeholder-2.jpg"
	b := newTestImageBuilder(ImageSettings{Placeholders: []string{testPlaceholder, second}}, nil, zap.NewNop())

	out := b.Build(context.Background(), imageItem(nil, []string{testPlaceholder}), 3)

	assert.Equal(t, []string{testPlaceholder, second}, out.Set.Secondary)
	assert.True(t, out.Insufficient)
	assert.Equal(t, 1, out.Padded)
}

func ExampleImageSetBuilder_Build() {
	b := NewImageSetBuilder(nil, nil, ImageSettings{Placeholders: []string{testPlaceholder}}, zap.NewNop())
	item := &listing.SourceItem{RemoteImageURLs: []string{"https://img.example.com/a.jpg"}}

	out := b.Build(context.Background(), item, 2)
	fmt.Println(out.Set.Main)
	fmt.Println(len(out.Set.Secondary), out.Insufficient)
	// Output:
	// https://img.example.com/a.jpg
	// 2 false
}
