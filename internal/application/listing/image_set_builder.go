package listing

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/erp/feedsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Image drop reasons
const (
	DropUnresolvable = "unresolvable"
	DropInvalidURL   = "invalid_url"
	DropExcluded     = "excluded"
	DropOversized    = "oversized"
)

// ImageSettings configures image set construction
type ImageSettings struct {
	MinCount int
	// MaxCount caps the secondary list before padding; zero means no cap.
	MaxCount      int
	MaxImageBytes int64
	// Placeholders are appended in order when the set is below MinCount.
	Placeholders []string
	// PlaceholderMarkers identify a primary image reference that is itself a placeholder.
	PlaceholderMarkers []string
}

// DroppedImage records a candidate that did not make it into the set
type DroppedImage struct {
	URL    string
	Reason string
}

// ImageBuild is the result of building an image set
type ImageBuild struct {
	Set          listing.ImageSet
	Insufficient bool
	Dropped      []DroppedImage
	Padded       int
}

type imageCandidate struct {
	index int
	url   string
}

// ImageSetBuilder resolves the main and secondary images of an item.
// Candidates are validated, excluded and size-checked before dedup and padding
// so that a dropped image can never come back through padding.
type ImageSetBuilder struct {
	gallery  listing.GalleryResolver
	prober   listing.ImageProber
	settings ImageSettings
	logger   *zap.Logger
	metrics  *telemetry.FeedMetrics
}

// NewImageSetBuilder creates a new ImageSetBuilder. The prober may be nil, in
// which case no size check is made.
func NewImageSetBuilder(gallery listing.GalleryResolver, prober listing.ImageProber, settings ImageSettings, logger *zap.Logger) *ImageSetBuilder {
	if settings.MaxCount > 0 && settings.MaxCount < settings.MinCount {
		settings.MaxCount = settings.MinCount
	}
	return &ImageSetBuilder{
		gallery:  gallery,
		prober:   prober,
		settings: settings,
		logger:   logger,
	}
}

// WithMetrics sets the metrics recorder
func (b *ImageSetBuilder) WithMetrics(m *telemetry.FeedMetrics) *ImageSetBuilder {
	b.metrics = m
	return b
}

// Settings returns the builder settings
func (b *ImageSetBuilder) Settings() ImageSettings {
	return b.settings
}

// Build constructs the image set for an item
func (b *ImageSetBuilder) Build(ctx context.Context, item *listing.SourceItem, minCount int) ImageBuild {
	var out ImageBuild
	drop := func(u, reason string) {
		out.Dropped = append(out.Dropped, DroppedImage{URL: u, Reason: reason})
		b.logger.Info("image dropped",
			zap.String("item_id", item.ID.String()),
			zap.String("url", u),
			zap.String("reason", reason),
		)
		b.metrics.RecordImageDropped(ctx, reason)
	}

	// Gallery references first, then the remote list. Indices are positions in
	// this combined list and are what the exclusion set refers to.
	var candidates []imageCandidate
	idx := 0
	for _, g := range item.GalleryImages {
		resolved, err := b.resolveGallery(ctx, g.Ref)
		if err != nil {
			drop(g.Ref, DropUnresolvable)
		} else {
			candidates = append(candidates, imageCandidate{index: idx, url: resolved})
		}
		idx++
	}
	remoteStart := len(candidates)
	for _, raw := range item.RemoteImageURLs {
		u := strings.TrimSpace(raw)
		if !validImageURL(u) {
			drop(raw, DropInvalidURL)
		} else {
			candidates = append(candidates, imageCandidate{index: idx, url: u})
		}
		idx++
	}
	firstRemote := ""
	if len(candidates) > remoteStart {
		firstRemote = candidates[remoteStart].url
	}

	// An excluded index removes that URL everywhere, including from padding.
	excluded := make(map[string]struct{})
	for _, c := range candidates {
		if slices.Contains(item.ExcludedImageIndices, c.index) {
			excluded[c.url] = struct{}{}
		}
	}
	probed := make(map[string]int64)
	kept := candidates[:0:0]
	for _, c := range candidates {
		if _, ok := excluded[c.url]; ok {
			drop(c.url, DropExcluded)
			continue
		}
		if b.oversized(ctx, c.url, probed) {
			drop(c.url, DropOversized)
			continue
		}
		kept = append(kept, c)
	}

	secondary := make([]string, 0, len(kept))
	seen := make(map[string]struct{}, len(kept))
	for _, c := range kept {
		if _, dup := seen[c.url]; dup {
			continue
		}
		seen[c.url] = struct{}{}
		secondary = append(secondary, c.url)
	}
	if b.settings.MaxCount > 0 && len(secondary) > b.settings.MaxCount {
		secondary = secondary[:b.settings.MaxCount]
	}

	out.Set.Main = b.resolveMain(ctx, item, firstRemote, secondary, excluded, probed)

	for _, p := range b.settings.Placeholders {
		if len(secondary) >= minCount {
			break
		}
		if _, dup := seen[p]; dup {
			continue
		}
		if _, ex := excluded[p]; ex {
			continue
		}
		before := len(secondary)
		secondary = append(secondary, p)
		seen[p] = struct{}{}
		out.Padded++
		b.logger.Info("image padding applied",
			zap.String("item_id", item.ID.String()),
			zap.String("placeholder", p),
			zap.Int("before", before),
			zap.Int("after", len(secondary)),
		)
	}
	b.metrics.RecordImagesPadded(ctx, out.Padded)

	out.Set.Secondary = secondary
	if len(secondary) < minCount {
		out.Insufficient = true
		b.logger.Warn("insufficient images",
			zap.String("item_id", item.ID.String()),
			zap.Int("count", len(secondary)),
			zap.Int("min_count", minCount),
		)
	}
	return out
}

// resolveMain prefers the designated primary reference. A placeholder or
// unresolvable primary is replaced by the first remote image, then by the
// first secondary image, then by the first placeholder.
func (b *ImageSetBuilder) resolveMain(ctx context.Context, item *listing.SourceItem, firstRemote string, secondary []string, excluded map[string]struct{}, probed map[string]int64) string {
	if ref := strings.TrimSpace(item.MainImageRef); ref != "" && !b.isPlaceholder(ref) {
		var (
			main string
			err  error
		)
		if validImageURL(ref) {
			main = ref
		} else {
			main, err = b.resolveGallery(ctx, ref)
		}
		if err == nil && main != "" {
			if _, ex := excluded[main]; !ex && !b.oversized(ctx, main, probed) {
				return main
			}
		}
		b.logger.Info("main image replaced",
			zap.String("item_id", item.ID.String()),
			zap.String("ref", ref),
		)
	}

	if firstRemote != "" {
		if _, ex := excluded[firstRemote]; !ex && !b.oversized(ctx, firstRemote, probed) {
			return firstRemote
		}
	}
	if len(secondary) > 0 {
		return secondary[0]
	}
	if len(b.settings.Placeholders) > 0 {
		return b.settings.Placeholders[0]
	}
	return ""
}

func (b *ImageSetBuilder) resolveGallery(ctx context.Context, ref string) (string, error) {
	if b.gallery == nil {
		return "", listing.ErrImageUnresolvable
	}
	u, err := b.gallery.ResolveURL(ctx, ref)
	if err != nil {
		if !errors.Is(err, listing.ErrImageUnresolvable) {
			b.logger.Warn("gallery resolution failed", zap.String("ref", ref), zap.Error(err))
		}
		return "", err
	}
	if !validImageURL(u) {
		return "", listing.ErrImageUnresolvable
	}
	return u, nil
}

// oversized probes the remote size once per URL per build. A failed probe keeps the image.
func (b *ImageSetBuilder) oversized(ctx context.Context, u string, probed map[string]int64) bool {
	if b.prober == nil || b.settings.MaxImageBytes <= 0 {
		return false
	}
	size, ok := probed[u]
	if !ok {
		var err error
		size, err = b.prober.ContentLength(ctx, u)
		if err != nil {
			b.logger.Debug("image probe failed", zap.String("url", u), zap.Error(err))
			size = -1
		}
		probed[u] = size
	}
	return size > b.settings.MaxImageBytes
}

func (b *ImageSetBuilder) isPlaceholder(ref string) bool {
	if slices.Contains(b.settings.Placeholders, ref) {
		return true
	}
	lower := strings.ToLower(ref)
	for _, marker := range b.settings.PlaceholderMarkers {
		if marker != "" && strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

func validImageURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
