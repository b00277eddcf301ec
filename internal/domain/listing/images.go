package listing

import "context"

// GalleryResolver turns a structured gallery reference into a public URL.
// It returns ErrImageUnresolvable when the referenced object does not exist.
type GalleryResolver interface {
	ResolveURL(ctx context.Context, ref string) (string, error)
}

// ImageProber reports the remote content length of an image URL.
// A negative length means the size is unknown.
type ImageProber interface {
	ContentLength(ctx context.Context, url string) (int64, error)
}
