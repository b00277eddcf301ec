package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/erp/feedsync/internal/domain/listing"
)

var _ listing.ImageProber = (*HTTPImageProber)(nil)

// HTTPImageProber reads remote image sizes with a HEAD request.
type HTTPImageProber struct {
	client *http.Client
}

// NewHTTPImageProber creates a prober whose requests give up after timeout.
func NewHTTPImageProber(timeout time.Duration) *HTTPImageProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPImageProber{client: &http.Client{Timeout: timeout}}
}

// ContentLength returns the advertised size in bytes, or -1 when the server does not send one.
func (p *HTTPImageProber) ContentLength(ctx context.Context, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return -1, fmt.Errorf("build probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return -1, fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return -1, fmt.Errorf("probe %s: unexpected status %d", url, resp.StatusCode)
	}
	return resp.ContentLength, nil
}
