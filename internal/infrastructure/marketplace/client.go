package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/infrastructure/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxResponseSize caps how much of a response body is read (10MB)
const maxResponseSize = 10 * 1024 * 1024

const feedsPath = "/v1/feeds"

// Client implements feed.MarketplaceClient over the marketplace HTTP feed API.
// Every request is signed with the app secret and passes the rate limiter.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient validates cfg and builds a client
func NewClient(cfg Config, zl *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zl.Named("marketplace"),
		now:        time.Now,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return c, nil
}

// SubmitFeed posts the payload and returns the marketplace feed id
func (c *Client) SubmitFeed(ctx context.Context, payload feed.FeedPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marketplace: encode payload: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, feedsPath, body, http.Header{
		HeaderIdempotencyKey: []string{payload.SubBatchID.String()},
	})
	if err != nil {
		return "", err
	}

	var resp submitFeedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("%w: %w: decode submit response: %v", feed.ErrTransport, feed.ErrMarketplaceInvalidResponse, err)
	}
	if resp.FeedID == "" {
		return "", fmt.Errorf("%w: %w: empty feed id", feed.ErrTransport, feed.ErrMarketplaceInvalidResponse)
	}

	c.logger.Debug("feed submitted",
		zap.String("feed_id", resp.FeedID),
		zap.String("sub_batch_id", payload.SubBatchID.String()),
		zap.Int("items", len(payload.Items)),
		zap.Int("payload_bytes", len(body)),
	)
	return resp.FeedID, nil
}

// GetFeedStatus fetches the processing status and, once done, per-item results
func (c *Client) GetFeedStatus(ctx context.Context, feedID string) (*feed.FeedStatusResponse, error) {
	if feedID == "" {
		return nil, fmt.Errorf("%w: empty feed id", feed.ErrMarketplaceRequestFailed)
	}
	respBody, err := c.do(ctx, http.MethodGet, feedsPath+"/"+url.PathEscape(feedID), nil, nil)
	if err != nil {
		return nil, err
	}

	var resp feedStatusResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w: decode status response: %v", feed.ErrTransport, feed.ErrMarketplaceInvalidResponse, err)
	}
	status := resp.toDomain(c.now().UTC())
	if !status.Status.IsValid() {
		return nil, fmt.Errorf("%w: %w: unknown processing status %q", feed.ErrTransport, feed.ErrMarketplaceInvalidResponse, resp.ProcessingStatus)
	}
	if status.FeedID == "" {
		status.FeedID = feedID
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, header http.Header) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", feed.ErrTransport, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("marketplace: failed to create request: %w", err)
	}
	ts := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set(HeaderAppKey, c.config.AppKey)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, c.config.Sign(method, path, ts, body))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := logger.GetRequestID(ctx); id != "" {
		req.Header.Set(HeaderRequestID, id)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", feed.ErrTransport, feed.ErrMarketplaceUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: read response: %v", feed.ErrTransport, feed.ErrMarketplaceUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// statusError classifies a non-2xx response. Transport-level problems wrap
// feed.ErrTransport and are retried; the others are final.
func statusError(status int, body []byte) error {
	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)
	detail := fmt.Sprintf("HTTP %d", status)
	if apiErr.Code != "" || apiErr.Message != "" {
		detail = fmt.Sprintf("HTTP %d %s: %s", status, apiErr.Code, apiErr.Message)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", feed.ErrTransport, feed.ErrMarketplaceRateLimited, detail)
	case status >= 500, status == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %w: %s", feed.ErrTransport, feed.ErrMarketplaceUnavailable, detail)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", feed.ErrMarketplaceAuthFailed, detail)
	case status == http.StatusBadRequest, status == http.StatusRequestEntityTooLarge, status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", feed.ErrMarketplaceRejected, detail)
	default:
		return fmt.Errorf("%w: %s", feed.ErrMarketplaceRequestFailed, detail)
	}
}
