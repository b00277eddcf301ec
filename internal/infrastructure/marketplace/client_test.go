package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/erp/feedsync/internal/infrastructure/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/", AppKey: "seller-1", AppSecret: "s3cret", Timeout: 2 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	c.now = func() time.Time { return time.Unix(1709294400, 0) }
	return c
}

func testPayload() feed.FeedPayload {
	return feed.FeedPayload{
		BatchID:    uuid.New(),
		SubBatchID: uuid.New(),
		Items: []feed.FeedItem{feed.NewFeedItem(listing.MappedItem{
			Identity:          listing.Identity{SKU: "LMP-001", AllocatedID: "00036000291452"},
			TargetCategory:    "Home > Lighting",
			VisibleAttributes: map[string]any{"title": "Brass lamp"},
			Images:            listing.ImageSet{Main: "https://cdn.example.com/a.jpg"},
		})},
	}
}

func TestClient_SubmitFeed(t *testing.T) {
	t.Run("signs the request and returns the feed id", func(t *testing.T) {
		var cfg Config
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/feeds", r.URL.Path)
			assert.Equal(t, "seller-1", r.Header.Get(HeaderAppKey))
			assert.Equal(t, "1709294400", r.Header.Get(HeaderTimestamp))
			assert.Equal(t, cfg.Sign(http.MethodPost, "/v1/feeds", "1709294400", body), r.Header.Get(HeaderSignature))
			assert.Equal(t, "req-77", r.Header.Get(HeaderRequestID))

			var p feed.FeedPayload
			if assert.NoError(t, json.Unmarshal(body, &p)) && assert.Len(t, p.Items, 1) {
				assert.Equal(t, "LMP-001", p.Items[0].SKU)
				assert.Equal(t, p.SubBatchID.String(), r.Header.Get(HeaderIdempotencyKey))
			}

			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"feed_id":"feed-123"}`))
		})
		cfg = c.config

		ctx, _ := logger.WithRequestID(context.Background(), zap.NewNop(), "req-77")
		id, err := c.SubmitFeed(ctx, testPayload())
		require.NoError(t, err)
		assert.Equal(t, "feed-123", id)
	})

	t.Run("resubmitting a sub-batch reuses its idempotency key", func(t *testing.T) {
		var keys []string
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			keys = append(keys, r.Header.Get(HeaderIdempotencyKey))
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"feed_id":"feed-9"}`))
		})

		payload := testPayload()
		for range 2 {
			_, err := c.SubmitFeed(context.Background(), payload)
			require.NoError(t, err)
		}
		_, err := c.SubmitFeed(context.Background(), testPayload())
		require.NoError(t, err)

		require.Len(t, keys, 3)
		assert.Equal(t, payload.SubBatchID.String(), keys[0])
		assert.Equal(t, keys[0], keys[1])
		assert.NotEqual(t, keys[0], keys[2])
	})

	t.Run("status polls carry no idempotency key", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get(HeaderIdempotencyKey))
			_, _ = w.Write([]byte(`{"feed_id":"feed-9","processing_status":"IN_PROGRESS"}`))
		})
		_, err := c.GetFeedStatus(context.Background(), "feed-9")
		require.NoError(t, err)
	})

	tests := []struct {
		name      string
		status    int
		body      string
		want      error
		transport bool
	}{
		{"server error is transient", http.StatusBadGateway, ``, feed.ErrMarketplaceUnavailable, true},
		{"throttled", http.StatusTooManyRequests, `{"code":"THROTTLED"}`, feed.ErrMarketplaceRateLimited, true},
		{"bad credentials", http.StatusUnauthorized, ``, feed.ErrMarketplaceAuthFailed, false},
		{"payload rejected", http.StatusUnprocessableEntity, `{"code":"SCHEMA","message":"items[0].category unknown"}`, feed.ErrMarketplaceRejected, false},
		{"unexpected client error", http.StatusNotFound, ``, feed.ErrMarketplaceRequestFailed, false},
		{"missing feed id", http.StatusAccepted, `{}`, feed.ErrMarketplaceInvalidResponse, true},
		{"garbage body", http.StatusAccepted, `<html>`, feed.ErrMarketplaceInvalidResponse, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.SubmitFeed(context.Background(), testPayload())
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.transport, errors.Is(err, feed.ErrTransport))
		})
	}

	t.Run("unreachable host is a transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		c, err := NewClient(Config{BaseURL: url, AppKey: "k", AppSecret: "s"}, zap.NewNop())
		require.NoError(t, err)

		_, err = c.SubmitFeed(context.Background(), testPayload())
		assert.ErrorIs(t, err, feed.ErrTransport)
		assert.ErrorIs(t, err, feed.ErrMarketplaceUnavailable)
	})
}

func TestClient_GetFeedStatus(t *testing.T) {
	t.Run("decodes a finished feed", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/feeds/feed-9", r.URL.Path)
			_, _ = w.Write([]byte(`{
				"feed_id": "feed-9",
				"processing_status": "DONE",
				"messages_processed": 2,
				"messages_accepted": 1,
				"messages_invalid": 1,
				"results": [
					{"sku": "LMP-001", "status": "ACCEPTED"},
					{"sku": "LMP-002", "status": "ERROR", "code": "8541", "message": "brand missing"}
				]
			}`))
		})

		resp, err := c.GetFeedStatus(context.Background(), "feed-9")
		require.NoError(t, err)
		assert.Equal(t, feed.ProcessingStatusDone, resp.Status)
		require.NotNil(t, resp.Summary)
		assert.Equal(t, 1, resp.Summary.MessagesInvalid)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, feed.ItemResultError, resp.Results[1].Status)
		assert.Equal(t, time.Unix(1709294400, 0).UTC(), resp.ReceivedAt)
	})

	t.Run("in progress has no summary", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"processing_status":"IN_PROGRESS"}`))
		})
		resp, err := c.GetFeedStatus(context.Background(), "feed-9")
		require.NoError(t, err)
		assert.False(t, resp.Status.IsTerminal())
		assert.Nil(t, resp.Summary)
		assert.Equal(t, "feed-9", resp.FeedID)
	})

	t.Run("unknown status is invalid", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"processing_status":"EXPLODED"}`))
		})
		_, err := c.GetFeedStatus(context.Background(), "feed-9")
		assert.ErrorIs(t, err, feed.ErrMarketplaceInvalidResponse)
	})
}

func TestClient_RateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"processing_status":"IN_QUEUE"}`))
	})
	c.limiter = rate.NewLimiter(1, 1)

	_, err := c.GetFeedStatus(context.Background(), "feed-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.GetFeedStatus(ctx, "feed-1")
	assert.ErrorIs(t, err, feed.ErrTransport)
	assert.EqualValues(t, 1, calls.Load())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"missing url", Config{AppKey: "k", AppSecret: "s"}, ErrConfigMissingBaseURL},
		{"relative url", Config{BaseURL: "/feeds", AppKey: "k", AppSecret: "s"}, ErrConfigInvalidBaseURL},
		{"missing key", Config{BaseURL: "https://api.example.com"}, ErrConfigMissingAppKey},
		{"missing secret", Config{BaseURL: "https://api.example.com", AppKey: "k"}, ErrConfigMissingAppSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cfg.Validate(), tt.want)
		})
	}

	cfg := Config{BaseURL: "https://api.example.com/", AppKey: "k", AppSecret: "s", RequestsPerSecond: 5}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 1, cfg.Burst)
}

func TestConfig_Sign(t *testing.T) {
	cfg := Config{AppSecret: "s3cret"}
	a := cfg.Sign("POST", "/v1/feeds", "1", []byte(`{}`))
	assert.Len(t, a, 64)
	assert.Equal(t, a, cfg.Sign("POST", "/v1/feeds", "1", []byte(`{}`)))
	assert.NotEqual(t, a, cfg.Sign("POST", "/v1/feeds", "2", []byte(`{}`)))
	assert.NotEqual(t, a, cfg.Sign("POST", "/v1/feeds", "1", []byte(`{"x":1}`)))
}
