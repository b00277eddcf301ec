package marketplace

import (
	"time"

	"github.com/erp/feedsync/internal/domain/feed"
)

// Header names used by the feed API
const (
	HeaderAppKey    = "X-App-Key"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
	HeaderRequestID = "X-Request-ID"
	// HeaderIdempotencyKey carries the sub-batch id on feed submissions. The
	// marketplace answers a repeated key with the feed it already created.
	HeaderIdempotencyKey = "Idempotency-Key"
)

// submitFeedResponse is the body of a 202 from POST /v1/feeds
type submitFeedResponse struct {
	FeedID string `json:"feed_id"`
}

// errorResponse is returned by the API on 4xx and 5xx responses
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// feedStatusResponse is the body of GET /v1/feeds/:id
type feedStatusResponse struct {
	FeedID            string           `json:"feed_id"`
	ProcessingStatus  string           `json:"processing_status"`
	MessagesProcessed *int             `json:"messages_processed,omitempty"`
	MessagesAccepted  *int             `json:"messages_accepted,omitempty"`
	MessagesInvalid   *int             `json:"messages_invalid,omitempty"`
	Results           []feedItemResult `json:"results,omitempty"`
}

type feedItemResult struct {
	SKU     string `json:"sku"`
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (r *feedStatusResponse) toDomain(receivedAt time.Time) *feed.FeedStatusResponse {
	out := &feed.FeedStatusResponse{
		FeedID:     r.FeedID,
		Status:     feed.ProcessingStatus(r.ProcessingStatus),
		ReceivedAt: receivedAt,
	}
	if r.MessagesProcessed != nil || r.MessagesInvalid != nil || r.MessagesAccepted != nil {
		out.Summary = &feed.FeedSummary{
			MessagesProcessed: deref(r.MessagesProcessed),
			MessagesAccepted:  deref(r.MessagesAccepted),
			MessagesInvalid:   deref(r.MessagesInvalid),
		}
	}
	for _, res := range r.Results {
		out.Results = append(out.Results, feed.FeedItemResult{
			SKU:     res.SKU,
			Status:  feed.ItemResultStatus(res.Status),
			Code:    res.Code,
			Message: res.Message,
		})
	}
	return out
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
