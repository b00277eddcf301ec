package feed

import "errors"

var (
	// Transport errors. Every error the marketplace client returns for a failed
	// call wraps ErrTransport together with one of the specific errors below.
	ErrTransport                  = errors.New("feed: marketplace transport error")
	ErrMarketplaceUnavailable     = errors.New("feed: marketplace temporarily unavailable")
	ErrMarketplaceRequestFailed   = errors.New("feed: marketplace request failed")
	ErrMarketplaceInvalidResponse = errors.New("feed: invalid marketplace response")
	ErrMarketplaceAuthFailed      = errors.New("feed: marketplace authentication failed")
	ErrMarketplaceRateLimited     = errors.New("feed: marketplace rate limited")
	// ErrMarketplaceRejected marks a payload the marketplace refused; it is not retried.
	ErrMarketplaceRejected = errors.New("feed: marketplace rejected the feed")

	// Reconciliation
	ErrPartialData = errors.New("feed: reconciliation performed with pending sub-batches")

	// Batch errors
	ErrInvalidStateTransition = errors.New("feed: invalid sub-batch state transition")
	ErrInvalidLimits          = errors.New("feed: invalid batch limits")
	ErrPayloadTooLarge        = errors.New("feed: item exceeds the maximum payload size")
	ErrBatchNotFound          = errors.New("feed: batch not found")
	ErrSubBatchNotFound       = errors.New("feed: sub-batch not found")
	ErrReportNotFound         = errors.New("feed: report snapshot not found")
	ErrItemInFlight           = errors.New("feed: item already enqueued in another batch")
)

// Pre-submission failure kinds produced by this package.
const (
	KindPayloadTooLarge = "PAYLOAD_TOO_LARGE"
	KindInFlight        = "ITEM_IN_FLIGHT"
)
