package feed

import "time"

// ProcessingStatus is the marketplace-side status of a feed
type ProcessingStatus string

const (
	ProcessingStatusInQueue    ProcessingStatus = "IN_QUEUE"
	ProcessingStatusInProgress ProcessingStatus = "IN_PROGRESS"
	ProcessingStatusDone       ProcessingStatus = "DONE"
	ProcessingStatusCancelled  ProcessingStatus = "CANCELLED"
	ProcessingStatusFatal      ProcessingStatus = "FATAL"
)

// IsTerminal returns true once the marketplace stopped processing the feed
func (s ProcessingStatus) IsTerminal() bool {
	switch s {
	case ProcessingStatusDone, ProcessingStatusCancelled, ProcessingStatusFatal:
		return true
	}
	return false
}

// IsValid returns true if the status is known
func (s ProcessingStatus) IsValid() bool {
	switch s {
	case ProcessingStatusInQueue, ProcessingStatusInProgress,
		ProcessingStatusDone, ProcessingStatusCancelled, ProcessingStatusFatal:
		return true
	}
	return false
}

// ItemResultStatus is the ingestion result of one SKU
type ItemResultStatus string

const (
	ItemResultAccepted ItemResultStatus = "ACCEPTED"
	ItemResultWarning  ItemResultStatus = "WARNING"
	ItemResultError    ItemResultStatus = "ERROR"
)

func (s ItemResultStatus) severity() int {
	switch s {
	case ItemResultError:
		return 2
	case ItemResultWarning:
		return 1
	}
	return 0
}

// FeedItemResult is one per-SKU entry of a processing report
type FeedItemResult struct {
	SKU     string           `json:"sku"`
	Status  ItemResultStatus `json:"status"`
	Code    string           `json:"code,omitempty"`
	Message string           `json:"message,omitempty"`
}

// FeedSummary holds the marketplace's own processing counters
type FeedSummary struct {
	MessagesProcessed int `json:"messages_processed"`
	MessagesAccepted  int `json:"messages_accepted"`
	MessagesInvalid   int `json:"messages_invalid"`
}

// FeedStatusResponse is the result of a status check
type FeedStatusResponse struct {
	FeedID     string           `json:"feed_id"`
	Status     ProcessingStatus `json:"status"`
	Summary    *FeedSummary     `json:"summary,omitempty"`
	Results    []FeedItemResult `json:"results,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
}
