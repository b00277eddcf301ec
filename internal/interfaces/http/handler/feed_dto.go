package handler

import (
	"time"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/google/uuid"
)

// SyncRequest triggers mapping and submission of catalog items
type SyncRequest struct {
	ItemIDs []string `json:"item_ids" binding:"required,min=1,max=10000,dive,uuid"`
}

func (r SyncRequest) ids() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(r.ItemIDs))
	for _, s := range r.ItemIDs {
		out = append(out, uuid.MustParse(s))
	}
	return out
}

// SubBatchResponse is one sub-batch and its submission progress
type SubBatchResponse struct {
	ID             string `json:"id"`
	Sequence       int    `json:"sequence"`
	State          string `json:"state"`
	ItemCount      int    `json:"item_count"`
	FeedID         string `json:"feed_id,omitempty"`
	SubmitAttempts int    `json:"submit_attempts"`
	PollAttempts   int    `json:"poll_attempts"`
	LastError      string `json:"last_error,omitempty"`
	SubmittedAt    string `json:"submitted_at,omitempty"`
	CompletedAt    string `json:"completed_at,omitempty"`
}

// BatchResponse is a feed batch with its sub-batches
type BatchResponse struct {
	ID                    string                      `json:"id"`
	ItemCount             int                         `json:"item_count"`
	Settled               bool                        `json:"settled"`
	SubBatches            []SubBatchResponse          `json:"sub_batches"`
	PreSubmissionFailures []feed.PreSubmissionFailure `json:"pre_submission_failures"`
	CreatedAt             string                      `json:"created_at"`
}

func toBatchResponse(b *feed.Batch) BatchResponse {
	resp := BatchResponse{
		ID:                    b.ID.String(),
		ItemCount:             b.ItemCount(),
		Settled:               b.IsSettled(),
		SubBatches:            make([]SubBatchResponse, 0, len(b.SubBatches)),
		PreSubmissionFailures: b.PreSubmissionFailures,
		CreatedAt:             b.CreatedAt.UTC().Format(time.RFC3339),
	}
	if resp.PreSubmissionFailures == nil {
		resp.PreSubmissionFailures = []feed.PreSubmissionFailure{}
	}
	for _, sb := range b.SubBatches {
		resp.SubBatches = append(resp.SubBatches, toSubBatchResponse(sb))
	}
	return resp
}

func toSubBatchResponse(sb *feed.SubBatch) SubBatchResponse {
	return SubBatchResponse{
		ID:             sb.ID.String(),
		Sequence:       sb.Sequence,
		State:          string(sb.State),
		ItemCount:      len(sb.Items),
		FeedID:         sb.FeedID,
		SubmitAttempts: sb.SubmitAttempts,
		PollAttempts:   sb.PollAttempts,
		LastError:      sb.LastError,
		SubmittedAt:    formatTime(sb.SubmittedAt),
		CompletedAt:    formatTime(sb.CompletedAt),
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ReportResponse wraps a BatchReport with its completeness flag
type ReportResponse struct {
	*feed.BatchReport
	Complete bool `json:"complete"`
}

// ImportIdentifiersRequest adds identifiers to the pool
type ImportIdentifiersRequest struct {
	Identifiers []string `json:"identifiers" binding:"required,min=1,max=50000"`
}

// PoolStatsResponse reports identifier pool availability
type PoolStatsResponse struct {
	Available int64 `json:"available"`
}
