package models

import (
	"encoding/json"
	"time"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/google/uuid"
)

// BatchModel is the persistence model for feed.Batch. Sub-batches live in
// their own table so they can be saved one at a time.
type BatchModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	FailuresJSON string    `gorm:"column:pre_submission_failures;not null;default:'[]'"`
	CreatedAt    time.Time `gorm:"not null"`

	SubBatches []SubBatchModel `gorm:"foreignKey:BatchID"`
}

func (BatchModel) TableName() string {
	return "feed_batches"
}

// SubBatchModel is the persistence model for feed.SubBatch
type SubBatchModel struct {
	BaseModel
	BatchID        uuid.UUID `gorm:"type:uuid;not null;index"`
	Sequence       int       `gorm:"not null"`
	State          string    `gorm:"type:varchar(20);not null;index"`
	ItemsJSON      string    `gorm:"column:items;not null"`
	FeedID         string    `gorm:"type:varchar(100);index"`
	ResponseJSON   *string   `gorm:"column:api_response"`
	SubmitAttempts int       `gorm:"not null;default:0"`
	PollAttempts   int       `gorm:"not null;default:0"`
	LastError      string    `gorm:"type:text"`
	SubmittedAt    *time.Time
	CompletedAt    *time.Time
}

func (SubBatchModel) TableName() string {
	return "feed_sub_batches"
}

// BatchModelFromDomain converts a batch header. Sub-batches are converted separately.
func BatchModelFromDomain(b *feed.Batch) (*BatchModel, error) {
	failures := b.PreSubmissionFailures
	if failures == nil {
		failures = []feed.PreSubmissionFailure{}
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return nil, err
	}
	return &BatchModel{ID: b.ID, FailuresJSON: string(data), CreatedAt: b.CreatedAt}, nil
}

// ToDomain converts the batch and any loaded sub-batches
func (m *BatchModel) ToDomain() (*feed.Batch, error) {
	b := &feed.Batch{ID: m.ID, CreatedAt: m.CreatedAt}
	if err := json.Unmarshal([]byte(m.FailuresJSON), &b.PreSubmissionFailures); err != nil {
		return nil, err
	}
	for i := range m.SubBatches {
		sb, err := m.SubBatches[i].ToDomain()
		if err != nil {
			return nil, err
		}
		b.SubBatches = append(b.SubBatches, sb)
	}
	b.SortSubBatches()
	return b, nil
}

// SubBatchModelFromDomain converts a sub-batch including its items and response
func SubBatchModelFromDomain(sb *feed.SubBatch) (*SubBatchModel, error) {
	items, err := json.Marshal(sb.Items)
	if err != nil {
		return nil, err
	}
	m := &SubBatchModel{
		BaseModel:      BaseModel{ID: sb.ID, CreatedAt: sb.CreatedAt, UpdatedAt: sb.UpdatedAt},
		BatchID:        sb.BatchID,
		Sequence:       sb.Sequence,
		State:          string(sb.State),
		ItemsJSON:      string(items),
		FeedID:         sb.FeedID,
		SubmitAttempts: sb.SubmitAttempts,
		PollAttempts:   sb.PollAttempts,
		LastError:      sb.LastError,
		SubmittedAt:    sb.SubmittedAt,
		CompletedAt:    sb.CompletedAt,
	}
	if sb.APIResponse != nil {
		resp, err := json.Marshal(sb.APIResponse)
		if err != nil {
			return nil, err
		}
		s := string(resp)
		m.ResponseJSON = &s
	}
	return m, nil
}

// ToDomain converts the model into a SubBatch
func (m *SubBatchModel) ToDomain() (*feed.SubBatch, error) {
	sb := &feed.SubBatch{
		ID:             m.ID,
		BatchID:        m.BatchID,
		Sequence:       m.Sequence,
		State:          feed.SubBatchState(m.State),
		FeedID:         m.FeedID,
		SubmitAttempts: m.SubmitAttempts,
		PollAttempts:   m.PollAttempts,
		LastError:      m.LastError,
		SubmittedAt:    m.SubmittedAt,
		CompletedAt:    m.CompletedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	var items []listing.MappedItem
	if err := json.Unmarshal([]byte(m.ItemsJSON), &items); err != nil {
		return nil, err
	}
	sb.Items = items
	if m.ResponseJSON != nil {
		sb.APIResponse = &feed.FeedStatusResponse{}
		if err := json.Unmarshal([]byte(*m.ResponseJSON), sb.APIResponse); err != nil {
			return nil, err
		}
	}
	return sb, nil
}

// BatchReportSnapshotModel stores a rendered BatchReport for display
type BatchReportSnapshotModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	BatchID      uuid.UUID `gorm:"type:uuid;not null;index"`
	SuccessCount int       `gorm:"not null"`
	FailureCount int       `gorm:"not null"`
	PendingCount int       `gorm:"not null"`
	ReportJSON   string    `gorm:"column:report;not null"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

func (BatchReportSnapshotModel) TableName() string {
	return "batch_report_snapshots"
}

// BatchReportSnapshotModelFromDomain serialises a report taken at now
func BatchReportSnapshotModelFromDomain(r *feed.BatchReport, now time.Time) (*BatchReportSnapshotModel, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return &BatchReportSnapshotModel{
		ID:           uuid.New(),
		BatchID:      r.BatchID,
		SuccessCount: r.SuccessCount,
		FailureCount: r.FailureCount,
		PendingCount: r.PendingCount,
		ReportJSON:   string(data),
		CreatedAt:    now,
	}, nil
}

func (m *BatchReportSnapshotModel) ToDomain() (*feed.BatchReport, error) {
	r := &feed.BatchReport{}
	if err := json.Unmarshal([]byte(m.ReportJSON), r); err != nil {
		return nil, err
	}
	return r, nil
}
