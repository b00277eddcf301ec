package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var subBatchUpdateColumns = []string{
	"state", "feed_id", "api_response", "submit_attempts", "poll_attempts",
	"last_error", "submitted_at", "completed_at", "updated_at",
}

// GormBatchRepository implements feed.BatchRepository using GORM
type GormBatchRepository struct {
	db *gorm.DB
}

func NewGormBatchRepository(db *gorm.DB) *GormBatchRepository {
	return &GormBatchRepository{db: db}
}

// WithTx returns a repository bound to tx
func (r *GormBatchRepository) WithTx(tx *gorm.DB) *GormBatchRepository {
	return &GormBatchRepository{db: tx}
}

// SaveBatch stores the batch header and every sub-batch in one transaction
func (r *GormBatchRepository) SaveBatch(ctx context.Context, batch *feed.Batch) error {
	header, err := models.BatchModelFromDomain(batch)
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", batch.ID, err)
	}
	subs := make([]*models.SubBatchModel, 0, len(batch.SubBatches))
	for _, sb := range batch.SubBatches {
		m, err := models.SubBatchModelFromDomain(sb)
		if err != nil {
			return fmt.Errorf("encode sub-batch %s: %w", sb.ID, err)
		}
		subs = append(subs, m)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("SubBatches").
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"pre_submission_failures"}),
			}).
			Create(header).Error; err != nil {
			return err
		}
		for _, m := range subs {
			if err := r.WithTx(tx).upsertSubBatch(m); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveSubBatch persists the mutable lifecycle columns of one sub-batch
func (r *GormBatchRepository) SaveSubBatch(ctx context.Context, sb *feed.SubBatch) error {
	m, err := models.SubBatchModelFromDomain(sb)
	if err != nil {
		return fmt.Errorf("encode sub-batch %s: %w", sb.ID, err)
	}
	return r.WithTx(r.db.WithContext(ctx)).upsertSubBatch(m)
}

func (r *GormBatchRepository) upsertSubBatch(m *models.SubBatchModel) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(subBatchUpdateColumns),
	}).Create(m).Error
}

// FindByID loads a batch with its sub-batches in sequence order
func (r *GormBatchRepository) FindByID(ctx context.Context, id uuid.UUID) (*feed.Batch, error) {
	var m models.BatchModel
	err := r.db.WithContext(ctx).
		Preload("SubBatches", func(db *gorm.DB) *gorm.DB { return db.Order("sequence") }).
		Where("id = ?", id).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", feed.ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return m.ToDomain()
}

// FindSubBatch loads one sub-batch
func (r *GormBatchRepository) FindSubBatch(ctx context.Context, id uuid.UUID) (*feed.SubBatch, error) {
	var m models.SubBatchModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", feed.ErrSubBatchNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return m.ToDomain()
}

// FindSubBatchesByState lists sub-batches in any of the states, oldest first
func (r *GormBatchRepository) FindSubBatchesByState(ctx context.Context, states ...feed.SubBatchState) ([]*feed.SubBatch, error) {
	if len(states) == 0 {
		return nil, nil
	}
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	var rows []models.SubBatchModel
	if err := r.db.WithContext(ctx).
		Where("state IN ?", names).
		Order("created_at, sequence").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*feed.SubBatch, 0, len(rows))
	for i := range rows {
		sb, err := rows[i].ToDomain()
		if err != nil {
			return nil, fmt.Errorf("decode sub-batch %s: %w", rows[i].ID, err)
		}
		out = append(out, sb)
	}
	return out, nil
}
