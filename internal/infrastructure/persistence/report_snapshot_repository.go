package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/feedsync/internal/domain/feed"
	"github.com/erp/feedsync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormReportSnapshotRepository implements feed.ReportSnapshotRepository.
// Every report is appended; FindLatest returns the newest.
type GormReportSnapshotRepository struct {
	db *gorm.DB
}

func NewGormReportSnapshotRepository(db *gorm.DB) *GormReportSnapshotRepository {
	return &GormReportSnapshotRepository{db: db}
}

func (r *GormReportSnapshotRepository) SaveSnapshot(ctx context.Context, report *feed.BatchReport) error {
	m, err := models.BatchReportSnapshotModelFromDomain(report, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("encode report for batch %s: %w", report.BatchID, err)
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *GormReportSnapshotRepository) FindLatest(ctx context.Context, batchID uuid.UUID) (*feed.BatchReport, error) {
	var m models.BatchReportSnapshotModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", feed.ErrReportNotFound, batchID)
	}
	if err != nil {
		return nil, err
	}
	return m.ToDomain()
}
