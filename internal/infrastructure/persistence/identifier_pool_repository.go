package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/erp/feedsync/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxClaimRetries bounds how often ClaimNext retries after losing the race
// for a candidate row on databases without SKIP LOCKED.
const maxClaimRetries = 5

var (
	errAssignedConcurrently = errors.New("identifier assigned concurrently")
	errClaimLost            = errors.New("identifier claimed by another worker")
)

// GormIdentifierPoolRepository implements listing.IdentifierPoolRepository.
// Claims lock the candidate row with FOR UPDATE SKIP LOCKED so concurrent
// workers never receive the same identifier.
type GormIdentifierPoolRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormIdentifierPoolRepository(db *gorm.DB) *GormIdentifierPoolRepository {
	return &GormIdentifierPoolRepository{db: db, now: time.Now}
}

// FindAssignment returns the identifier already bound to the item
func (r *GormIdentifierPoolRepository) FindAssignment(ctx context.Context, sourceItemID uuid.UUID) (*listing.IdentifierAssignment, error) {
	var m models.IdentifierAssignmentModel
	err := r.db.WithContext(ctx).Where("source_item_id = ?", sourceItemID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, listing.ErrAssignmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

// ClaimNext binds the next unused identifier to the item
func (r *GormIdentifierPoolRepository) ClaimNext(ctx context.Context, sourceItemID uuid.UUID) (*listing.IdentifierAssignment, error) {
	for range maxClaimRetries {
		assignment, err := r.claimOnce(ctx, sourceItemID)
		switch {
		case err == nil:
			return assignment, nil
		case errors.Is(err, errAssignedConcurrently):
			return r.FindAssignment(ctx, sourceItemID)
		case errors.Is(err, errClaimLost):
			continue
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("claim identifier for %s: %w", sourceItemID, errClaimLost)
}

func (r *GormIdentifierPoolRepository) claimOnce(ctx context.Context, sourceItemID uuid.UUID) (*listing.IdentifierAssignment, error) {
	var assignment *models.IdentifierAssignmentModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.IdentifierAssignmentModel
		err := tx.Where("source_item_id = ?", sourceItemID).First(&existing).Error
		if err == nil {
			assignment = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var entry models.IdentifierPoolEntryModel
		err = tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("used_by IS NULL").
			Order("created_at, identifier").
			First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return listing.ErrResourceExhausted
		}
		if err != nil {
			return err
		}

		now := r.now().UTC()
		res := tx.Model(&models.IdentifierPoolEntryModel{}).
			Where("identifier = ? AND used_by IS NULL", entry.Identifier).
			Updates(map[string]any{"used_by": sourceItemID, "used_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errClaimLost
		}

		m := &models.IdentifierAssignmentModel{SourceItemID: sourceItemID, Identifier: entry.Identifier, AssignedAt: now}
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(m)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// rolls back the claim so the identifier stays in the pool
			return errAssignedConcurrently
		}
		assignment = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignment.ToDomain(), nil
}

// AddIdentifiers loads identifiers, skipping ones already pooled
func (r *GormIdentifierPoolRepository) AddIdentifiers(ctx context.Context, identifiers []string) (int, error) {
	if len(identifiers) == 0 {
		return 0, nil
	}
	now := r.now().UTC()
	rows := make([]models.IdentifierPoolEntryModel, 0, len(identifiers))
	for _, id := range identifiers {
		rows = append(rows, models.IdentifierPoolEntryModel{Identifier: id, CreatedAt: now})
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, 500)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// CountAvailable counts identifiers not yet claimed
func (r *GormIdentifierPoolRepository) CountAvailable(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.IdentifierPoolEntryModel{}).Where("used_by IS NULL").Count(&n).Error
	return n, err
}
