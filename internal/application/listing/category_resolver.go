package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/erp/feedsync/internal/domain/listing"
	"go.uber.org/zap"
)

// CategoryResolver selects the CategoryProfile for an item's source categories
type CategoryResolver struct {
	repo      listing.CategoryProfileRepository
	validator *ProfileValidator
	logger    *zap.Logger
}

// NewCategoryResolver creates a new CategoryResolver
func NewCategoryResolver(repo listing.CategoryProfileRepository, validator *ProfileValidator, logger *zap.Logger) *CategoryResolver {
	return &CategoryResolver{
		repo:      repo,
		validator: validator,
		logger:    logger,
	}
}

// Resolve tries each category id in priority order, primary first. For every
// id a direct profile is preferred over a shared one. The first valid match
// wins; a profile failing validation is skipped in favour of lower-priority
// ids. When nothing usable matches the error wraps ErrConfiguration, and
// ErrProfileInvalid too if an invalid profile was skipped.
func (r *CategoryResolver) Resolve(ctx context.Context, categoryIDs []string) (*listing.CategoryProfile, error) {
	var invalid error
	for _, categoryID := range categoryIDs {
		if strings.TrimSpace(categoryID) == "" {
			continue
		}

		profile, err := r.repo.FindByCategoryID(ctx, categoryID)
		if err != nil && !errors.Is(err, listing.ErrProfileNotFound) {
			return nil, fmt.Errorf("find profile for category %s: %w", categoryID, err)
		}

		if profile == nil {
			profile, err = r.repo.FindSharedByCategoryID(ctx, categoryID)
			if err != nil && !errors.Is(err, listing.ErrProfileNotFound) {
				return nil, fmt.Errorf("find shared profile for category %s: %w", categoryID, err)
			}
			if profile != nil && !profile.Covers(categoryID) {
				r.logger.Warn("shared profile does not cover category",
					zap.String("profile_id", profile.ID.String()),
					zap.String("category_id", categoryID),
				)
				profile = nil
			}
		}

		if profile == nil {
			continue
		}

		if r.validator != nil {
			if err := r.validator.Validate(profile); err != nil {
				r.logger.Warn("skipping invalid category profile",
					zap.String("category_id", categoryID),
					zap.String("profile_id", profile.ID.String()),
					zap.Error(err),
				)
				if invalid == nil {
					invalid = err
				}
				continue
			}
		}

		r.logger.Debug("category profile resolved",
			zap.String("category_id", categoryID),
			zap.String("profile_id", profile.ID.String()),
			zap.Bool("shared", profile.IsShared()),
		)
		return profile, nil
	}

	if invalid != nil {
		return nil, fmt.Errorf("%w: %w", listing.ErrConfiguration, invalid)
	}
	return nil, fmt.Errorf("%w: no profile for categories [%s]", listing.ErrConfiguration, strings.Join(categoryIDs, ", "))
}
