package listing

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// CategoryProfile maps source categories to a target marketplace category and
// the ordered rules producing its attributes. Profiles are read-only to the engine.
type CategoryProfile struct {
	ID                 uuid.UUID `json:"id"`
	Name               string    `json:"name" validate:"required,max=200"`
	TargetCategoryPath string    `json:"target_category_path" validate:"required,max=500"`
	// SourceCategoryID is set on direct profiles keyed by exactly one source category.
	SourceCategoryID string `json:"source_category_id,omitempty"`
	// SourceCategoryIDs is set on shared profiles covering several source categories.
	SourceCategoryIDs []string        `json:"source_category_ids,omitempty"`
	Rules             []AttributeRule `json:"rules" validate:"required,min=1,dive"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewCategoryProfile creates a direct profile for one source category
func NewCategoryProfile(name, targetPath, sourceCategoryID string, rules []AttributeRule) (*CategoryProfile, error) {
	p := &CategoryProfile{
		ID:                 uuid.New(),
		Name:               name,
		TargetCategoryPath: targetPath,
		SourceCategoryID:   sourceCategoryID,
		Rules:              rules,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	if err := p.CheckRuleNames(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewSharedCategoryProfile creates a profile applying to a set of source categories
func NewSharedCategoryProfile(name, targetPath string, sourceCategoryIDs []string, rules []AttributeRule) (*CategoryProfile, error) {
	if len(sourceCategoryIDs) == 0 {
		return nil, fmt.Errorf("%w: shared profile needs at least one source category", ErrProfileInvalid)
	}
	p := &CategoryProfile{
		ID:                 uuid.New(),
		Name:               name,
		TargetCategoryPath: targetPath,
		SourceCategoryIDs:  slices.Clone(sourceCategoryIDs),
		Rules:              rules,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
	}
	if err := p.CheckRuleNames(); err != nil {
		return nil, err
	}
	return p, nil
}

// IsShared returns true when the profile covers a set of source categories
func (p *CategoryProfile) IsShared() bool {
	return p.SourceCategoryID == "" && len(p.SourceCategoryIDs) > 0
}

// Covers reports whether the profile applies to the source category
func (p *CategoryProfile) Covers(categoryID string) bool {
	if p.SourceCategoryID != "" {
		return p.SourceCategoryID == categoryID
	}
	return slices.Contains(p.SourceCategoryIDs, categoryID)
}

// CheckRuleNames enforces unique rule names within the profile
func (p *CategoryProfile) CheckRuleNames() error {
	seen := make(map[string]struct{}, len(p.Rules))
	for _, r := range p.Rules {
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateRuleName, r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

// Rule returns the rule with the given name
func (p *CategoryProfile) Rule(name string) (AttributeRule, bool) {
	for _, r := range p.Rules {
		if r.Name == name {
			return r, true
		}
	}
	return AttributeRule{}, false
}

// CategoryProfileRepository is the configuration-store port for category profiles.
// Both lookups return ErrProfileNotFound when nothing matches.
type CategoryProfileRepository interface {
	// FindByCategoryID returns the direct profile keyed by exactly this category.
	FindByCategoryID(ctx context.Context, categoryID string) (*CategoryProfile, error)
	// FindSharedByCategoryID returns a shared profile whose category set contains the id.
	FindSharedByCategoryID(ctx context.Context, categoryID string) (*CategoryProfile, error)
	Save(ctx context.Context, profile *CategoryProfile) error
}
