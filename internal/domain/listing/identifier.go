package listing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IdentifierAssignment permanently binds a pooled identifier to a source item.
// Assignments are never released back to the pool.
type IdentifierAssignment struct {
	SourceItemID uuid.UUID `json:"source_item_id"`
	Identifier   string    `json:"identifier"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// IdentifierPoolRepository is the persistence port of the identifier pool
type IdentifierPoolRepository interface {
	// FindAssignment returns the existing assignment or ErrAssignmentNotFound.
	FindAssignment(ctx context.Context, sourceItemID uuid.UUID) (*IdentifierAssignment, error)
	// ClaimNext atomically claims one unused identifier for the item, marks it
	// used and persists the assignment. An assignment created concurrently for
	// the same item is returned instead. Returns ErrResourceExhausted when no
	// unused identifier remains.
	ClaimNext(ctx context.Context, sourceItemID uuid.UUID) (*IdentifierAssignment, error)
	// AddIdentifiers loads identifiers into the pool, skipping ones already present.
	AddIdentifiers(ctx context.Context, identifiers []string) (int, error)
	// CountAvailable returns the number of unused identifiers.
	CountAvailable(ctx context.Context) (int64, error)
}

// ValidateGTIN checks length and check digit of a UPC-A, EAN-13 or GTIN-14 code
func ValidateGTIN(code string) error {
	switch len(code) {
	case 12, 13, 14:
	default:
		return fmt.Errorf("%w: %q must have 12, 13 or 14 digits", ErrInvalidIdentifier, code)
	}
	sum := 0
	for i := 0; i < len(code)-1; i++ {
		c := code[i]
		if c < '0' || c > '9' {
			return fmt.Errorf("%w: %q contains non-digits", ErrInvalidIdentifier, code)
		}
		d := int(c - '0')
		// weights alternate 3,1 starting from the digit left of the check digit
		if (len(code)-1-i)%2 == 1 {
			d *= 3
		}
		sum += d
	}
	last := code[len(code)-1]
	if last < '0' || last > '9' {
		return fmt.Errorf("%w: %q contains non-digits", ErrInvalidIdentifier, code)
	}
	if want := (10 - sum%10) % 10; int(last-'0') != want {
		return fmt.Errorf("%w: %q has a bad check digit", ErrInvalidIdentifier, code)
	}
	return nil
}
