package listing

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// Item failure kinds
	ErrConfiguration     = errors.New("listing: no usable category profile for item")
	ErrValidation        = errors.New("listing: required attribute cannot be produced")
	ErrResourceExhausted = errors.New("listing: identifier pool exhausted")

	// Profile errors
	ErrProfileNotFound   = errors.New("listing: category profile not found")
	ErrProfileInvalid    = errors.New("listing: invalid category profile")
	ErrDuplicateRuleName = errors.New("listing: duplicate attribute rule name")
	ErrUnknownHeuristic  = errors.New("listing: unknown heuristic")
	ErrHeuristicExists   = errors.New("listing: heuristic already registered")

	// Item errors
	ErrItemNotFound       = errors.New("listing: source item not found")
	ErrFieldCoercion      = errors.New("listing: field value cannot be coerced")
	ErrImageUnresolvable  = errors.New("listing: image reference cannot be resolved")
	ErrAssignmentNotFound = errors.New("listing: identifier assignment not found")
	ErrInvalidIdentifier  = errors.New("listing: invalid product identifier")
)

// Failure kind codes as they appear in reports.
const (
	KindConfiguration     = "CONFIGURATION_ERROR"
	KindValidation        = "VALIDATION_ERROR"
	KindResourceExhausted = "RESOURCE_EXHAUSTED"
	KindInternal          = "INTERNAL_ERROR"
)

// ItemError attributes a mapping failure to one item and a reason string.
type ItemError struct {
	ItemID    uuid.UUID
	SKU       string
	Attribute string
	Kind      error
	Reason    string
}

// NewItemError creates an ItemError of the given kind.
func NewItemError(itemID uuid.UUID, sku string, kind error, reason string) *ItemError {
	return &ItemError{
		ItemID: itemID,
		SKU:    sku,
		Kind:   kind,
		Reason: reason,
	}
}

// WithAttribute returns a copy of the error scoped to an attribute.
func (e *ItemError) WithAttribute(name string) *ItemError {
	cp := *e
	cp.Attribute = name
	return &cp
}

// Error implements the error interface
func (e *ItemError) Error() string {
	if e.Attribute != "" {
		return fmt.Sprintf("%v: item %s (sku %q) attribute %q: %s", e.Kind, e.ItemID, e.SKU, e.Attribute, e.Reason)
	}
	return fmt.Sprintf("%v: item %s (sku %q): %s", e.Kind, e.ItemID, e.SKU, e.Reason)
}

// Unwrap exposes the failure kind to errors.Is.
func (e *ItemError) Unwrap() error {
	return e.Kind
}

// Code returns the report code for the failure kind.
func (e *ItemError) Code() string {
	return KindCode(e.Kind)
}

// KindCode maps an error to its report code.
func KindCode(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrProfileNotFound), errors.Is(err, ErrProfileInvalid):
		return KindConfiguration
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	default:
		return KindInternal
	}
}
