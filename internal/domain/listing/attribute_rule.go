package listing

import (
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// SourceKind
// ---------------------------------------------------------------------------

// SourceKind selects how an attribute value is produced
type SourceKind string

const (
	// SourceKindLiteral returns the configured constant verbatim
	SourceKindLiteral SourceKind = "literal"
	// SourceKindFieldRead reads a named field off the source item
	SourceKindFieldRead SourceKind = "field_read"
	// SourceKindDerived mines free text through a named heuristic
	SourceKindDerived SourceKind = "derived"
	// SourceKindTaxonomyEnum validates a produced value against an allowed-value list
	SourceKindTaxonomyEnum SourceKind = "taxonomy_enum"
)

// IsValid returns true if the source kind is valid
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceKindLiteral, SourceKindFieldRead, SourceKindDerived, SourceKindTaxonomyEnum:
		return true
	}
	return false
}

// String returns the string representation
func (k SourceKind) String() string {
	return string(k)
}

// ---------------------------------------------------------------------------
// FieldKind
// ---------------------------------------------------------------------------

// FieldKind is the declared data kind of an attribute value
type FieldKind string

const (
	FieldKindString      FieldKind = "string"
	FieldKindNumber      FieldKind = "number"
	FieldKindBoolean     FieldKind = "boolean"
	FieldKindArray       FieldKind = "array"
	FieldKindMeasurement FieldKind = "measurement"
)

// IsValid returns true if the field kind is valid
func (k FieldKind) IsValid() bool {
	switch k {
	case FieldKindString, FieldKindNumber, FieldKindBoolean, FieldKindArray, FieldKindMeasurement:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// AttributeScope
// ---------------------------------------------------------------------------

// AttributeScope decides which attribute group of a MappedItem receives the value
type AttributeScope string

const (
	// ScopeVisible attributes describe the item within its target category
	ScopeVisible AttributeScope = "visible"
	// ScopeOrderable attributes drive fulfillment and shipping
	ScopeOrderable AttributeScope = "orderable"
)

// ---------------------------------------------------------------------------
// AttributeRule
// ---------------------------------------------------------------------------

// AttributeRule describes how one output attribute is produced
type AttributeRule struct {
	Name       string     `json:"name" validate:"required,max=128"`
	SourceKind SourceKind `json:"source_kind" validate:"required,oneof=literal field_read derived taxonomy_enum"`
	// SourceExpression is the literal constant, the field name or the heuristic name
	// depending on SourceKind.
	SourceExpression string `json:"source_expression" validate:"required_unless=SourceKind literal"`
	// ValueKind produces the value a taxonomy_enum rule validates. Defaults to field_read.
	ValueKind SourceKind     `json:"value_kind,omitempty" validate:"omitempty,oneof=literal field_read derived"`
	FieldKind FieldKind      `json:"field_kind,omitempty" validate:"omitempty,oneof=string number boolean array measurement"`
	Scope     AttributeScope `json:"scope,omitempty" validate:"omitempty,oneof=visible orderable"`
	// Required marks attributes the target schema treats as mandatory.
	Required       bool           `json:"required"`
	FormatOverride FormatOverride `json:"format_override,omitempty" validate:"omitempty,format_override"`
	AllowedValues  []string       `json:"allowed_values,omitempty" validate:"required_if=SourceKind taxonomy_enum"`
	AllowedUnits   []string       `json:"allowed_units,omitempty"`
	// DefaultValue replaces the heuristic's documented default when set.
	DefaultValue string `json:"default_value,omitempty"`
}

// EffectiveScope returns the scope, defaulting to visible
func (r AttributeRule) EffectiveScope() AttributeScope {
	if r.Scope == "" {
		return ScopeVisible
	}
	return r.Scope
}

// EffectiveValueKind returns the inner source kind of a taxonomy_enum rule
func (r AttributeRule) EffectiveValueKind() SourceKind {
	if r.ValueKind == "" {
		return SourceKindFieldRead
	}
	return r.ValueKind
}

// ---------------------------------------------------------------------------
// FormatOverride
// ---------------------------------------------------------------------------

// FormatOverride is an optional output formatting directive.
// Supported forms: upper, lower, title, join:<sep>, unit:<unit>, decimals:<n>.
type FormatOverride string

// Format directive verbs
const (
	FormatUpper    = "upper"
	FormatLower    = "lower"
	FormatTitle    = "title"
	FormatJoin     = "join"
	FormatUnit     = "unit"
	FormatDecimals = "decimals"
)

// Directive splits the override into its verb and argument
func (f FormatOverride) Directive() (verb, arg string) {
	verb, arg, _ = strings.Cut(string(f), ":")
	return strings.ToLower(strings.TrimSpace(verb)), arg
}

// IsValid reports whether the override is a recognised directive
func (f FormatOverride) IsValid() bool {
	if f == "" {
		return true
	}
	verb, arg := f.Directive()
	switch verb {
	case FormatUpper, FormatLower, FormatTitle:
		return arg == ""
	case FormatJoin:
		return true
	case FormatUnit:
		_, ok := LookupUnit(arg)
		return ok
	case FormatDecimals:
		n, err := strconv.Atoi(arg)
		return err == nil && n >= 0 && n <= 6
	}
	return false
}
