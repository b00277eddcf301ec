package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/erp/feedsync/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Resolution is the outcome of resolving one attribute rule.
// Present is false when the attribute is omitted from the output.
type Resolution struct {
	Value        any
	Present      bool
	Substitution *listing.Substitution
}

// AttributeValueResolver produces attribute values from a SourceItem.
// Missing optional data degrades to omission; an error is returned only
// when a required attribute cannot be produced at all.
type AttributeValueResolver struct {
	heuristics *listing.HeuristicRegistry
	normalizer *listing.UnitNormalizer
	logger     *zap.Logger
	metrics    *telemetry.FeedMetrics
}

// NewAttributeValueResolver creates a new AttributeValueResolver
func NewAttributeValueResolver(heuristics *listing.HeuristicRegistry, normalizer *listing.UnitNormalizer, logger *zap.Logger) *AttributeValueResolver {
	return &AttributeValueResolver{
		heuristics: heuristics,
		normalizer: normalizer,
		logger:     logger,
	}
}

// WithMetrics sets the metrics recorder
func (r *AttributeValueResolver) WithMetrics(m *telemetry.FeedMetrics) *AttributeValueResolver {
	r.metrics = m
	return r
}

// Resolve resolves a rule against an item
func (r *AttributeValueResolver) Resolve(ctx context.Context, rule listing.AttributeRule, item *listing.SourceItem) (Resolution, error) {
	kind := rule.SourceKind
	if kind == listing.SourceKindTaxonomyEnum {
		kind = rule.EffectiveValueKind()
	}

	value, ok, err := r.resolveSource(kind, rule, item)
	if err != nil {
		return Resolution{}, r.itemError(item, rule, listing.ErrConfiguration, err.Error())
	}

	if ok && rule.SourceKind == listing.SourceKindTaxonomyEnum {
		value, ok = r.matchTaxonomy(item, rule, value)
		if !ok && rule.Required {
			return Resolution{}, r.itemError(item, rule, listing.ErrValidation,
				fmt.Sprintf("value not in allowed list %v", rule.AllowedValues))
		}
	}

	if !ok {
		if !rule.Required {
			return Resolution{}, nil
		}
		return r.substituteDefault(ctx, kind, rule, item)
	}

	formatted, err := applyFormat(rule.FormatOverride, value)
	if err != nil {
		if rule.Required {
			return Resolution{}, r.itemError(item, rule, listing.ErrValidation, err.Error())
		}
		r.logger.Warn("format override failed, attribute omitted",
			zap.String("item_id", item.ID.String()),
			zap.String("attribute", rule.Name),
			zap.Error(err),
		)
		return Resolution{}, nil
	}
	return Resolution{Value: formatted, Present: true}, nil
}

func (r *AttributeValueResolver) resolveSource(kind listing.SourceKind, rule listing.AttributeRule, item *listing.SourceItem) (any, bool, error) {
	switch kind {
	case listing.SourceKindLiteral:
		text := rule.SourceExpression
		if text == "" {
			return nil, false, nil
		}
		v, ok := r.coerce(listing.TextValue(text), rule, item)
		return v, ok, nil

	case listing.SourceKindFieldRead:
		fv, found := item.Field(rule.SourceExpression)
		if !found {
			return nil, false, nil
		}
		v, ok := r.coerce(fv, rule, item)
		return v, ok, nil

	case listing.SourceKindDerived:
		return r.derive(rule, item)
	}
	return nil, false, fmt.Errorf("unsupported source kind %q", kind)
}

// derive mines the item's free text with a heuristic, or with the unit
// normalizer when the rule produces a measurement.
func (r *AttributeValueResolver) derive(rule listing.AttributeRule, item *listing.SourceItem) (any, bool, error) {
	text := strings.Join(item.FreeText(), "\n")

	if rule.FieldKind == listing.FieldKindMeasurement {
		m := r.normalizer.Normalize(text, listing.UnitTarget{
			Dimension:    rule.SourceExpression,
			AllowedUnits: rule.AllowedUnits,
		})
		if m == nil {
			return nil, false, nil
		}
		return *m, true, nil
	}

	h, err := r.heuristics.Get(rule.SourceExpression)
	if err != nil {
		return nil, false, err
	}
	values := h.Extract(text)
	if len(values) == 0 {
		return nil, false, nil
	}
	return heuristicValue(h, rule, values), true, nil
}

// substituteDefault fills a mandatory attribute with its documented default.
// The rule's own default wins over the heuristic's.
func (r *AttributeValueResolver) substituteDefault(ctx context.Context, kind listing.SourceKind, rule listing.AttributeRule, item *listing.SourceItem) (Resolution, error) {
	def := rule.DefaultValue
	var h *listing.Heuristic
	if kind == listing.SourceKindDerived && rule.FieldKind != listing.FieldKindMeasurement {
		h, _ = r.heuristics.Get(rule.SourceExpression)
		if def == "" && h != nil {
			def = h.Default
		}
	}
	if def == "" {
		return Resolution{}, r.itemError(item, rule, listing.ErrValidation, "no source value and no default")
	}

	var (
		value any
		ok    bool
	)
	switch {
	case h != nil:
		value, ok = heuristicValue(h, rule, []string{def}), true
	case rule.FieldKind == listing.FieldKindMeasurement:
		var m *listing.Measurement
		if m = r.normalizer.Normalize(def, listing.UnitTarget{AllowedUnits: rule.AllowedUnits}); m != nil {
			value, ok = *m, true
		}
	default:
		value, ok = r.coerce(listing.TextValue(def), rule, item)
	}
	if ok && rule.SourceKind == listing.SourceKindTaxonomyEnum {
		value, ok = r.matchTaxonomy(item, rule, value)
	}
	if !ok {
		return Resolution{}, r.itemError(item, rule, listing.ErrValidation,
			fmt.Sprintf("default %q cannot be used", def))
	}
	if formatted, err := applyFormat(rule.FormatOverride, value); err == nil {
		value = formatted
	}

	reason := "no source value"
	if kind == listing.SourceKindDerived {
		reason = "no keyword group matched"
	}
	r.logger.Warn("default value substituted",
		zap.String("item_id", item.ID.String()),
		zap.String("sku", item.SKU),
		zap.String("attribute", rule.Name),
		zap.String("value", def),
		zap.String("reason", reason),
	)
	r.metrics.RecordSubstitution(ctx, rule.Name)

	return Resolution{
		Value:   value,
		Present: true,
		Substitution: &listing.Substitution{
			Attribute: rule.Name,
			Value:     def,
			Reason:    reason,
		},
	}, nil
}

func (r *AttributeValueResolver) matchTaxonomy(item *listing.SourceItem, rule listing.AttributeRule, value any) (any, bool) {
	switch v := value.(type) {
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if canonical, ok := listing.MatchAllowedValue(s, rule.AllowedValues); ok {
				out = append(out, canonical)
				continue
			}
			r.logger.Debug("taxonomy value dropped",
				zap.String("item_id", item.ID.String()),
				zap.String("attribute", rule.Name),
				zap.String("value", s),
			)
		}
		return out, len(out) > 0
	default:
		s := fmt.Sprint(v)
		canonical, ok := listing.MatchAllowedValue(s, rule.AllowedValues)
		if !ok {
			r.logger.Debug("taxonomy value not allowed",
				zap.String("item_id", item.ID.String()),
				zap.String("attribute", rule.Name),
				zap.String("value", s),
			)
		}
		return canonical, ok
	}
}

// coerce converts a field value to the rule's declared kind. A value that
// cannot be coerced counts as absent.
func (r *AttributeValueResolver) coerce(fv listing.FieldValue, rule listing.AttributeRule, item *listing.SourceItem) (any, bool) {
	v, err := r.coerceValue(fv, rule)
	if err != nil {
		r.logger.Warn("field coercion failed",
			zap.String("item_id", item.ID.String()),
			zap.String("attribute", rule.Name),
			zap.String("field_kind", string(rule.FieldKind)),
			zap.Error(err),
		)
		return nil, false
	}
	return v, true
}

func (r *AttributeValueResolver) coerceValue(fv listing.FieldValue, rule listing.AttributeRule) (any, error) {
	switch rule.FieldKind {
	case "":
		return nativeValue(fv), nil

	case listing.FieldKindString:
		return fv.String(), nil

	case listing.FieldKindNumber:
		switch fv.Kind {
		case listing.FieldKindNumber:
			return json.Number(fv.Number.String()), nil
		case listing.FieldKindMeasurement:
			return json.Number(fv.Measure.Measure.String()), nil
		case listing.FieldKindString:
			d, err := decimal.NewFromString(strings.TrimSpace(fv.Text))
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a number", listing.ErrFieldCoercion, fv.Text)
			}
			return json.Number(d.String()), nil
		}

	case listing.FieldKindBoolean:
		switch fv.Kind {
		case listing.FieldKindBoolean:
			return fv.Bool, nil
		case listing.FieldKindNumber:
			return !fv.Number.IsZero(), nil
		case listing.FieldKindString:
			return parseBool(fv.Text)
		}

	case listing.FieldKindArray:
		switch fv.Kind {
		case listing.FieldKindArray:
			return fv.List, nil
		case listing.FieldKindString:
			parts := listing.ListValue(strings.Split(fv.Text, ",")).List
			if len(parts) == 0 {
				return nil, fmt.Errorf("%w: empty list", listing.ErrFieldCoercion)
			}
			return parts, nil
		default:
			return []string{fv.String()}, nil
		}

	case listing.FieldKindMeasurement:
		switch fv.Kind {
		case listing.FieldKindMeasurement:
			m, ok := fv.Measure.ConvertToNearest(rule.AllowedUnits)
			if !ok {
				return nil, fmt.Errorf("%w: %s has no allowed unit", listing.ErrFieldCoercion, fv.Measure)
			}
			return m, nil
		case listing.FieldKindString:
			m := r.normalizer.Normalize(fv.Text, listing.UnitTarget{
				Dimension:    rule.SourceExpression,
				AllowedUnits: rule.AllowedUnits,
			})
			if m == nil {
				return nil, fmt.Errorf("%w: no unit-bearing value in %q", listing.ErrFieldCoercion, fv.Text)
			}
			return *m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s to %s", listing.ErrFieldCoercion, fv.Kind, rule.FieldKind)
}

func (r *AttributeValueResolver) itemError(item *listing.SourceItem, rule listing.AttributeRule, kind error, reason string) error {
	return listing.NewItemError(item.ID, item.SKU, kind, reason).WithAttribute(rule.Name)
}

// ---------------------------------------------------------------------------
// Value helpers
// ---------------------------------------------------------------------------

func nativeValue(fv listing.FieldValue) any {
	switch fv.Kind {
	case listing.FieldKindNumber:
		return json.Number(fv.Number.String())
	case listing.FieldKindBoolean:
		return fv.Bool
	case listing.FieldKindArray:
		return fv.List
	case listing.FieldKindMeasurement:
		return *fv.Measure
	}
	return fv.Text
}

func heuristicValue(h *listing.Heuristic, rule listing.AttributeRule, values []string) any {
	switch {
	case rule.FieldKind == listing.FieldKindString:
		return strings.Join(values, ", ")
	case rule.FieldKind == listing.FieldKindArray, h.MultiValued:
		return values
	}
	return values[0]
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, fmt.Errorf("%w: %q is not a boolean", listing.ErrFieldCoercion, s)
	}
	return b, nil
}

var errFormatMismatch = errors.New("format override does not apply to value")

// applyFormat applies a format override to a resolved value
func applyFormat(f listing.FormatOverride, value any) (any, error) {
	if f == "" {
		return value, nil
	}
	verb, arg := f.Directive()

	switch verb {
	case listing.FormatUpper, listing.FormatLower, listing.FormatTitle:
		var c cases.Caser
		switch verb {
		case listing.FormatUpper:
			c = cases.Upper(language.Und)
		case listing.FormatLower:
			c = cases.Lower(language.Und)
		default:
			c = cases.Title(language.Und)
		}
		switch v := value.(type) {
		case string:
			return c.String(v), nil
		case []string:
			out := make([]string, len(v))
			for i, s := range v {
				out[i] = c.String(s)
			}
			return out, nil
		}

	case listing.FormatJoin:
		sep := arg
		if sep == "" {
			sep = ", "
		}
		if v, ok := value.([]string); ok {
			return strings.Join(v, sep), nil
		}
		if v, ok := value.(string); ok {
			return v, nil
		}

	case listing.FormatUnit:
		if m, ok := value.(listing.Measurement); ok {
			return m.ConvertTo(arg)
		}

	case listing.FormatDecimals:
		places, err := strconv.Atoi(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", errFormatMismatch, f)
		}
		switch v := value.(type) {
		case json.Number:
			d, err := decimal.NewFromString(v.String())
			if err != nil {
				return nil, err
			}
			return json.Number(d.StringFixed(int32(places))), nil
		case listing.Measurement:
			return v.Round(int32(places)), nil
		}
	}
	return nil, fmt.Errorf("%w: %q on %T", errFormatMismatch, f, value)
}
