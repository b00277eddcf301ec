package listing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/go-playground/validator/v10"
)

// ProfileValidator checks category profiles before they are used for mapping
type ProfileValidator struct {
	validate   *validator.Validate
	heuristics *listing.HeuristicRegistry
}

// NewProfileValidator creates a validator that knows the registered heuristics
func NewProfileValidator(heuristics *listing.HeuristicRegistry) *ProfileValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("format_override", func(fl validator.FieldLevel) bool {
		return listing.FormatOverride(fl.Field().String()).IsValid()
	})
	return &ProfileValidator{validate: v, heuristics: heuristics}
}

// Validate returns ErrProfileInvalid describing every problem found
func (v *ProfileValidator) Validate(profile *listing.CategoryProfile) error {
	var problems []string

	if err := v.validate.Struct(profile); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}
	if profile.SourceCategoryID == "" && len(profile.SourceCategoryIDs) == 0 {
		problems = append(problems, "profile declares no source category")
	}
	if err := profile.CheckRuleNames(); err != nil {
		problems = append(problems, err.Error())
	}

	for _, rule := range profile.Rules {
		if msg := v.checkRuleSource(rule); msg != "" {
			problems = append(problems, fmt.Sprintf("rule %q: %s", rule.Name, msg))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: profile %s: %s", listing.ErrProfileInvalid, profile.ID, strings.Join(problems, "; "))
	}
	return nil
}

// checkRuleSource verifies derived rules name a heuristic the registry knows.
// Measurement rules name a dimension instead.
func (v *ProfileValidator) checkRuleSource(rule listing.AttributeRule) string {
	kind := rule.SourceKind
	if kind == listing.SourceKindTaxonomyEnum {
		kind = rule.EffectiveValueKind()
	}
	if kind != listing.SourceKindDerived || rule.FieldKind == listing.FieldKindMeasurement {
		return ""
	}
	if v.heuristics == nil || !v.heuristics.Has(rule.SourceExpression) {
		return fmt.Sprintf("%v %q", listing.ErrUnknownHeuristic, rule.SourceExpression)
	}
	return ""
}
