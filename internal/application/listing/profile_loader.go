package listing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// profileNamespace keys the ids of file-defined profiles so reseeding upserts
var profileNamespace = uuid.MustParse("6f1c2d1e-5b0a-4c8e-9a57-3f0e7c1d9b42")

type profileFile struct {
	Profiles []profileDoc `yaml:"profiles"`
}

type profileDoc struct {
	Name               string    `yaml:"name"`
	TargetCategoryPath string    `yaml:"target_category_path"`
	SourceCategoryID   string    `yaml:"source_category_id"`
	SourceCategoryIDs  []string  `yaml:"source_category_ids"`
	Rules              []ruleDoc `yaml:"rules"`
}

type ruleDoc struct {
	Name             string   `yaml:"name"`
	SourceKind       string   `yaml:"source_kind"`
	SourceExpression string   `yaml:"source_expression"`
	ValueKind        string   `yaml:"value_kind,omitempty"`
	FieldKind        string   `yaml:"field_kind,omitempty"`
	Scope            string   `yaml:"scope,omitempty"`
	Required         bool     `yaml:"required,omitempty"`
	FormatOverride   string   `yaml:"format_override,omitempty"`
	AllowedValues    []string `yaml:"allowed_values,omitempty"`
	AllowedUnits     []string `yaml:"allowed_units,omitempty"`
	DefaultValue     string   `yaml:"default_value,omitempty"`
}

func (d ruleDoc) toDomain() listing.AttributeRule {
	return listing.AttributeRule{
		Name:             d.Name,
		SourceKind:       listing.SourceKind(d.SourceKind),
		SourceExpression: d.SourceExpression,
		ValueKind:        listing.SourceKind(d.ValueKind),
		FieldKind:        listing.FieldKind(d.FieldKind),
		Scope:            listing.AttributeScope(d.Scope),
		Required:         d.Required,
		FormatOverride:   listing.FormatOverride(d.FormatOverride),
		AllowedValues:    d.AllowedValues,
		AllowedUnits:     d.AllowedUnits,
		DefaultValue:     d.DefaultValue,
	}
}

func (d profileDoc) toDomain() (*listing.CategoryProfile, error) {
	if d.SourceCategoryID != "" && len(d.SourceCategoryIDs) > 0 {
		return nil, fmt.Errorf("%w: %q sets both source_category_id and source_category_ids", listing.ErrProfileInvalid, d.Name)
	}
	rules := make([]listing.AttributeRule, 0, len(d.Rules))
	for _, r := range d.Rules {
		rules = append(rules, r.toDomain())
	}

	var (
		p   *listing.CategoryProfile
		err error
	)
	if len(d.SourceCategoryIDs) > 0 {
		p, err = listing.NewSharedCategoryProfile(d.Name, d.TargetCategoryPath, d.SourceCategoryIDs, rules)
	} else {
		p, err = listing.NewCategoryProfile(d.Name, d.TargetCategoryPath, d.SourceCategoryID, rules)
	}
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", d.Name, err)
	}
	p.ID = uuid.NewSHA1(profileNamespace, []byte(d.Name))
	return p, nil
}

// ProfileLoader reads category profiles from YAML documents and validates them
type ProfileLoader struct {
	validator *ProfileValidator
}

// NewProfileLoader creates a loader checking every profile with validator
func NewProfileLoader(validator *ProfileValidator) *ProfileLoader {
	return &ProfileLoader{validator: validator}
}

// Parse decodes a YAML stream. Each document holds a top-level profiles list.
// Profile names must be unique across the stream.
func (l *ProfileLoader) Parse(r io.Reader) ([]*listing.CategoryProfile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var profiles []*listing.CategoryProfile
	seen := map[string]struct{}{}
	for {
		var f profileFile
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse profiles: %w", err)
		}
		for _, doc := range f.Profiles {
			if _, dup := seen[doc.Name]; dup {
				return nil, fmt.Errorf("%w: duplicate profile name %q", listing.ErrProfileInvalid, doc.Name)
			}
			seen[doc.Name] = struct{}{}

			p, err := doc.toDomain()
			if err != nil {
				return nil, err
			}
			if err := l.validator.Validate(p); err != nil {
				return nil, fmt.Errorf("profile %q: %w", doc.Name, err)
			}
			profiles = append(profiles, p)
		}
	}
	return profiles, nil
}

// LoadFile parses one YAML file
func (l *ProfileLoader) LoadFile(path string) ([]*listing.CategoryProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	profiles, err := l.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return profiles, nil
}

// LoadDir parses every *.yaml and *.yml file in dir, in name order
func (l *ProfileLoader) LoadDir(dir string) ([]*listing.CategoryProfile, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		paths = append(paths, matches...)
	}
	slices.Sort(paths)

	var all []*listing.CategoryProfile
	names := map[string]string{}
	for _, path := range paths {
		profiles, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		for _, p := range profiles {
			if prev, dup := names[p.Name]; dup {
				return nil, fmt.Errorf("%w: profile %q defined in %s and %s", listing.ErrProfileInvalid, p.Name, prev, path)
			}
			names[p.Name] = path
		}
		all = append(all, profiles...)
	}
	return all, nil
}
