package listing

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	tripleUnitPattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*[x×*]\s*(\d+(?:[.,]\d+)?)(?:\s*[x×*]\s*(\d+(?:[.,]\d+)?))?\s*([a-z]+\b|")`)
	singleUnitPattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*([a-z]+\b|")`)
	wordPattern       = regexp.MustCompile(`[a-z]+`)
	thousandsPattern  = regexp.MustCompile(`^\d{1,3}(,\d{3})+$`)
)

// Dimension words, keyed by the canonical dimension name.
var dimensionKeywords = map[string][]string{
	"height":   {"height", "high", "tall", "h"},
	"width":    {"width", "wide", "w"},
	"length":   {"length", "long", "l"},
	"depth":    {"depth", "deep", "d"},
	"weight":   {"weight", "weighs", "wt"},
	"diameter": {"diameter", "dia"},
	"volume":   {"volume", "capacity"},
}

// Dimension order of "A x B x C <unit>" notation.
var tripleOrder = []string{"length", "width", "height"}

// UnitTarget describes the attribute a measurement is produced for
type UnitTarget struct {
	// Dimension is the requested dimension, e.g. "height" or "item_weight".
	Dimension    string
	AllowedUnits []string
}

func (t UnitTarget) dimensionKey() string {
	dim := strings.ToLower(t.Dimension)
	for key := range dimensionKeywords {
		if strings.Contains(dim, key) {
			return key
		}
	}
	return ""
}

func (t UnitTarget) family() (UnitFamily, bool) {
	for _, a := range t.AllowedUnits {
		if u, ok := LookupUnit(a); ok {
			return u.Family, true
		}
	}
	switch t.dimensionKey() {
	case "":
		return "", false
	case "weight":
		return FamilyWeight, true
	case "volume":
		return FamilyVolume, true
	default:
		return FamilyLength, true
	}
}

type unitMatch struct {
	value      decimal.Decimal
	unit       Unit
	dimension  string
	start, end int
}

// UnitNormalizer extracts unit-bearing numbers from free text. It never invents
// a unit: detected values are converted or passed through.
type UnitNormalizer struct{}

// NewUnitNormalizer creates a UnitNormalizer
func NewUnitNormalizer() *UnitNormalizer {
	return &UnitNormalizer{}
}

// Normalize returns the measurement for the target, or nil when the text holds
// no usable unit-bearing number or mixed units cannot be attributed to the dimension.
func (n *UnitNormalizer) Normalize(rawText string, target UnitTarget) *Measurement {
	matches := scanUnits(rawText)
	if fam, ok := target.family(); ok {
		filtered := matches[:0]
		for _, m := range matches {
			if m.unit.Family == fam {
				filtered = append(filtered, m)
			}
		}
		matches = filtered
	}
	if len(matches) == 0 {
		return nil
	}

	chosen := adjacentMatch(rawText, matches, target.dimensionKey())
	if chosen == nil {
		if distinctUnits(matches) > 1 {
			return nil
		}
		chosen = &matches[0]
	}

	m := Measurement{Measure: chosen.value, Unit: chosen.unit.Symbol}
	out, ok := m.ConvertToNearest(target.AllowedUnits)
	if !ok {
		return nil
	}
	return &out
}

func scanUnits(text string) []unitMatch {
	var matches []unitMatch
	var spans [][2]int

	for _, loc := range tripleUnitPattern.FindAllStringSubmatchIndex(text, -1) {
		unit, ok := LookupUnit(text[loc[8]:loc[9]])
		if !ok {
			continue
		}
		spans = append(spans, [2]int{loc[0], loc[1]})
		for i := 0; i < 3; i++ {
			s, e := loc[2+2*i], loc[3+2*i]
			if s < 0 {
				continue
			}
			v, ok := parseNumber(text[s:e])
			if !ok {
				continue
			}
			matches = append(matches, unitMatch{value: v, unit: unit, dimension: tripleOrder[i], start: s, end: loc[1]})
		}
	}

	for _, loc := range singleUnitPattern.FindAllStringSubmatchIndex(text, -1) {
		if insideSpan(loc[0], spans) {
			continue
		}
		unit, ok := LookupUnit(text[loc[4]:loc[5]])
		if !ok {
			continue
		}
		v, ok := parseNumber(text[loc[2]:loc[3]])
		if !ok {
			continue
		}
		matches = append(matches, unitMatch{value: v, unit: unit, start: loc[0], end: loc[1]})
	}

	// keep encounter order
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].start < matches[j-1].start; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	return matches
}

func insideSpan(pos int, spans [][2]int) bool {
	for _, s := range spans {
		if pos >= s[0] && pos < s[1] {
			return true
		}
	}
	return false
}

func parseNumber(s string) (decimal.Decimal, bool) {
	if thousandsPattern.MatchString(s) {
		s = strings.ReplaceAll(s, ",", "")
	} else {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func distinctUnits(matches []unitMatch) int {
	seen := make(map[string]struct{})
	for _, m := range matches {
		seen[m.unit.Symbol] = struct{}{}
	}
	return len(seen)
}

// adjacentMatch returns the first match tied to the dimension, either through
// triple notation or a dimension word right before or after the number.
func adjacentMatch(text string, matches []unitMatch, dimension string) *unitMatch {
	if dimension == "" {
		return nil
	}
	keywords := dimensionKeywords[dimension]
	for i := range matches {
		m := &matches[i]
		if m.dimension == dimension {
			return m
		}
		if m.dimension != "" {
			continue
		}
		before := lastWords(beforeContext(text, m.start), 3)
		after := firstWords(afterContext(text, m.end), 2)
		for _, w := range append(before, after...) {
			for _, k := range keywords {
				if w == k {
					return m
				}
			}
		}
	}
	return nil
}

// Context windows stop at clause separators and other numbers.
const contextStops = ",;.\n0123456789"

func beforeContext(text string, start int) string {
	s := text[max(0, start-24):start]
	if i := strings.LastIndexAny(s, contextStops); i >= 0 {
		s = s[i+1:]
	}
	return s
}

func afterContext(text string, end int) string {
	s := text[end:min(len(text), end+16)]
	if i := strings.IndexAny(s, contextStops); i >= 0 {
		s = s[:i]
	}
	return s
}

func lastWords(s string, n int) []string {
	words := wordPattern.FindAllString(strings.ToLower(s), -1)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return words
}

func firstWords(s string, n int) []string {
	words := wordPattern.FindAllString(strings.ToLower(s), -1)
	if len(words) > n {
		words = words[:n]
	}
	return words
}
