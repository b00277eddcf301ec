package listing

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// KeywordGroup emits Value when any of its keywords appears as a whole word
type KeywordGroup struct {
	Value    string
	Keywords []string
	patterns []*regexp.Regexp
}

// Group creates a KeywordGroup
func Group(value string, keywords ...string) KeywordGroup {
	return KeywordGroup{Value: value, Keywords: keywords}
}

func (g *KeywordGroup) compile() {
	g.patterns = make([]*regexp.Regexp, 0, len(g.Keywords))
	for _, kw := range g.Keywords {
		g.patterns = append(g.patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(kw)+`\b`))
	}
}

func (g *KeywordGroup) matches(text string) bool {
	for _, p := range g.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Heuristic mines free text with an ordered list of keyword groups.
// Single-valued heuristics stop at the first matching group; multi-valued ones
// collect every matching group in order.
type Heuristic struct {
	Name        string
	MultiValued bool
	// Default is the documented value substituted for mandatory attributes when nothing matches.
	Default string
	Groups  []KeywordGroup
}

// NewHeuristic creates a heuristic and compiles its keyword patterns
func NewHeuristic(name string, multiValued bool, defaultValue string, groups ...KeywordGroup) *Heuristic {
	h := &Heuristic{
		Name:        name,
		MultiValued: multiValued,
		Default:     defaultValue,
		Groups:      groups,
	}
	for i := range h.Groups {
		h.Groups[i].compile()
	}
	return h
}

// Extract returns the matched values in group order, or nil when nothing matches
func (h *Heuristic) Extract(texts ...string) []string {
	text := strings.Join(texts, "\n")
	var out []string
	seen := make(map[string]struct{})
	for i := range h.Groups {
		g := &h.Groups[i]
		if !g.matches(text) {
			continue
		}
		if _, dup := seen[g.Value]; dup {
			continue
		}
		seen[g.Value] = struct{}{}
		out = append(out, g.Value)
		if !h.MultiValued {
			break
		}
	}
	return out
}

// HeuristicRegistry maps heuristic names to extractors
type HeuristicRegistry struct {
	mu         sync.RWMutex
	heuristics map[string]*Heuristic
}

// NewHeuristicRegistry creates an empty registry
func NewHeuristicRegistry() *HeuristicRegistry {
	return &HeuristicRegistry{heuristics: make(map[string]*Heuristic)}
}

// Register adds a heuristic
func (r *HeuristicRegistry) Register(h *Heuristic) error {
	if h == nil || h.Name == "" {
		return fmt.Errorf("%w: heuristic must have a name", ErrProfileInvalid)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.heuristics[h.Name]; exists {
		return fmt.Errorf("%w: %s", ErrHeuristicExists, h.Name)
	}
	r.heuristics[h.Name] = h
	return nil
}

// Get returns a heuristic by name
func (r *HeuristicRegistry) Get(name string) (*Heuristic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.heuristics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHeuristic, name)
	}
	return h, nil
}

// Has reports whether a heuristic is registered
func (r *HeuristicRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.heuristics[name]
	return ok
}

// Names returns the registered heuristic names, sorted
func (r *HeuristicRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.heuristics))
	for n := range r.heuristics {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultHeuristicRegistry returns a registry with the built-in home-goods extractors
func DefaultHeuristicRegistry() *HeuristicRegistry {
	r := NewHeuristicRegistry()
	for _, h := range builtinHeuristics() {
		_ = r.Register(h)
	}
	return r
}

func builtinHeuristics() []*Heuristic {
	return []*Heuristic{
		NewHeuristic("style", false, "Contemporary",
			Group("Mid-Century Modern", "mid-century", "mid century", "midcentury", "retro"),
			Group("Industrial", "industrial", "pipe", "factory"),
			Group("Farmhouse", "farmhouse", "barn door", "shiplap"),
			Group("Rustic", "rustic", "reclaimed", "distressed"),
			Group("Coastal", "coastal", "nautical", "beach"),
			Group("Bohemian", "boho", "bohemian", "macrame"),
			Group("Scandinavian", "scandinavian", "nordic", "hygge"),
			Group("Traditional", "traditional", "classic", "victorian", "ornate"),
			Group("Modern", "modern", "minimalist", "sleek"),
		),
		NewHeuristic("size_class", false, "Medium",
			Group("Oversized", "oversized", "extra large", "xl", "king"),
			Group("Large", "large", "big", "queen"),
			Group("Small", "small", "mini", "compact", "petite"),
			Group("Medium", "medium", "standard", "regular"),
		),
		NewHeuristic("material", true, "Mixed Materials",
			Group("Solid Wood", "solid wood", "oak", "walnut", "teak", "pine", "maple", "acacia"),
			Group("Engineered Wood", "mdf", "particleboard", "plywood", "engineered wood"),
			Group("Metal", "metal", "steel", "iron", "aluminum", "aluminium"),
			Group("Glass", "glass", "tempered glass"),
			Group("Fabric", "fabric", "linen", "cotton", "velvet", "polyester"),
			Group("Leather", "leather", "faux leather"),
			Group("Stone", "marble", "granite", "stone", "travertine"),
			Group("Ceramic", "ceramic", "porcelain", "stoneware"),
			Group("Plastic", "plastic", "acrylic", "resin"),
			Group("Rattan", "rattan", "wicker", "bamboo"),
		),
		NewHeuristic("color", true, "Multicolor",
			Group("Black", "black", "ebony"),
			Group("White", "white", "snow"),
			Group("Gray", "gray", "grey", "charcoal"),
			Group("Brown", "brown", "espresso", "chocolate"),
			Group("Beige", "beige", "cream", "ivory", "tan"),
			Group("Blue", "blue", "navy", "teal"),
			Group("Green", "green", "olive", "sage"),
			Group("Red", "red", "burgundy", "maroon"),
			Group("Gold", "gold", "brass"),
			Group("Silver", "silver", "chrome", "nickel"),
		),
		NewHeuristic("room", true, "Living Room",
			Group("Living Room", "living room", "sofa", "couch", "lounge"),
			Group("Bedroom", "bedroom", "nightstand", "dresser", "headboard"),
			Group("Dining Room", "dining"),
			Group("Kitchen", "kitchen", "bar stool", "pantry"),
			Group("Office", "office", "desk", "study"),
			Group("Bathroom", "bathroom", "vanity"),
			Group("Outdoor", "outdoor", "patio", "garden"),
			Group("Entryway", "entryway", "hallway", "foyer"),
		),
	}
}
