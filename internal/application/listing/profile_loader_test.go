package listing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/erp/feedsync/internal/domain/listing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lampProfilesYAML = `
profiles:
  - name: Table Lamps
    target_category_path: Home > Lighting > Lamps
    source_category_id: table-lamps
    rules:
      - name: style
        source_kind: derived
        source_expression: style
      - name: condition
        source_kind: literal
        scope: orderable
      - name: color
        source_kind: taxonomy_enum
        source_expression: color
        allowed_values: [Black, White, Brass]
        format_override: title
---
profiles:
  - name: Rugs
    target_category_path: Home > Rugs
    source_category_ids: [area-rugs, runner-rugs]
    rules:
      - name: material
        source_kind: derived
        source_expression: material
        field_kind: array
`

func newTestLoader() *ProfileLoader {
	return NewProfileLoader(NewProfileValidator(listing.DefaultHeuristicRegistry()))
}

func TestProfileLoader_Parse(t *testing.T) {
	t.Run("direct and shared profiles across documents", func(t *testing.T) {
		profiles, err := newTestLoader().Parse(strings.NewReader(lampProfilesYAML))
		require.NoError(t, err)
		require.Len(t, profiles, 2)

		lamps := profiles[0]
		assert.Equal(t, "table-lamps", lamps.SourceCategoryID)
		assert.False(t, lamps.IsShared())
		require.Len(t, lamps.Rules, 3)
		assert.Equal(t, listing.SourceKindDerived, lamps.Rules[0].SourceKind)
		assert.Equal(t, listing.ScopeOrderable, lamps.Rules[1].EffectiveScope())
		assert.Equal(t, []string{"Black", "White", "Brass"}, lamps.Rules[2].AllowedValues)
		assert.Equal(t, listing.FormatOverride("title"), lamps.Rules[2].FormatOverride)

		rugs := profiles[1]
		assert.True(t, rugs.IsShared())
		assert.True(t, rugs.Covers("runner-rugs"))
		assert.Equal(t, listing.FieldKindArray, rugs.Rules[0].FieldKind)
	})

	t.Run("ids are stable across loads", func(t *testing.T) {
		first, err := newTestLoader().Parse(strings.NewReader(lampProfilesYAML))
		require.NoError(t, err)
		second, err := newTestLoader().Parse(strings.NewReader(lampProfilesYAML))
		require.NoError(t, err)
		assert.Equal(t, first[0].ID, second[0].ID)
		assert.NotEqual(t, first[0].ID, first[1].ID)
	})

	t.Run("unknown heuristic is rejected", func(t *testing.T) {
		doc := `
profiles:
  - name: Mirrors
    target_category_path: Home > Mirrors
    source_category_id: mirrors
    rules:
      - name: frame
        source_kind: derived
        source_expression: frame_shape
`
		_, err := newTestLoader().Parse(strings.NewReader(doc))
		assert.ErrorIs(t, err, listing.ErrProfileInvalid)
		assert.Contains(t, err.Error(), "frame_shape")
	})

	t.Run("unknown keys are rejected", func(t *testing.T) {
		doc := `
profiles:
  - name: Mirrors
    target_path: Home > Mirrors
`
		_, err := newTestLoader().Parse(strings.NewReader(doc))
		assert.Error(t, err)
	})

	t.Run("both source forms are rejected", func(t *testing.T) {
		doc := `
profiles:
  - name: Mirrors
    target_category_path: Home > Mirrors
    source_category_id: mirrors
    source_category_ids: [wall-mirrors]
    rules:
      - name: condition
        source_kind: literal
`
		_, err := newTestLoader().Parse(strings.NewReader(doc))
		assert.ErrorIs(t, err, listing.ErrProfileInvalid)
	})

	t.Run("duplicate rule names", func(t *testing.T) {
		doc := `
profiles:
  - name: Mirrors
    target_category_path: Home > Mirrors
    source_category_id: mirrors
    rules:
      - name: condition
        source_kind: literal
      - name: condition
        source_kind: literal
`
		_, err := newTestLoader().Parse(strings.NewReader(doc))
		assert.ErrorIs(t, err, listing.ErrDuplicateRuleName)
	})

	t.Run("duplicate profile names", func(t *testing.T) {
		doc := `
profiles:
  - name: Mirrors
    target_category_path: Home > Mirrors
    source_category_id: mirrors
    rules:
      - name: condition
        source_kind: literal
  - name: Mirrors
    target_category_path: Home > Mirrors
    source_category_id: wall-mirrors
    rules:
      - name: condition
        source_kind: literal
`
		_, err := newTestLoader().Parse(strings.NewReader(doc))
		assert.ErrorIs(t, err, listing.ErrProfileInvalid)
	})

	t.Run("empty stream", func(t *testing.T) {
		profiles, err := newTestLoader().Parse(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, profiles)
	})
}

func TestProfileLoader_LoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lighting.yaml"), []byte(lampProfilesYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not yaml"), 0o644))

	profiles, err := newTestLoader().LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, profiles, 2)

	t.Run("names must be unique across files", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "more.yml"), []byte(lampProfilesYAML), 0o644))
		_, err := newTestLoader().LoadDir(dir)
		assert.ErrorIs(t, err, listing.ErrProfileInvalid)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := newTestLoader().LoadFile(filepath.Join(dir, "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
