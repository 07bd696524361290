package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplens/pipeline-cli/internal/model"
)

func TestDefaultTracked(t *testing.T) {
	set := DefaultTracked()

	assert.Equal(t, 3, set.Version)
	assert.Equal(t, 11, set.Total(), "score denominator tracks the field count")
	require.Len(t, set.Checklist, 2)

	// Every artifact path referenced must be addressable.
	art := &model.AnalysisArtifact{}
	for _, f := range set.Fields {
		_, ok := art.Field(f.ArtifactPath)
		assert.True(t, ok, "artifact path %s not addressable", f.ArtifactPath)
	}
}

func TestLoadTracked_EmptyPathReturnsDefault(t *testing.T) {
	set, err := LoadTracked("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTracked().Version, set.Version)
}

func TestLoadTracked_FromYAML(t *testing.T) {
	path := writeYAML(t, `
tracked_fields:
  version: 4
  fields:
    - name: sale_price
      artifact_path: price.sale_price
      comparator: tolerance
      category: price
      tolerance: 2
    - name: name
      artifact_path: product.name
      comparator: contains
      category: identity
  checklist:
    - id: chk_point
      label: ポイント情報
      field: point_info
`)

	set, err := LoadTracked(path)
	require.NoError(t, err)
	assert.Equal(t, 4, set.Version)
	assert.Equal(t, 2, set.Total())
	assert.Equal(t, 2.0, set.Fields[0].Tolerance)
	require.Len(t, set.Checklist, 1)
	assert.Equal(t, "chk_point", set.Checklist[0].ID)
}

func TestLoadTracked_RequiresVersion(t *testing.T) {
	path := writeYAML(t, `
tracked_fields:
  fields:
    - name: sale_price
      artifact_path: price.sale_price
      comparator: exact
      category: price
`)

	_, err := LoadTracked(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
}

func TestLoadTracked_UnknownComparator(t *testing.T) {
	path := writeYAML(t, `
tracked_fields:
  version: 1
  fields:
    - name: sale_price
      artifact_path: price.sale_price
      comparator: fuzzy
      category: price
`)

	_, err := LoadTracked(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown comparator")
}

func TestLoadTracked_UnknownCategory(t *testing.T) {
	path := writeYAML(t, `
tracked_fields:
  version: 1
  fields:
    - name: sale_price
      artifact_path: price.sale_price
      comparator: exact
      category: money
`)

	_, err := LoadTracked(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestLoadTracked_NoFields(t *testing.T) {
	path := writeYAML(t, "tracked_fields:\n  version: 1\n  fields: []\n")
	_, err := LoadTracked(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fields")
}
