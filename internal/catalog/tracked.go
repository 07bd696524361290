package catalog

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/shoplens/pipeline-cli/internal/model"
)

// Comparator selects how a tracked field's two values are compared.
type Comparator string

const (
	CompareExact     Comparator = "exact"     // identifiers, booleans
	CompareTolerance Comparator = "tolerance" // numerics, absorbs rounding
	CompareContains  Comparator = "contains"  // long text, substring either way
)

// Category drives the fixed severity policy for mismatches.
type Category string

const (
	CategoryIdentity Category = "identity"
	CategoryPrice    Category = "price"
	CategoryCount    Category = "count"
	CategoryFlag     Category = "flag"
	CategoryText     Category = "text"
)

// TrackedField declares one reconciliation comparison: which canonical field,
// where it lives in the analysis artifact, and how to compare.
type TrackedField struct {
	Name         string     `yaml:"name"`
	ArtifactPath string     `yaml:"artifact_path"`
	Comparator   Comparator `yaml:"comparator"`
	Category     Category   `yaml:"category"`
	Tolerance    float64    `yaml:"tolerance,omitempty"` // absolute, tolerance comparator only
}

// ChecklistSpec declares one downstream expectation evaluated against the
// canonical record.
type ChecklistSpec struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
	Field string `yaml:"field"`
}

// TrackedSet is the versioned tracked-field configuration. The version and
// field count are recorded on every ValidationResult so the score denominator
// is always attributable to a specific revision of this set.
type TrackedSet struct {
	Version   int             `yaml:"version"`
	Fields    []TrackedField  `yaml:"fields"`
	Checklist []ChecklistSpec `yaml:"checklist,omitempty"`
}

// Total is the score denominator: the number of tracked fields in this
// version of the set.
func (t *TrackedSet) Total() int { return len(t.Fields) }

// LoadTracked reads a tracked-field set from a YAML file. An empty path
// returns the built-in default set.
func LoadTracked(path string) (*TrackedSet, error) {
	if path == "" {
		return DefaultTracked(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read tracked set %s", path)
	}
	var wrapper struct {
		Tracked TrackedSet `yaml:"tracked_fields"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "catalog: parse tracked set")
	}
	set := &wrapper.Tracked
	if set.Version <= 0 {
		return nil, eris.Errorf("catalog: tracked set %s must declare a positive version", path)
	}
	if len(set.Fields) == 0 {
		return nil, eris.Errorf("catalog: tracked set %s defines no fields", path)
	}
	for _, f := range set.Fields {
		switch f.Comparator {
		case CompareExact, CompareTolerance, CompareContains:
		default:
			return nil, eris.Errorf("catalog: tracked field %s has unknown comparator %q", f.Name, f.Comparator)
		}
		switch f.Category {
		case CategoryIdentity, CategoryPrice, CategoryCount, CategoryFlag, CategoryText:
		default:
			return nil, eris.Errorf("catalog: tracked field %s has unknown category %q", f.Name, f.Category)
		}
	}
	return set, nil
}

// DefaultTracked returns the built-in tracked-field set.
func DefaultTracked() *TrackedSet {
	return &TrackedSet{
		Version: 3,
		Fields: []TrackedField{
			{Name: model.FieldName, ArtifactPath: model.PathProductName, Comparator: CompareContains, Category: CategoryIdentity},
			{Name: model.FieldProductCode, ArtifactPath: model.PathProductCode, Comparator: CompareExact, Category: CategoryIdentity},
			{Name: model.FieldShopName, ArtifactPath: model.PathShopName, Comparator: CompareContains, Category: CategoryIdentity},
			{Name: model.FieldSalePrice, ArtifactPath: model.PathSalePrice, Comparator: CompareTolerance, Category: CategoryPrice},
			{Name: model.FieldOriginalPrice, ArtifactPath: model.PathOrigPrice, Comparator: CompareTolerance, Category: CategoryPrice},
			{Name: model.FieldDiscountRate, ArtifactPath: model.PathDiscountRate, Comparator: CompareTolerance, Category: CategoryPrice, Tolerance: 1},
			{Name: model.FieldReviewCount, ArtifactPath: model.PathReviewCount, Comparator: CompareTolerance, Category: CategoryCount},
			{Name: model.FieldRating, ArtifactPath: model.PathRating, Comparator: CompareTolerance, Category: CategoryCount, Tolerance: 0.05},
			{Name: model.FieldImageCount, ArtifactPath: model.PathImageCount, Comparator: CompareTolerance, Category: CategoryCount},
			{Name: model.FieldInStock, ArtifactPath: model.PathInStock, Comparator: CompareExact, Category: CategoryFlag},
			{Name: model.FieldDescription, ArtifactPath: model.PathSummary, Comparator: CompareContains, Category: CategoryText},
		},
		Checklist: []ChecklistSpec{
			{ID: "chk_point", Label: "ポイント情報", Field: model.FieldPointInfo},
			{ID: "chk_coupon", Label: "クーポン情報", Field: model.FieldCouponInfo},
		},
	}
}
