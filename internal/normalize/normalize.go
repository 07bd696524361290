// Package normalize maps raw extractor output onto the canonical record:
// field renames, numeric coercion, range demotion, defaults, and derived
// values. Normalization is pure and idempotent; it may run more than once on
// the same data in retry paths, so canonical output always re-normalizes to
// itself.
package normalize

import (
	"strings"

	"go.uber.org/zap"

	"github.com/shoplens/pipeline-cli/internal/catalog"
	"github.com/shoplens/pipeline-cli/internal/jptext"
	"github.com/shoplens/pipeline-cli/internal/model"
)

// renames maps raw field names onto canonical ones. Canonical names map to
// themselves so already-canonical maps pass through unchanged. The aliases
// cover the marketplace crawler's historical output names.
var renames = map[string]string{
	model.FieldProductCode:   model.FieldProductCode,
	model.FieldName:          model.FieldName,
	model.FieldShopName:      model.FieldShopName,
	model.FieldSalePrice:     model.FieldSalePrice,
	model.FieldOriginalPrice: model.FieldOriginalPrice,
	model.FieldDiscountRate:  model.FieldDiscountRate,
	model.FieldReviewCount:   model.FieldReviewCount,
	model.FieldRating:        model.FieldRating,
	model.FieldImageCount:    model.FieldImageCount,
	model.FieldImages:        model.FieldImages,
	model.FieldDescription:   model.FieldDescription,
	model.FieldCategories:    model.FieldCategories,
	model.FieldInStock:       model.FieldInStock,
	model.FieldPointInfo:     model.FieldPointInfo,
	model.FieldCouponInfo:    model.FieldCouponInfo,
	model.FieldShippingInfo:  model.FieldShippingInfo,

	"goods_code":    model.FieldProductCode,
	"goodscode":     model.FieldProductCode,
	"product_name":  model.FieldName,
	"title":         model.FieldName,
	"seller":        model.FieldShopName,
	"shop":          model.FieldShopName,
	"price":         model.FieldSalePrice,
	"current_price": model.FieldSalePrice,
	"regular_price": model.FieldOriginalPrice,
	"list_price":    model.FieldOriginalPrice,
	"reviews":       model.FieldReviewCount,
	"rating_value":  model.FieldRating,
	"detail_images": model.FieldImages,
	"image_urls":    model.FieldImages,
	"category":      model.FieldCategories,
	"breadcrumbs":   model.FieldCategories,
	"stock":         model.FieldInStock,
	"availability":  model.FieldInStock,
	"qpoint":        model.FieldPointInfo,
	"point":         model.FieldPointInfo,
	"coupon":        model.FieldCouponInfo,
	"shipping":      model.FieldShippingInfo,
	"delivery":      model.FieldShippingInfo,
}

// Normalizer applies the canonical mapping using the catalog's declared
// ranges and defaults.
type Normalizer struct {
	catalog *catalog.Catalog
}

// New returns a Normalizer over the given catalog.
func New(cat *catalog.Catalog) *Normalizer {
	return &Normalizer{catalog: cat}
}

// Normalize maps a raw field map onto a canonical record. Unknown fields are
// dropped; out-of-range numerics are demoted to absent; declared defaults
// fill absent optionals; the discount rate is recomputed from the two prices
// whenever both are present. Identity metadata (crawl id, url, timestamps)
// is the caller's to fill.
func (n *Normalizer) Normalize(raw model.RawFieldMap) *model.CanonicalRecord {
	canon := make(model.RawFieldMap, len(raw))
	for key, value := range raw {
		name, ok := renames[key]
		if !ok {
			zap.L().Debug("normalize: dropping unknown field", zap.String("field", key))
			continue
		}
		canon[name] = value
	}

	rec := &model.CanonicalRecord{}
	rec.ProductCode = toCode(canon[model.FieldProductCode])
	rec.Name = toText(canon[model.FieldName])
	rec.ShopName = toText(canon[model.FieldShopName])

	rec.SalePrice = n.toYen(model.FieldSalePrice, canon[model.FieldSalePrice])
	rec.OriginalPrice = n.toYen(model.FieldOriginalPrice, canon[model.FieldOriginalPrice])
	rec.DiscountRate = deriveDiscount(rec.SalePrice, rec.OriginalPrice, canon[model.FieldDiscountRate])

	rec.ReviewCount = n.toCount(model.FieldReviewCount, canon[model.FieldReviewCount])
	rec.Rating = n.toScore(model.FieldRating, canon[model.FieldRating])

	rec.Images = toStrings(canon[model.FieldImages])
	rec.ImageCount = deriveImageCount(rec.Images, canon[model.FieldImageCount])

	rec.Description = toText(canon[model.FieldDescription])
	rec.Categories = toStrings(canon[model.FieldCategories])

	rec.InStock = toFlag(canon[model.FieldInStock])
	rec.PointInfo = toText(canon[model.FieldPointInfo])
	rec.CouponInfo = toText(canon[model.FieldCouponInfo])
	rec.ShippingInfo = toText(canon[model.FieldShippingInfo])

	n.fillDefaults(rec)
	rec.Sources = n.tagSources(rec)
	return rec
}

// fillDefaults applies catalog-declared defaults to absent optional fields.
func (n *Normalizer) fillDefaults(rec *model.CanonicalRecord) {
	for _, spec := range n.catalog.Fields {
		if spec.Default == nil {
			continue
		}
		if _, present := rec.Field(spec.Name); present {
			continue
		}
		switch spec.Name {
		case model.FieldInStock:
			rec.InStock = toFlag(spec.Default)
		case model.FieldPointInfo:
			rec.PointInfo = toText(spec.Default)
		case model.FieldCouponInfo:
			rec.CouponInfo = toText(spec.Default)
		case model.FieldShippingInfo:
			rec.ShippingInfo = toText(spec.Default)
		case model.FieldDescription:
			rec.Description = toText(spec.Default)
		}
	}
}

// tagSources labels each section. A section whose present fields all sit at
// their declared defaults is tagged "default"; this keeps the tag a pure
// function of the values, so re-normalizing canonical output reproduces it.
// The api tag is applied later by the market item merge, never here.
func (n *Normalizer) tagSources(rec *model.CanonicalRecord) map[string]model.Source {
	sections := map[string][]string{
		model.SectionIdentity:   {model.FieldProductCode, model.FieldName, model.FieldShopName},
		model.SectionPricing:    {model.FieldSalePrice, model.FieldOriginalPrice, model.FieldDiscountRate},
		model.SectionEngagement: {model.FieldReviewCount, model.FieldRating},
		model.SectionMedia:      {model.FieldImageCount, model.FieldImages},
		model.SectionContent:    {model.FieldDescription, model.FieldCategories},
		model.SectionPromotion:  {model.FieldInStock, model.FieldPointInfo, model.FieldCouponInfo, model.FieldShippingInfo},
	}

	sources := make(map[string]model.Source, len(sections))
	for section, fields := range sections {
		source := model.SourceDefault
		for _, field := range fields {
			value, present := rec.Field(field)
			if !present {
				continue
			}
			if !n.isDefaultValue(field, value) {
				source = model.SourceExtracted
				break
			}
		}
		sources[section] = source
	}
	return sources
}

func (n *Normalizer) isDefaultValue(field string, value any) bool {
	spec, ok := n.catalog.Field(field)
	if !ok || spec.Default == nil {
		return false
	}
	switch want := spec.Default.(type) {
	case bool:
		got, ok := value.(bool)
		return ok && got == want
	case string:
		got, ok := value.(string)
		return ok && got == want
	}
	return false
}

// deriveDiscount recomputes the discount percentage from the two prices. The
// derived value always wins over a raw one; a raw value survives only when a
// price is missing and it sits in 0..100.
func deriveDiscount(sale, original *int64, raw any) *int {
	if sale != nil && original != nil && *original > *sale {
		d := int(float64(*original-*sale) / float64(*original) * 100)
		return &d
	}
	if sale != nil && original != nil {
		// Both present but no markdown: explicitly zero.
		d := 0
		return &d
	}
	if f, ok := toFloat(raw); ok && f >= 0 && f <= 100 {
		d := int(f)
		return &d
	}
	return nil
}

// deriveImageCount prefers counting the actual image list.
func deriveImageCount(images []string, raw any) *int {
	if len(images) > 0 {
		c := len(images)
		return &c
	}
	if f, ok := toFloat(raw); ok && f >= 0 {
		c := int(f)
		return &c
	}
	return nil
}

func (n *Normalizer) toYen(field string, v any) *int64 {
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	if !n.inRange(field, f) {
		zap.L().Debug("normalize: value out of range, dropping",
			zap.String("field", field), zap.Float64("value", f))
		return nil
	}
	y := int64(f)
	return &y
}

func (n *Normalizer) toCount(field string, v any) *int {
	f, ok := toFloat(v)
	if !ok || !n.inRange(field, f) {
		return nil
	}
	c := int(f)
	return &c
}

func (n *Normalizer) toScore(field string, v any) *float64 {
	f, ok := toFloat(v)
	if !ok || !n.inRange(field, f) {
		return nil
	}
	return &f
}

func (n *Normalizer) inRange(field string, f float64) bool {
	spec, ok := n.catalog.Field(field)
	if !ok {
		return true
	}
	if spec.NumericMin != nil && f < *spec.NumericMin {
		return false
	}
	if spec.NumericMax != nil && f > *spec.NumericMax {
		return false
	}
	return true
}

// toFloat coerces numeric-looking values: typed numbers pass through,
// strings go through full-width narrowing and currency stripping.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, false
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		return jptext.ParseNumber(t)
	}
	return 0, false
}

func toCode(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(jptext.Narrow(s))
}

func toText(v any) *string {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func toStrings(v any) []string {
	var items []string
	switch t := v.(type) {
	case []string:
		items = t
	case []any:
		for _, el := range t {
			if s, ok := el.(string); ok {
				items = append(items, s)
			}
		}
	case string:
		if t != "" {
			items = []string{t}
		}
	}

	var out []string
	seen := make(map[string]bool)
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

// toFlag interprets stock signals: booleans pass through, marketplace stock
// phrases and schema.org availability URLs map to true/false, anything else
// is absent.
func toFlag(v any) *bool {
	switch t := v.(type) {
	case bool:
		b := t
		return &b
	case string:
		s := strings.ToLower(jptext.Narrow(strings.TrimSpace(t)))
		switch {
		case s == "":
			return nil
		case strings.Contains(s, "outofstock") || strings.Contains(s, "soldout"):
			return flag(false)
		case strings.Contains(s, "instock") || strings.Contains(s, "in_stock"):
			return flag(true)
		case strings.Contains(t, "在庫あり") || strings.Contains(t, "販売中"):
			return flag(true)
		case strings.Contains(t, "売り切れ") || strings.Contains(t, "在庫なし") || strings.Contains(t, "品切れ") || strings.Contains(t, "販売終了"):
			return flag(false)
		case s == "true" || s == "1" || s == "yes":
			return flag(true)
		case s == "false" || s == "0" || s == "no":
			return flag(false)
		}
		return nil
	}
	return nil
}

func flag(b bool) *bool { return &b }
