// Package catalog defines the field catalog (default extraction strategies
// plus plausibility bounds per field) and the versioned tracked-field set
// used by reconciliation. Both load from YAML files and fall back to
// built-in defaults tuned for the marketplace profile.
package catalog

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/shoplens/pipeline-cli/internal/model"
)

// StrategySpec is the YAML shape of one default strategy.
type StrategySpec struct {
	Kind    string `yaml:"kind"`
	Payload string `yaml:"payload"`
}

// FieldSpec configures extraction and plausibility for one canonical field.
type FieldSpec struct {
	Name       string         `yaml:"name"`
	Section    string         `yaml:"section"`
	Multi      bool           `yaml:"multi,omitempty"`    // collect every match, not just the first
	MinLen     int            `yaml:"min_len,omitempty"`  // after trimming
	MaxLen     int            `yaml:"max_len,omitempty"`  // 0 = unbounded
	NumericMin *float64       `yaml:"numeric_min,omitempty"`
	NumericMax *float64       `yaml:"numeric_max,omitempty"`
	Exclude    []string       `yaml:"exclude,omitempty"` // phrases that disqualify a candidate
	Default    any            `yaml:"default,omitempty"` // filled by the normalizer when absent
	Strategies []StrategySpec `yaml:"strategies"`
}

// DefaultStrategies returns the spec's strategies as model values.
func (f FieldSpec) DefaultStrategies() []model.Strategy {
	out := make([]model.Strategy, 0, len(f.Strategies))
	for _, s := range f.Strategies {
		out = append(out, model.Strategy{
			Field:   f.Name,
			Kind:    model.StrategyKind(s.Kind),
			Payload: s.Payload,
		})
	}
	return out
}

// Catalog is the ordered set of fields the extractor works through. Order is
// significant: it fixes the extraction sequence and keeps attempt logs
// deterministic.
type Catalog struct {
	Fields []FieldSpec `yaml:"fields"`

	byName map[string]int
}

// Field returns the spec for a canonical field name.
func (c *Catalog) Field(name string) (FieldSpec, bool) {
	if c.byName == nil {
		c.index()
	}
	i, ok := c.byName[name]
	if !ok {
		return FieldSpec{}, false
	}
	return c.Fields[i], true
}

func (c *Catalog) index() {
	c.byName = make(map[string]int, len(c.Fields))
	for i, f := range c.Fields {
		c.byName[f.Name] = i
	}
}

// Load reads a catalog from a YAML file. An empty path returns the built-in
// default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	var wrapper struct {
		Catalog Catalog `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "catalog: parse")
	}
	cat := &wrapper.Catalog
	if len(cat.Fields) == 0 {
		return nil, eris.Errorf("catalog: %s defines no fields", path)
	}
	for _, f := range cat.Fields {
		for _, s := range f.Strategies {
			switch model.StrategyKind(s.Kind) {
			case model.KindSelector, model.KindPattern, model.KindAttribute:
			default:
				return nil, eris.Errorf("catalog: field %s has unknown strategy kind %q", f.Name, s.Kind)
			}
		}
	}
	cat.index()
	return cat, nil
}

func fptr(v float64) *float64 { return &v }

// excludedBoilerplate lists promotional phrases that must never be mistaken
// for a product name. Mirrors the navigation and campaign chrome the
// marketplace injects around listings.
var excludedBoilerplate = []string{
	"送料無料",
	"クーポン",
	"タイムセール",
	"ポイント還元",
	"ランキング",
	"カテゴリ",
	"ホーム",
	"お知らせ",
	"価格案内",
}

// Default returns the built-in catalog for the marketplace profile.
func Default() *Catalog {
	c := &Catalog{Fields: []FieldSpec{
		{
			Name:    model.FieldProductCode,
			Section: model.SectionIdentity,
			MinLen:  4,
			MaxLen:  20,
			Strategies: []StrategySpec{
				{Kind: "pattern", Payload: `url:[?&]goodscode=(\d+)`},
				{Kind: "pattern", Payload: `url:/g/(\d+)`},
				{Kind: "pattern", Payload: `url:/item/[^/]+/(\d+)`},
				{Kind: "pattern", Payload: `url:#(\d+)$`},
				{Kind: "attribute", Payload: `input[name=goodscode]@value`},
				{Kind: "attribute", Payload: `jsonld:sku`},
				{Kind: "attribute", Payload: `jsonld:productID`},
				{Kind: "attribute", Payload: `meta[property="product:retailer_item_id"]@content`},
			},
		},
		{
			Name:    model.FieldName,
			Section: model.SectionIdentity,
			MinLen:  2,
			MaxLen:  300,
			Exclude: excludedBoilerplate,
			Strategies: []StrategySpec{
				{Kind: "selector", Payload: `h1.prd-name`},
				{Kind: "selector", Payload: `#goods_titlebar h2`},
				{Kind: "selector", Payload: `.goods-detail h1`},
				{Kind: "attribute", Payload: `meta[property="og:title"]@content`},
				{Kind: "attribute", Payload: `jsonld:name`},
				{Kind: "pattern", Payload: `<title>([^|｜<]+)`},
			},
		},
		{
			Name:    model.FieldShopName,
			Section: model.SectionIdentity,
			MinLen:  1,
			MaxLen:  120,
			Strategies: []StrategySpec{
				{Kind: "selector", Payload: `.shop-name a`},
				{Kind: "selector", Payload: `#shop_title`},
				{Kind: "attribute", Payload: `meta[property="og:site_name"]@content`},
			},
		},
		{
			Name:       model.FieldSalePrice,
			Section:    model.SectionPricing,
			NumericMin: fptr(50),
			NumericMax: fptr(10_000_000),
			Strategies: []StrategySpec{
				{Kind: "selector", Payload: `.price-now`},
				{Kind: "selector", Payload: `#goods_price .price`},
				{Kind: "attribute", Payload: `meta[property="product:price:amount"]@content`},
				{Kind: "attribute", Payload: `jsonld:offers.price`},
				{Kind: "pattern", Payload: `販売価格[^0-9０-９]{0,10}([0-9０-９,，]+)`},
			},
		},
		{
			Name:       model.FieldOriginalPrice,
			Section:    model.SectionPricing,
			NumericMin: fptr(50),
			NumericMax: fptr(10_000_000),
			Strategies: []StrategySpec{
				{Kind: "selector", Payload: `.price-was`},
				{Kind: "selector", Payload: `del.price-original`},
				{Kind: "selector", Payload: `#goods_price del`},
				{Kind: "pattern", Payload: `(?:通常価格|定価)[^0-9０-９]{0,10}([0-9０-９,，]+)`},
			},
		},
		{
			Name:       model.FieldReviewCount,
			Section:    model.SectionEngagement,
			NumericMin: fptr(0),
			NumericMax: fptr(10_000_000),
			Strategies: []StrategySpec{
				{Kind: "selector", Payload: `.review-count`},
				{Kind: "selector", Payload: `#review_count`},
				{Kind: "attribute", Payload: `jsonld:aggregateRating.reviewCount`},
				{Kind: "pattern", Payload: `レビュー[^0-9０-９]{0,5}([0-9０-９,，]+)件`},
			},
		},
		{
			Name:       model.FieldRating,
			Section:    model.SectionEngagement,
			NumericMin: fptr(0),
			NumericMax: fptr(5),
			Strategies: []StrategySpec{
				{Kind: "selector", Payload: `.rating-score`},
				{Kind: "attribute", Payload: `meta[itemprop=ratingValue]@content`},
				{Kind: "attribute", Payload: `jsonld:aggregateRating.ratingValue`},
			},
		},
		{
			Name:    model.FieldImages,
			Section: model.SectionMedia,
			Multi:   true,
			Strategies: []StrategySpec{
				{Kind: "attribute", Payload: `#goods_image img@src`},
				{Kind: "attribute", Payload: `.goods-gallery img@src`},
				{Kind: "attribute", Payload: `meta[property="og:image"]@content`},
			},
		},
		{
			Name:    model.FieldDescription,
			Section: model.SectionContent,
			MinLen:  10,
			Strategies: []StrategySpec{
				{Kind: "selector", Payload: `#goods_description`},
				{Kind: "selector", Payload: `.detail-content`},
				{Kind: "attribute", Payload: `meta[name=description]@content`},
			},
		},
		{
			Name:    model.FieldCategories,
			Section: model.SectionContent,
			Multi:   true,
			Strategies: []StrategySpec{
				{Kind: "selector", Payload: `.breadcrumb a`},
				{Kind: "selector", Payload: `#location_navi a`},
			},
		},
		{
			Name:    model.FieldInStock,
			Section: model.SectionPromotion,
			Default: true,
			Strategies: []StrategySpec{
				{Kind: "selector", Payload: `.stock-status`},
				{Kind: "attribute", Payload: `link[itemprop=availability]@href`},
				{Kind: "attribute", Payload: `jsonld:offers.availability`},
			},
		},
		{
			Name:    model.FieldPointInfo,
			Section: model.SectionPromotion,
			MinLen:  2,
			MaxLen:  120,
			Strategies: []StrategySpec{
				{Kind: "selector", Payload: `.point-benefit`},
				{Kind: "selector", Payload: `.qpoint`},
				{Kind: "pattern", Payload: `([0-9０-９]+(?:[.．][0-9０-９]+)?[%％]?ポイント[^<\n]{0,40})`},
			},
		},
		{
			Name:    model.FieldCouponInfo,
			Section: model.SectionPromotion,
			MinLen:  2,
			MaxLen:  120,
			Strategies: []StrategySpec{
				{Kind: "selector", Payload: `.coupon-banner`},
				{Kind: "selector", Payload: `.coupon-info`},
				{Kind: "pattern", Payload: `(クーポン[^<\n]{0,40})`},
			},
		},
		{
			Name:    model.FieldShippingInfo,
			Section: model.SectionPromotion,
			MinLen:  2,
			MaxLen:  120,
			Strategies: []StrategySpec{
				{Kind: "selector", Payload: `.shipping-info`},
				{Kind: "selector", Payload: `.delivery-info`},
				{Kind: "pattern", Payload: `(送料[^<\n]{0,30})`},
			},
		},
	}}
	c.index()
	return c
}
