package model

import "time"

// Source identifies where a canonical section's data came from.
type Source string

const (
	SourceExtracted Source = "extracted"
	SourceAPI       Source = "api"
	SourceDefault   Source = "default"
)

// Section names keyed in CanonicalRecord.Sources.
const (
	SectionIdentity   = "identity"
	SectionPricing    = "pricing"
	SectionEngagement = "engagement"
	SectionMedia      = "media"
	SectionContent    = "content"
	SectionPromotion  = "promotion"
)

// Canonical field names shared by the catalog, normalizer, and reconciler.
const (
	FieldProductCode   = "product_code"
	FieldName          = "name"
	FieldShopName      = "shop_name"
	FieldSalePrice     = "sale_price"
	FieldOriginalPrice = "original_price"
	FieldDiscountRate  = "discount_rate"
	FieldReviewCount   = "review_count"
	FieldRating        = "rating"
	FieldImageCount    = "image_count"
	FieldImages        = "images"
	FieldDescription   = "description"
	FieldCategories    = "categories"
	FieldInStock       = "in_stock"
	FieldPointInfo     = "point_info"
	FieldCouponInfo    = "coupon_info"
	FieldShippingInfo  = "shipping_info"
)

// RawFieldMap is the extractor's output: raw field name → untyped value.
type RawFieldMap map[string]any

// CanonicalRecord is the normalized output of one crawl. Pointer fields are
// nil when the field is absent; absence is a terminal state, not an error.
// Immutable once produced for a given crawl.
type CanonicalRecord struct {
	CrawlID     string  `json:"crawl_id"`
	URL         string  `json:"url"`
	ProductCode string  `json:"product_code,omitempty"`
	Name        *string `json:"name,omitempty"`
	ShopName    *string `json:"shop_name,omitempty"`

	SalePrice     *int64 `json:"sale_price,omitempty"`     // yen
	OriginalPrice *int64 `json:"original_price,omitempty"` // yen
	DiscountRate  *int   `json:"discount_rate,omitempty"`  // percent, derived

	ReviewCount *int     `json:"review_count,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`

	ImageCount *int     `json:"image_count,omitempty"`
	Images     []string `json:"images,omitempty"`

	Description *string  `json:"description,omitempty"`
	Categories  []string `json:"categories,omitempty"`

	InStock      *bool   `json:"in_stock,omitempty"`
	PointInfo    *string `json:"point_info,omitempty"`
	CouponInfo   *string `json:"coupon_info,omitempty"`
	ShippingInfo *string `json:"shipping_info,omitempty"`

	// Sources maps each section to where its data came from.
	Sources   map[string]Source `json:"sources"`
	CreatedAt time.Time         `json:"created_at"`
}

// Field returns the value of a canonical field by name and whether it is
// present. Pointer fields are dereferenced; empty slices count as absent.
func (r *CanonicalRecord) Field(name string) (any, bool) {
	switch name {
	case FieldProductCode:
		return r.ProductCode, r.ProductCode != ""
	case FieldName:
		return deref(r.Name)
	case FieldShopName:
		return deref(r.ShopName)
	case FieldSalePrice:
		return deref(r.SalePrice)
	case FieldOriginalPrice:
		return deref(r.OriginalPrice)
	case FieldDiscountRate:
		return deref(r.DiscountRate)
	case FieldReviewCount:
		return deref(r.ReviewCount)
	case FieldRating:
		return deref(r.Rating)
	case FieldImageCount:
		return deref(r.ImageCount)
	case FieldImages:
		return r.Images, len(r.Images) > 0
	case FieldDescription:
		return deref(r.Description)
	case FieldCategories:
		return r.Categories, len(r.Categories) > 0
	case FieldInStock:
		return deref(r.InStock)
	case FieldPointInfo:
		return deref(r.PointInfo)
	case FieldCouponInfo:
		return deref(r.CouponInfo)
	case FieldShippingInfo:
		return deref(r.ShippingInfo)
	}
	return nil, false
}

// ToRaw converts the record back into a raw field map keyed by canonical
// names. Re-normalizing the result reproduces the record (minus identity
// metadata), which is what keeps retry paths safe.
func (r *CanonicalRecord) ToRaw() RawFieldMap {
	raw := RawFieldMap{}
	for _, name := range []string{
		FieldProductCode, FieldName, FieldShopName,
		FieldSalePrice, FieldOriginalPrice, FieldDiscountRate,
		FieldReviewCount, FieldRating, FieldImageCount, FieldImages,
		FieldDescription, FieldCategories,
		FieldInStock, FieldPointInfo, FieldCouponInfo, FieldShippingInfo,
	} {
		if v, ok := r.Field(name); ok {
			raw[name] = v
		}
	}
	return raw
}

func deref[T any](p *T) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}
