package model

import "time"

// AnalysisArtifact is the analysis stage's output for one crawl. The
// reconciler treats the canonical record as source of truth and corrects the
// artifact in place, so every tracked field is addressable by path.
type AnalysisArtifact struct {
	AnalysisID   string  `json:"analysis_id"`
	URL          string  `json:"url"`
	OverallScore float64 `json:"overall_score"`

	Product   ProductSummary    `json:"product"`
	Price     PriceAnalysis     `json:"price_analysis"`
	Review    ReviewAnalysis    `json:"review_analysis"`
	Media     MediaAnalysis     `json:"image_analysis"`
	Content   ContentAnalysis   `json:"description_analysis"`
	Promotion PromotionAnalysis `json:"promotion_analysis"`

	Checklist []ChecklistItem `json:"checklist"`
	CreatedAt time.Time       `json:"created_at"`
}

// ProductSummary carries the identity fields shown at the top of a report.
type ProductSummary struct {
	Name        string `json:"name"`
	ProductCode string `json:"product_code"`
	ShopName    string `json:"shop_name"`
	InStock     bool   `json:"in_stock"`
}

// PriceAnalysis scores pricing posture. DiscountRate is derived from the two
// prices and must be recomputed whenever either is corrected.
type PriceAnalysis struct {
	SalePrice     int64   `json:"sale_price"`
	OriginalPrice int64   `json:"original_price"`
	DiscountRate  int     `json:"discount_rate"`
	Score         float64 `json:"score"`
}

// ReviewAnalysis scores engagement signals.
type ReviewAnalysis struct {
	ReviewCount int     `json:"review_count"`
	Rating      float64 `json:"rating"`
	Score       float64 `json:"score"`
}

// MediaAnalysis scores listing imagery.
type MediaAnalysis struct {
	ImageCount int     `json:"image_count"`
	Score      float64 `json:"score"`
}

// ContentAnalysis scores the description body. Summary is the excerpt shown
// in reports; reconciliation checks it is contained in the extracted text.
type ContentAnalysis struct {
	Summary           string  `json:"summary"`
	DescriptionLength int     `json:"description_length"`
	Score             float64 `json:"score"`
}

// PromotionAnalysis scores promotional attributes.
type PromotionAnalysis struct {
	PointInfo    string  `json:"point_info"`
	CouponInfo   string  `json:"coupon_info"`
	ShippingInfo string  `json:"shipping_info"`
	Score        float64 `json:"score"`
}

// ChecklistItem is one downstream expectation evaluated against the record.
type ChecklistItem struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Field     string `json:"field"` // canonical field the item depends on
	Satisfied bool   `json:"satisfied"`
}

// Artifact field paths addressable by the reconciler.
const (
	PathProductName  = "product.name"
	PathProductCode  = "product.product_code"
	PathShopName     = "product.shop_name"
	PathInStock      = "product.in_stock"
	PathSalePrice    = "price.sale_price"
	PathOrigPrice    = "price.original_price"
	PathDiscountRate = "price.discount_rate"
	PathReviewCount  = "review.review_count"
	PathRating       = "review.rating"
	PathImageCount   = "media.image_count"
	PathSummary      = "content.summary"
	PathPointInfo    = "promotion.point_info"
	PathCouponInfo   = "promotion.coupon_info"
	PathShippingInfo = "promotion.shipping_info"
)

// Field returns the artifact value at a path and whether the path is known.
// Zero values are returned as-is; "present" here means the path exists, not
// that the value is non-zero.
func (a *AnalysisArtifact) Field(path string) (any, bool) {
	switch path {
	case PathProductName:
		return a.Product.Name, true
	case PathProductCode:
		return a.Product.ProductCode, true
	case PathShopName:
		return a.Product.ShopName, true
	case PathInStock:
		return a.Product.InStock, true
	case PathSalePrice:
		return a.Price.SalePrice, true
	case PathOrigPrice:
		return a.Price.OriginalPrice, true
	case PathDiscountRate:
		return a.Price.DiscountRate, true
	case PathReviewCount:
		return a.Review.ReviewCount, true
	case PathRating:
		return a.Review.Rating, true
	case PathImageCount:
		return a.Media.ImageCount, true
	case PathSummary:
		return a.Content.Summary, true
	case PathPointInfo:
		return a.Promotion.PointInfo, true
	case PathCouponInfo:
		return a.Promotion.CouponInfo, true
	case PathShippingInfo:
		return a.Promotion.ShippingInfo, true
	}
	return nil, false
}

// SetField overwrites the artifact value at a path. Values must already be
// the path's native type; the reconciler guarantees this by sourcing them
// from the typed canonical record.
func (a *AnalysisArtifact) SetField(path string, v any) bool {
	switch path {
	case PathProductName:
		a.Product.Name, _ = v.(string)
	case PathProductCode:
		a.Product.ProductCode, _ = v.(string)
	case PathShopName:
		a.Product.ShopName, _ = v.(string)
	case PathInStock:
		a.Product.InStock, _ = v.(bool)
	case PathSalePrice:
		a.Price.SalePrice = toInt64(v)
	case PathOrigPrice:
		a.Price.OriginalPrice = toInt64(v)
	case PathDiscountRate:
		a.Price.DiscountRate = int(toInt64(v))
	case PathReviewCount:
		a.Review.ReviewCount = int(toInt64(v))
	case PathRating:
		a.Review.Rating = toFloat(v)
	case PathImageCount:
		a.Media.ImageCount = int(toInt64(v))
	case PathSummary:
		a.Content.Summary, _ = v.(string)
	case PathPointInfo:
		a.Promotion.PointInfo, _ = v.(string)
	case PathCouponInfo:
		a.Promotion.CouponInfo, _ = v.(string)
	case PathShippingInfo:
		a.Promotion.ShippingInfo, _ = v.(string)
	default:
		return false
	}
	return true
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}
