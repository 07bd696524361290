// Package analyze builds analysis artifacts locally. It is the default
// analyzer wired into the pipeline when no external analysis service is
// configured: section scores are deterministic functions of the canonical
// record and page stats, so the same crawl always produces the same artifact.
package analyze

import (
	"bytes"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/shoplens/pipeline-cli/internal/catalog"
	"github.com/shoplens/pipeline-cli/internal/model"
)

// summaryRunes caps the description excerpt carried on the artifact. The
// excerpt is a prefix of the extracted text so substring comparison against
// the canonical description holds.
const summaryRunes = 120

// DocStats carries page-level signals the canonical record does not retain.
type DocStats struct {
	HTMLBytes  int  // fetched body length
	DivClasses int  // distinct div class names on the page
	Structured bool // page uses list or line-break markup
}

// StatsFromHTML derives DocStats from a fetched page body. A body that fails
// to parse yields zero stats, which scores the same as a missing page.
func StatsFromHTML(body []byte) DocStats {
	stats := DocStats{HTMLBytes: len(body)}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return stats
	}
	classes := map[string]struct{}{}
	doc.Find("div[class]").Each(func(_ int, s *goquery.Selection) {
		if c, ok := s.Attr("class"); ok {
			classes[c] = struct{}{}
		}
	})
	stats.DivClasses = len(classes)
	stats.Structured = doc.Find("br, li").Length() > 0
	return stats
}

// Builder scores canonical records into analysis artifacts.
type Builder struct {
	tracked *catalog.TrackedSet
}

func New(tracked *catalog.TrackedSet) *Builder {
	return &Builder{tracked: tracked}
}

// Build produces the artifact for one crawl. Absent record fields score as
// zero signals; the checklist is evaluated against record presence.
func (b *Builder) Build(rec *model.CanonicalRecord, stats DocStats) *model.AnalysisArtifact {
	art := &model.AnalysisArtifact{
		AnalysisID: uuid.NewString(),
		URL:        rec.URL,
		Product: model.ProductSummary{
			Name:        strOr(rec.Name),
			ProductCode: rec.ProductCode,
			ShopName:    strOr(rec.ShopName),
			InStock:     boolOr(rec.InStock),
		},
		Price: model.PriceAnalysis{
			SalePrice:     int64Or(rec.SalePrice),
			OriginalPrice: int64Or(rec.OriginalPrice),
			DiscountRate:  intOr(rec.DiscountRate),
		},
		Review: model.ReviewAnalysis{
			ReviewCount: intOr(rec.ReviewCount),
			Rating:      floatOr(rec.Rating),
		},
		Media: model.MediaAnalysis{
			ImageCount: imageCount(rec),
		},
		Content: model.ContentAnalysis{
			Summary:           excerpt(strOr(rec.Description)),
			DescriptionLength: utf8.RuneCountInString(strOr(rec.Description)),
		},
		Promotion: model.PromotionAnalysis{
			PointInfo:    strOr(rec.PointInfo),
			CouponInfo:   strOr(rec.CouponInfo),
			ShippingInfo: strOr(rec.ShippingInfo),
		},
		CreatedAt: time.Now().UTC(),
	}

	art.Price.Score = priceScore(art.Price)
	art.Review.Score = reviewScore(art.Review)
	art.Media.Score = mediaScore(art.Media.ImageCount)
	art.Content.Score = contentScore(rec, stats)
	art.Promotion.Score = promotionScore(art.Promotion, rec.InStock)
	art.OverallScore = 0.25*art.Price.Score + 0.20*art.Review.Score +
		0.20*art.Media.Score + 0.20*art.Content.Score + 0.15*art.Promotion.Score

	for _, spec := range b.tracked.Checklist {
		_, ok := rec.Field(spec.Field)
		art.Checklist = append(art.Checklist, model.ChecklistItem{
			ID:        spec.ID,
			Label:     spec.Label,
			Field:     spec.Field,
			Satisfied: ok,
		})
	}
	return art
}

// priceScore: a listing without a sale price scores zero. With one, the base
// is 70, moderate markdowns (10-30%) add 20, steep ones subtract 10, and
// round-number pricing adds 10.
func priceScore(p model.PriceAnalysis) float64 {
	if p.SalePrice == 0 {
		return 0
	}
	score := 70.0
	switch {
	case p.DiscountRate >= 10 && p.DiscountRate <= 30:
		score += 20
	case p.DiscountRate > 30:
		score -= 10
	case p.DiscountRate > 0:
		score += 10
	}
	if p.SalePrice%1000 < 100 {
		score += 10
	}
	return min100(score)
}

func reviewScore(r model.ReviewAnalysis) float64 {
	score := 0.0
	switch {
	case r.Rating >= 4.5:
		score += 40
	case r.Rating >= 4.0:
		score += 30
	case r.Rating >= 3.5:
		score += 20
	case r.Rating > 0:
		score += 10
	}
	switch {
	case r.ReviewCount >= 50:
		score += 30
	case r.ReviewCount >= 20:
		score += 25
	case r.ReviewCount >= 10:
		score += 20
	case r.ReviewCount > 0:
		score += 10
	}
	return min100(score)
}

func mediaScore(count int) float64 {
	score := 10.0
	switch {
	case count >= 5:
		score = 40
	case count >= 3:
		score = 25
	}
	if count > 0 {
		score += 60
	}
	return min100(score)
}

// contentScore rewards long, structured, Japanese-language descriptions and
// the presence of category breadcrumbs.
func contentScore(rec *model.CanonicalRecord, stats DocStats) float64 {
	desc := strOr(rec.Description)
	length := utf8.RuneCountInString(desc)
	score := 10.0
	switch {
	case length >= 500:
		score = 40
	case length >= 300:
		score = 25
	}
	if stats.Structured {
		score += 20
	}
	if len(rec.Categories) > 0 {
		score += 20
	}
	if jp := japaneseRunes(desc); length > 0 && jp*2 > length {
		score += 20
	}
	return min100(score)
}

func promotionScore(p model.PromotionAnalysis, inStock *bool) float64 {
	score := 0.0
	for _, info := range []string{p.PointInfo, p.CouponInfo, p.ShippingInfo} {
		if info != "" {
			score += 30
		}
	}
	if inStock != nil && *inStock {
		score += 10
	}
	return min100(score)
}

func imageCount(rec *model.CanonicalRecord) int {
	if rec.ImageCount != nil {
		return *rec.ImageCount
	}
	return len(rec.Images)
}

func excerpt(s string) string {
	runes := []rune(s)
	if len(runes) <= summaryRunes {
		return s
	}
	return string(runes[:summaryRunes])
}

func japaneseRunes(s string) int {
	n := 0
	for _, r := range s {
		if (r >= 0x3040 && r <= 0x309F) || // hiragana
			(r >= 0x30A0 && r <= 0x30FF) || // katakana
			(r >= 0x4E00 && r <= 0x9FAF) { // kanji
			n++
		}
	}
	return n
}

func min100(f float64) float64 {
	if f > 100 {
		return 100
	}
	return f
}

func strOr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func boolOr(p *bool) bool { return p != nil && *p }

func int64Or(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func intOr(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func floatOr(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
