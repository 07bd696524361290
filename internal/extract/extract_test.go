package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplens/pipeline-cli/internal/catalog"
	"github.com/shoplens/pipeline-cli/internal/model"
)

const listingHTML = `<!DOCTYPE html>
<html lang="ja">
<head>
<title>ステンレスボトル 500ml 真空断熱 | 送料無料キャンペーン | ショップレンズ市場</title>
<meta property="og:title" content="ステンレスボトル 500ml 真空断熱">
<meta property="og:site_name" content="キッチン雑貨のヤマダ">
<meta property="og:image" content="https://img.example.jp/bottle/og.jpg">
<meta name="description" content="真空断熱構造で保温保冷に優れたステンレスボトルです。通勤や アウトドアに最適。">
<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@type": "Product",
  "name": "ステンレスボトル 500ml 真空断熱",
  "sku": "4968761342158",
  "offers": {"@type": "Offer", "price": 2480, "availability": "https://schema.org/InStock"},
  "aggregateRating": {"ratingValue": 4.6, "reviewCount": 312}
}
</script>
</head>
<body>
<div id="location_navi"><a href="/">ホーム</a><a href="/c/kitchen">キッチン用品</a><a href="/c/kitchen/bottle">水筒・ボトル</a></div>
<div id="goods_titlebar"><h2>ステンレスボトル 500ml 真空断熱</h2></div>
<div class="shop-name"><a href="/shop/yamada">キッチン雑貨のヤマダ</a></div>
<div id="goods_price">
  <del>３，２８０円</del>
  <span class="price">2,480円</span>
</div>
<div class="review-count">312件のレビュー</div>
<span class="rating-score">4.6</span>
<div id="goods_image">
  <img src="https://img.example.jp/bottle/1.jpg">
  <img src="https://img.example.jp/bottle/2.jpg">
  <img src="https://img.example.jp/bottle/1.jpg">
</div>
<div id="goods_description">真空断熱構造で保温保冷に優れたステンレスボトルです。飲み口は分解して洗えます。</div>
<div class="stock-status">在庫あり</div>
<div class="point-benefit">５％ポイント還元中</div>
<div class="shipping-info">送料一律390円（3,980円以上で無料）</div>
<form><input type="hidden" name="goodscode" value="4968761342158"></form>
</body>
</html>`

const listingURL = "https://www.shoplens-ichiba.jp/item/yamada/4968761342158?goodscode=4968761342158"

func mustInput(t *testing.T, url, html string) *Input {
	t.Helper()
	in, err := NewInput(url, []byte(html))
	require.NoError(t, err)
	return in
}

func TestExtract_CatalogDefaults(t *testing.T) {
	e := New(catalog.Default())
	in := mustInput(t, listingURL, listingHTML)

	raw, attempts := e.Extract(in, nil)

	assert.Equal(t, "4968761342158", raw[model.FieldProductCode])
	assert.Equal(t, "ステンレスボトル 500ml 真空断熱", raw[model.FieldName])
	assert.Equal(t, "キッチン雑貨のヤマダ", raw[model.FieldShopName])
	assert.Equal(t, "2,480円", raw[model.FieldSalePrice])
	assert.Equal(t, "３，２８０円", raw[model.FieldOriginalPrice])
	assert.Equal(t, "312件のレビュー", raw[model.FieldReviewCount])
	assert.Equal(t, "4.6", raw[model.FieldRating])
	assert.Equal(t, "在庫あり", raw[model.FieldInStock])
	assert.Equal(t, "５％ポイント還元中", raw[model.FieldPointInfo])
	assert.NotEmpty(t, attempts)
}

func TestExtract_MultiFieldCollectsAllAndDedupes(t *testing.T) {
	e := New(catalog.Default())
	in := mustInput(t, listingURL, listingHTML)

	raw, _ := e.Extract(in, nil)

	images, ok := raw[model.FieldImages].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{
		"https://img.example.jp/bottle/1.jpg",
		"https://img.example.jp/bottle/2.jpg",
	}, images)

	categories, ok := raw[model.FieldCategories].([]string)
	require.True(t, ok)
	assert.Contains(t, categories, "キッチン用品")
	assert.Contains(t, categories, "水筒・ボトル")
}

func TestExtract_FirstPlausibleWinsAndStopsTrying(t *testing.T) {
	e := New(catalog.Default())
	in := mustInput(t, listingURL, listingHTML)

	_, attempts := e.Extract(in, nil)

	var nameAttempts []model.Attempt
	for _, a := range attempts {
		if a.Strategy.Field == model.FieldName {
			nameAttempts = append(nameAttempts, a)
		}
	}
	require.NotEmpty(t, nameAttempts)

	// Exactly one accepted attempt, and it is the last one for the field.
	accepted := 0
	for _, a := range nameAttempts {
		if a.Outcome == model.OutcomeAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, model.OutcomeAccepted, nameAttempts[len(nameAttempts)-1].Outcome)
}

func TestExtract_MissingFieldIsAbsentNotError(t *testing.T) {
	e := New(catalog.Default())
	in := mustInput(t, "https://www.shoplens-ichiba.jp/item/x/1", `<html><body><p>準備中</p></body></html>`)

	raw, attempts := e.Extract(in, nil)

	_, ok := raw[model.FieldSalePrice]
	assert.False(t, ok)
	_, ok = raw[model.FieldName]
	assert.False(t, ok)

	// Every candidate tried is on the log with a non-accepted outcome.
	for _, a := range attempts {
		assert.NotEqual(t, model.OutcomeAccepted, a.Outcome)
	}
}

func TestExtract_ChunkTriedBeforeLearnedAndCatalog(t *testing.T) {
	e := New(catalog.Default())
	in := mustInput(t, listingURL, `<html><body>
		<div class="campaign-price">1,980円</div>
		<span class="price-now">2,980円</span>
	</body></html>`)

	candidates := map[string]FieldCandidates{
		model.FieldSalePrice: {
			Chunks: []model.PriorityChunk{{
				ID:        "chunk-1",
				FieldName: model.FieldSalePrice,
				Selector:  ".campaign-price",
				ReportID:  "report-1",
			}},
			Ranked: []model.Strategy{
				{Field: model.FieldSalePrice, Kind: model.KindSelector, Payload: ".price-now"},
			},
		},
	}

	raw, attempts := e.Extract(in, candidates)
	assert.Equal(t, "1,980円", raw[model.FieldSalePrice])

	var priceAttempts []model.Attempt
	for _, a := range attempts {
		if a.Strategy.Field == model.FieldSalePrice {
			priceAttempts = append(priceAttempts, a)
		}
	}
	require.Len(t, priceAttempts, 1)
	assert.True(t, priceAttempts[0].Strategy.FromChunk)
	assert.Equal(t, "chunk-1", priceAttempts[0].Strategy.ChunkID)
	assert.Equal(t, model.OutcomeAccepted, priceAttempts[0].Outcome)
}

func TestExtract_SupersededChunkSkipped(t *testing.T) {
	e := New(catalog.Default())
	in := mustInput(t, listingURL, `<html><body>
		<div class="old-chunk">111円</div>
		<span class="price-now">2,980円</span>
	</body></html>`)

	superseded := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	candidates := map[string]FieldCandidates{
		model.FieldSalePrice: {
			Chunks: []model.PriorityChunk{{
				ID:           "chunk-old",
				FieldName:    model.FieldSalePrice,
				Selector:     ".old-chunk",
				SupersededAt: &superseded,
			}},
		},
	}

	raw, attempts := e.Extract(in, candidates)
	assert.Equal(t, "2,980円", raw[model.FieldSalePrice])
	for _, a := range attempts {
		assert.NotEqual(t, "chunk-old", a.Strategy.ChunkID)
	}
}

func TestExtract_ImplausiblePriceFallsThrough(t *testing.T) {
	e := New(catalog.Default())
	// price-now matches but is below the sane floor; the pattern fallback
	// carries the real price.
	in := mustInput(t, listingURL, `<html><body>
		<span class="price-now">3円</span>
		<p>販売価格：4,980円（税込）</p>
	</body></html>`)

	raw, attempts := e.Extract(in, nil)
	assert.Equal(t, "4,980", raw[model.FieldSalePrice])

	sawImplausible := false
	for _, a := range attempts {
		if a.Strategy.Field == model.FieldSalePrice && a.Outcome == model.OutcomeImplausible {
			sawImplausible = true
		}
	}
	assert.True(t, sawImplausible)
}

func TestExtract_BoilerplateTitleRejected(t *testing.T) {
	e := New(catalog.Default())
	in := mustInput(t, listingURL, `<html><head>
		<meta property="og:title" content="ステンレスボトル 500ml">
	</head><body>
		<h1 class="prd-name">【クーポン配布中】タイムセール</h1>
	</body></html>`)

	raw, _ := e.Extract(in, nil)
	assert.Equal(t, "ステンレスボトル 500ml", raw[model.FieldName])
}

func TestExtract_ProductCodeFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"query param", "https://shop.example.jp/goods?goodscode=12345678", "12345678"},
		{"short path", "https://shop.example.jp/g/98765432", "98765432"},
		{"item path", "https://shop.example.jp/item/yamada/55556666", "55556666"},
		{"fragment", "https://shop.example.jp/detail#44443333", "44443333"},
	}
	e := New(catalog.Default())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := mustInput(t, tt.url, `<html><body></body></html>`)
			raw, _ := e.Extract(in, nil)
			assert.Equal(t, tt.want, raw[model.FieldProductCode])
		})
	}
}

func TestExtract_JSONLDFallback(t *testing.T) {
	e := New(catalog.Default())
	in := mustInput(t, "https://shop.example.jp/detail", `<html><head>
<script type="application/ld+json">
{"@type": "Product", "sku": "7777888899", "offers": {"price": 1980}}
</script>
</head><body></body></html>`)

	raw, _ := e.Extract(in, nil)
	assert.Equal(t, "7777888899", raw[model.FieldProductCode])
	assert.Equal(t, "1980", raw[model.FieldSalePrice])
}

func TestAssembleCandidates_DedupesAcrossTiers(t *testing.T) {
	spec, ok := catalog.Default().Field(model.FieldSalePrice)
	require.True(t, ok)

	fc := FieldCandidates{
		Chunks: []model.PriorityChunk{{
			ID:        "c1",
			FieldName: model.FieldSalePrice,
			Selector:  ".price-now", // duplicates both a learned and a catalog default
		}},
		Ranked: []model.Strategy{
			{Field: model.FieldSalePrice, Kind: model.KindSelector, Payload: ".price-now"},
		},
	}

	cands := assembleCandidates(spec, fc)
	count := 0
	for _, c := range cands {
		if c.Kind == model.KindSelector && c.Payload == ".price-now" {
			count++
			assert.True(t, c.FromChunk)
		}
	}
	assert.Equal(t, 1, count)
}
