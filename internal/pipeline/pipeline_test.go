package pipeline

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplens/pipeline-cli/internal/analyze"
	"github.com/shoplens/pipeline-cli/internal/catalog"
	"github.com/shoplens/pipeline-cli/internal/config"
	"github.com/shoplens/pipeline-cli/internal/fetch"
	"github.com/shoplens/pipeline-cli/internal/model"
	"github.com/shoplens/pipeline-cli/internal/store"
	"github.com/shoplens/pipeline-cli/pkg/marketapi"
)

const listingURL = "https://www.shoplens-ichiba.jp/item/yamada/4968761342158?goodscode=4968761342158"

// The .special-price span is reachable only through a priority chunk; no
// catalog strategy selects it.
const listingHTML = `<!DOCTYPE html>
<html lang="ja">
<head>
<title>ステンレスボトル 500ml 真空断熱 | ショップレンズ市場</title>
<meta property="og:title" content="ステンレスボトル 500ml 真空断熱">
<meta property="og:site_name" content="キッチン雑貨のヤマダ">
</head>
<body>
<div id="goods_titlebar"><h2>ステンレスボトル 500ml 真空断熱</h2></div>
<div class="shop-name"><a href="/shop/yamada">キッチン雑貨のヤマダ</a></div>
<div id="goods_price">
  <del>３，２８０円</del>
  <span class="price">2,480円</span>
</div>
<span class="special-price">1,980円</span>
<div class="review-count">312件のレビュー</div>
<span class="rating-score">4.6</span>
<div id="goods_image">
  <img src="https://img.example.jp/bottle/1.jpg">
  <img src="https://img.example.jp/bottle/2.jpg">
</div>
<div id="goods_description">真空断熱構造で保温保冷に優れたステンレスボトルです。飲み口は分解して洗えます。</div>
<div class="stock-status">在庫あり</div>
<div class="point-benefit">５％ポイント還元中</div>
<div class="coupon-info">２００円ＯＦＦクーポン配布中</div>
<div class="shipping-info">送料一律390円（3,980円以上で無料）</div>
<form><input type="hidden" name="goodscode" value="4968761342158"></form>
</body>
</html>`

type stubFetcher struct {
	body  []byte
	err   error
	calls atomic.Int64
}

func (s *stubFetcher) Fetch(ctx context.Context, rawURL string) (*fetch.Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &fetch.Result{
		Body:     s.body,
		FinalURL: rawURL,
		Status:   200,
		Identity: fetch.Identity{UserAgent: "test-ua"},
		Attempts: 1,
	}, nil
}

type panicAnalyzer struct{}

func (panicAnalyzer) Build(*model.CanonicalRecord, analyze.DocStats) *model.AnalysisArtifact {
	panic("scoring model corrupted")
}

type stubMarket struct {
	item  *marketapi.Item
	err   error
	calls atomic.Int64
}

func (s *stubMarket) ItemLookup(context.Context, string) (*marketapi.Item, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.item, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{Concurrency: 2},
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestPipeline(t *testing.T, st store.Store, fetcher Fetcher, analyzer Analyzer, market marketapi.Client) *Pipeline {
	t.Helper()
	return New(testConfig(), st, catalog.Default(), catalog.DefaultTracked(), fetcher, analyzer, market)
}

func stagesOf(events []model.StageEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Stage)
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st, &stubFetcher{body: []byte(listingHTML)}, nil, nil)
	ctx := context.Background()

	results, err := p.Run(ctx, []string{listingURL})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, model.CrawlComplete, r.Status)
	assert.Equal(t, listingURL, r.URL)
	assert.NotEmpty(t, r.CrawlID)
	assert.Equal(t, 1, r.FetchAttempts)

	rec := r.Record
	require.NotNil(t, rec)
	assert.Equal(t, "4968761342158", rec.ProductCode)
	require.NotNil(t, rec.Name)
	assert.Equal(t, "ステンレスボトル 500ml 真空断熱", *rec.Name)
	require.NotNil(t, rec.SalePrice)
	assert.Equal(t, int64(2480), *rec.SalePrice)
	require.NotNil(t, rec.OriginalPrice)
	assert.Equal(t, int64(3280), *rec.OriginalPrice)
	require.NotNil(t, rec.DiscountRate)
	assert.Equal(t, 24, *rec.DiscountRate)
	require.NotNil(t, rec.ImageCount)
	assert.Equal(t, 2, *rec.ImageCount)
	assert.Equal(t, model.SourceExtracted, rec.Sources[model.SectionIdentity])
	assert.Equal(t, model.SourceExtracted, rec.Sources[model.SectionPricing])

	// The artifact is built from the record, so reconciliation finds no
	// drift and both checklist items are satisfied.
	require.NotNil(t, r.Validation)
	assert.Equal(t, 100.0, r.Validation.Score)
	assert.Empty(t, r.Validation.Mismatches)
	assert.Empty(t, r.Validation.MissingItems)

	// Final results persisted.
	records, err := st.RecordsSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, r.CrawlID, records[0].CrawlID)

	saved, err := st.GetValidation(ctx, r.Artifact.AnalysisID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, r.CrawlID, saved.CrawlID)

	// Page body captured for the feedback loop.
	doc, err := st.LatestDocumentForAnalysis(ctx, r.Artifact.AnalysisID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, r.CrawlID, doc.CrawlID)
	assert.NotEmpty(t, doc.Body)

	// One telemetry event per stage, all successful.
	events, err := st.StageEventsSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, len(model.Stages))
	for _, ev := range events {
		assert.Equal(t, model.StageSuccess, ev.Status, ev.Stage)
		assert.Equal(t, r.CrawlID, ev.CrawlID)
	}
	assert.ElementsMatch(t, model.Stages, stagesOf(events))

	// The winning strategy's counters landed under the direct channel.
	scores, err := st.StrategyScores(ctx, model.FieldSalePrice)
	require.NoError(t, err)
	require.NotEmpty(t, scores)
	var won bool
	for _, sc := range scores {
		if sc.Payload == "#goods_price .price" {
			won = true
			assert.Equal(t, "direct", sc.Channel)
			assert.Equal(t, int64(1), sc.Successes)
		}
	}
	assert.True(t, won, "accepted strategy should have a counter row")
}

func TestRun_FetchExhaustedDegrades(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st, &stubFetcher{err: eris.New("fetch: exhausted after 4 attempts")}, nil, nil)
	ctx := context.Background()

	results, err := p.Run(ctx, []string{listingURL})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, model.CrawlDegraded, r.Status)
	assert.Contains(t, r.Error, "exhausted")

	// The record exists, carries only declared defaults, and every section
	// is tagged default.
	rec := r.Record
	require.NotNil(t, rec)
	assert.Nil(t, rec.Name)
	assert.Nil(t, rec.SalePrice)
	require.NotNil(t, rec.InStock)
	assert.True(t, *rec.InStock)
	for section, source := range rec.Sources {
		assert.Equal(t, model.SourceDefault, source, section)
	}

	// Downstream still produced and persisted an artifact and a validation.
	require.NotNil(t, r.Validation)
	assert.Less(t, r.Validation.Score, 100.0)
	records, err := st.RecordsSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// Extract never ran: a failed fetch event plus the four downstream
	// stages, and no strategy counters were touched.
	events, err := st.StageEventsSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, len(model.Stages)-1)
	assert.NotContains(t, stagesOf(events), model.StageExtract)
	for _, ev := range events {
		if ev.Stage == model.StageFetch {
			assert.Equal(t, model.StageFailure, ev.Status)
		} else {
			assert.Equal(t, model.StageSuccess, ev.Status, ev.Stage)
		}
	}

	scores, err := st.StrategyScores(ctx, model.FieldName)
	require.NoError(t, err)
	assert.Empty(t, scores)

	// No page, no captured document.
	doc, err := st.LatestDocumentForAnalysis(ctx, r.Artifact.AnalysisID)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestRun_CancelledCrawlRecordsNoAttempts(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st, &stubFetcher{body: []byte(listingHTML)}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := p.Run(ctx, []string{listingURL})
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.CrawlFailed, results[0].Status)

	// A cancelled crawl leaves no trace in the learned counters.
	for _, field := range []string{model.FieldName, model.FieldSalePrice} {
		scores, scoresErr := st.StrategyScores(context.Background(), field)
		require.NoError(t, scoresErr)
		assert.Empty(t, scores)
	}
	records, recErr := st.RecordsSince(context.Background(), time.Time{})
	require.NoError(t, recErr)
	assert.Empty(t, records)
}

func TestRun_PanickingAnalyzerIsContained(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st, &stubFetcher{body: []byte(listingHTML)}, panicAnalyzer{}, nil)
	ctx := context.Background()

	results, err := p.Run(ctx, []string{listingURL})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// The crawl survives: the record persists, reconciliation is skipped.
	r := results[0]
	assert.Equal(t, model.CrawlComplete, r.Status)
	assert.Nil(t, r.Artifact)
	assert.Nil(t, r.Validation)
	records, err := st.RecordsSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// The panic lands as a failed analyze event; reconcile never runs.
	events, err := st.StageEventsSince(ctx, time.Time{})
	require.NoError(t, err)
	stages := stagesOf(events)
	assert.Contains(t, stages, model.StageAnalyze)
	assert.NotContains(t, stages, model.StageReconcile)
	for _, ev := range events {
		if ev.Stage == model.StageAnalyze {
			assert.Equal(t, model.StageFailure, ev.Status)
			assert.Contains(t, ev.Metadata["error"], "panicked")
		}
	}
}

func TestRun_PersistFailureFailsCrawl(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	p := newTestPipeline(t, st, &stubFetcher{body: []byte(listingHTML)}, nil, nil)

	// A closed store makes every write fail; only the persist stage is
	// allowed to take the crawl down with it.
	require.NoError(t, st.Close())

	results, err := p.Run(context.Background(), []string{listingURL})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.CrawlFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "save record")
}

func TestRun_MarketOverlayPrefersAPISections(t *testing.T) {
	st := newTestStore(t)
	market := &stubMarket{item: &marketapi.Item{
		ItemCode:    "4968761342158",
		Title:       "ステンレスボトル 500ml 真空断熱 公式",
		ShopName:    "ヤマダ公式ストア",
		SalePrice:   2280,
		RetailPrice: 3280,
	}}
	p := newTestPipeline(t, st, &stubFetcher{body: []byte(listingHTML)}, nil, market)

	results, err := p.Run(context.Background(), []string{listingURL})
	require.NoError(t, err)
	rec := results[0].Record
	require.NotNil(t, rec)

	require.NotNil(t, rec.Name)
	assert.Equal(t, "ステンレスボトル 500ml 真空断熱 公式", *rec.Name)
	require.NotNil(t, rec.SalePrice)
	assert.Equal(t, int64(2280), *rec.SalePrice)
	require.NotNil(t, rec.DiscountRate)
	assert.Equal(t, 30, *rec.DiscountRate)

	assert.Equal(t, model.SourceAPI, rec.Sources[model.SectionIdentity])
	assert.Equal(t, model.SourceAPI, rec.Sources[model.SectionPricing])
	assert.Equal(t, model.SourceExtracted, rec.Sources[model.SectionEngagement])
}

func TestRun_MarketLookupMissIsHarmless(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st, &stubFetcher{body: []byte(listingHTML)}, nil,
		&stubMarket{err: marketapi.ErrNotFound})

	results, err := p.Run(context.Background(), []string{listingURL})
	require.NoError(t, err)
	rec := results[0].Record
	require.NotNil(t, rec)
	require.NotNil(t, rec.SalePrice)
	assert.Equal(t, int64(2480), *rec.SalePrice)
	assert.Equal(t, model.SourceExtracted, rec.Sources[model.SectionPricing])
	assert.Equal(t, model.CrawlComplete, results[0].Status)
}

func TestRun_MarketOutageTripsOverlayBreaker(t *testing.T) {
	st := newTestStore(t)
	market := &stubMarket{err: eris.New("api: connection refused")}
	cfg := &config.Config{Pipeline: config.PipelineConfig{Concurrency: 1}}
	p := New(cfg, st, catalog.Default(), catalog.DefaultTracked(),
		&stubFetcher{body: []byte(listingHTML)}, nil, market)

	urls := make([]string, 5)
	for i := range urls {
		urls[i] = listingURL
	}
	results, err := p.Run(context.Background(), urls)
	require.NoError(t, err)

	// Three consecutive failures open the breaker; the remaining crawls skip
	// the lookup instead of waiting on a dead API.
	assert.Equal(t, int64(3), market.calls.Load())
	for _, r := range results {
		assert.Equal(t, model.CrawlComplete, r.Status)
		require.NotNil(t, r.Record)
		assert.Equal(t, model.SourceExtracted, r.Record.Sources[model.SectionPricing])
	}
}

func TestRun_PriorityChunkWinsOverCatalog(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.InsertChunk(ctx, &model.PriorityChunk{
		ID:        "chunk-1",
		FieldName: model.FieldSalePrice,
		Selector:  ".special-price",
		ReportID:  "report-1",
		CreatedAt: time.Now().UTC(),
	}))

	p := newTestPipeline(t, st, &stubFetcher{body: []byte(listingHTML)}, nil, nil)
	results, err := p.Run(ctx, []string{listingURL})
	require.NoError(t, err)

	rec := results[0].Record
	require.NotNil(t, rec)
	require.NotNil(t, rec.SalePrice)
	assert.Equal(t, int64(1980), *rec.SalePrice,
		"chunk-derived strategy should be tried before catalog strategies")

	// The chunk attempt is in the counters like any other strategy.
	scores, err := st.StrategyScores(ctx, model.FieldSalePrice)
	require.NoError(t, err)
	var chunkRow bool
	for _, sc := range scores {
		if sc.Payload == ".special-price" {
			chunkRow = true
			assert.Equal(t, int64(1), sc.Successes)
		}
	}
	assert.True(t, chunkRow)
}

func TestRun_MultipleURLsKeepInputOrder(t *testing.T) {
	st := newTestStore(t)
	fetcher := &stubFetcher{body: []byte(listingHTML)}
	p := newTestPipeline(t, st, fetcher, nil, nil)

	urls := []string{
		"https://www.shoplens-ichiba.jp/item/a/1001",
		"https://www.shoplens-ichiba.jp/item/b/1002",
		"https://www.shoplens-ichiba.jp/item/c/1003",
	}
	results, err := p.Run(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, urls[i], r.URL)
		assert.Equal(t, model.CrawlComplete, r.Status)
	}
	assert.Equal(t, int64(3), fetcher.calls.Load())
}

func TestFormatResults(t *testing.T) {
	name := "ステンレスボトル"
	price := int64(2480)
	out := FormatResults([]model.CrawlResult{
		{
			URL:    listingURL,
			Status: model.CrawlComplete,
			Record: &model.CanonicalRecord{Name: &name, SalePrice: &price},
			Validation: &model.ValidationResult{
				Score: 90, Mismatches: []model.Mismatch{{Field: "rating"}},
			},
			StartedAt:  time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
			FinishedAt: time.Date(2026, 3, 2, 10, 0, 2, 0, time.UTC),
		},
		{
			URL:    "https://www.shoplens-ichiba.jp/item/x/9",
			Status: model.CrawlDegraded,
			Error:  "fetch: exhausted",
		},
	})

	assert.Contains(t, out, "- URLs: 2")
	assert.Contains(t, out, "- Complete: 1")
	assert.Contains(t, out, "- Degraded: 1")
	assert.Contains(t, out, "Score: 90.0")
	assert.Contains(t, out, "Error: fetch: exhausted")
	assert.Contains(t, out, "Price: 2480 yen")
}
