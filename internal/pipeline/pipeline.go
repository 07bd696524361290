// Package pipeline runs crawls end to end: fetch, extract, normalize,
// analyze, reconcile, persist. Crawls fan out concurrently up to the
// configured limit; stages inside one crawl are strictly sequential, and
// every stage invocation lands as exactly one telemetry event.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shoplens/pipeline-cli/internal/analyze"
	"github.com/shoplens/pipeline-cli/internal/catalog"
	"github.com/shoplens/pipeline-cli/internal/config"
	"github.com/shoplens/pipeline-cli/internal/extract"
	"github.com/shoplens/pipeline-cli/internal/fetch"
	"github.com/shoplens/pipeline-cli/internal/learn"
	"github.com/shoplens/pipeline-cli/internal/model"
	"github.com/shoplens/pipeline-cli/internal/normalize"
	"github.com/shoplens/pipeline-cli/internal/reconcile"
	"github.com/shoplens/pipeline-cli/internal/resilience"
	"github.com/shoplens/pipeline-cli/internal/store"
	"github.com/shoplens/pipeline-cli/internal/telemetry"
	"github.com/shoplens/pipeline-cli/pkg/marketapi"
)

// Fetcher retrieves one page. *fetch.Fetcher implements it; tests substitute
// fixture-backed stubs.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Result, error)
}

// Analyzer turns a canonical record into an analysis artifact. The built-in
// analyze.Builder is the default; deployments with an external analysis
// service plug in their own.
type Analyzer interface {
	Build(rec *model.CanonicalRecord, stats analyze.DocStats) *model.AnalysisArtifact
}

// Pipeline orchestrates the extraction pipeline for a batch of listing URLs.
type Pipeline struct {
	cfg        *config.Config
	store      store.Store
	fetcher    Fetcher
	extractor  *extract.Extractor
	normalizer *normalize.Normalizer
	analyzer   Analyzer
	reconciler *reconcile.Reconciler
	tracker    *learn.Tracker
	recorder   *telemetry.Recorder
	market     marketapi.Client
	apiBreaker *resilience.Breaker
	catalog    *catalog.Catalog
}

// New assembles a Pipeline. A nil fetcher gets the standard rotating fetcher
// sharing the pipeline's tracker; a nil analyzer gets the built-in builder; a
// nil market client disables the API overlay.
func New(
	cfg *config.Config,
	st store.Store,
	cat *catalog.Catalog,
	tracked *catalog.TrackedSet,
	fetcher Fetcher,
	analyzer Analyzer,
	market marketapi.Client,
) *Pipeline {
	tracker := learn.NewTracker(st)
	if fetcher == nil {
		fetcher = fetch.New(cfg.Fetch, tracker)
	}
	if analyzer == nil {
		analyzer = analyze.New(tracked)
	}
	return &Pipeline{
		cfg:        cfg,
		store:      st,
		fetcher:    fetcher,
		extractor:  extract.New(cat),
		normalizer: normalize.New(cat),
		analyzer:   analyzer,
		reconciler: reconcile.New(tracked),
		tracker:    tracker,
		recorder:   telemetry.NewRecorder(st),
		market:     market,
		apiBreaker: resilience.NewBreaker(3, time.Minute),
		catalog:    cat,
	}
}

// Run crawls every URL with at most cfg.Pipeline.Concurrency in flight.
// Results come back in input order. Per-crawl failures live in the results;
// Run itself only errors when the context is cancelled before the batch
// finishes.
func (p *Pipeline) Run(ctx context.Context, urls []string) ([]model.CrawlResult, error) {
	log := zap.L().With(zap.Int("urls", len(urls)))
	log.Info("pipeline: starting batch")

	if fields, err := p.store.PendingReportCounts(ctx); err == nil && len(fields) > 0 {
		names := make([]string, 0, len(fields))
		for _, f := range fields {
			names = append(names, f.FieldName)
		}
		log.Info("pipeline: fields under priority extraction", zap.Strings("fields", names))
	}

	results := make([]model.CrawlResult, len(urls))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.Concurrency)
	for i, url := range urls {
		g.Go(func() error {
			results[i] = p.runOne(gCtx, url)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, eris.Wrap(err, "pipeline: batch cancelled")
	}

	complete := 0
	for _, r := range results {
		if r.Status == model.CrawlComplete {
			complete++
		}
	}
	log.Info("pipeline: batch finished",
		zap.Int("complete", complete),
		zap.Int("other", len(results)-complete))
	return results, nil
}

// runOne walks one URL through every stage. Fetch exhaustion degrades the
// crawl to an empty record rather than aborting it; only failure to persist
// final results marks the crawl failed.
func (p *Pipeline) runOne(ctx context.Context, url string) model.CrawlResult {
	crawlID := uuid.NewString()
	log := zap.L().With(zap.String("crawl_id", crawlID), zap.String("url", url))

	result := model.CrawlResult{
		CrawlID:   crawlID,
		URL:       url,
		Status:    model.CrawlComplete,
		StartedAt: time.Now().UTC(),
	}

	var page *fetch.Result
	fetchErr := p.trackStage(ctx, crawlID, model.StageFetch, func() (map[string]any, error) {
		res, err := p.fetcher.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		page = res
		return map[string]any{
			"status":   res.Status,
			"attempts": res.Attempts,
			"bytes":    len(res.Body),
		}, nil
	})
	if fetchErr != nil {
		if ctx.Err() != nil {
			result.Status = model.CrawlFailed
			result.Error = fetchErr.Error()
			result.FinishedAt = time.Now().UTC()
			return result
		}
		result.Status = model.CrawlDegraded
		result.Error = fetchErr.Error()
		log.Warn("pipeline: fetch exhausted, continuing with empty record", zap.Error(fetchErr))
	}
	if page != nil {
		result.FetchAttempts = page.Attempts
	}

	var raw model.RawFieldMap
	if page != nil {
		_ = p.trackStage(ctx, crawlID, model.StageExtract, func() (map[string]any, error) {
			in, err := extract.NewInput(page.FinalURL, page.Body)
			if err != nil {
				return nil, err
			}
			fields, attempts := p.extractor.Extract(in, p.assembleCandidates(ctx))
			raw = fields
			if recErr := p.tracker.Record(ctx, attempts, channelFor(page.Identity)); recErr != nil {
				log.Warn("pipeline: attempt log not recorded", zap.Error(recErr))
			}
			return map[string]any{
				"fields":   len(fields),
				"attempts": len(attempts),
			}, nil
		})
	}

	var rec *model.CanonicalRecord
	_ = p.trackStage(ctx, crawlID, model.StageNormalize, func() (map[string]any, error) {
		if raw == nil {
			raw = model.RawFieldMap{}
		}
		rec = p.normalizer.Normalize(raw)
		rec.CrawlID = crawlID
		rec.URL = url
		rec.CreatedAt = time.Now().UTC()

		overlaid := p.applyMarketOverlay(ctx, rec)
		return map[string]any{
			"raw_fields":  len(raw),
			"api_overlay": overlaid,
		}, nil
	})
	result.Record = rec

	var art *model.AnalysisArtifact
	analyzeErr := p.trackStage(ctx, crawlID, model.StageAnalyze, func() (map[string]any, error) {
		var stats analyze.DocStats
		if page != nil {
			stats = analyze.StatsFromHTML(page.Body)
		}
		art = p.analyzer.Build(rec, stats)
		return map[string]any{
			"analysis_id":   art.AnalysisID,
			"overall_score": art.OverallScore,
		}, nil
	})
	if analyzeErr != nil {
		log.Warn("pipeline: no artifact produced, skipping reconciliation", zap.Error(analyzeErr))
	}

	var validation *model.ValidationResult
	if art != nil {
		_ = p.trackStage(ctx, crawlID, model.StageReconcile, func() (map[string]any, error) {
			corrected, v := p.reconciler.Reconcile(rec, art)
			art = corrected
			validation = v
			return map[string]any{
				"score":      v.Score,
				"mismatches": len(v.Mismatches),
				"corrected":  len(v.CorrectedFields),
			}, nil
		})
	}
	result.Artifact = art
	result.Validation = validation

	persistErr := p.trackStage(ctx, crawlID, model.StagePersist, func() (map[string]any, error) {
		if err := p.store.SaveRecord(ctx, rec); err != nil {
			return nil, eris.Wrap(err, "pipeline: save record")
		}
		if art != nil {
			if err := p.store.SaveArtifact(ctx, art); err != nil {
				return nil, eris.Wrap(err, "pipeline: save artifact")
			}
		}
		if validation != nil {
			if err := p.store.SaveValidation(ctx, validation); err != nil {
				return nil, eris.Wrap(err, "pipeline: save validation")
			}
		}
		if page != nil && art != nil {
			doc := &model.Document{
				ID:         uuid.NewString(),
				CrawlID:    crawlID,
				AnalysisID: art.AnalysisID,
				URL:        page.FinalURL,
				Body:       page.Body,
				FetchedAt:  time.Now().UTC(),
			}
			if err := p.store.SaveDocument(ctx, doc); err != nil {
				// The document only feeds later error reports; its loss
				// never voids the crawl's results.
				zap.L().Warn("pipeline: document capture failed",
					zap.String("crawl_id", crawlID), zap.Error(err))
			}
		}
		return nil, nil
	})
	if persistErr != nil {
		result.Status = model.CrawlFailed
		result.Error = persistErr.Error()
		result.FinishedAt = time.Now().UTC()
		log.Error("pipeline: persistence unavailable", zap.Error(persistErr))
		return result
	}

	result.FinishedAt = time.Now().UTC()
	score := 0.0
	if validation != nil {
		score = validation.Score
	}
	log.Info("pipeline: crawl finished",
		zap.String("status", string(result.Status)),
		zap.Float64("validation_score", score),
		zap.Int("fetch_attempts", result.FetchAttempts))
	return result
}

// trackStage runs one stage body, timing it and recording exactly one
// telemetry event whether the body returns, errors, or panics. The metadata
// the body returns rides on the event; failures carry the error string.
func (p *Pipeline) trackStage(ctx context.Context, crawlID, stage string, fn func() (map[string]any, error)) (err error) {
	start := time.Now()
	var metadata map[string]any

	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("pipeline: stage %s panicked: %v", stage, r)
		}
		status := model.StageSuccess
		if err != nil {
			status = model.StageFailure
			if metadata == nil {
				metadata = map[string]any{}
			}
			metadata["error"] = err.Error()
		}
		p.recorder.RecordStage(ctx, crawlID, stage, status, time.Since(start), metadata)
	}()

	metadata, err = fn()
	return err
}

// assembleCandidates gathers per-field chunks and learned rankings for one
// extraction pass. Store reads are best-effort: a field whose state cannot be
// read falls back to catalog defaults inside the extractor.
func (p *Pipeline) assembleCandidates(ctx context.Context) map[string]extract.FieldCandidates {
	candidates := make(map[string]extract.FieldCandidates, len(p.catalog.Fields))
	for _, spec := range p.catalog.Fields {
		var fc extract.FieldCandidates

		chunks, err := p.store.ChunksForField(ctx, spec.Name)
		if err != nil {
			zap.L().Warn("pipeline: chunk lookup failed",
				zap.String("field", spec.Name), zap.Error(err))
		} else {
			fc.Chunks = chunks
		}

		ranked, err := p.tracker.Rank(ctx, spec.Name)
		if err != nil {
			zap.L().Warn("pipeline: strategy ranking failed",
				zap.String("field", spec.Name), zap.Error(err))
		} else {
			fc.Ranked = ranked
		}

		candidates[spec.Name] = fc
	}
	return candidates
}

// applyMarketOverlay replaces the identity and pricing sections with item API
// data when the lookup succeeds. Unknown items and API failures leave the
// extracted record untouched. Three consecutive lookup failures open a
// breaker that skips the overlay for a minute at a time.
func (p *Pipeline) applyMarketOverlay(ctx context.Context, rec *model.CanonicalRecord) bool {
	if p.market == nil || rec.ProductCode == "" {
		return false
	}
	if err := p.apiBreaker.Allow(); err != nil {
		zap.L().Debug("pipeline: market api overlay skipped",
			zap.String("breaker", p.apiBreaker.State()))
		return false
	}

	item, err := p.market.ItemLookup(ctx, rec.ProductCode)
	switch {
	case err == nil:
		p.apiBreaker.Record(nil)
	case eris.Is(err, marketapi.ErrNotFound):
		// The API answered; the item just is not listed.
		p.apiBreaker.Record(nil)
		zap.L().Debug("pipeline: item not in market api",
			zap.String("product_code", rec.ProductCode))
		return false
	case ctx.Err() != nil:
		return false
	default:
		p.apiBreaker.Record(err)
		zap.L().Warn("pipeline: market api lookup failed",
			zap.String("product_code", rec.ProductCode), zap.Error(err))
		return false
	}

	mergeItem(rec, item)
	return true
}

// mergeItem writes the API's identity and pricing sections onto the record
// and retags their sources. The discount rate is re-derived from the API
// prices the same way normalization derives it from extracted ones.
func mergeItem(rec *model.CanonicalRecord, item *marketapi.Item) {
	if item.ItemCode != "" {
		rec.ProductCode = item.ItemCode
	}
	if item.Title != "" {
		rec.Name = &item.Title
	}
	if item.ShopName != "" {
		rec.ShopName = &item.ShopName
	}
	rec.Sources[model.SectionIdentity] = model.SourceAPI

	if item.SalePrice > 0 {
		rec.SalePrice = &item.SalePrice
		if item.RetailPrice > 0 {
			rec.OriginalPrice = &item.RetailPrice
		}
		var discount int
		if rec.OriginalPrice != nil && *rec.OriginalPrice > *rec.SalePrice {
			discount = int(float64(*rec.OriginalPrice-*rec.SalePrice) / float64(*rec.OriginalPrice) * 100)
		}
		if rec.OriginalPrice != nil {
			rec.DiscountRate = &discount
		}
		rec.Sources[model.SectionPricing] = model.SourceAPI
	}
}

// channelFor names the counter channel for an identity: the relay when one
// was used, direct otherwise. Splitting counters by relay keeps a strategy's
// rate honest when different relays are served different page variants.
func channelFor(id fetch.Identity) string {
	if id.Proxy != "" {
		return "proxy:" + id.Proxy
	}
	return "direct"
}
