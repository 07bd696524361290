// Package extract applies ranked strategy candidates to fetched pages and
// produces the raw field map plus the attempt log the learning loop feeds on.
package extract

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shoplens/pipeline-cli/internal/catalog"
	"github.com/shoplens/pipeline-cli/internal/model"
)

// Input is one fetched page parsed and ready for extraction.
type Input struct {
	URL  string
	HTML string
	Doc  *goquery.Document
}

// NewInput parses a fetched body. The raw HTML is kept alongside the parsed
// document because pattern strategies run against source text, not the DOM.
func NewInput(url string, body []byte) (*Input, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse document")
	}
	return &Input{URL: url, HTML: string(body), Doc: doc}, nil
}

// FieldCandidates carries the per-field inputs the orchestrator assembles
// before an extraction pass: active priority chunks (newest first) and the
// learned strategies ranked best-first.
type FieldCandidates struct {
	Chunks []model.PriorityChunk
	Ranked []model.Strategy
}

// Extractor walks the catalog field by field, trying candidates in priority
// order until one yields a plausible value.
type Extractor struct {
	catalog *catalog.Catalog
}

// New returns an Extractor over the given field catalog.
func New(cat *catalog.Catalog) *Extractor {
	return &Extractor{catalog: cat}
}

// Extract runs one full extraction pass. Candidate order per field: chunk
// strategies, then learned strategies, then catalog defaults not already
// tried. The first plausible value wins and later candidates are not
// attempted. A field with no plausible candidate is absent from the map,
// never an error. Every candidate tried lands in the attempt log.
func (e *Extractor) Extract(in *Input, candidates map[string]FieldCandidates) (model.RawFieldMap, []model.Attempt) {
	raw := model.RawFieldMap{}
	var attempts []model.Attempt

	for _, spec := range e.catalog.Fields {
		fc := candidates[spec.Name]
		value, fieldAttempts := e.extractField(in, spec, fc)
		attempts = append(attempts, fieldAttempts...)
		if value != nil {
			raw[spec.Name] = value
		}
	}

	zap.L().Debug("extraction pass complete",
		zap.String("url", in.URL),
		zap.Int("fields", len(raw)),
		zap.Int("attempts", len(attempts)))
	return raw, attempts
}

func (e *Extractor) extractField(in *Input, spec catalog.FieldSpec, fc FieldCandidates) (any, []model.Attempt) {
	var attempts []model.Attempt
	now := time.Now().UTC()

	for _, strat := range assembleCandidates(spec, fc) {
		values := apply(in, strat, spec.Multi)
		if len(values) == 0 {
			attempts = append(attempts, model.Attempt{Strategy: strat, Outcome: model.OutcomeNoMatch, At: now})
			continue
		}

		kept := keepPlausible(spec, values)
		if len(kept) == 0 {
			attempts = append(attempts, model.Attempt{Strategy: strat, Outcome: model.OutcomeImplausible, At: now})
			continue
		}

		attempts = append(attempts, model.Attempt{
			Strategy: strat,
			Outcome:  model.OutcomeAccepted,
			Value:    kept[0],
			At:       now,
		})
		if spec.Multi {
			return kept, attempts
		}
		return kept[0], attempts
	}

	return nil, attempts
}

// assembleCandidates merges chunk, learned, and catalog strategies for one
// field, deduplicating by kind and payload. The first occurrence wins, so a
// learned strategy that duplicates a chunk keeps the chunk's provenance.
func assembleCandidates(spec catalog.FieldSpec, fc FieldCandidates) []model.Strategy {
	var out []model.Strategy
	seen := make(map[string]bool)

	add := func(s model.Strategy) {
		key := string(s.Kind) + "\x00" + s.Payload
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, s)
	}

	for _, chunk := range fc.Chunks {
		if chunk.SupersededAt != nil {
			continue
		}
		for _, s := range chunk.Strategies() {
			add(s)
		}
	}
	for _, s := range fc.Ranked {
		add(s)
	}
	for _, s := range spec.DefaultStrategies() {
		add(s)
	}
	return out
}

// keepPlausible filters and cleans matched values, deduplicating while
// preserving document order.
func keepPlausible(spec catalog.FieldSpec, values []string) []string {
	var kept []string
	seen := make(map[string]bool)
	for _, v := range values {
		cleaned, ok := plausible(spec, v)
		if !ok || seen[cleaned] {
			continue
		}
		seen[cleaned] = true
		kept = append(kept, cleaned)
	}
	return kept
}
