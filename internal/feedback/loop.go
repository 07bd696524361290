// Package feedback turns externally reported extraction errors into priority
// chunks: structural fragments around where the correct value lives, tried
// first on future crawls of similar pages.
package feedback

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shoplens/pipeline-cli/internal/catalog"
	"github.com/shoplens/pipeline-cli/internal/jptext"
	"github.com/shoplens/pipeline-cli/internal/model"
	"github.com/shoplens/pipeline-cli/internal/store"
)

const (
	maxSelectorClasses = 3
	maxRelatedClasses  = 5
)

// Loop ingests error reports and derives priority chunks.
type Loop struct {
	store   store.Store
	catalog *catalog.Catalog
}

// NewLoop returns a feedback loop over the given store and field catalog.
func NewLoop(st store.Store, cat *catalog.Catalog) *Loop {
	return &Loop{store: st, catalog: cat}
}

// Ingest persists the report, then tries to derive a chunk from the captured
// page. Every call ends in exactly one of two states: a new chunk (prior
// chunks for the field superseded), or the report alone with the underivable
// reason logged. Missing documents and unlocatable neighborhoods are normal
// outcomes, not errors.
func (l *Loop) Ingest(ctx context.Context, r *model.ErrorReport, capturedHTML []byte) (*model.PriorityChunk, error) {
	if r.FieldName == "" {
		return nil, eris.New("feedback: report needs a field name")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = model.ReportPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	if err := l.store.InsertReport(ctx, r); err != nil {
		return nil, eris.Wrap(err, "feedback: insert report")
	}

	if len(capturedHTML) == 0 {
		zap.L().Info("no chunk derivable",
			zap.String("report_id", r.ID),
			zap.String("field", r.FieldName),
			zap.String("reason", "no captured document"))
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(capturedHTML)))
	if err != nil {
		zap.L().Info("no chunk derivable",
			zap.String("report_id", r.ID),
			zap.String("field", r.FieldName),
			zap.String("reason", "document unparseable"))
		return nil, nil //nolint:nilerr
	}

	neighborhood := l.locate(doc, r)
	if neighborhood == nil {
		zap.L().Info("no chunk derivable",
			zap.String("report_id", r.ID),
			zap.String("field", r.FieldName),
			zap.String("reason", "neighborhood not found"))
		return nil, nil
	}

	chunk := &model.PriorityChunk{
		ID:             uuid.NewString(),
		FieldName:      r.FieldName,
		Selector:       selectorPattern(neighborhood),
		RelatedClasses: relatedClasses(neighborhood),
		ReportID:       r.ID,
		CreatedAt:      time.Now().UTC(),
	}
	if chunk.Selector == "" && len(chunk.RelatedClasses) == 0 {
		zap.L().Info("no chunk derivable",
			zap.String("report_id", r.ID),
			zap.String("field", r.FieldName),
			zap.String("reason", "neighborhood carries no classes"))
		return nil, nil
	}

	if err := l.store.InsertChunk(ctx, chunk); err != nil {
		return nil, eris.Wrap(err, "feedback: insert chunk")
	}

	zap.L().Info("priority chunk derived",
		zap.String("report_id", r.ID),
		zap.String("field", r.FieldName),
		zap.String("chunk_id", chunk.ID),
		zap.String("selector", chunk.Selector))
	return chunk, nil
}

// locate finds the field's structural neighborhood: the first catalog
// selector that matches, else the innermost element containing the reported
// correct value.
func (l *Loop) locate(doc *goquery.Document, r *model.ErrorReport) *goquery.Selection {
	if spec, ok := l.catalog.Field(r.FieldName); ok {
		for _, s := range spec.Strategies {
			if model.StrategyKind(s.Kind) != model.KindSelector {
				continue
			}
			if sel := doc.Find(s.Payload); sel.Length() > 0 {
				return sel.First()
			}
		}
	}

	want := jptext.FoldSpace(r.ReportValue)
	if want == "" {
		return nil
	}
	var best *goquery.Selection
	doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		if strings.Contains(jptext.FoldSpace(s.Text()), want) {
			best = s
		}
	})
	return best
}

// selectorPattern builds the chunk selector from the most frequent classes
// on the node and its ancestor chain, most frequent first.
func selectorPattern(sel *goquery.Selection) string {
	counts, order := classFrequency(sel)
	if len(order) == 0 {
		return ""
	}

	sorted := make([]string, len(order))
	copy(sorted, order)
	sort.SliceStable(sorted, func(i, j int) bool {
		return counts[sorted[i]] > counts[sorted[j]]
	})
	if len(sorted) > maxSelectorClasses {
		sorted = sorted[:maxSelectorClasses]
	}

	parts := make([]string, 0, len(sorted))
	for _, cls := range sorted {
		parts = append(parts, "."+cls)
	}
	return strings.Join(parts, " > ")
}

// relatedClasses lists the classes nearest the value, innermost first.
func relatedClasses(sel *goquery.Selection) []string {
	_, order := classFrequency(sel)
	if len(order) > maxRelatedClasses {
		order = order[:maxRelatedClasses]
	}
	return order
}

// classFrequency counts classes on the node and its ancestors. The order
// slice records first appearance walking outward, which keeps class lists
// deterministic for identical documents.
func classFrequency(sel *goquery.Selection) (map[string]int, []string) {
	counts := make(map[string]int)
	var order []string

	collect := func(s *goquery.Selection) {
		for _, cls := range strings.Fields(s.AttrOr("class", "")) {
			if counts[cls] == 0 {
				order = append(order, cls)
			}
			counts[cls]++
		}
	}

	collect(sel)
	sel.Parents().Each(func(_ int, p *goquery.Selection) {
		if goquery.NodeName(p) == "body" || goquery.NodeName(p) == "html" {
			return
		}
		collect(p)
	})
	return counts, order
}

// PriorityFields returns fields ranked by unresolved report count, capped at
// ten, for the orchestrator's next pass.
func (l *Loop) PriorityFields(ctx context.Context) ([]model.FieldPriority, error) {
	fields, err := l.store.PendingReportCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "feedback: priority fields")
	}
	return fields, nil
}

// Resolve marks a report resolved. Chunks derived from it stay active.
func (l *Loop) Resolve(ctx context.Context, reportID string) error {
	if err := l.store.ResolveReport(ctx, reportID); err != nil {
		return eris.Wrap(err, "feedback: resolve report")
	}
	zap.L().Info("report resolved", zap.String("report_id", reportID))
	return nil
}
