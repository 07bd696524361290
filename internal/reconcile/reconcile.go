// Package reconcile compares the canonical extracted record against the
// analysis artifact, corrects drift using the record as source of truth, and
// scores the agreement. Pure: no I/O, deterministic for a given record,
// artifact, and tracked-field set.
package reconcile

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shoplens/pipeline-cli/internal/catalog"
	"github.com/shoplens/pipeline-cli/internal/jptext"
	"github.com/shoplens/pipeline-cli/internal/model"
)

// Reconciler applies one versioned tracked-field set.
type Reconciler struct {
	tracked *catalog.TrackedSet
}

// New returns a Reconciler over the given tracked-field set.
func New(tracked *catalog.TrackedSet) *Reconciler {
	return &Reconciler{tracked: tracked}
}

// Reconcile walks the tracked fields, overwrites artifact values that
// disagree with the record, evaluates the downstream checklist, recomputes
// derived values from corrected inputs, and scores the run. The input
// artifact is never mutated; the corrected copy is returned.
//
// A mismatch is corrected whenever the record carries a value to write. When
// the record is absent but the artifact claims a non-zero numeric, the claim
// is unverifiable: it is reported as an uncorrected mismatch and counts
// against the score. Absent-vs-absent is no finding at all.
func (r *Reconciler) Reconcile(rec *model.CanonicalRecord, art *model.AnalysisArtifact) (*model.AnalysisArtifact, *model.ValidationResult) {
	corrected := cloneArtifact(art)

	result := &model.ValidationResult{
		ID:             uuid.NewString(),
		AnalysisID:     art.AnalysisID,
		CrawlID:        rec.CrawlID,
		TrackedVersion: r.tracked.Version,
		TrackedTotal:   r.tracked.Total(),
		CreatedAt:      time.Now().UTC(),
	}

	correctedSet := make(map[string]bool)
	for _, field := range r.tracked.Fields {
		extracted, havePresent := rec.Field(field.Name)
		analysis, ok := corrected.Field(field.ArtifactPath)
		if !ok {
			continue
		}

		switch {
		case havePresent:
			if matches(field, extracted, analysis) {
				continue
			}
			corrected.SetField(field.ArtifactPath, extracted)
			correctedSet[field.Name] = true
			result.CorrectedFields = append(result.CorrectedFields, field.Name)
			result.Mismatches = append(result.Mismatches, model.Mismatch{
				Field:     field.Name,
				Extracted: extracted,
				Analysis:  analysis,
				Severity:  severityFor(field.Category),
				Corrected: true,
			})
		case field.Comparator == catalog.CompareTolerance && !isZero(analysis):
			result.Mismatches = append(result.Mismatches, model.Mismatch{
				Field:     field.Name,
				Extracted: nil,
				Analysis:  analysis,
				Severity:  severityFor(field.Category),
				Corrected: false,
			})
		}
	}

	result.MissingItems = r.checkChecklist(rec, corrected)
	r.recomputeDerived(rec, corrected, correctedSet)

	unresolved := result.UnresolvedCount()
	result.Score = math.Max(0, 100-float64(unresolved)/float64(r.tracked.Total())*100)

	if len(result.Mismatches) > 0 || len(result.MissingItems) > 0 {
		zap.L().Info("reconciliation found drift",
			zap.String("analysis_id", art.AnalysisID),
			zap.Int("mismatches", len(result.Mismatches)),
			zap.Int("missing_items", len(result.MissingItems)),
			zap.Strings("corrected", result.CorrectedFields),
			zap.Float64("score", result.Score))
	}
	return corrected, result
}

// checkChecklist evaluates each downstream expectation. The record lacking
// the field is a source-data gap (medium); the record having it while the
// artifact's checklist never consumed it is a wiring defect (high).
func (r *Reconciler) checkChecklist(rec *model.CanonicalRecord, art *model.AnalysisArtifact) []model.MissingItem {
	var missing []model.MissingItem
	for _, spec := range r.tracked.Checklist {
		_, have := rec.Field(spec.Field)
		if !have {
			missing = append(missing, model.MissingItem{
				Field:            spec.Field,
				ExtractorHadData: false,
				ChecklistID:      spec.ID,
				Severity:         model.SeverityMedium,
			})
			continue
		}
		if item, ok := findChecklistItem(art, spec); !ok || !item.Satisfied {
			missing = append(missing, model.MissingItem{
				Field:            spec.Field,
				ExtractorHadData: true,
				ChecklistID:      spec.ID,
				Severity:         model.SeverityHigh,
			})
		}
	}
	return missing
}

// recomputeDerived restores consistency after overwrites: the discount rate
// follows corrected prices unless the rate itself was just corrected (the
// record's own value wins then), and checklist satisfied flags track record
// presence.
func (r *Reconciler) recomputeDerived(rec *model.CanonicalRecord, art *model.AnalysisArtifact, correctedSet map[string]bool) {
	priceCorrected := correctedSet[model.FieldSalePrice] || correctedSet[model.FieldOriginalPrice]
	if priceCorrected && !correctedSet[model.FieldDiscountRate] &&
		art.Price.SalePrice > 0 && art.Price.OriginalPrice > 0 {
		if art.Price.OriginalPrice > art.Price.SalePrice {
			art.Price.DiscountRate = int(float64(art.Price.OriginalPrice-art.Price.SalePrice) / float64(art.Price.OriginalPrice) * 100)
		} else {
			art.Price.DiscountRate = 0
		}
	}

	for i := range art.Checklist {
		_, have := rec.Field(art.Checklist[i].Field)
		art.Checklist[i].Satisfied = have
	}
}

func findChecklistItem(art *model.AnalysisArtifact, spec catalog.ChecklistSpec) (model.ChecklistItem, bool) {
	for _, item := range art.Checklist {
		if item.ID == spec.ID || item.Field == spec.Field {
			return item, true
		}
	}
	return model.ChecklistItem{}, false
}

func severityFor(cat catalog.Category) model.Severity {
	switch cat {
	case catalog.CategoryIdentity, catalog.CategoryPrice:
		return model.SeverityHigh
	case catalog.CategoryCount, catalog.CategoryFlag:
		return model.SeverityMedium
	}
	return model.SeverityLow
}

// matches applies the field's comparator.
func matches(field catalog.TrackedField, extracted, analysis any) bool {
	switch field.Comparator {
	case catalog.CompareTolerance:
		a, aok := asFloat(extracted)
		b, bok := asFloat(analysis)
		if !aok || !bok {
			return false
		}
		return math.Abs(a-b) <= field.Tolerance
	case catalog.CompareContains:
		a := jptext.FoldSpace(asString(extracted))
		b := jptext.FoldSpace(asString(analysis))
		if a == "" || b == "" {
			return a == b
		}
		return strings.Contains(a, b) || strings.Contains(b, a)
	default:
		if b, ok := extracted.(bool); ok {
			other, ok := analysis.(bool)
			return ok && b == other
		}
		return asString(extracted) == asString(analysis)
	}
}

func cloneArtifact(art *model.AnalysisArtifact) *model.AnalysisArtifact {
	out := *art
	if len(art.Checklist) > 0 {
		out.Checklist = make([]model.ChecklistItem, len(art.Checklist))
		copy(out.Checklist, art.Checklist)
	}
	return &out
}

func isZero(v any) bool {
	f, ok := asFloat(v)
	return ok && f == 0
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
