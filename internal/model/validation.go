package model

import "time"

// Mismatch records one tracked field where the analysis artifact disagreed
// with the canonical record.
type Mismatch struct {
	Field     string   `json:"field"`
	Extracted any      `json:"extracted_value"`
	Analysis  any      `json:"analysis_value"`
	Severity  Severity `json:"severity"`
	Corrected bool     `json:"corrected"`
}

// MissingItem records a checklist expectation the canonical record could not
// satisfy. ExtractorHadData distinguishes a source-data gap from a wiring
// defect where the value was extracted but never consumed downstream.
type MissingItem struct {
	Field            string   `json:"field"`
	ExtractorHadData bool     `json:"extractor_had_data"`
	ChecklistID      string   `json:"checklist_id,omitempty"`
	Severity         Severity `json:"severity"`
}

// ValidationResult is the immutable outcome of one reconciliation run.
type ValidationResult struct {
	ID              string        `json:"id"`
	AnalysisID      string        `json:"analysis_id"`
	CrawlID         string        `json:"crawl_id"`
	TrackedVersion  int           `json:"tracked_version"`
	TrackedTotal    int           `json:"tracked_total"`
	Mismatches      []Mismatch    `json:"mismatches"`
	MissingItems    []MissingItem `json:"missing_items"`
	CorrectedFields []string      `json:"corrected_fields"`
	Score           float64       `json:"score"`
	CreatedAt       time.Time     `json:"created_at"`
}

// UnresolvedCount is the number of findings that count against the score:
// uncorrected mismatches plus missing items. Auto-corrected mismatches are
// excluded.
func (v *ValidationResult) UnresolvedCount() int {
	n := len(v.MissingItems)
	for _, m := range v.Mismatches {
		if !m.Corrected {
			n++
		}
	}
	return n
}
