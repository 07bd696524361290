package model

import "time"

// IssueType classifies an externally reported extraction error.
type IssueType string

const (
	IssueMismatch  IssueType = "mismatch"
	IssueMissing   IssueType = "missing"
	IssueIncorrect IssueType = "incorrect"
)

// Severity levels shared by error reports and validation findings.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ReportStatus tracks an error report's lifecycle.
type ReportStatus string

const (
	ReportPending  ReportStatus = "pending"
	ReportResolved ReportStatus = "resolved"
)

// ErrorReport is a field-level extraction error reported by a consumer of an
// analysis. Reports are never deleted; resolution only flips the status.
type ErrorReport struct {
	ID           string       `json:"id"`
	AnalysisID   string       `json:"analysis_id"`
	FieldName    string       `json:"field_name"`
	IssueType    IssueType    `json:"issue_type"`
	Severity     Severity     `json:"severity"`
	Description  string       `json:"user_description,omitempty"`
	CrawlerValue string       `json:"crawler_value,omitempty"`
	ReportValue  string       `json:"report_value,omitempty"`
	Status       ReportStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	ResolvedAt   *time.Time   `json:"resolved_at,omitempty"`
}

// PriorityChunk is a reusable structural fragment derived from an error
// report: a selector pattern plus the classes seen around the correct value.
// Superseded chunks are kept for audit but skipped by the extractor.
type PriorityChunk struct {
	ID             string     `json:"id"`
	FieldName      string     `json:"field_name"`
	Selector       string     `json:"selector"`
	RelatedClasses []string   `json:"related_classes,omitempty"`
	ReportID       string     `json:"report_id"`
	CreatedAt      time.Time  `json:"created_at"`
	SupersededAt   *time.Time `json:"superseded_at,omitempty"`
}

// Strategies expands the chunk into concrete candidates, tried ahead of any
// learned strategy. The derived selector comes first, then single-class
// selectors for the classes most often seen near the value.
func (c *PriorityChunk) Strategies() []Strategy {
	out := make([]Strategy, 0, 1+len(c.RelatedClasses))
	if c.Selector != "" {
		out = append(out, Strategy{
			Field:     c.FieldName,
			Kind:      KindSelector,
			Payload:   c.Selector,
			FromChunk: true,
			ChunkID:   c.ID,
		})
	}
	for _, class := range c.RelatedClasses {
		if class == "" {
			continue
		}
		out = append(out, Strategy{
			Field:     c.FieldName,
			Kind:      KindSelector,
			Payload:   "." + class,
			FromChunk: true,
			ChunkID:   c.ID,
		})
	}
	return out
}

// FieldPriority ranks a field by its unresolved report count.
type FieldPriority struct {
	FieldName string `json:"field_name"`
	Pending   int    `json:"pending_reports"`
}
