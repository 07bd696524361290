package model

import "time"

// CrawlStatus is the terminal state of one crawl through the pipeline.
type CrawlStatus string

const (
	CrawlComplete CrawlStatus = "complete"
	CrawlDegraded CrawlStatus = "degraded" // fetch exhausted, empty record carried through
	CrawlFailed   CrawlStatus = "failed"   // persistence unavailable
)

// CrawlResult is the per-URL outcome returned by the pipeline.
type CrawlResult struct {
	CrawlID       string            `json:"crawl_id"`
	URL           string            `json:"url"`
	Status        CrawlStatus       `json:"status"`
	Record        *CanonicalRecord  `json:"record,omitempty"`
	Artifact      *AnalysisArtifact `json:"artifact,omitempty"`
	Validation    *ValidationResult `json:"validation,omitempty"`
	FetchAttempts int               `json:"fetch_attempts"`
	Error         string            `json:"error,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	FinishedAt    time.Time         `json:"finished_at"`
}

// Document is a fetched page body captured alongside a crawl. The feedback
// loop reads it back when deriving priority chunks from error reports.
type Document struct {
	ID         string    `json:"id"`
	CrawlID    string    `json:"crawl_id"`
	AnalysisID string    `json:"analysis_id"`
	URL        string    `json:"url"`
	Body       []byte    `json:"-"`
	FetchedAt  time.Time `json:"fetched_at"`
}
