package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/shoplens/pipeline-cli/internal/model"
)

// ErrNotFound is returned when a lookup or update targets a row that does
// not exist. Callers distinguish it with eris.Is.
var ErrNotFound = eris.New("not found")

// ReportFilter specifies criteria for listing error reports.
type ReportFilter struct {
	Status    model.ReportStatus `json:"status,omitempty"`
	FieldName string             `json:"field_name,omitempty"`
	Limit     int                `json:"limit,omitempty"`
}

// Store defines the persistence interface for the extraction pipeline:
// learning state, feedback state, telemetry, and final crawl output.
type Store interface {
	// Strategy performance counters. RecordStrategyAttempt applies a single
	// atomic increment so parallel crawls never lose updates.
	RecordStrategyAttempt(ctx context.Context, att model.Attempt, channel string) error
	StrategyScores(ctx context.Context, field string) ([]model.StrategyScore, error)

	// Network identity counters.
	RecordIdentityResult(ctx context.Context, kind, value string, success, blocked bool) error
	IdentityScores(ctx context.Context, kind string) ([]model.IdentityScore, error)

	// Priority chunks. Inserting a chunk supersedes prior chunks for the
	// same field; superseded chunks are kept.
	InsertChunk(ctx context.Context, chunk *model.PriorityChunk) error
	ChunksForField(ctx context.Context, field string) ([]model.PriorityChunk, error)

	// Error reports.
	InsertReport(ctx context.Context, r *model.ErrorReport) error
	GetReport(ctx context.Context, id string) (*model.ErrorReport, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]model.ErrorReport, error)
	ResolveReport(ctx context.Context, id string) error
	PendingReportCounts(ctx context.Context) ([]model.FieldPriority, error)

	// Captured documents.
	SaveDocument(ctx context.Context, doc *model.Document) error
	LatestDocumentForAnalysis(ctx context.Context, analysisID string) (*model.Document, error)

	// Telemetry. Events are append-only; aggregates are incremental and can
	// be rebuilt from events.
	InsertStageEvent(ctx context.Context, ev *model.StageEvent) error
	UpsertAggregate(ctx context.Context, periodType model.PeriodType, periodStart time.Time, stage string, success bool, durationMS float64) error
	AggregatesByPeriod(ctx context.Context, periodType model.PeriodType, since time.Time) ([]model.AggregatedRate, error)
	AggregatesForStage(ctx context.Context, stage string, periodType model.PeriodType, since time.Time) ([]model.AggregatedRate, error)
	StageEventsSince(ctx context.Context, since time.Time) ([]model.StageEvent, error)
	ReplaceAggregates(ctx context.Context, aggs []model.AggregatedRate) error

	// Final crawl output. These are the only writes whose failure is fatal
	// to a crawl.
	SaveRecord(ctx context.Context, rec *model.CanonicalRecord) error
	SaveArtifact(ctx context.Context, art *model.AnalysisArtifact) error
	SaveValidation(ctx context.Context, v *model.ValidationResult) error
	GetValidation(ctx context.Context, analysisID string) (*model.ValidationResult, error)
	RecordsSince(ctx context.Context, since time.Time) ([]model.CanonicalRecord, error)
	ValidationsSince(ctx context.Context, since time.Time) ([]model.ValidationResult, error)

	// Warehouse sync watermarks.
	SyncWatermark(ctx context.Context, name string) (time.Time, error)
	SetSyncWatermark(ctx context.Context, name string, at time.Time) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
