package model

import "time"

// StageStatus is the terminal state of one stage invocation.
type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StageFailure StageStatus = "failure"
)

// Stage names emitted by the pipeline, in execution order.
const (
	StageFetch     = "fetch"
	StageExtract   = "extract"
	StageNormalize = "normalize"
	StageAnalyze   = "analyze"
	StageReconcile = "reconcile"
	StagePersist   = "persist"
)

// Stages lists every stage the pipeline emits, in order.
var Stages = []string{
	StageFetch, StageExtract, StageNormalize,
	StageAnalyze, StageReconcile, StagePersist,
}

// StageEvent is one append-only telemetry event. Events are never mutated
// after being written; aggregates are derived from them.
type StageEvent struct {
	ID         int64          `json:"id"`
	CrawlID    string         `json:"crawl_id"`
	Stage      string         `json:"stage"`
	Status     StageStatus    `json:"status"`
	DurationMS float64        `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// PeriodType is a telemetry aggregation granularity.
type PeriodType string

const (
	PeriodHour  PeriodType = "hour"
	PeriodDay   PeriodType = "day"
	PeriodWeek  PeriodType = "week" // Monday-start
	PeriodMonth PeriodType = "month"
)

// Periods lists every aggregation granularity a stage event rolls into.
var Periods = []PeriodType{PeriodHour, PeriodDay, PeriodWeek, PeriodMonth}

// AggregatedRate is the rolling success aggregate for one
// (stage, period-type, period-start) bucket.
type AggregatedRate struct {
	PeriodType    PeriodType `json:"period_type"`
	PeriodStart   time.Time  `json:"period_start"`
	Stage         string     `json:"stage"`
	SuccessCount  int64      `json:"success_count"`
	FailureCount  int64      `json:"failure_count"`
	AvgDurationMS float64    `json:"avg_duration_ms"`
}

// Total returns the number of events rolled into the bucket.
func (a AggregatedRate) Total() int64 { return a.SuccessCount + a.FailureCount }

// SuccessRate returns successes over total, 0 for an empty bucket.
func (a AggregatedRate) SuccessRate() float64 {
	total := a.Total()
	if total == 0 {
		return 0
	}
	return float64(a.SuccessCount) / float64(total)
}
