// Package telemetry records one immutable event per stage invocation and
// maintains rolling success aggregates across four period granularities.
// Recording never fails the caller: write errors are logged and swallowed.
package telemetry

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/shoplens/pipeline-cli/internal/model"
	"github.com/shoplens/pipeline-cli/internal/store"
)

// Recorder writes stage events and keeps the period buckets current.
type Recorder struct {
	store store.Store
	now   func() time.Time
}

// NewRecorder returns a Recorder backed by the given store.
func NewRecorder(st store.Store) *Recorder {
	return &Recorder{store: st, now: time.Now}
}

// RecordStage appends one event and folds it into the hour, day, week, and
// month buckets. Exactly one call per stage invocation, success or failure.
func (r *Recorder) RecordStage(ctx context.Context, crawlID, stage string, status model.StageStatus, duration time.Duration, metadata map[string]any) {
	ts := r.now().UTC()
	durationMS := float64(duration) / float64(time.Millisecond)

	ev := &model.StageEvent{
		CrawlID:    crawlID,
		Stage:      stage,
		Status:     status,
		DurationMS: durationMS,
		Metadata:   metadata,
		CreatedAt:  ts,
	}
	if err := r.store.InsertStageEvent(ctx, ev); err != nil {
		zap.L().Warn("telemetry: stage event write failed",
			zap.String("stage", stage), zap.String("crawl_id", crawlID), zap.Error(err))
	}

	success := status == model.StageSuccess
	for _, period := range model.Periods {
		start := PeriodStart(period, ts)
		if err := r.store.UpsertAggregate(ctx, period, start, stage, success, durationMS); err != nil {
			zap.L().Warn("telemetry: aggregate update failed",
				zap.String("stage", stage), zap.String("period", string(period)), zap.Error(err))
		}
	}
}

// StageSummary rolls one stage's buckets up over a query window.
type StageSummary struct {
	Stage         string  `json:"stage"`
	SuccessCount  int64   `json:"success_count"`
	FailureCount  int64   `json:"failure_count"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// SuccessRate summarizes every pipeline stage over the lookback window at
// the given granularity. Stages with no recorded events appear with zero
// counts so displays stay shaped.
func (r *Recorder) SuccessRate(ctx context.Context, period model.PeriodType, lookback time.Duration) ([]StageSummary, error) {
	since := r.now().UTC().Add(-lookback)
	aggs, err := r.store.AggregatesByPeriod(ctx, period, since)
	if err != nil {
		return nil, err
	}

	byStage := make(map[string]*StageSummary)
	for _, agg := range aggs {
		sum, ok := byStage[agg.Stage]
		if !ok {
			sum = &StageSummary{Stage: agg.Stage}
			byStage[agg.Stage] = sum
		}
		prev := sum.SuccessCount + sum.FailureCount
		total := prev + agg.Total()
		if total > 0 {
			sum.AvgDurationMS = (sum.AvgDurationMS*float64(prev) + agg.AvgDurationMS*float64(agg.Total())) / float64(total)
		}
		sum.SuccessCount += agg.SuccessCount
		sum.FailureCount += agg.FailureCount
	}

	out := make([]StageSummary, 0, len(model.Stages))
	for _, stage := range model.Stages {
		sum, ok := byStage[stage]
		if !ok {
			out = append(out, StageSummary{Stage: stage})
			continue
		}
		if total := sum.SuccessCount + sum.FailureCount; total > 0 {
			sum.SuccessRate = float64(sum.SuccessCount) / float64(total)
		}
		out = append(out, *sum)
	}
	return out, nil
}

// StageDetail returns one stage's bucket time series over the lookback
// window, oldest first.
func (r *Recorder) StageDetail(ctx context.Context, stage string, period model.PeriodType, lookback time.Duration) ([]model.AggregatedRate, error) {
	since := r.now().UTC().Add(-lookback)
	return r.store.AggregatesForStage(ctx, stage, period, since)
}

// Rebuild recomputes every aggregate bucket from the raw event log and
// replaces the stored aggregates wholesale. Folding uses the same
// incremental average as live recording, so a rebuild after N events is
// byte-equivalent to having recorded them live.
func (r *Recorder) Rebuild(ctx context.Context) error {
	events, err := r.store.StageEventsSince(ctx, time.Time{})
	if err != nil {
		return err
	}

	type key struct {
		period model.PeriodType
		start  int64
		stage  string
	}
	buckets := make(map[key]*model.AggregatedRate)
	for _, ev := range events {
		for _, period := range model.Periods {
			start := PeriodStart(period, ev.CreatedAt.UTC())
			k := key{period, start.Unix(), ev.Stage}
			agg, ok := buckets[k]
			if !ok {
				agg = &model.AggregatedRate{PeriodType: period, PeriodStart: start, Stage: ev.Stage}
				buckets[k] = agg
			}
			n := float64(agg.Total() + 1)
			agg.AvgDurationMS = (agg.AvgDurationMS*(n-1) + ev.DurationMS) / n
			if ev.Status == model.StageSuccess {
				agg.SuccessCount++
			} else {
				agg.FailureCount++
			}
		}
	}

	aggs := make([]model.AggregatedRate, 0, len(buckets))
	for _, agg := range buckets {
		aggs = append(aggs, *agg)
	}
	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].PeriodType != aggs[j].PeriodType {
			return aggs[i].PeriodType < aggs[j].PeriodType
		}
		if !aggs[i].PeriodStart.Equal(aggs[j].PeriodStart) {
			return aggs[i].PeriodStart.Before(aggs[j].PeriodStart)
		}
		return aggs[i].Stage < aggs[j].Stage
	})

	zap.L().Info("telemetry: aggregates rebuilt",
		zap.Int("events", len(events)), zap.Int("buckets", len(aggs)))
	return r.store.ReplaceAggregates(ctx, aggs)
}

// PeriodStart truncates a timestamp to its bucket start. Weeks start on
// Monday.
func PeriodStart(period model.PeriodType, t time.Time) time.Time {
	t = t.UTC()
	switch period {
	case model.PeriodHour:
		return t.Truncate(time.Hour)
	case model.PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case model.PeriodWeek:
		shift := (int(t.Weekday()) + 6) % 7
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return day.AddDate(0, 0, -shift)
	case model.PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}
