package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplens/pipeline-cli/internal/model"
	"github.com/shoplens/pipeline-cli/internal/store"
)

func newTestRecorder(t *testing.T) (*Recorder, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return NewRecorder(st), st
}

// 2026-05-01 is a Friday.
var baseTime = time.Date(2026, 5, 1, 14, 37, 12, 0, time.UTC)

func TestPeriodStart(t *testing.T) {
	tests := []struct {
		name   string
		period model.PeriodType
		in     time.Time
		want   time.Time
	}{
		{"hour truncates", model.PeriodHour, baseTime, time.Date(2026, 5, 1, 14, 0, 0, 0, time.UTC)},
		{"day truncates", model.PeriodDay, baseTime, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"week starts monday", model.PeriodWeek, baseTime, time.Date(2026, 4, 27, 0, 0, 0, 0, time.UTC)},
		{"sunday belongs to prior monday", model.PeriodWeek, time.Date(2026, 5, 3, 23, 0, 0, 0, time.UTC), time.Date(2026, 4, 27, 0, 0, 0, 0, time.UTC)},
		{"monday maps to itself", model.PeriodWeek, time.Date(2026, 4, 27, 8, 0, 0, 0, time.UTC), time.Date(2026, 4, 27, 0, 0, 0, 0, time.UTC)},
		{"month truncates", model.PeriodMonth, baseTime, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PeriodStart(tt.period, tt.in))
		})
	}
}

func TestRecordStageWritesEventAndBuckets(t *testing.T) {
	r, st := newTestRecorder(t)
	r.now = func() time.Time { return baseTime }
	ctx := context.Background()

	r.RecordStage(ctx, "crawl_1", model.StageFetch, model.StageSuccess, 100*time.Millisecond, map[string]any{"final_url": "https://www.example.jp/item/1"})
	r.RecordStage(ctx, "crawl_2", model.StageFetch, model.StageSuccess, 200*time.Millisecond, nil)
	r.RecordStage(ctx, "crawl_3", model.StageFetch, model.StageFailure, 300*time.Millisecond, nil)

	events, err := st.StageEventsSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "crawl_1", events[0].CrawlID)
	assert.Equal(t, model.StageSuccess, events[0].Status)
	assert.Equal(t, map[string]any{"final_url": "https://www.example.jp/item/1"}, events[0].Metadata)

	for _, period := range model.Periods {
		aggs, err := st.AggregatesByPeriod(ctx, period, time.Time{})
		require.NoError(t, err)
		require.Len(t, aggs, 1, period)
		agg := aggs[0]
		assert.Equal(t, model.StageFetch, agg.Stage)
		assert.True(t, PeriodStart(period, baseTime).Equal(agg.PeriodStart), "bucket start for %s", period)
		assert.Equal(t, int64(2), agg.SuccessCount)
		assert.Equal(t, int64(1), agg.FailureCount)
		assert.InDelta(t, 200.0, agg.AvgDurationMS, 0.001, "incremental average over 100, 200, 300")
	}
}

func TestRecordStageSwallowsStoreFailure(t *testing.T) {
	r, st := newTestRecorder(t)
	require.NoError(t, st.Close())

	assert.NotPanics(t, func() {
		r.RecordStage(context.Background(), "crawl_1", model.StageFetch, model.StageSuccess, time.Millisecond, nil)
	})
}

func TestSuccessRateSummaries(t *testing.T) {
	r, _ := newTestRecorder(t)
	r.now = func() time.Time { return baseTime }
	ctx := context.Background()

	r.RecordStage(ctx, "c1", model.StageFetch, model.StageSuccess, 100*time.Millisecond, nil)
	r.RecordStage(ctx, "c2", model.StageFetch, model.StageFailure, 300*time.Millisecond, nil)
	r.RecordStage(ctx, "c1", model.StageExtract, model.StageSuccess, 50*time.Millisecond, nil)

	summaries, err := r.SuccessRate(ctx, model.PeriodHour, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, summaries, len(model.Stages), "every stage appears, with or without data")

	byStage := make(map[string]StageSummary)
	for i, sum := range summaries {
		assert.Equal(t, model.Stages[i], sum.Stage, "pipeline execution order")
		byStage[sum.Stage] = sum
	}

	fetch := byStage[model.StageFetch]
	assert.Equal(t, int64(1), fetch.SuccessCount)
	assert.Equal(t, int64(1), fetch.FailureCount)
	assert.InDelta(t, 0.5, fetch.SuccessRate, 0.001)
	assert.InDelta(t, 200.0, fetch.AvgDurationMS, 0.001)

	extract := byStage[model.StageExtract]
	assert.Equal(t, int64(1), extract.SuccessCount)
	assert.InDelta(t, 1.0, extract.SuccessRate, 0.001)

	persist := byStage[model.StagePersist]
	assert.Zero(t, persist.SuccessCount)
	assert.Zero(t, persist.FailureCount)
	assert.Zero(t, persist.SuccessRate)
}

func TestStageDetailTimeSeries(t *testing.T) {
	r, _ := newTestRecorder(t)
	ctx := context.Background()

	r.now = func() time.Time { return baseTime }
	r.RecordStage(ctx, "c1", model.StageFetch, model.StageSuccess, 100*time.Millisecond, nil)
	r.now = func() time.Time { return baseTime.Add(time.Hour) }
	r.RecordStage(ctx, "c2", model.StageFetch, model.StageFailure, 200*time.Millisecond, nil)

	buckets, err := r.StageDetail(ctx, model.StageFetch, model.PeriodHour, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.True(t, buckets[0].PeriodStart.Before(buckets[1].PeriodStart), "oldest first")
	assert.Equal(t, int64(1), buckets[0].SuccessCount)
	assert.Equal(t, int64(1), buckets[1].FailureCount)
}

func TestRebuildMatchesLiveAggregation(t *testing.T) {
	r, st := newTestRecorder(t)
	ctx := context.Background()

	times := []time.Time{
		baseTime,
		baseTime.Add(30 * time.Minute),
		baseTime.Add(time.Hour),
		baseTime.Add(25 * time.Hour),
		baseTime.Add(7 * 24 * time.Hour),
	}
	stages := []string{model.StageFetch, model.StageExtract, model.StageFetch, model.StageReconcile, model.StageFetch}
	statuses := []model.StageStatus{model.StageSuccess, model.StageSuccess, model.StageFailure, model.StageSuccess, model.StageFailure}

	for i, ts := range times {
		ts := ts
		r.now = func() time.Time { return ts }
		r.RecordStage(ctx, "crawl", stages[i], statuses[i], time.Duration(i+1)*50*time.Millisecond, nil)
	}

	live := make(map[model.PeriodType][]model.AggregatedRate)
	for _, period := range model.Periods {
		aggs, err := st.AggregatesByPeriod(ctx, period, time.Time{})
		require.NoError(t, err)
		live[period] = aggs
	}

	require.NoError(t, r.Rebuild(ctx))

	for _, period := range model.Periods {
		rebuilt, err := st.AggregatesByPeriod(ctx, period, time.Time{})
		require.NoError(t, err)
		require.Len(t, rebuilt, len(live[period]), period)
		for i, agg := range rebuilt {
			want := live[period][i]
			assert.Equal(t, want.Stage, agg.Stage)
			assert.True(t, want.PeriodStart.Equal(agg.PeriodStart))
			assert.Equal(t, want.SuccessCount, agg.SuccessCount)
			assert.Equal(t, want.FailureCount, agg.FailureCount)
			assert.InDelta(t, want.AvgDurationMS, agg.AvgDurationMS, 0.001)
		}
	}
}
