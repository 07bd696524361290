package learn

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoplens/pipeline-cli/internal/model"
	"github.com/shoplens/pipeline-cli/internal/store"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "learn.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return NewTracker(st)
}

func attempt(field, payload string, outcome model.AttemptOutcome) model.Attempt {
	return model.Attempt{
		Strategy: model.Strategy{Field: field, Kind: model.KindSelector, Payload: payload},
		Outcome:  outcome,
		At:       time.Now().UTC(),
	}
}

func TestTracker_RecordThenRank(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	// One proven selector, one that keeps failing.
	for i := 0; i < 9; i++ {
		require.NoError(t, tr.Record(ctx, []model.Attempt{attempt("sale_price", ".price-now", model.OutcomeAccepted)}, "ua-1"))
	}
	require.NoError(t, tr.Record(ctx, []model.Attempt{attempt("sale_price", ".price-now", model.OutcomeNoMatch)}, "ua-1"))
	for i := 0; i < 10; i++ {
		require.NoError(t, tr.Record(ctx, []model.Attempt{attempt("sale_price", ".old-price", model.OutcomeNoMatch)}, "ua-1"))
	}

	ranked, err := tr.Rank(ctx, "sale_price")
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, ".price-now", ranked[0].Payload)
	assert.Equal(t, ".old-price", ranked[1].Payload)
}

func TestTracker_RankAggregatesChannels(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	// Same strategy succeeds on one identity and fails on another; the
	// aggregate (2/3 raw) should still outrank an untried competitor only
	// because of its record, not its channel split.
	require.NoError(t, tr.Record(ctx, []model.Attempt{attempt("name", "h1.prd", model.OutcomeAccepted)}, "ua-1"))
	require.NoError(t, tr.Record(ctx, []model.Attempt{attempt("name", "h1.prd", model.OutcomeAccepted)}, "ua-2"))
	require.NoError(t, tr.Record(ctx, []model.Attempt{attempt("name", "h1.prd", model.OutcomeNoMatch)}, "ua-2"))

	ranked, err := tr.Rank(ctx, "name")
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "h1.prd", ranked[0].Payload)
}

func TestTracker_RecordCancelledContextWritesNothing(t *testing.T) {
	tr := newTestTracker(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tr.Record(ctx, []model.Attempt{attempt("name", "h1", model.OutcomeAccepted)}, "ua-1")
	require.Error(t, err)

	ranked, err := tr.Rank(context.Background(), "name")
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestTracker_ConcurrentRecordsLoseNoUpdates(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := tr.Record(ctx, []model.Attempt{attempt("image_count", "img.gallery", model.OutcomeAccepted)}, "ua-1"); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	st := tr.store
	scores, err := st.StrategyScores(ctx, "image_count")
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, int64(workers*perWorker), scores[0].Attempts)
	assert.Equal(t, int64(workers*perWorker), scores[0].Successes)
}

func TestTracker_IdentityRoundTrip(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	tr.RecordIdentity(ctx, model.IdentityUserAgent, "ua-good", true, false)
	tr.RecordIdentity(ctx, model.IdentityUserAgent, "ua-good", true, false)
	tr.RecordIdentity(ctx, model.IdentityUserAgent, "ua-blocked", false, true)
	tr.RecordIdentity(ctx, model.IdentityUserAgent, "", true, false) // ignored

	ranked, err := tr.RankedIdentities(ctx, model.IdentityUserAgent)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "ua-good", ranked[0].Value)
	assert.Equal(t, "ua-blocked", ranked[1].Value)
	assert.Equal(t, int64(1), ranked[1].Blocked)
}
