package learn

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shoplens/pipeline-cli/internal/model"
	"github.com/shoplens/pipeline-cli/internal/store"
)

// Tracker persists strategy and identity performance counters and serves
// ranked orderings back to the extractor and fetcher. Store increments are
// atomic; the per-field locks only keep one crawl's attempt batch from
// interleaving with another's for the same field.
type Tracker struct {
	store store.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker returns a Tracker backed by the given store.
func NewTracker(st store.Store) *Tracker {
	return &Tracker{store: st, locks: make(map[string]*sync.Mutex)}
}

func (t *Tracker) fieldLock(field string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[field]
	if !ok {
		l = &sync.Mutex{}
		t.locks[field] = l
	}
	return l
}

// Record folds a completed extraction pass's attempt log into the counters
// for the given channel. Attempts from cancelled crawls must not reach here;
// a cancelled context aborts the whole batch before any write.
func (t *Tracker) Record(ctx context.Context, attempts []model.Attempt, channel string) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "learn: record")
	}

	byField := make(map[string][]model.Attempt)
	for _, att := range attempts {
		byField[att.Strategy.Field] = append(byField[att.Strategy.Field], att)
	}

	for field, batch := range byField {
		l := t.fieldLock(field)
		l.Lock()
		for _, att := range batch {
			if err := t.store.RecordStrategyAttempt(ctx, att, channel); err != nil {
				l.Unlock()
				return eris.Wrap(err, "learn: record attempt")
			}
		}
		l.Unlock()
	}
	return nil
}

// Rank returns the stored strategies for a field, best-first. Counters are
// aggregated across channels before ranking.
func (t *Tracker) Rank(ctx context.Context, field string) ([]model.Strategy, error) {
	rows, err := t.store.StrategyScores(ctx, field)
	if err != nil {
		return nil, eris.Wrap(err, "learn: rank")
	}
	ranked := RankStrategies(AggregateChannels(rows))

	out := make([]model.Strategy, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, model.Strategy{Field: r.Field, Kind: r.Kind, Payload: r.Payload})
	}
	return out, nil
}

// RecordIdentity folds one fetch outcome into the identity counters. Failures
// here are logged and swallowed: losing a counter update must never fail a
// fetch that already succeeded.
func (t *Tracker) RecordIdentity(ctx context.Context, kind, value string, success, blocked bool) {
	if value == "" {
		return
	}
	if err := t.store.RecordIdentityResult(ctx, kind, value, success, blocked); err != nil {
		zap.L().Warn("identity counter update failed",
			zap.String("kind", kind),
			zap.Error(err))
	}
}

// RankedIdentities returns the stored identities of one kind, best-first.
func (t *Tracker) RankedIdentities(ctx context.Context, kind string) ([]model.IdentityScore, error) {
	rows, err := t.store.IdentityScores(ctx, kind)
	if err != nil {
		return nil, eris.Wrap(err, "learn: rank identities")
	}
	return RankIdentities(rows), nil
}
