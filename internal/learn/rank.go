package learn

import (
	"sort"
	"time"

	"github.com/shoplens/pipeline-cli/internal/model"
)

// AggregateChannels folds per-channel counter rows into one row per strategy.
// Attempts and successes are summed; the most recent success and use
// timestamps win. Input order does not matter.
func AggregateChannels(rows []model.StrategyScore) []model.StrategyScore {
	type key struct {
		field   string
		kind    model.StrategyKind
		payload string
	}
	merged := make(map[key]*model.StrategyScore, len(rows))
	order := make([]key, 0, len(rows))
	for _, r := range rows {
		k := key{r.Field, r.Kind, r.Payload}
		agg, ok := merged[k]
		if !ok {
			c := r
			c.Channel = ""
			merged[k] = &c
			order = append(order, k)
			continue
		}
		agg.Attempts += r.Attempts
		agg.Successes += r.Successes
		if laterTime(r.LastSuccessAt, agg.LastSuccessAt) {
			agg.LastSuccessAt = r.LastSuccessAt
		}
		if laterTime(r.LastUsedAt, agg.LastUsedAt) {
			agg.LastUsedAt = r.LastUsedAt
		}
	}

	out := make([]model.StrategyScore, 0, len(merged))
	for _, k := range order {
		out = append(out, *merged[k])
	}
	return out
}

// RankStrategies orders aggregated counter rows best-first: smoothed success
// rate descending, then most recent success, then payload ascending. The
// final key makes the order total, so equal histories rank identically on
// every run.
func RankStrategies(rows []model.StrategyScore) []model.StrategyScore {
	ranked := make([]model.StrategyScore, len(rows))
	copy(ranked, rows)
	sort.Slice(ranked, func(i, j int) bool {
		ri, rj := ranked[i].SmoothedRate(), ranked[j].SmoothedRate()
		if ri != rj {
			return ri > rj
		}
		if !equalTime(ranked[i].LastSuccessAt, ranked[j].LastSuccessAt) {
			return laterTime(ranked[i].LastSuccessAt, ranked[j].LastSuccessAt)
		}
		return ranked[i].Payload < ranked[j].Payload
	})
	return ranked
}

// RankIdentities orders network identities best-first using the same
// smoothing as strategies, with block count and value as tie-breakers.
func RankIdentities(rows []model.IdentityScore) []model.IdentityScore {
	ranked := make([]model.IdentityScore, len(rows))
	copy(ranked, rows)
	sort.Slice(ranked, func(i, j int) bool {
		ri, rj := ranked[i].SmoothedRate(), ranked[j].SmoothedRate()
		if ri != rj {
			return ri > rj
		}
		if ranked[i].Blocked != ranked[j].Blocked {
			return ranked[i].Blocked < ranked[j].Blocked
		}
		return ranked[i].Value < ranked[j].Value
	})
	return ranked
}

func laterTime(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
