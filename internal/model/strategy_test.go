package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayloadHash(t *testing.T) {
	a := Strategy{Field: "sale_price", Kind: KindSelector, Payload: ".price-now"}
	b := Strategy{Field: "name", Kind: KindPattern, Payload: ".price-now"}
	c := Strategy{Field: "sale_price", Kind: KindSelector, Payload: ".price-was"}

	assert.Len(t, a.PayloadHash(), 16)
	assert.Equal(t, a.PayloadHash(), b.PayloadHash(), "hash depends only on payload")
	assert.NotEqual(t, a.PayloadHash(), c.PayloadHash())
}

func TestAttemptSuccess(t *testing.T) {
	assert.True(t, Attempt{Outcome: OutcomeAccepted}.Success())
	assert.False(t, Attempt{Outcome: OutcomeNoMatch}.Success())
	assert.False(t, Attempt{Outcome: OutcomeImplausible}.Success())
}

func TestStrategyScoreSmoothedRate(t *testing.T) {
	assert.InDelta(t, 0.5, StrategyScore{}.SmoothedRate(), 1e-9)
	assert.InDelta(t, 10.0/12.0, StrategyScore{Attempts: 10, Successes: 9}.SmoothedRate(), 1e-9)
	assert.InDelta(t, 1.0/12.0, StrategyScore{Attempts: 10}.SmoothedRate(), 1e-9)
}
