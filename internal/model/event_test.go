package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregatedRate(t *testing.T) {
	agg := AggregatedRate{SuccessCount: 9, FailureCount: 1}
	assert.Equal(t, int64(10), agg.Total())
	assert.InDelta(t, 0.9, agg.SuccessRate(), 1e-9)
}

func TestAggregatedRate_EmptyBucket(t *testing.T) {
	agg := AggregatedRate{}
	assert.Equal(t, int64(0), agg.Total())
	assert.Zero(t, agg.SuccessRate())
}

func TestStagesOrder(t *testing.T) {
	assert.Equal(t, []string{"fetch", "extract", "normalize", "analyze", "reconcile", "persist"}, Stages)
}
