package resilience

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker(threshold, cooldown)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_ClosedAllowsCalls(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	assert.NoError(t, b.Allow())
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(eris.New("boom"))
	}

	assert.Equal(t, "open", b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	b, _ := testBreaker(3, time.Minute)

	b.Record(eris.New("boom"))
	b.Record(eris.New("boom"))
	b.Record(nil)
	b.Record(eris.New("boom"))
	b.Record(eris.New("boom"))

	assert.Equal(t, "closed", b.State())
	assert.NoError(t, b.Allow())
}

func TestBreaker_HalfOpenProbeCloses(t *testing.T) {
	b, now := testBreaker(2, time.Minute)
	b.Record(eris.New("boom"))
	b.Record(eris.New("boom"))
	require.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	*now = now.Add(61 * time.Second)
	assert.Equal(t, "half_open", b.State())
	require.NoError(t, b.Allow())

	b.Record(nil)
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_FailedProbeStartsFreshCooldown(t *testing.T) {
	b, now := testBreaker(2, time.Minute)
	b.Record(eris.New("boom"))
	b.Record(eris.New("boom"))

	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	b.Record(eris.New("still down"))

	assert.Equal(t, "open", b.State())
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)

	*now = now.Add(61 * time.Second)
	assert.NoError(t, b.Allow())
}

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(0, 0)

	assert.Equal(t, 3, b.threshold)
	assert.Equal(t, time.Minute, b.cooldown)
}
