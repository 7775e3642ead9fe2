package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_EmptySession(t *testing.T) {
	st := newSessionState("s", 0, 100)

	sum, err := summarize(&st, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sum.DurationSeconds)
	assert.Equal(t, 0.0, sum.FocusPercentage)
	assert.Equal(t, 0.0, sum.PhonePercentage)
	assert.Equal(t, 0.0, sum.LeftSeatPercentage)
	assert.Equal(t, 0.0, sum.ViolationsPerMinute)
	assert.Equal(t, 100.0, sum.AverageScore)
}

func TestSummarize_NegativeDurationClampedAndFlagged(t *testing.T) {
	st := newSessionState("s", 100, 90)
	st.apply(focusedAt(100))

	sum, err := summarize(&st, 50)
	require.Error(t, err)
	assert.True(t, IsInvalidDuration(err))
	assert.True(t, sum.DurationClamped)
	assert.Equal(t, 0.0, sum.DurationSeconds)
	assert.InDelta(t, 90.2, sum.FinalScore, 1e-9, "the summary is still usable")
}

func TestSummarize_ViolationBreakdown(t *testing.T) {
	st := newSessionState("s", 0, 100)

	st.apply(phoneAt(0))
	st.apply(focusedAt(1))
	st.apply(phoneAt(2))
	st.apply(focusedAt(3))
	st.apply(phoneAt(4))
	st.apply(absentAt(5))

	sum, err := summarize(&st, 120)
	require.NoError(t, err)
	assert.Equal(t, int64(4), sum.TotalViolations)
	assert.Equal(t, int64(3), sum.PhoneDetectedCount)
	assert.Equal(t, int64(1), sum.LeftSeatCount)
	assert.InDelta(t, 75.0, sum.PhonePercentage, 1e-9)
	assert.InDelta(t, 25.0, sum.LeftSeatPercentage, 1e-9)
	assert.InDelta(t, 2.0, sum.ViolationsPerMinute, 1e-9)
}

func TestSummarize_AverageIsEndpointMean(t *testing.T) {
	st := newSessionState("s", 0, 80)
	st.apply(phoneAt(0))

	sum, err := summarize(&st, 60)
	require.NoError(t, err)
	assert.InDelta(t, (80.0+75.0)/2, sum.AverageScore, 1e-9)
}

// Min and max track the whole trajectory, not just the endpoints: a session
// that dips and fully recovers still reports the dip.
func TestSummarize_MinMaxTrackTrajectory(t *testing.T) {
	st := newSessionState("s", 0, 100)

	st.apply(phoneAt(0))
	for i := 1; i <= 10; i++ {
		st.apply(phoneAt(float64(i)))
	}
	low := st.CurrentScore
	assert.InDelta(t, 94.0, low, 1e-9)

	st.apply(focusedAt(11))
	for i := 12; i < 12+60; i++ {
		st.apply(focusedAt(float64(i)))
	}

	sum, err := summarize(&st, 120)
	require.NoError(t, err)
	assert.InDelta(t, low, sum.MinScore, 1e-9)
	assert.Equal(t, 100.0, sum.MaxScore)
	assert.Greater(t, sum.FinalScore, sum.MinScore)
}

func TestSummarize_FocusLevelLabel(t *testing.T) {
	st := newSessionState("s", 0, 100)
	st.apply(focusedAt(0))

	sum, err := summarize(&st, 10)
	require.NoError(t, err)
	assert.Equal(t, FocusLevelHigh, sum.FocusLevel)

	st.CurrentScore = 45
	sum, err = summarize(&st, 10)
	require.NoError(t, err)
	assert.Equal(t, FocusLevelDistracted, sum.FocusLevel)
}
