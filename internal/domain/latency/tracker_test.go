package latency

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordPhaseFlagsBudgetViolation(t *testing.T) {
	tr := NewTracker(DefaultConfig(), 0, zap.NewNop())
	run := tr.StartRun()

	rec := tr.RecordPhase(run, PhaseTool, 1500)

	require.True(t, rec.Exceeded)
	require.Equal(t, DegradationAsyncToolFeedback, rec.Degradation)
	require.Equal(t, "Bir bakayım efendim...", rec.Feedback)
}

func TestRecordPhaseWithinBudget(t *testing.T) {
	tr := NewTracker(DefaultConfig(), 0, zap.NewNop())
	run := tr.StartRun()

	rec := tr.RecordPhase(run, PhaseASR, 200)

	require.False(t, rec.Exceeded)
	require.Equal(t, DegradationNone, rec.Degradation)
	require.Empty(t, rec.Feedback)
}

func TestPercentilesOverWindow(t *testing.T) {
	tr := NewTracker(DefaultConfig(), 10, zap.NewNop())
	run := tr.StartRun()
	for i := 1; i <= 10; i++ {
		tr.RecordPhase(run, PhaseRouter, float64(i*10))
	}
	stats := tr.PhaseStats(PhaseRouter)

	require.Equal(t, 10, stats.Count)
	require.InDelta(t, 55, stats.P50, 1)
	require.InDelta(t, 100, stats.Max, 0.01)
	require.InDelta(t, 10, stats.Min, 0.01)
}

func TestRollingWindowBounded(t *testing.T) {
	tr := NewTracker(DefaultConfig(), 3, zap.NewNop())
	run := tr.StartRun()
	for i := 1; i <= 5; i++ {
		tr.RecordPhase(run, PhaseTTS, float64(i))
	}
	stats := tr.PhaseStats(PhaseTTS)
	require.Equal(t, 3, stats.Count)
	require.Equal(t, 3.0, stats.Min)
	require.Equal(t, 5.0, stats.Max)
}

func TestShouldSkipFinalizer(t *testing.T) {
	tr := NewTracker(DefaultConfig(), 0, zap.NewNop())
	require.True(t, tr.ShouldSkipFinalizer(1600))
	require.False(t, tr.ShouldSkipFinalizer(1000))
}

func TestViolationRateAcrossRuns(t *testing.T) {
	tr := NewTracker(DefaultConfig(), 0, zap.NewNop())

	ok := tr.StartRun()
	tr.RecordPhase(ok, PhaseASR, 100)
	tr.FinishRun(ok)

	bad := tr.StartRun()
	tr.RecordPhase(bad, PhaseASR, 900)
	tr.FinishRun(bad)

	require.InDelta(t, 0.5, tr.ViolationRate(), 0.001)
}
