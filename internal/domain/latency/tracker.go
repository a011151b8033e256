package latency

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// defaultMaxSamples bounds the rolling window kept per phase for
// percentile calculation.
const defaultMaxSamples = 500

// Tracker records phase timings across many runs and exposes p50/p95
// dashboards. A single mutex guards every phase window and the run
// counters, so concurrent runs serialize on it even when they record
// different phases.
type Tracker struct {
	cfg        Config
	maxSamples int
	logger     *zap.Logger

	mu           sync.Mutex
	samples      map[Phase][]float64
	e2eSamples   []float64
	totalRuns    int
	exceededRuns int
}

// NewTracker builds a Tracker bound to cfg. A zero-value maxSamples falls
// back to the 500-sample default.
func NewTracker(cfg Config, maxSamples int, logger *zap.Logger) *Tracker {
	if maxSamples <= 0 {
		maxSamples = defaultMaxSamples
	}
	samples := make(map[Phase][]float64, len(allPhases))
	for _, p := range allPhases {
		samples[p] = make([]float64, 0, maxSamples)
	}
	return &Tracker{cfg: cfg, maxSamples: maxSamples, logger: logger, samples: samples}
}

// Config returns the budget this tracker enforces.
func (t *Tracker) Config() Config { return t.cfg }

// StartRun begins a new pipeline timing run.
func (t *Tracker) StartRun() *Run { return &Run{} }

// RecordPhase times one phase of run and appends it to the rolling window.
func (t *Tracker) RecordPhase(run *Run, phase Phase, elapsedMS float64) Record {
	maxMS := t.cfg.maxFor(phase)
	exceeded := elapsedMS > maxMS
	rec := Record{Phase: phase, ElapsedMS: elapsedMS, BudgetMS: maxMS, Degradation: DegradationNone}
	if exceeded {
		rec.Exceeded = true
		rec.Degradation = phaseDegradation[phase]
		rec.Feedback = feedbackPhrases[phase]
	}
	run.Records = append(run.Records, rec)

	t.mu.Lock()
	t.appendSample(phase, elapsedMS)
	t.mu.Unlock()

	if exceeded && t.logger != nil {
		t.logger.Warn("latency phase exceeded budget",
			zap.String("phase", string(phase)),
			zap.Float64("elapsed_ms", elapsedMS),
			zap.Float64("budget_ms", maxMS),
			zap.String("degradation", string(rec.Degradation)),
		)
	}
	return rec
}

// FinishRun closes out run, recording its end-to-end total.
func (t *Tracker) FinishRun(run *Run) {
	total := run.TotalMS()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.e2eSamples = appendBounded(t.e2eSamples, total, t.maxSamples)
	t.totalRuns++
	if len(run.ExceededPhases()) > 0 {
		t.exceededRuns++
	}
}

func (t *Tracker) appendSample(phase Phase, v float64) {
	t.samples[phase] = appendBounded(t.samples[phase], v, t.maxSamples)
}

func appendBounded(s []float64, v float64, max int) []float64 {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

// PhaseStats returns p50/p95/min/max for phase's rolling window.
func (t *Tracker) PhaseStats(phase Phase) Stats {
	t.mu.Lock()
	samples := append([]float64(nil), t.samples[phase]...)
	t.mu.Unlock()
	return statsOf(samples)
}

// E2EStats returns p50/p95/min/max across full-pipeline totals.
func (t *Tracker) E2EStats() Stats {
	t.mu.Lock()
	samples := append([]float64(nil), t.e2eSamples...)
	t.mu.Unlock()
	return statsOf(samples)
}

// ViolationRate is the fraction of finished runs with at least one
// exceeded phase.
func (t *Tracker) ViolationRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.totalRuns == 0 {
		return 0
	}
	return float64(t.exceededRuns) / float64(t.totalRuns)
}

// Reset clears every sample window and run counter.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range allPhases {
		t.samples[p] = t.samples[p][:0]
	}
	t.e2eSamples = t.e2eSamples[:0]
	t.totalRuns = 0
	t.exceededRuns = 0
}

// ShouldSkipFinalizer reports whether, given elapsedSoFarMS already spent
// on ASR+Router+Tool, there isn't enough remaining end-to-end budget left
// to run the finalizer — the caller should fall back to the smaller model.
func (t *Tracker) ShouldSkipFinalizer(elapsedSoFarMS float64) bool {
	remaining := t.cfg.EndToEndMaxMS - elapsedSoFarMS
	return remaining < t.cfg.FinalizerMaxMS
}

func statsOf(samples []float64) Stats {
	if len(samples) == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return Stats{
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Count: len(sorted),
	}
}

// percentile performs linear interpolation over an already-sorted slice,
// matching the nearest-rank-with-interpolation method used by the original
// Python tracker.
func percentile(sorted []float64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	k := float64(len(sorted)-1) * (pct / 100.0)
	f := int(k)
	c := f + 1
	if c >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[f] + (sorted[c]-sorted[f])*(k-float64(f))
}
