// Package latency tracks per-phase voice pipeline timing against a
// configured budget and recommends graceful degradation when a phase runs
// long.
package latency

// Phase is a stage of the ASR -> Router -> Tool -> Finalizer -> TTS
// pipeline, always recorded in this order for one turn.
type Phase string

const (
	PhaseASR       Phase = "asr"
	PhaseRouter    Phase = "router"
	PhaseTool      Phase = "tool"
	PhaseFinalizer Phase = "finalizer"
	PhaseTTS       Phase = "tts"
)

var allPhases = []Phase{PhaseASR, PhaseRouter, PhaseTool, PhaseFinalizer, PhaseTTS}

// DegradationAction is the recommended fallback when a phase exceeds its
// budget.
type DegradationAction string

const (
	DegradationNone               DegradationAction = "none"
	DegradationUsePartialASR      DegradationAction = "use_partial_asr"
	DegradationUsePrerouteCache   DegradationAction = "use_preroute_cache"
	DegradationAsyncToolFeedback  DegradationAction = "async_tool_with_feedback"
	DegradationSkipFinalizerUse3B DegradationAction = "skip_finalizer_use_3b"
	DegradationUseCachedTTS       DegradationAction = "use_cached_tts"
)

var phaseDegradation = map[Phase]DegradationAction{
	PhaseASR:       DegradationUsePartialASR,
	PhaseRouter:    DegradationUsePrerouteCache,
	PhaseTool:      DegradationAsyncToolFeedback,
	PhaseFinalizer: DegradationSkipFinalizerUse3B,
	PhaseTTS:       DegradationUseCachedTTS,
}

// feedbackPhrases are injected into the voice stream when a phase exceeds
// budget so the user hears something instead of dead air.
var feedbackPhrases = map[Phase]string{
	PhaseTool:      "Bir bakayım efendim...",
	PhaseFinalizer: "Hemen söylüyorum...",
}

// Config holds the per-phase and end-to-end latency budget in
// milliseconds. Zero-value Config is invalid; use DefaultConfig.
type Config struct {
	ASRMaxMS       float64 `mapstructure:"asr_max_ms" yaml:"asr_max_ms"`
	RouterMaxMS    float64 `mapstructure:"router_max_ms" yaml:"router_max_ms"`
	ToolMaxMS      float64 `mapstructure:"tool_max_ms" yaml:"tool_max_ms"`
	FinalizerMaxMS float64 `mapstructure:"finalizer_max_ms" yaml:"finalizer_max_ms"`
	TTSMaxMS       float64 `mapstructure:"tts_max_ms" yaml:"tts_max_ms"`
	EndToEndMaxMS  float64 `mapstructure:"end_to_end_max_ms" yaml:"end_to_end_max_ms"`
}

// DefaultConfig matches the pipeline budget Bantz ships with.
func DefaultConfig() Config {
	return Config{
		ASRMaxMS:       500,
		RouterMaxMS:    100,
		ToolMaxMS:      1000,
		FinalizerMaxMS: 500,
		TTSMaxMS:       300,
		EndToEndMaxMS:  2000,
	}
}

func (c Config) maxFor(phase Phase) float64 {
	switch phase {
	case PhaseASR:
		return c.ASRMaxMS
	case PhaseRouter:
		return c.RouterMaxMS
	case PhaseTool:
		return c.ToolMaxMS
	case PhaseFinalizer:
		return c.FinalizerMaxMS
	case PhaseTTS:
		return c.TTSMaxMS
	default:
		return 0
	}
}

// Record is the outcome of timing one phase within one run.
type Record struct {
	Phase       Phase
	ElapsedMS   float64
	BudgetMS    float64
	Exceeded    bool
	Degradation DegradationAction
	Feedback    string
}

// HeadroomMS is positive when the phase finished under budget.
func (r Record) HeadroomMS() float64 { return r.BudgetMS - r.ElapsedMS }

// Run accumulates the phase records for one end-to-end turn.
type Run struct {
	Records []Record
}

// TotalMS sums every phase recorded on the run, whichever phases those are;
// phases that were never recorded contribute nothing.
func (r *Run) TotalMS() float64 {
	var total float64
	for _, rec := range r.Records {
		total += rec.ElapsedMS
	}
	return total
}

// ExceededPhases returns the records that ran over budget.
func (r *Run) ExceededPhases() []Record {
	var out []Record
	for _, rec := range r.Records {
		if rec.Exceeded {
			out = append(out, rec)
		}
	}
	return out
}

// FeedbackPhrases collects the non-empty feedback phrases for phases that
// exceeded their budget, in recorded order.
func (r *Run) FeedbackPhrases() []string {
	var out []string
	for _, rec := range r.Records {
		if rec.Exceeded && rec.Feedback != "" {
			out = append(out, rec.Feedback)
		}
	}
	return out
}

// Stats summarizes a rolling sample window.
type Stats struct {
	P50   float64
	P95   float64
	Min   float64
	Max   float64
	Count int
}
