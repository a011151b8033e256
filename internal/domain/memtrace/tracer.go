// Package memtrace holds a session's rolling summary, conversation ring
// and last-K tool-result ring, and records how each turn mutated them.
//
// The budget here bounds what one turn injects into a single prompt, not
// a whole window: this is per-turn rolling memory plus a trace record,
// not context-window pruning ahead of one LLM call.
package memtrace

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// TokenCounter estimates how many tokens a string costs.
type TokenCounter interface {
	Count(text string) int
}

// SimpleTokenCounter estimates tokens at roughly 4 characters each. Bantz
// is Turkish-first, so no CJK-specific half-token casing is needed;
// Turkish diacritics are already single-width runes.
type SimpleTokenCounter struct {
	charsPerToken float64
}

// NewSimpleTokenCounter returns the default char/4 estimator.
func NewSimpleTokenCounter() *SimpleTokenCounter {
	return &SimpleTokenCounter{charsPerToken: 4.0}
}

func (c *SimpleTokenCounter) Count(text string) int {
	return int(float64(utf8.RuneCountInString(text))/c.charsPerToken) + 1
}

// Budget bounds what a turn may inject and retain.
type Budget struct {
	MaxTokens       int
	MaxTurns        int
	MaxSummaryChars int
	PIIFilter       bool
}

// DefaultBudget matches the rolling-memory defaults the runtime ships with.
func DefaultBudget() Budget {
	return Budget{MaxTokens: 800, MaxTurns: 10, MaxSummaryChars: 500, PIIFilter: false}
}

// ConversationTurn is one retained turn in the ring.
type ConversationTurn struct {
	UserText      string
	AssistantText string
}

// ToolResult is one retained entry in the last-K tool-result ring.
type ToolResult struct {
	Tool   string
	Result string
}

// Record is what EndTurn hands back: the injection and trim history for
// one turn, for the orchestrator's trace metadata.
type Record struct {
	TurnNumber       int
	Injected         bool
	InjectedTokens   int
	TurnsRepresented int
	Trims            []TrimEvent
}

// TrimEvent records one trim-for-budget decision.
type TrimEvent struct {
	OriginalTokens int
	AfterTokens    int
	Reason         string
}

// EnhancedSummaryBlock is the short structured textual form injected
// ahead of a Finalizer call: purely textual, no LLM parsing contract.
type EnhancedSummaryBlock struct {
	TurnNumber       int
	IntentVerbPhrase string
	ActionTaken      string
	KeyEntities      []string
	ResultCount      int
	ToolUsed         string
}

// Render produces the textual block injected ahead of a Finalizer prompt.
func (b EnhancedSummaryBlock) Render() string {
	var sb strings.Builder
	sb.WriteString("Tur ")
	sb.WriteString(strconv.Itoa(b.TurnNumber))
	sb.WriteString(": ")
	sb.WriteString(b.IntentVerbPhrase)
	if b.ActionTaken != "" {
		sb.WriteString(" -> ")
		sb.WriteString(b.ActionTaken)
	}
	if b.ToolUsed != "" {
		sb.WriteString(" [araç: ")
		sb.WriteString(b.ToolUsed)
		sb.WriteString("]")
	}
	if b.ResultCount > 0 {
		sb.WriteString(" (")
		sb.WriteString(strconv.Itoa(b.ResultCount))
		sb.WriteString(" sonuç)")
	}
	if len(b.KeyEntities) > 0 {
		sb.WriteString(" varlıklar: ")
		sb.WriteString(strings.Join(b.KeyEntities, ", "))
	}
	return sb.String()
}

// Tracer holds one session's rolling memory state. Not safe for
// concurrent use by multiple goroutines — the orchestrator owns exactly
// one Tracer per session, matching the per-session state ownership rule.
type Tracer struct {
	budget  Budget
	counter TokenCounter

	summary      string
	conversation []ConversationTurn
	toolResults  []ToolResult

	turnNumber int
	trims      []TrimEvent
	injected   int
	turnsRep   int
}

// NewTracer builds a Tracer. counter defaults to SimpleTokenCounter if nil.
func NewTracer(budget Budget, counter TokenCounter) *Tracer {
	if counter == nil {
		counter = NewSimpleTokenCounter()
	}
	return &Tracer{budget: budget, counter: counter}
}

// BeginTurn starts turn n, resetting the per-turn injection/trim tally.
func (t *Tracer) BeginTurn(n int) {
	t.turnNumber = n
	t.trims = nil
	t.injected = 0
	t.turnsRep = 0
}

// piiPatterns match the values the pii_filter scrubs before anything is
// injected or retained: email addresses and long digit runs (phone and ID
// numbers). Short numbers — counts, clock times — pass through.
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+`),
	regexp.MustCompile(`\b\d{7,}\b`),
}

func maskPII(text string) string {
	for _, p := range piiPatterns {
		text = p.ReplaceAllString(text, "***")
	}
	return text
}

// RecordInjection accounts for summaryText being injected into a prompt,
// trimming it line-wise from the head (keeping the newest content) if it
// exceeds the token budget.
func (t *Tracer) RecordInjection(summaryText string, turnsCount int, counter TokenCounter) string {
	if counter == nil {
		counter = t.counter
	}
	if t.budget.PIIFilter {
		summaryText = maskPII(summaryText)
	}
	t.turnsRep = turnsCount
	tokens := counter.Count(summaryText)
	if tokens <= t.budget.MaxTokens {
		t.injected += tokens
		return summaryText
	}

	lines := strings.Split(summaryText, "\n")
	kept := lines
	for len(kept) > 1 {
		candidate := strings.Join(kept[1:], "\n")
		if counter.Count(candidate) <= t.budget.MaxTokens {
			kept = kept[1:]
			break
		}
		kept = kept[1:]
	}
	trimmed := strings.Join(kept, "\n")
	afterTokens := counter.Count(trimmed)
	t.RecordTrim(tokens, afterTokens, "summary exceeded max_tokens")
	t.injected += afterTokens
	return trimmed
}

// RecordTrim appends a trim decision to the current turn's history.
func (t *Tracer) RecordTrim(originalTokens, afterTokens int, reason string) {
	t.trims = append(t.trims, TrimEvent{OriginalTokens: originalTokens, AfterTokens: afterTokens, Reason: reason})
}

// EndTurn closes out the turn and returns its Record.
func (t *Tracer) EndTurn() Record {
	return Record{
		TurnNumber:       t.turnNumber,
		Injected:         t.injected > 0,
		InjectedTokens:   t.injected,
		TurnsRepresented: t.turnsRep,
		Trims:            t.trims,
	}
}

// AppendConversation adds a turn to the ring, dropping the oldest once
// MaxTurns is exceeded.
func (t *Tracer) AppendConversation(turn ConversationTurn) {
	t.conversation = append(t.conversation, turn)
	if len(t.conversation) > t.budget.MaxTurns {
		t.conversation = t.conversation[len(t.conversation)-t.budget.MaxTurns:]
	}
}

// Conversation returns the retained conversation ring, oldest first.
func (t *Tracer) Conversation() []ConversationTurn {
	return t.conversation
}

// AppendToolResult adds a tool result to the last-K ring. k <= 0 keeps
// the existing cap.
func (t *Tracer) AppendToolResult(res ToolResult, k int) {
	t.toolResults = append(t.toolResults, res)
	if k <= 0 {
		k = t.budget.MaxTurns
	}
	if len(t.toolResults) > k {
		t.toolResults = t.toolResults[len(t.toolResults)-k:]
	}
}

// ToolResults returns the retained last-K tool results, oldest first.
func (t *Tracer) ToolResults() []ToolResult {
	return t.toolResults
}

// UpdateSummary appends addition to the rolling summary, trimming the
// oldest prefix once the char cap is exceeded (the newest suffix wins).
func (t *Tracer) UpdateSummary(addition string) {
	if addition == "" {
		return
	}
	if t.budget.PIIFilter {
		addition = maskPII(addition)
	}
	if t.summary == "" {
		t.summary = addition
	} else {
		t.summary = t.summary + " " + addition
	}
	limit := t.budget.MaxSummaryChars
	if limit <= 0 {
		return
	}
	if runes := []rune(t.summary); len(runes) > limit {
		t.summary = string(runes[len(runes)-limit:])
	}
}

// Summary returns the current rolling summary text.
func (t *Tracer) Summary() string {
	return t.summary
}
