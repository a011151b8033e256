// Package orchestrator drives one conversational turn through planning,
// firewall-gated tool execution, response finalization and rolling-memory
// update, following a strict Plan -> Execute -> Finalize -> Update phase
// sequence with a Turkish fallback reply on any unrecovered error.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bantz-ai/bantz/internal/domain/firewall"
	"github.com/bantz-ai/bantz/internal/domain/latency"
	"github.com/bantz-ai/bantz/internal/domain/memtrace"
	"github.com/bantz-ai/bantz/internal/domain/toolrunner"
	"github.com/bantz-ai/bantz/internal/infrastructure/eventbus"
)

// PlannedCall is one tool invocation the Router wants executed this turn.
type PlannedCall struct {
	Tool                 string
	Args                 map[string]any
	RequiresConfirmation bool
	Prompt               string
}

// Plan is the Router's output for one turn.
type Plan struct {
	Route      string
	RawIntent  string
	Slots      map[string]any
	Confidence float64
	Calls      []PlannedCall

	// AssistantReply is the planner's own tentative reply, used as the
	// Phase 3 fallback whenever the Finalizer is skipped or distrusted.
	AssistantReply string

	// AskUser and Question short-circuit Phase 3 entirely: when set, the
	// turn's response is Question and the Finalizer is never called.
	AskUser  bool
	Question string

	// MemoryUpdate is free-text the planner wants folded into long-term
	// memory, independent of the rolling summary.
	MemoryUpdate string

	// Reasoning is a short planner-authored explanation, carried through
	// for audit/observability subscribers; it has no control-flow effect.
	Reasoning string

	// Raw is the planner's opaque original payload, kept for debugging
	// and never parsed by the orchestrator.
	Raw any
}

// ToolOutcome records what happened to one planned call, whether it ran,
// was denied, or is awaiting confirmation.
type ToolOutcome struct {
	Tool       string
	Success    bool
	Value      any
	Error      string
	Skipped    bool
	SkipReason string
}

// Router turns user text, the rolling summary and recent conversation into
// a Plan. Implementations call out to an LLM or a rule engine; neither is
// this package's concern.
type Router interface {
	Route(ctx context.Context, userText, summary string, conversation []memtrace.ConversationTurn) (Plan, error)
}

// Finalizer composes the natural-language reply from a turn's tool
// outcomes. IsAvailable lets the orchestrator probe a degraded or
// overloaded finalizer before committing to the call. constraint is empty
// on the first call and carries a stricter instruction on the single
// retry the fact guard is allowed to issue.
type Finalizer interface {
	IsAvailable(ctx context.Context) bool
	Finalize(ctx context.Context, userText string, outcomes []ToolOutcome, summary, constraint string) (string, error)
}

// ToolResultFormatter renders one outcome into the short line appended to
// the last-K tool-result ring.
type ToolResultFormatter interface {
	Format(outcome ToolOutcome) string
}

// ToolLookup resolves a planned tool name to something the Runner can call.
type ToolLookup interface {
	Lookup(name string) (toolrunner.Tool, bool)
}

// MemoryRecorder folds a planner's memory_update text into long-term
// memory. The orchestrator never reaches into the memory
// package's concrete types; a nil MemoryRecorder simply drops the update.
type MemoryRecorder interface {
	Remember(ctx context.Context, content string, metadata map[string]any) error
}

// TurnState is the per-session state a caller carries from one turn to the
// next. The zero value is a fresh session: the orchestrator assigns a
// session ID and a rolling-memory tracer on the first turn. Memory is
// owned by the session's turn loop and never shared across sessions.
type TurnState struct {
	SessionID  string
	TurnNumber int
	Pending    *firewall.Pending
	Memory     *memtrace.Tracer
}

// TurnOutput is what ProcessTurn hands back to the voice or chat surface.
type TurnOutput struct {
	Route        string
	Intent       string
	ResponseText string
	ToolOutcomes []ToolOutcome
	Degraded     bool
	Err          error
}

// Config tunes orchestrator behavior.
type Config struct {
	MaxToolCallsPerTurn int
}

// DefaultConfig matches the bounds Bantz ships with.
func DefaultConfig() Config {
	return Config{MaxToolCallsPerTurn: 5}
}

// FactGuard flags a Finalizer response that introduces numeric claims no
// tool outcome backs up. It is a heuristic, not a proof: plain
// conversational numbers (turn counts, ordinals spoken by the user) can
// trip a false positive, which is why the orchestrator retries the
// Finalizer once and then falls back to the planner's reply or the
// templated summary rather than rejecting the turn outright.
type FactGuard struct{}

// NewFactGuard builds a FactGuard.
func NewFactGuard() *FactGuard { return &FactGuard{} }

var numberPattern = regexp.MustCompile(`\d+([.,]\d+)?`)

// Check reports whether every numeric token in responseText also appears
// somewhere in outcomes' values or errors.
func (g *FactGuard) Check(responseText string, outcomes []ToolOutcome) bool {
	known := make(map[string]bool)
	for _, o := range outcomes {
		for _, n := range numberPattern.FindAllString(fmt.Sprint(o.Value), -1) {
			known[n] = true
		}
		for _, n := range numberPattern.FindAllString(o.Error, -1) {
			known[n] = true
		}
	}
	for _, n := range numberPattern.FindAllString(responseText, -1) {
		if !known[n] {
			return false
		}
	}
	return true
}

// Orchestrator wires the Router, Tool Runner, confirmation Firewall,
// Finalizer, latency Tracker and rolling memory into a single ProcessTurn
// call per conversational turn.
type Orchestrator struct {
	cfg Config

	router    Router
	finalizer Finalizer
	formatter ToolResultFormatter
	tools     ToolLookup
	factGuard *FactGuard

	runner         *toolrunner.Runner
	firewall       *firewall.Firewall
	latencyTracker *latency.Tracker
	memBudget      memtrace.Budget
	memory         MemoryRecorder

	bus    eventbus.Bus
	logger *zap.Logger
}

// NewOrchestrator assembles an Orchestrator. finalizer, formatter and
// factGuard may be nil. When finalizer is nil or unavailable, or its
// response is still flagged by factGuard after one constrained retry, the
// turn degrades to the plan's AssistantReply, or to a templated Turkish
// summary when that reply is empty.
func NewOrchestrator(
	cfg Config,
	router Router,
	finalizer Finalizer,
	formatter ToolResultFormatter,
	tools ToolLookup,
	factGuard *FactGuard,
	runner *toolrunner.Runner,
	fw *firewall.Firewall,
	latencyTracker *latency.Tracker,
	memBudget memtrace.Budget,
	memory MemoryRecorder,
	bus eventbus.Bus,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxToolCallsPerTurn <= 0 {
		cfg = DefaultConfig()
	}
	if memBudget == (memtrace.Budget{}) {
		memBudget = memtrace.DefaultBudget()
	}
	return &Orchestrator{
		cfg: cfg, router: router, finalizer: finalizer, formatter: formatter,
		tools: tools, factGuard: factGuard, runner: runner, firewall: fw,
		latencyTracker: latencyTracker, memBudget: memBudget, memory: memory,
		bus: bus, logger: logger,
	}
}

// ProcessTurn runs the Plan -> Execute -> Finalize -> Update cycle for one
// line of user text, returning the turn's output and the state to carry
// into the next call. A panic anywhere in the cycle is recovered and
// surfaced as a Turkish apology with route "unknown", never propagated to
// the caller.
func (o *Orchestrator) ProcessTurn(ctx context.Context, userText string, state *TurnState) (output *TurnOutput, next *TurnState) {
	if state == nil {
		state = &TurnState{}
	}
	turnNumber := state.TurnNumber + 1
	next = &TurnState{SessionID: state.SessionID, TurnNumber: turnNumber, Pending: state.Pending, Memory: state.Memory}
	if next.SessionID == "" {
		next.SessionID = uuid.NewString()
	}
	if next.Memory == nil {
		next.Memory = memtrace.NewTracer(o.memBudget, nil)
	}
	tracer := next.Memory
	correlationID := fmt.Sprintf("%s:%d", next.SessionID, turnNumber)

	defer func() {
		if r := recover(); r != nil {
			if o.logger != nil {
				o.logger.Error("turn panicked", zap.Any("recover", r), zap.String("correlation_id", correlationID))
			}
			output = &TurnOutput{
				Route:        "unknown",
				ResponseText: fmt.Sprintf("Efendim, bir sorun oluştu: %v", r),
				Err:          fmt.Errorf("turn panic: %v", r),
			}
			o.publishTurnEnd(correlationID, output)
		}
	}()

	tracer.BeginTurn(turnNumber)
	run := o.latencyTracker.StartRun()
	o.bus.Publish(eventbus.Event{Type: eventbus.TopicTurnStart, Source: "orchestrator", CorrelationID: correlationID, Data: map[string]any{"text": userText}})
	o.bus.Publish(eventbus.Event{
		Type:          eventbus.TopicRunStarted,
		Source:        "orchestrator",
		CorrelationID: correlationID,
		Data:          map[string]any{"user_input": userText, "session_id": next.SessionID},
	})

	routerStart := time.Now()
	plan, err := o.router.Route(ctx, userText, tracer.Summary(), tracer.Conversation())
	routerMS := float64(time.Since(routerStart).Milliseconds())
	o.latencyTracker.RecordPhase(run, latency.PhaseRouter, routerMS)

	if err != nil {
		output = &TurnOutput{Route: "unknown", ResponseText: fmt.Sprintf("Efendim, bir sorun oluştu: %v", err), Err: err}
		o.finishTurn(correlationID, userText, output, run, tracer)
		return output, next
	}

	o.bus.Publish(eventbus.Event{
		Type:          eventbus.TopicLLMDecision,
		Source:        "orchestrator",
		CorrelationID: correlationID,
		Data: map[string]any{
			"route": plan.Route, "intent": plan.RawIntent,
			"confidence": plan.Confidence, "tool_plan": toolNames(plan.Calls),
		},
	})

	toolStart := time.Now()
	outcomes, pending := o.executeTools(ctx, correlationID, plan, state.Pending)
	toolMS := float64(time.Since(toolStart).Milliseconds())
	o.latencyTracker.RecordPhase(run, latency.PhaseTool, toolMS)
	next.Pending = pending

	if pending != nil {
		output = &TurnOutput{Route: plan.Route, Intent: plan.RawIntent, ResponseText: pending.Prompt, ToolOutcomes: outcomes}
		o.finishTurn(correlationID, userText, output, run, tracer)
		return output, next
	}

	responseText, degraded := o.finalize(ctx, run, userText, plan, outcomes, tracer, routerMS+toolMS)
	output = &TurnOutput{Route: plan.Route, Intent: plan.RawIntent, ResponseText: responseText, ToolOutcomes: outcomes, Degraded: degraded}
	o.recordMemoryUpdate(ctx, correlationID, plan)
	o.finishTurn(correlationID, userText, output, run, tracer)
	return output, next
}

// recordMemoryUpdate folds a non-empty plan.MemoryUpdate into long-term
// memory. A failure here never fails the turn — it is logged and
// swallowed, matching the "subscriber exceptions never abort a turn"
// posture for this best-effort side channel.
func (o *Orchestrator) recordMemoryUpdate(ctx context.Context, correlationID string, plan Plan) {
	if o.memory == nil || plan.MemoryUpdate == "" {
		return
	}
	if err := o.memory.Remember(ctx, plan.MemoryUpdate, map[string]any{"correlation_id": correlationID, "route": plan.Route}); err != nil && o.logger != nil {
		o.logger.Warn("memory update failed", zap.String("correlation_id", correlationID), zap.Error(err))
	}
}

// executeTools runs plan.Calls in order, gating every call through the
// firewall first. It stops at the first call that lands in
// AwaitConfirmation, leaving any later calls unplanned for this turn.
func (o *Orchestrator) executeTools(ctx context.Context, correlationID string, plan Plan, pending *firewall.Pending) ([]ToolOutcome, *firewall.Pending) {
	var outcomes []ToolOutcome
	for i, call := range plan.Calls {
		if i >= o.cfg.MaxToolCallsPerTurn {
			break
		}

		outcome, nextPending := o.firewall.Admit(correlationID, call.Tool, call.RequiresConfirmation, call.Prompt, call.Args, pending)
		pending = nextPending

		switch outcome {
		case firewall.Deny:
			outcomes = append(outcomes, ToolOutcome{Tool: call.Tool, Skipped: true, SkipReason: "confirmation missing"})
			continue
		case firewall.AwaitConfirmation:
			return outcomes, pending
		}

		tool, ok := o.tools.Lookup(call.Tool)
		if !ok {
			outcomes = append(outcomes, ToolOutcome{Tool: call.Tool, Skipped: true, SkipReason: "unregistered tool"})
			continue
		}

		confirmation := toolrunner.ConfirmAuto
		if call.RequiresConfirmation {
			confirmation = toolrunner.ConfirmUser
		}
		result := o.runner.Run(ctx, correlationID, tool, call.Args, confirmation)
		outcomes = append(outcomes, ToolOutcome{
			Tool:    call.Tool,
			Success: result.Success,
			Value:   result.Value,
			Error:   result.Error,
		})
	}
	return outcomes, pending
}

// retryConstraint is the stricter instruction handed to the Finalizer on
// its single allowed retry after a fact-guard violation.
const retryConstraint = "Yalnızca verilen araç sonuçlarındaki sayıları kullan; yeni sayısal bilgi uydurma."

// finalize produces the turn's response text. It honors the planner's
// ask_user short-circuit first; otherwise it falls back to the planner's
// tentative assistant_reply (or a templated Turkish summary, if the
// planner gave none) whenever the Finalizer is absent, unavailable, over
// budget, errors, or is flagged twice by the fact guard.
func (o *Orchestrator) finalize(ctx context.Context, run *latency.Run, userText string, plan Plan, outcomes []ToolOutcome, tracer *memtrace.Tracer, elapsedSoFarMS float64) (string, bool) {
	if plan.AskUser {
		return plan.Question, true
	}

	fallback := plan.AssistantReply
	if fallback == "" {
		fallback = fallbackSummary(outcomes)
	}

	if o.finalizer == nil || o.latencyTracker.ShouldSkipFinalizer(elapsedSoFarMS) || !o.finalizer.IsAvailable(ctx) {
		return fallback, true
	}

	start := time.Now()
	text, err := o.finalizer.Finalize(ctx, userText, outcomes, tracer.Summary(), "")
	o.latencyTracker.RecordPhase(run, latency.PhaseFinalizer, float64(time.Since(start).Milliseconds()))
	if err != nil {
		return fallback, true
	}
	if o.factGuard == nil || o.factGuard.Check(text, outcomes) {
		return text, false
	}

	if o.logger != nil {
		o.logger.Warn("finalizer response failed fact guard, retrying with constraint")
	}
	retryText, err := o.finalizer.Finalize(ctx, userText, outcomes, tracer.Summary(), retryConstraint)
	if err != nil || !o.factGuard.Check(retryText, outcomes) {
		if o.logger != nil {
			o.logger.Warn("finalizer retry still failed fact guard, falling back")
		}
		return fallback, true
	}
	return retryText, false
}

// toolNames extracts the planned tool names for the llm.decision event,
// independent of any confirmation flags or arguments.
func toolNames(calls []PlannedCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Tool
	}
	return names
}

// fallbackSummary is the templated Turkish response used whenever the
// finalizer cannot or should not be trusted.
func fallbackSummary(outcomes []ToolOutcome) string {
	var failed []ToolOutcome
	completed := 0
	denied := 0
	for _, oc := range outcomes {
		if oc.Skipped {
			denied++
			continue
		}
		if oc.Success {
			completed++
		} else {
			failed = append(failed, oc)
		}
	}

	if len(failed) > 0 {
		var sb strings.Builder
		sb.WriteString("Üzgünüm efendim, bazı işlemler başarısız oldu:\n")
		for _, f := range failed {
			sb.WriteString("- ")
			sb.WriteString(f.Tool)
			sb.WriteString(": ")
			sb.WriteString(f.Error)
			sb.WriteString("\n")
		}
		return strings.TrimRight(sb.String(), "\n")
	}
	if completed == 0 {
		if denied > 0 {
			return "Üzgünüm efendim, onayınız olmadan bu işlemi gerçekleştiremem."
		}
		return "Tamamlandı efendim."
	}
	return fmt.Sprintf("%d işlem tamamlandı efendim.", completed)
}

// finishTurn closes out the rolling memory and latency bookkeeping and
// publishes turn.end.
func (o *Orchestrator) finishTurn(correlationID, userText string, output *TurnOutput, run *latency.Run, tracer *memtrace.Tracer) {
	tracer.AppendConversation(memtrace.ConversationTurn{UserText: userText, AssistantText: output.ResponseText})
	for _, oc := range output.ToolOutcomes {
		if o.formatter == nil || oc.Skipped {
			continue
		}
		tracer.AppendToolResult(memtrace.ToolResult{Tool: oc.Tool, Result: o.formatter.Format(oc)}, 0)
	}
	if output.ResponseText != "" {
		tracer.UpdateSummary(output.ResponseText)
	}
	tracer.EndTurn()
	o.latencyTracker.FinishRun(run)
	o.publishTurnEnd(correlationID, output)
}

func (o *Orchestrator) publishTurnEnd(correlationID string, output *TurnOutput) {
	status := "ok"
	if output.Err != nil {
		status = "error"
	}
	o.bus.Publish(eventbus.Event{
		Type:          eventbus.TopicRunCompleted,
		Source:        "orchestrator",
		CorrelationID: correlationID,
		Data: map[string]any{
			"route": output.Route, "intent": output.Intent,
			"final_output": output.ResponseText, "model": "", "status": status,
		},
	})
	o.bus.Publish(eventbus.Event{
		Type:          eventbus.TopicTurnEnd,
		Source:        "orchestrator",
		CorrelationID: correlationID,
		Data:          map[string]any{"status": status, "route": output.Route},
	})
}
