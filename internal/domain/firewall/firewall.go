// Package firewall gates every planned tool call through the policy
// registry before the Tool Runner ever sees it. The planner's own
// confirmation flag is advisory; destructive tools and tools in the
// always-confirm set cannot be executed without it being honored here.
package firewall

import (
	"github.com/bantz-ai/bantz/internal/domain/policy"
	"github.com/bantz-ai/bantz/internal/infrastructure/eventbus"
)

// Outcome is the firewall's verdict for one planned tool call. It is
// always returned as a value, never signaled by an error or a panic, so
// callers branch on it explicitly instead of treating confirmation as
// exceptional control flow.
type Outcome int

const (
	// Execute means the tool may be invoked this turn.
	Execute Outcome = iota
	// Deny means the tool must be skipped this turn; the planner asked
	// for a destructive action without requesting confirmation.
	Deny
	// AwaitConfirmation means a pending confirmation was just recorded;
	// the turn ends without executing the tool.
	AwaitConfirmation
)

// Pending is the session-local record of a destructive tool call waiting
// on explicit user approval. It lives in the orchestrator's per-session
// turn state, never on the planner.
type Pending struct {
	Tool   string
	Prompt string
	Slots  map[string]any
}

// Matches reports whether p represents a still-pending confirmation for
// tool.
func (p *Pending) Matches(tool string) bool {
	return p != nil && p.Tool == tool
}

// Firewall is the gate between a planner's tool plan and
// the Tool Runner.
type Firewall struct {
	policy *policy.Registry
	bus    eventbus.Bus
}

// New builds a Firewall backed by reg for risk classification and bus for
// tool.denied / confirmation events.
func New(reg *policy.Registry, bus eventbus.Bus) *Firewall {
	return &Firewall{policy: reg, bus: bus}
}

// Admit decides whether tool may run this turn.
//
//   - plannerRequested is the planner's own requires_confirmation flag.
//   - prompt/slots describe the call, used only if a new pending record
//     must be written.
//   - pending is the session's current pending confirmation, or nil.
//
// It returns the outcome and the pending record the caller should store
// back into session state (nil clears it).
func (f *Firewall) Admit(correlationID, tool string, plannerRequested bool, prompt string, slots map[string]any, pending *Pending) (Outcome, *Pending) {
	risk := f.policy.RiskOf(tool)
	mustConfirm := risk == policy.RiskDestructive || f.policy.AlwaysConfirm(tool)

	if !mustConfirm {
		return Execute, pending
	}

	if !plannerRequested {
		f.bus.Publish(eventbus.Event{
			Type:          eventbus.TopicToolDenied,
			Source:        "firewall",
			CorrelationID: correlationID,
			Data: map[string]any{
				"tool":   tool,
				"reason": "confirmation missing",
			},
		})
		return Deny, pending
	}

	if pending.Matches(tool) {
		f.bus.Publish(eventbus.Event{
			Type:          eventbus.TopicToolConfirmed,
			Source:        "firewall",
			CorrelationID: correlationID,
			Data:          map[string]any{"tool": tool},
		})
		return Execute, nil
	}

	if prompt == "" {
		prompt = f.policy.ConfirmationPrompt(tool, slots)
	}
	next := &Pending{Tool: tool, Prompt: prompt, Slots: slots}
	f.bus.Publish(eventbus.Event{
		Type:          "confirmation.requested",
		Source:        "firewall",
		CorrelationID: correlationID,
		Data: map[string]any{
			"tool":   tool,
			"prompt": prompt,
		},
	})
	return AwaitConfirmation, next
}
