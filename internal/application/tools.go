package application

import (
	"context"
	"fmt"
	"time"

	"github.com/bantz-ai/bantz/internal/domain/policy"
	"github.com/bantz-ai/bantz/internal/domain/reminder"
	"github.com/bantz-ai/bantz/internal/domain/toolrunner"

	"github.com/google/uuid"
)

// ToolRegistry resolves a tool name to its Tool implementation, serving
// both the orchestrator (Router-planned calls) and the PEV engine
// (multi-step plan steps).
type ToolRegistry struct {
	tools map[string]toolrunner.Tool
}

// NewToolRegistry builds an empty registry; callers add tools with Register.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]toolrunner.Tool)}
}

// Register adds tool under its own Name().
func (r *ToolRegistry) Register(tool toolrunner.Tool) {
	r.tools[tool.Name()] = tool
}

// Lookup implements orchestrator.ToolLookup and pev.ToolLookup.
func (r *ToolRegistry) Lookup(name string) (toolrunner.Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// weatherTool is a stand-in for an external weather API collaborator,
// reachable only through this Tool interface per the in-scope core's
// "external collaborators accessed only through interfaces" boundary.
type weatherTool struct{}

func (weatherTool) Name() string { return "weather.get" }
func (weatherTool) Spec() toolrunner.ToolSpec {
	return toolrunner.ToolSpec{
		Params:    map[string]toolrunner.ParamSpec{"city": {Type: "string", Required: true}},
		RiskLevel: policy.RiskSafe,
	}
}
func (weatherTool) Call(ctx context.Context, params map[string]any) (any, error) {
	city, _ := params["city"].(string)
	return map[string]any{"city": city, "condition": "açık", "temp_c": 21}, nil
}

// reminderAddTool creates a reminder from slots the Router extracted.
type reminderAddTool struct{ store reminder.Store }

func (t reminderAddTool) Name() string { return "reminder.add" }
func (t reminderAddTool) Spec() toolrunner.ToolSpec {
	return toolrunner.ToolSpec{
		Params: map[string]toolrunner.ParamSpec{
			"message":  {Type: "string", Required: true},
			"when":     {Type: "string", Required: true},
			"interval": {Type: "string", Required: false},
		},
		RiskLevel: policy.RiskModerate,
	}
}
func (t reminderAddTool) Call(ctx context.Context, params map[string]any) (any, error) {
	message, _ := params["message"].(string)
	when, _ := params["when"].(string)
	interval, _ := params["interval"].(string)

	remindAt, err := reminder.ParseWhen(time.Now(), when)
	if err != nil {
		return nil, fmt.Errorf("reminder.add: %w", err)
	}

	r := &reminder.Reminder{
		ID:             uuid.NewString(),
		Message:        message,
		RemindAt:       remindAt,
		CreatedAt:      time.Now(),
		Status:         reminder.StatusPending,
		RepeatInterval: interval,
	}
	if err := t.store.Add(ctx, r); err != nil {
		return nil, err
	}
	return map[string]any{"id": r.ID, "remind_at": r.RemindAt}, nil
}

// reminderListTool lists every reminder the store still tracks.
type reminderListTool struct{ store reminder.Store }

func (t reminderListTool) Name() string { return "reminder.list" }
func (t reminderListTool) Spec() toolrunner.ToolSpec {
	return toolrunner.ToolSpec{RiskLevel: policy.RiskSafe}
}
func (t reminderListTool) Call(ctx context.Context, params map[string]any) (any, error) {
	rs, err := t.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// reminderSnoozeTool delays an existing reminder.
type reminderSnoozeTool struct{ store reminder.Store }

func (t reminderSnoozeTool) Name() string { return "reminder.snooze" }
func (t reminderSnoozeTool) Spec() toolrunner.ToolSpec {
	return toolrunner.ToolSpec{
		Params: map[string]toolrunner.ParamSpec{
			"id":      {Type: "string", Required: true},
			"minutes": {Type: "number", Required: true},
		},
		RiskLevel: policy.RiskModerate,
	}
}
func (t reminderSnoozeTool) Call(ctx context.Context, params map[string]any) (any, error) {
	id, _ := params["id"].(string)
	minutes, _ := params["minutes"].(float64)
	until := time.Now().Add(time.Duration(minutes) * time.Minute)
	if err := t.store.Snooze(ctx, id, until); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "snoozed_until": until}, nil
}

// reminderDeleteTool is destructive: the default policy table demands
// explicit confirmation before the firewall admits it.
type reminderDeleteTool struct{ store reminder.Store }

func (t reminderDeleteTool) Name() string { return "reminder.delete" }
func (t reminderDeleteTool) Spec() toolrunner.ToolSpec {
	return toolrunner.ToolSpec{
		Params:    map[string]toolrunner.ParamSpec{"id": {Type: "string", Required: true}},
		RiskLevel: policy.RiskDestructive,
	}
}
func (t reminderDeleteTool) Call(ctx context.Context, params map[string]any) (any, error) {
	id, _ := params["id"].(string)
	if err := t.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "deleted": true}, nil
}

// BuildToolRegistry registers every built-in tool the runtime ships with.
func BuildToolRegistry(store reminder.Store) *ToolRegistry {
	reg := NewToolRegistry()
	reg.Register(weatherTool{})
	reg.Register(reminderAddTool{store: store})
	reg.Register(reminderListTool{store: store})
	reg.Register(reminderSnoozeTool{store: store})
	reg.Register(reminderDeleteTool{store: store})
	return reg
}
