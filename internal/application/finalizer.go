package application

import (
	"context"
	"fmt"

	"github.com/bantz-ai/bantz/internal/domain/orchestrator"
)

// TemplateFinalizer composes the turn's reply from tool outcomes without
// calling an LLM — the built-in default, always available, swapped for an
// LLM-backed orchestrator.Finalizer in a deployment that wires one.
type TemplateFinalizer struct{}

// NewTemplateFinalizer builds a TemplateFinalizer.
func NewTemplateFinalizer() *TemplateFinalizer { return &TemplateFinalizer{} }

// IsAvailable always reports true: there is no external dependency to probe.
func (*TemplateFinalizer) IsAvailable(ctx context.Context) bool { return true }

// Finalize implements orchestrator.Finalizer. The template is built
// entirely from outcome values already present in the sources the fact
// guard checks against, so constraint never changes its output.
func (*TemplateFinalizer) Finalize(ctx context.Context, userText string, outcomes []orchestrator.ToolOutcome, summary, constraint string) (string, error) {
	if len(outcomes) == 0 {
		return "Buyurun efendim, dinliyorum.", nil
	}
	oc := outcomes[len(outcomes)-1]
	if !oc.Success {
		return fmt.Sprintf("Üzgünüm efendim, %s başarısız oldu: %s", oc.Tool, oc.Error), nil
	}
	switch oc.Tool {
	case "weather.get":
		data, _ := oc.Value.(map[string]any)
		return fmt.Sprintf("%s için hava %v, %v derece efendim.", data["city"], data["condition"], data["temp_c"]), nil
	case "reminder.add":
		data, _ := oc.Value.(map[string]any)
		return fmt.Sprintf("Hatırlatıcı kaydedildi efendim, %v zamanında.", data["remind_at"]), nil
	case "reminder.list":
		return "İşte hatırlatıcılarınız efendim.", nil
	case "reminder.snooze":
		return "Hatırlatıcı ertelendi efendim.", nil
	case "reminder.delete":
		return "Hatırlatıcı silindi efendim.", nil
	default:
		return "Tamamlandı efendim.", nil
	}
}

// PlainFormatter renders a tool outcome as a short "tool: value" line.
type PlainFormatter struct{}

// NewPlainFormatter builds a PlainFormatter.
func NewPlainFormatter() *PlainFormatter { return &PlainFormatter{} }

// Format implements orchestrator.ToolResultFormatter.
func (*PlainFormatter) Format(outcome orchestrator.ToolOutcome) string {
	if !outcome.Success {
		return fmt.Sprintf("%s: error: %s", outcome.Tool, outcome.Error)
	}
	return fmt.Sprintf("%s: %v", outcome.Tool, outcome.Value)
}
