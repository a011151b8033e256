package application

import (
	"context"
	"regexp"
	"strings"

	"github.com/bantz-ai/bantz/internal/domain/memtrace"
	"github.com/bantz-ai/bantz/internal/domain/orchestrator"
)

// RuleRouter is a deterministic, offline implementation of
// orchestrator.Router: it classifies user text by keyword instead of
// calling out to an LLM. A production deployment swaps this for an
// LLM-backed Router behind the same interface — the turn runtime core
// never depends on which one is wired in.
type RuleRouter struct{}

// NewRuleRouter builds a RuleRouter.
func NewRuleRouter() *RuleRouter { return &RuleRouter{} }

var (
	reminderPhrase = regexp.MustCompile(`(?i)hatırlat|anımsat|remind`)
	weatherPhrase  = regexp.MustCompile(`(?i)hava\s*durumu|weather`)
	deletePhrase   = regexp.MustCompile(`(?i)\bsil\b|delete|kaldır`)
	listPhrase     = regexp.MustCompile(`(?i)listele|göster|list`)
	snoozePhrase   = regexp.MustCompile(`(?i)ertele|snooze`)
	rememberPhrase = regexp.MustCompile(`(?i)unutma|hatırında\s*tut|remember`)
)

// Route implements orchestrator.Router.
func (RuleRouter) Route(ctx context.Context, userText, summary string, conversation []memtrace.ConversationTurn) (orchestrator.Plan, error) {
	switch {
	case reminderPhrase.MatchString(userText) && deletePhrase.MatchString(userText):
		id := extractID(userText)
		if id == "" {
			return orchestrator.Plan{
				Route:      "reminder",
				RawIntent:  userText,
				Confidence: 0.4,
				AskUser:    true,
				Question:   "Hangi hatırlatıcıyı silmemi istersiniz efendim?",
			}, nil
		}
		return orchestrator.Plan{
			Route:      "reminder",
			RawIntent:  userText,
			Confidence: 0.9,
			Calls: []orchestrator.PlannedCall{{
				Tool:                 "reminder.delete",
				Args:                 map[string]any{"id": id},
				RequiresConfirmation: true,
			}},
		}, nil

	case rememberPhrase.MatchString(userText):
		return orchestrator.Plan{
			Route:          "chat",
			RawIntent:      userText,
			Confidence:     0.8,
			AssistantReply: "Not ettim efendim.",
			MemoryUpdate:   userText,
		}, nil

	case reminderPhrase.MatchString(userText) && snoozePhrase.MatchString(userText):
		return orchestrator.Plan{
			Route:      "reminder",
			RawIntent:  userText,
			Confidence: 0.85,
			Calls: []orchestrator.PlannedCall{{
				Tool: "reminder.snooze",
				Args: map[string]any{"id": extractID(userText), "minutes": float64(10)},
			}},
		}, nil

	case reminderPhrase.MatchString(userText) && listPhrase.MatchString(userText):
		return orchestrator.Plan{
			Route:      "reminder",
			RawIntent:  userText,
			Confidence: 0.9,
			Calls:      []orchestrator.PlannedCall{{Tool: "reminder.list"}},
		}, nil

	case reminderPhrase.MatchString(userText):
		return orchestrator.Plan{
			Route:      "reminder",
			RawIntent:  userText,
			Confidence: 0.8,
			Calls: []orchestrator.PlannedCall{{
				Tool: "reminder.add",
				Args: map[string]any{"message": userText, "when": extractWhen(userText)},
			}},
		}, nil

	case weatherPhrase.MatchString(userText):
		return orchestrator.Plan{
			Route:      "weather",
			RawIntent:  userText,
			Confidence: 0.9,
			Calls:      []orchestrator.PlannedCall{{Tool: "weather.get", Args: map[string]any{"city": extractCity(userText)}}},
		}, nil

	default:
		return orchestrator.Plan{Route: "chat", RawIntent: userText, Confidence: 0.5}, nil
	}
}

// extractWhen returns the first digit+unit shorthand word in userText
// (such as "30m" or "2h"), defaulting to "30m" when there is none; the
// reminder domain's own ParseWhen does the real parsing.
func extractWhen(userText string) string {
	for _, word := range strings.Fields(userText) {
		if shorthandLike.MatchString(word) {
			return word
		}
	}
	return "30m"
}

var shorthandLike = regexp.MustCompile(`^\d+[mhdw]$`)

// extractID returns the first UUID-shaped token in userText, or empty.
func extractID(userText string) string {
	m := uuidLike.FindString(userText)
	return m
}

var uuidLike = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// extractCity takes the last word of userText as a naive city guess.
func extractCity(userText string) string {
	fields := strings.Fields(userText)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
