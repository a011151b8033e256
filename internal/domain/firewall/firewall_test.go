package firewall

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bantz-ai/bantz/internal/domain/policy"
	"github.com/bantz-ai/bantz/internal/infrastructure/eventbus"
)

func newTestFirewall(t *testing.T) (*Firewall, *eventbus.InMemoryBus) {
	t.Helper()
	reg := policy.NewRegistry()
	path := filepath.Join(t.TempDir(), "policy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"tool_levels": {"calendar.delete_event": "destructive", "calendar.list_events": "safe"},
		"always_confirm_tools": [],
		"undefined_tool_policy": "deny"
	}`), 0644))
	require.NoError(t, reg.Load(path))

	bus := eventbus.NewInMemoryBus(zap.NewNop())
	return New(reg, bus), bus
}

func TestSafeToolExecutesDirectly(t *testing.T) {
	fw, _ := newTestFirewall(t)
	outcome, pending := fw.Admit("c1", "calendar.list_events", false, "", nil, nil)
	require.Equal(t, Execute, outcome)
	require.Nil(t, pending)
}

func TestDestructiveWithoutConfirmationIsDenied(t *testing.T) {
	fw, bus := newTestFirewall(t)
	var denied eventbus.Event
	bus.Subscribe(eventbus.TopicToolDenied, func(e eventbus.Event) { denied = e })

	outcome, pending := fw.Admit("c1", "calendar.delete_event", false, "", nil, nil)

	require.Equal(t, Deny, outcome)
	require.Nil(t, pending)
	require.Equal(t, "confirmation missing", denied.Data["reason"])
}

func TestDestructiveWithConfirmationWritesPending(t *testing.T) {
	fw, _ := newTestFirewall(t)
	outcome, pending := fw.Admit("c1", "calendar.delete_event", true, "'Sprint' etkinliği silinsin mi?", map[string]any{"title": "Sprint"}, nil)

	require.Equal(t, AwaitConfirmation, outcome)
	require.NotNil(t, pending)
	require.Equal(t, "calendar.delete_event", pending.Tool)
}

func TestMatchingPendingClearsAndExecutes(t *testing.T) {
	fw, _ := newTestFirewall(t)
	existing := &Pending{Tool: "calendar.delete_event"}

	outcome, pending := fw.Admit("c1", "calendar.delete_event", true, "", nil, existing)

	require.Equal(t, Execute, outcome)
	require.Nil(t, pending)
}
