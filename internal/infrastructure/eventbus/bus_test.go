package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop())
	var order []string

	bus.Subscribe(TopicTurnStart, func(e Event) { order = append(order, "start") })
	bus.Subscribe(TopicToolCall, func(e Event) { order = append(order, "tool") })
	bus.Subscribe(TopicTurnEnd, func(e Event) { order = append(order, "end") })

	bus.Publish(Event{Type: TopicTurnStart})
	bus.Publish(Event{Type: TopicToolCall})
	bus.Publish(Event{Type: TopicTurnEnd})

	require.Equal(t, []string{"start", "tool", "end"}, order)
}

func TestPublishPreservesCallerCorrelationID(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop())
	var got Event
	bus.Subscribe("*", func(e Event) { got = e })

	bus.Publish(Event{Type: "tool.call", CorrelationID: "run-123"})

	require.Equal(t, "run-123", got.CorrelationID)
}

func TestWildcardMatching(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"tool.*", "tool.call", true},
		{"tool.*", "tool", false},
		{"tool.*", "tool.call.extra", true},
		{"tool.*.extra", "tool.call.extra", true},
		{"*", "anything.goes", true},
		{"turn.start", "turn.start", true},
		{"turn.start", "turn.end", false},
	}
	for _, c := range cases {
		got := matchTopic(c.pattern, c.topic)
		require.Equalf(t, c.want, got, "pattern=%q topic=%q", c.pattern, c.topic)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop())
	calls := 0
	id := bus.Subscribe(TopicReminderFired, func(e Event) { calls++ })

	bus.Publish(Event{Type: TopicReminderFired})
	bus.Unsubscribe(id)
	bus.Publish(Event{Type: TopicReminderFired})

	require.Equal(t, 1, calls)
}

func TestHandlerPanicDoesNotStopOtherSubscribers(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop())
	delivered := false

	bus.Subscribe(TopicToolFailed, func(e Event) { panic("boom") })
	bus.Subscribe(TopicToolFailed, func(e Event) { delivered = true })

	require.NotPanics(t, func() {
		bus.Publish(Event{Type: TopicToolFailed})
	})
	require.True(t, delivered)
}

func TestMiddlewareCanRewriteEvent(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop())
	var got Event

	bus.AddMiddleware(func(e Event) (Event, bool) {
		e.Source = "rewritten"
		return e, true
	})
	bus.Subscribe(TopicTurnStart, func(e Event) { got = e })

	bus.Publish(Event{Type: TopicTurnStart, Source: "original"})

	require.Equal(t, "rewritten", got.Source)
}

func TestMiddlewareCanDropEventSilently(t *testing.T) {
	bus := NewInMemoryBus(zap.NewNop())
	delivered := false

	bus.AddMiddleware(func(e Event) (Event, bool) { return e, false })
	bus.Subscribe(TopicTurnStart, func(e Event) { delivered = true })

	bus.Publish(Event{Type: TopicTurnStart})

	require.False(t, delivered)
}
