package subscriber

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bantz-ai/bantz/internal/infrastructure/eventbus"
)

type fakeTracker struct{ handles []RunHandle }

func (f *fakeTracker) TrackRun(h RunHandle, _ eventbus.Event) { f.handles = append(f.handles, h) }

type fakeCache struct{ puts int }

func (f *fakeCache) Put(tool string, params map[string]any, result any, elapsedMS int64) { f.puts++ }

type fakeSink struct{ entries []AuditEntry }

func (f *fakeSink) Record(e AuditEntry) { f.entries = append(f.entries, e) }

func TestObservabilityAccumulatesPerCorrelationID(t *testing.T) {
	tracker := &fakeTracker{}
	obs := NewObservability(tracker)

	obs.Handle(eventbus.Event{Type: eventbus.TopicToolCall, CorrelationID: "c1", At: time.Now()})
	obs.Handle(eventbus.Event{Type: eventbus.TopicToolFailed, CorrelationID: "c1", At: time.Now()})

	require.Len(t, tracker.handles, 2)
	require.Equal(t, 1, tracker.handles[1].ToolCalls)
	require.Equal(t, 1, tracker.handles[1].ToolFailures)
}

func TestIngestOnlyWritesSuccessfulExecutions(t *testing.T) {
	cache := &fakeCache{}
	ing := NewIngest(cache)

	ing.Handle(eventbus.Event{Type: eventbus.TopicToolCall, Data: map[string]any{"tool": "x"}})
	ing.Handle(eventbus.Event{Type: eventbus.TopicToolExecuted, Data: map[string]any{"tool": "x", "elapsed_ms": int64(5)}})

	require.Equal(t, 1, cache.puts)
}

func TestAuditRecordsEveryToolEvent(t *testing.T) {
	sink := &fakeSink{}
	audit := NewAudit(sink)

	audit.Handle(eventbus.Event{Type: eventbus.TopicToolFailed, Data: map[string]any{"tool": "web.fetch", "error": "boom"}})

	require.Len(t, sink.entries, 1)
	require.Equal(t, "web.fetch", sink.entries[0].Tool)
	require.False(t, sink.entries[0].Success)
	require.Equal(t, "boom", sink.entries[0].Error)
}

func TestWireBindsAllThreeSubscribers(t *testing.T) {
	bus := eventbus.NewInMemoryBus(zap.NewNop())
	cache := &fakeCache{}
	sink := &fakeSink{}
	Wire(bus, NewObservability(nil), NewIngest(cache), NewAudit(sink))

	bus.Publish(eventbus.Event{Type: eventbus.TopicToolExecuted, Data: map[string]any{"tool": "x"}})

	require.Equal(t, 1, cache.puts)
	require.Len(t, sink.entries, 1)
}

func TestRateLimitMiddlewareDropsDuplicateWithinWindow(t *testing.T) {
	mw := RateLimitMiddleware(50 * time.Millisecond)
	base := time.Now()

	_, keep1 := mw(eventbus.Event{Type: "tool.call", Source: "runner", At: base})
	_, keep2 := mw(eventbus.Event{Type: "tool.call", Source: "runner", At: base.Add(10 * time.Millisecond)})
	_, keep3 := mw(eventbus.Event{Type: "tool.call", Source: "runner", At: base.Add(60 * time.Millisecond)})

	require.True(t, keep1)
	require.False(t, keep2)
	require.True(t, keep3)
}
