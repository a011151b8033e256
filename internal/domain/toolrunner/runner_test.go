package toolrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bantz-ai/bantz/internal/domain/policy"
	"github.com/bantz-ai/bantz/internal/infrastructure/eventbus"
)

type fakeTool struct {
	name string
	spec ToolSpec
	call func(ctx context.Context, params map[string]any) (any, error)
}

func (f *fakeTool) Name() string    { return f.name }
func (f *fakeTool) Spec() ToolSpec  { return f.spec }
func (f *fakeTool) Call(ctx context.Context, params map[string]any) (any, error) {
	return f.call(ctx, params)
}

func TestMissingRequiredParamFailsValidationWithoutRetry(t *testing.T) {
	calls := 0
	tool := &fakeTool{
		name: "calendar.list_events",
		spec: ToolSpec{Params: map[string]ParamSpec{"date": {Required: true}}, MaxRetries: 3},
		call: func(ctx context.Context, params map[string]any) (any, error) {
			calls++
			return nil, nil
		},
	}
	bus := eventbus.NewInMemoryBus(zap.NewNop())
	r := New(bus, zap.NewNop())

	res := r.Run(context.Background(), "c1", tool, map[string]any{}, ConfirmNone)

	require.False(t, res.Success)
	require.Equal(t, ErrValidation, res.ErrorKind)
	require.Equal(t, 0, calls)
}

func TestSuccessPublishesToolCallAndExecuted(t *testing.T) {
	tool := &fakeTool{
		name: "calendar.list_events",
		spec: ToolSpec{RiskLevel: policy.RiskSafe},
		call: func(ctx context.Context, params map[string]any) (any, error) {
			return map[string]any{"events": 3}, nil
		},
	}
	bus := eventbus.NewInMemoryBus(zap.NewNop())
	var topics []string
	bus.Subscribe("tool.*", func(e eventbus.Event) { topics = append(topics, e.Type) })
	r := New(bus, zap.NewNop())

	res := r.Run(context.Background(), "c1", tool, map[string]any{}, ConfirmAuto)

	require.True(t, res.Success)
	require.Equal(t, []string{eventbus.TopicToolCall, eventbus.TopicToolExecuted}, topics)
}

func TestRetryableErrorRetriesUpToMax(t *testing.T) {
	calls := 0
	tool := &fakeTool{
		name: "web.fetch",
		spec: ToolSpec{MaxRetries: 2},
		call: func(ctx context.Context, params map[string]any) (any, error) {
			calls++
			return nil, &Error{Kind: ErrNetwork, Message: "boom"}
		},
	}
	bus := eventbus.NewInMemoryBus(zap.NewNop())
	r := New(bus, zap.NewNop())
	r.breakers = newCircuitBreakerTable(circuitConfig{FailureThreshold: 1000, SuccessThreshold: 1, Timeout: 0})

	res := r.Run(context.Background(), "c1", tool, map[string]any{}, ConfirmNone)

	require.False(t, res.Success)
	require.Equal(t, 3, calls) // initial + 2 retries
	require.Equal(t, 2, res.Retries)
}

func TestNonRetryableErrorStopsImmediately(t *testing.T) {
	calls := 0
	tool := &fakeTool{
		name: "calendar.delete_event",
		spec: ToolSpec{MaxRetries: 3},
		call: func(ctx context.Context, params map[string]any) (any, error) {
			calls++
			return nil, &Error{Kind: ErrPermission, Message: "nope"}
		},
	}
	bus := eventbus.NewInMemoryBus(zap.NewNop())
	r := New(bus, zap.NewNop())

	res := r.Run(context.Background(), "c1", tool, map[string]any{}, ConfirmNone)

	require.False(t, res.Success)
	require.Equal(t, 1, calls)
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	tool := &fakeTool{
		name: "web.fetch",
		spec: ToolSpec{},
		call: func(ctx context.Context, params map[string]any) (any, error) {
			return nil, &Error{Kind: ErrInternal, Message: "down"}
		},
	}
	bus := eventbus.NewInMemoryBus(zap.NewNop())
	r := New(bus, zap.NewNop())
	r.breakers = newCircuitBreakerTable(circuitConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})

	first := r.Run(context.Background(), "c1", tool, map[string]any{}, ConfirmNone)
	require.False(t, first.Success)

	second := r.Run(context.Background(), "c1", tool, map[string]any{}, ConfirmNone)
	require.False(t, second.Success)
	require.Contains(t, second.Error, "circuit open")
}

func TestDeriveDomainPrefersURLHostname(t *testing.T) {
	require.Equal(t, "example.com", deriveDomain("web.fetch", map[string]any{"url": "https://example.com/path"}))
	require.Equal(t, "calendar.list_events", deriveDomain("calendar.list_events", map[string]any{"date": "today"}))
}
