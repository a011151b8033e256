package pev

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bantz-ai/bantz/internal/domain/policy"
	"github.com/bantz-ai/bantz/internal/domain/toolrunner"
	"github.com/bantz-ai/bantz/internal/infrastructure/eventbus"
)

type stubTool struct {
	name string
	fn   func(ctx context.Context, params map[string]any) (any, error)
}

func (s *stubTool) Name() string { return s.name }
func (s *stubTool) Spec() toolrunner.ToolSpec {
	return toolrunner.ToolSpec{RiskLevel: policy.RiskSafe, MaxRetries: 0}
}
func (s *stubTool) Call(ctx context.Context, params map[string]any) (any, error) {
	return s.fn(ctx, params)
}

type toolMap map[string]toolrunner.Tool

func (m toolMap) Lookup(name string) (toolrunner.Tool, bool) {
	t, ok := m[name]
	return t, ok
}

func newEngine(t *testing.T, tools toolMap, verifier Verifier, fs FailSafeHandler) *Engine {
	t.Helper()
	bus := eventbus.NewInMemoryBus(nil)
	runner := toolrunner.New(bus, nil)
	return NewEngine(DefaultConfig(), runner, tools, verifier, fs, nil)
}

func TestEngineRunAllStepsSucceed(t *testing.T) {
	tools := toolMap{
		"step.a": &stubTool{name: "step.a", fn: func(ctx context.Context, p map[string]any) (any, error) { return "ok", nil }},
		"step.b": &stubTool{name: "step.b", fn: func(ctx context.Context, p map[string]any) (any, error) { return "ok", nil }},
	}
	engine := newEngine(t, tools, nil, nil)
	plan := NewTaskPlan("p1", "goal", []*PlanStep{
		{ID: "1", Tool: "step.a", Status: StepPending},
		{ID: "2", Tool: "step.b", Status: StepPending},
	})

	result, err := engine.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Completed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, PlanCompleted, result.FinalStatus)
}

func TestStepTransitionMonotone(t *testing.T) {
	step := &PlanStep{ID: "1", Status: StepPending}
	require.NoError(t, step.Transition(StepRunning))
	require.NoError(t, step.Transition(StepSuccess))
	err := step.Transition(StepRunning)
	assert.Error(t, err, "terminal step must not transition back to non-terminal")
}

type alwaysAbortFailSafe struct{ calls int }

func (f *alwaysAbortFailSafe) Handle(ctx context.Context, plan *TaskPlan, step *PlanStep, stepErr error, n int) (Choice, error) {
	f.calls++
	return ChoiceAbort, nil
}
func (f *alwaysAbortFailSafe) NotifyRetry(ctx context.Context, plan *TaskPlan, step *PlanStep)  {}
func (f *alwaysAbortFailSafe) NotifyManual(ctx context.Context, plan *TaskPlan, step *PlanStep) {}
func (f *alwaysAbortFailSafe) WaitForManualCompletion(ctx context.Context, plan *TaskPlan, step *PlanStep) error {
	return nil
}

func TestEngineEscalatesToFailSafeOnRepeatedFailure(t *testing.T) {
	tools := toolMap{
		"step.fail": &stubTool{name: "step.fail", fn: func(ctx context.Context, p map[string]any) (any, error) {
			return nil, assertErr("boom")
		}},
	}
	fs := &alwaysAbortFailSafe{}
	engine := newEngine(t, tools, nil, fs)
	plan := NewTaskPlan("p2", "goal", []*PlanStep{
		{ID: "1", Tool: "step.fail", Status: StepPending, MaxRetries: 1},
	})

	result, err := engine.Run(context.Background(), plan)
	require.Error(t, err)
	assert.Equal(t, PlanFailed, result.FinalStatus)
	assert.Equal(t, 1, fs.calls)
}

func TestPauseResume(t *testing.T) {
	plan := NewTaskPlan("p3", "goal", nil)
	plan.Pause()
	assert.Equal(t, PlanPaused, plan.Status)
	assert.True(t, plan.isPaused())
	plan.Resume()
	assert.False(t, plan.isPaused())
}

func TestCancelMarksInFlightStepFailed(t *testing.T) {
	plan := NewTaskPlan("p4", "goal", []*PlanStep{{ID: "1", Status: StepRunning}})
	plan.Cancel()
	assert.Equal(t, PlanCancelled, plan.Status)
	assert.Equal(t, StepFailed, plan.Steps[0].Status)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
