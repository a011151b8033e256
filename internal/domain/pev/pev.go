// Package pev implements the Planner-Executor-Verifier state machine for
// multi-step plans: a TaskPlan of PlanSteps, run sequentially through an
// injected Tool Runner, optionally checked by an external Verifier, with a
// fail-safe escalation path once a step fails too many times in a row.
// Steps run strictly sequentially; plan-internal parallelism is out of
// scope here.
package pev

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bantz-ai/bantz/internal/domain/toolrunner"
)

// PlanStatus is the lifecycle state of an entire TaskPlan.
type PlanStatus string

const (
	PlanPending   PlanStatus = "pending"
	PlanRunning   PlanStatus = "running"
	PlanPaused    PlanStatus = "paused"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
)

// StepStatus is the lifecycle state of one PlanStep. Once a step reaches a
// terminal status it can never transition back to a non-terminal one.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

func (s StepStatus) terminal() bool {
	switch s {
	case StepSuccess, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// validStepTransitions mirrors service.StateMachine's validTransitions
// table: a pending step may start running or be skipped, a running step
// may succeed, fail or be skipped, and terminal statuses have no outbound
// transitions.
var validStepTransitions = map[StepStatus]map[StepStatus]bool{
	StepPending: {StepRunning: true, StepSkipped: true},
	StepRunning: {StepSuccess: true, StepFailed: true, StepSkipped: true},
	StepSuccess: {},
	StepFailed:  {},
	StepSkipped: {},
}

// PlanStep is one tool invocation within a TaskPlan.
type PlanStep struct {
	ID              string
	Tool            string
	Args            map[string]any
	ExpectedOutcome string
	Status          StepStatus
	RetryCount      int
	MaxRetries      int
}

// Transition attempts to move the step to `to`, enforcing the monotone
// terminal invariant.
func (s *PlanStep) Transition(to StepStatus) error {
	if s.Status.terminal() {
		return fmt.Errorf("pev: step %s is terminal at %s, cannot move to %s", s.ID, s.Status, to)
	}
	allowed, ok := validStepTransitions[s.Status]
	if !ok || !allowed[to] {
		return fmt.Errorf("pev: invalid step transition %s -> %s", s.Status, to)
	}
	s.Status = to
	return nil
}

// VerificationResult is one Verifier response for a completed step.
type VerificationResult struct {
	StepID     string
	Verified   bool
	Confidence float64
	Notes      string
}

// FailSafeChoice is one escalation decision recorded against a step.
type FailSafeChoice struct {
	StepID string
	Choice Choice
}

// TaskPlan is a multi-step plan driven by Engine.Run.
type TaskPlan struct {
	ID     string
	Goal   string
	Steps  []*PlanStep
	Status PlanStatus

	VerificationResults []VerificationResult
	FailSafeChoices     []FailSafeChoice

	mu               sync.Mutex
	cursor           int
	consecutiveFails int
	paused           bool
	cancelled        bool
}

// NewTaskPlan builds a pending plan over steps.
func NewTaskPlan(id, goal string, steps []*PlanStep) *TaskPlan {
	return &TaskPlan{ID: id, Goal: goal, Steps: steps, Status: PlanPending}
}

// getNextStep returns the next non-terminal step, or nil if the plan is
// exhausted.
func (p *TaskPlan) getNextStep() *PlanStep {
	for ; p.cursor < len(p.Steps); p.cursor++ {
		if !p.Steps[p.cursor].Status.terminal() {
			return p.Steps[p.cursor]
		}
	}
	return nil
}

// Choice is a fail-safe handler's decision once a step has failed too many
// times in a row.
type Choice string

const (
	ChoiceRetry  Choice = "retry"
	ChoiceSkip   Choice = "skip"
	ChoiceManual Choice = "manual"
	ChoiceAbort  Choice = "abort"
)

// Verifier independently checks a step's result before the engine accepts
// it as success.
type Verifier interface {
	Verify(ctx context.Context, step *PlanStep, result *toolrunner.Result) (verified bool, confidence float64, notes string, err error)
}

// FailSafeHandler decides what to do once consecutiveFailures crosses the
// engine's threshold for one step.
type FailSafeHandler interface {
	Handle(ctx context.Context, plan *TaskPlan, step *PlanStep, stepErr error, consecutiveFailures int) (Choice, error)
	NotifyRetry(ctx context.Context, plan *TaskPlan, step *PlanStep)
	NotifyManual(ctx context.Context, plan *TaskPlan, step *PlanStep)
	WaitForManualCompletion(ctx context.Context, plan *TaskPlan, step *PlanStep) error
}

// ToolLookup resolves a plan step's tool name to an executable Tool.
type ToolLookup interface {
	Lookup(name string) (toolrunner.Tool, bool)
}

// Config tunes engine behavior.
type Config struct {
	VerificationEnabled bool
	ConfidenceThreshold float64 // default 0.7
	FailureThreshold    int     // consecutive failures before HANDLING_FAILURE, default 2
}

// DefaultConfig matches the engine's shipped defaults.
func DefaultConfig() Config {
	return Config{VerificationEnabled: true, ConfidenceThreshold: 0.7, FailureThreshold: 2}
}

// PEVResult summarizes one Engine.Run invocation.
type PEVResult struct {
	Completed           int
	Failed              int
	Skipped             int
	Duration            time.Duration
	VerificationResults []VerificationResult
	FailSafeChoices     []FailSafeChoice
	FinalStatus         PlanStatus
}

// Engine drives a TaskPlan to completion one step at a time.
type Engine struct {
	cfg      Config
	runner   *toolrunner.Runner
	tools    ToolLookup
	verifier Verifier
	failsafe FailSafeHandler
	logger   *zap.Logger
}

// NewEngine builds an Engine. verifier/failsafe may be nil (verification
// and escalation are then no-ops: a nil verifier always accepts, a nil
// failsafe always aborts once the failure threshold is crossed).
func NewEngine(cfg Config, runner *toolrunner.Runner, tools ToolLookup, verifier Verifier, failsafe FailSafeHandler, logger *zap.Logger) *Engine {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 2
	}
	return &Engine{cfg: cfg, runner: runner, tools: tools, verifier: verifier, failsafe: failsafe, logger: logger}
}

// Pause stops the engine from pulling the next step once the current one
// finishes. It is resumed by Resume.
func (p *TaskPlan) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.Status = PlanPaused
}

// Resume clears a pause set by Pause.
func (p *TaskPlan) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	if p.Status == PlanPaused {
		p.Status = PlanRunning
	}
}

// Cancel terminates the plan, marking any in-flight step failed.
func (p *TaskPlan) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = true
	for _, s := range p.Steps {
		if s.Status == StepRunning {
			_ = s.Transition(StepFailed)
		}
	}
	p.Status = PlanCancelled
}

func (p *TaskPlan) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *TaskPlan) isCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// Run drives plan to completion: IDLE -> PLANNING is implicit (the caller
// already built the TaskPlan) -> EXECUTING <-> VERIFYING ->
// (HANDLING_FAILURE) -> COMPLETED|FAILED|CANCELLED.
func (e *Engine) Run(ctx context.Context, plan *TaskPlan) (*PEVResult, error) {
	start := time.Now()
	plan.Status = PlanRunning

	for {
		if plan.isCancelled() {
			break
		}
		if plan.isPaused() {
			select {
			case <-ctx.Done():
				plan.Cancel()
				return e.finish(plan, start), ctx.Err()
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		step := plan.getNextStep()
		if step == nil {
			plan.Status = PlanCompleted
			break
		}

		if err := ctx.Err(); err != nil {
			_ = step.Transition(StepFailed)
			plan.Cancel()
			return e.finish(plan, start), err
		}

		if err := step.Transition(StepRunning); err != nil {
			if e.logger != nil {
				e.logger.Error("pev: step transition violation", zap.Error(err))
			}
			return e.finish(plan, start), err
		}

		outcome, stepErr := e.runStep(ctx, plan, step)
		switch outcome {
		case ChoiceAbort:
			_ = step.Transition(StepFailed)
			plan.Status = PlanFailed
			return e.finish(plan, start), stepErr
		case ChoiceSkip:
			_ = step.Transition(StepSkipped)
			plan.consecutiveFails = 0
		case ChoiceManual:
			if e.failsafe != nil {
				e.failsafe.NotifyManual(ctx, plan, step)
				if err := e.failsafe.WaitForManualCompletion(ctx, plan, step); err != nil {
					_ = step.Transition(StepFailed)
					plan.Status = PlanFailed
					return e.finish(plan, start), err
				}
			}
			_ = step.Transition(StepSuccess)
			plan.consecutiveFails = 0
		case ChoiceRetry:
			// handled inside runStep's retry loop; reaching here means the
			// retry budget for this step is exhausted without success.
			_ = step.Transition(StepFailed)
		default:
			// "" (empty choice) signals ordinary success from runStep.
			_ = step.Transition(StepSuccess)
			plan.consecutiveFails = 0
		}
	}

	return e.finish(plan, start), nil
}

// runStep executes one step (with the engine's own retry loop atop the
// Tool Runner's), verifies it if enabled, and escalates through the
// fail-safe handler once the consecutive-failure threshold is crossed. The
// returned Choice is "" for ordinary success.
func (e *Engine) runStep(ctx context.Context, plan *TaskPlan, step *PlanStep) (Choice, error) {
	tool, ok := e.tools.Lookup(step.Tool)
	if !ok {
		return e.escalate(ctx, plan, step, fmt.Errorf("pev: unknown tool %q", step.Tool))
	}

	for {
		correlationID := plan.ID + ":" + step.ID
		result := e.runner.Run(ctx, correlationID, tool, step.Args, toolrunner.ConfirmAuto)
		if !result.Success {
			choice, err := e.escalate(ctx, plan, step, fmt.Errorf("%s", result.Error))
			if choice == ChoiceRetry {
				step.RetryCount++
				if e.failsafe != nil {
					e.failsafe.NotifyRetry(ctx, plan, step)
				}
				continue
			}
			return choice, err
		}

		if e.cfg.VerificationEnabled && e.verifier != nil {
			verified, confidence, _, verr := e.verifier.Verify(ctx, step, result)
			if verr != nil || !verified || confidence < e.cfg.ConfidenceThreshold {
				plan.VerificationResults = append(plan.VerificationResults, VerificationResult{
					StepID: step.ID, Verified: verified, Confidence: confidence,
				})
				choice, err := e.escalate(ctx, plan, step, fmt.Errorf("verification failed: confidence %.2f", confidence))
				if choice == ChoiceRetry {
					step.RetryCount++
					if e.failsafe != nil {
						e.failsafe.NotifyRetry(ctx, plan, step)
					}
					continue
				}
				return choice, err
			}
			plan.VerificationResults = append(plan.VerificationResults, VerificationResult{
				StepID: step.ID, Verified: true, Confidence: confidence,
			})
		}

		plan.consecutiveFails = 0
		return "", nil
	}
}

// escalate increments the plan's consecutive-failure counter and, once it
// crosses the configured threshold, asks the injected FailSafeHandler for a
// disposition. Below threshold it defaults to ChoiceRetry while the step
// still has retry budget, else ChoiceAbort.
func (e *Engine) escalate(ctx context.Context, plan *TaskPlan, step *PlanStep, stepErr error) (Choice, error) {
	plan.consecutiveFails++

	if plan.consecutiveFails < e.cfg.FailureThreshold {
		if step.RetryCount < step.MaxRetries {
			return ChoiceRetry, stepErr
		}
		return ChoiceAbort, stepErr
	}

	if e.failsafe == nil {
		return ChoiceAbort, stepErr
	}

	choice, err := e.failsafe.Handle(ctx, plan, step, stepErr, plan.consecutiveFails)
	if err != nil {
		return ChoiceAbort, err
	}
	plan.FailSafeChoices = append(plan.FailSafeChoices, FailSafeChoice{StepID: step.ID, Choice: choice})
	if choice == ChoiceRetry {
		plan.consecutiveFails = 0
	}
	return choice, stepErr
}

func (e *Engine) finish(plan *TaskPlan, start time.Time) *PEVResult {
	res := &PEVResult{
		Duration:            time.Since(start),
		VerificationResults: plan.VerificationResults,
		FailSafeChoices:     plan.FailSafeChoices,
		FinalStatus:         plan.Status,
	}
	for _, s := range plan.Steps {
		switch s.Status {
		case StepSuccess:
			res.Completed++
		case StepFailed:
			res.Failed++
		case StepSkipped:
			res.Skipped++
		}
	}
	return res
}
