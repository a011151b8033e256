// Package toolrunner executes a single tool call with parameter
// validation, a bounded timeout, retry-with-backoff on transient
// failures, and a per-domain circuit breaker that stops hammering a
// collaborator that is already failing.
package toolrunner

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bantz-ai/bantz/internal/domain/policy"
	"github.com/bantz-ai/bantz/internal/infrastructure/eventbus"
)

// defaultTimeout is the per-call timeout; a tool whose spec sets a shorter
// Timeout runs under that shorter one instead.
const defaultTimeout = 20 * time.Second

// backoffSchedule is the fixed wait between retries; the final entry
// repeats for any attempt beyond its length.
var backoffSchedule = []time.Duration{1 * time.Second, 3 * time.Second, 7 * time.Second}

func backoffFor(attempt int) time.Duration {
	if attempt >= len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[attempt]
}

// ParamSpec describes one named parameter a tool accepts.
type ParamSpec struct {
	Type     string
	Required bool
}

// ToolSpec is a tool's immutable descriptor, fixed at registration.
type ToolSpec struct {
	Params     map[string]ParamSpec
	RiskLevel  policy.RiskLevel
	Timeout    time.Duration // 0 = use the Runner's default
	MaxRetries int
}

// Tool is anything the orchestrator can call through the Runner.
type Tool interface {
	Name() string
	Spec() ToolSpec
	Call(ctx context.Context, params map[string]any) (any, error)
}

// Confirmation records how a call came to be approved, for the
// tool.call/tool.executed event payload.
type Confirmation string

const (
	ConfirmAuto Confirmation = "auto"
	ConfirmUser Confirmation = "user"
	ConfirmNone Confirmation = "none"
)

// Result is what the Runner hands back to the orchestrator, and what
// flows onto the event bus for subscribers.
type Result struct {
	Success   bool
	Value     any
	Error     string
	ErrorKind ErrorKind
	ElapsedMS int64
	Retries   int
}

// Runner executes tools with validation, timeout, retry and circuit breaking.
type Runner struct {
	bus      eventbus.Bus
	breakers *circuitBreakerTable
	logger   *zap.Logger
}

// New builds a Runner publishing tool.* events on bus.
func New(bus eventbus.Bus, logger *zap.Logger) *Runner {
	return &Runner{bus: bus, breakers: newCircuitBreakerTable(defaultCircuitConfig()), logger: logger}
}

// Run executes tool with params, honoring its spec's timeout and retry
// budget. confirmation and riskLevel are carried through only to annotate
// the emitted events.
func (r *Runner) Run(ctx context.Context, correlationID string, tool Tool, params map[string]any, confirmation Confirmation) *Result {
	spec := tool.Spec()
	name := tool.Name()

	if err := validate(spec, params); err != nil {
		res := &Result{Success: false, Error: err.Error(), ErrorKind: ErrValidation}
		r.publishFailed(correlationID, name, res, params)
		return res
	}

	timeout := defaultTimeout
	if spec.Timeout > 0 && spec.Timeout < timeout {
		timeout = spec.Timeout
	}

	domain := deriveDomain(name, params)
	cb := r.breakers.get(domain)

	start := time.Now()
	var lastErr *Error
	var value any
	retries := 0

	maxRetries := spec.MaxRetries
	for attempt := 0; ; attempt++ {
		if err := cb.canExecute(); err != nil {
			res := &Result{
				Success:   false,
				Error:     err.Error(),
				ErrorKind: ErrCircuitOpen,
				ElapsedMS: time.Since(start).Milliseconds(),
				Retries:   retries,
			}
			r.publishFailed(correlationID, name, res, params)
			return res
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		v, callErr := tool.Call(callCtx, params)
		cancel()

		if callErr == nil {
			cb.recordSuccess()
			value = v
			lastErr = nil
			break
		}

		cb.recordFailure()
		if callCtx.Err() == context.DeadlineExceeded {
			lastErr = &Error{Kind: ErrTimeout, Message: "call timed out", Cause: callErr}
		} else {
			lastErr = Classify(callErr)
		}

		if !lastErr.Kind.IsRetryable() || attempt >= maxRetries {
			break
		}
		retries++
		select {
		case <-time.After(backoffFor(attempt)):
		case <-ctx.Done():
			lastErr = &Error{Kind: ErrTimeout, Message: "cancelled during backoff", Cause: ctx.Err()}
			attempt = maxRetries // force exit below
		}
		if attempt >= maxRetries {
			break
		}
	}

	elapsed := time.Since(start).Milliseconds()

	if lastErr != nil {
		res := &Result{Success: false, Error: lastErr.Error(), ErrorKind: lastErr.Kind, ElapsedMS: elapsed, Retries: retries}
		r.publishFailed(correlationID, name, res, params)
		return res
	}

	res := &Result{Success: true, Value: value, ElapsedMS: elapsed, Retries: retries}
	r.publishExecuted(correlationID, name, spec, res, params, confirmation)
	return res
}

func validate(spec ToolSpec, params map[string]any) error {
	for name, p := range spec.Params {
		if !p.Required {
			continue
		}
		if _, ok := params[name]; !ok {
			return &Error{Kind: ErrValidation, Message: "missing required parameter: " + name}
		}
	}
	return nil
}

// deriveDomain picks the circuit breaker key: the hostname of any URL
// parameter, else the tool's own name.
func deriveDomain(toolName string, params map[string]any) string {
	for _, v := range params {
		s, ok := v.(string)
		if !ok || !strings.Contains(s, "://") {
			continue
		}
		if u, err := url.Parse(s); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
	}
	return toolName
}

func (r *Runner) publishExecuted(correlationID, tool string, spec ToolSpec, res *Result, params map[string]any, confirmation Confirmation) {
	r.bus.Publish(eventbus.Event{
		Type:          eventbus.TopicToolCall,
		Source:        "toolrunner",
		CorrelationID: correlationID,
		Data: map[string]any{
			"tool":         tool,
			"params":       params,
			"risk_level":   spec.RiskLevel,
			"confirmation": confirmation,
		},
	})
	r.bus.Publish(eventbus.Event{
		Type:          eventbus.TopicToolExecuted,
		Source:        "toolrunner",
		CorrelationID: correlationID,
		Data: map[string]any{
			"tool":         tool,
			"params":       params,
			"result":       res.Value,
			"elapsed_ms":   res.ElapsedMS,
			"confirmation": confirmation,
			"risk_level":   spec.RiskLevel,
		},
	})
}

func (r *Runner) publishFailed(correlationID, tool string, res *Result, params map[string]any) {
	if r.logger != nil {
		r.logger.Warn("tool call failed",
			zap.String("tool", tool),
			zap.String("kind", string(res.ErrorKind)),
			zap.String("error", res.Error),
		)
	}
	r.bus.Publish(eventbus.Event{
		Type:          eventbus.TopicToolFailed,
		Source:        "toolrunner",
		CorrelationID: correlationID,
		Data: map[string]any{
			"tool":       tool,
			"error":      res.Error,
			"elapsed_ms": res.ElapsedMS,
			"params":     params,
		},
	})
}
