// Package subscriber binds the built-in observability, ingest and audit
// handlers to the event bus at boot. Each handler is best-effort: a panic
// inside one is recovered by the bus itself and never fails the
// turn that triggered the event.
package subscriber

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bantz-ai/bantz/internal/infrastructure/eventbus"
)

// RunHandle tracks one correlation ID's progress through tool.call,
// tool.executed, tool.failed, run.started and run.completed events.
type RunHandle struct {
	CorrelationID string
	ToolCalls     int
	ToolFailures  int
	StartedAt     time.Time
	UpdatedAt     time.Time
}

// RunTracker receives forwarded run-lifecycle updates. Implementations
// live outside this package (e.g. a metrics exporter or a UI feed).
type RunTracker interface {
	TrackRun(handle RunHandle, event eventbus.Event)
}

// Cache receives successful tool-call results for later reuse.
type Cache interface {
	Put(tool string, params map[string]any, result any, elapsedMS int64)
}

// AuditSink receives an append-only record of every tool.* event.
type AuditSink interface {
	Record(entry AuditEntry)
}

// AuditEntry is one append-only audit line.
type AuditEntry struct {
	Tool       string
	RiskLevel  string
	Success    bool
	Confirmed  bool
	Params     map[string]any
	Error      string
	OccurredAt time.Time
}

// Observability maintains correlation_id -> RunHandle and forwards every
// tracked event to an injected RunTracker.
type Observability struct {
	tracker RunTracker

	mu   sync.Mutex
	runs map[string]*RunHandle
}

// NewObservability builds an Observability subscriber forwarding to tracker.
// tracker may be nil, in which case events are tracked locally but not forwarded.
func NewObservability(tracker RunTracker) *Observability {
	return &Observability{tracker: tracker, runs: make(map[string]*RunHandle)}
}

func (o *Observability) Handle(e eventbus.Event) {
	o.mu.Lock()
	handle, ok := o.runs[e.CorrelationID]
	if !ok {
		handle = &RunHandle{CorrelationID: e.CorrelationID, StartedAt: e.At}
		o.runs[e.CorrelationID] = handle
	}
	handle.UpdatedAt = e.At
	switch e.Type {
	case eventbus.TopicToolCall:
		handle.ToolCalls++
	case eventbus.TopicToolFailed:
		handle.ToolFailures++
	}
	snapshot := *handle
	o.mu.Unlock()

	if o.tracker != nil {
		o.tracker.TrackRun(snapshot, e)
	}
}

// Forget drops a run's handle, e.g. once run.completed has been observed.
func (o *Observability) Forget(correlationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.runs, correlationID)
}

// Ingest writes successful tool-call results to an injected Cache.
type Ingest struct {
	cache Cache
}

// NewIngest builds an Ingest subscriber writing to cache.
func NewIngest(cache Cache) *Ingest {
	return &Ingest{cache: cache}
}

func (i *Ingest) Handle(e eventbus.Event) {
	if i.cache == nil || e.Type != eventbus.TopicToolExecuted {
		return
	}
	tool, _ := e.Data["tool"].(string)
	params, _ := e.Data["params"].(map[string]any)
	elapsed, _ := e.Data["elapsed_ms"].(int64)
	i.cache.Put(tool, params, e.Data["result"], elapsed)
}

// Audit writes every tool.* event to an injected AuditSink.
type Audit struct {
	sink AuditSink
}

// NewAudit builds an Audit subscriber writing to sink.
func NewAudit(sink AuditSink) *Audit {
	return &Audit{sink: sink}
}

func (a *Audit) Handle(e eventbus.Event) {
	if a.sink == nil {
		return
	}
	entry := AuditEntry{OccurredAt: e.At, Params: dataMap(e, "params")}
	tool, _ := e.Data["tool"].(string)
	entry.Tool = tool

	switch e.Type {
	case eventbus.TopicToolCall:
		if rl, ok := e.Data["risk_level"]; ok {
			entry.RiskLevel = toString(rl)
		}
		if c, ok := e.Data["confirmation"]; ok {
			entry.Confirmed = toString(c) == "user"
		}
	case eventbus.TopicToolExecuted:
		entry.Success = true
		if rl, ok := e.Data["risk_level"]; ok {
			entry.RiskLevel = toString(rl)
		}
	case eventbus.TopicToolFailed:
		entry.Success = false
		if errStr, ok := e.Data["error"].(string); ok {
			entry.Error = errStr
		}
	case eventbus.TopicToolDenied:
		entry.Success = false
		if reason, ok := e.Data["reason"].(string); ok {
			entry.Error = reason
		}
	}

	a.sink.Record(entry)
}

func dataMap(e eventbus.Event, key string) map[string]any {
	m, _ := e.Data[key].(map[string]any)
	return m
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggingMiddleware dumps every event at debug level before dispatch.
func LoggingMiddleware(logger *zap.Logger) eventbus.MiddlewareFunc {
	return func(e eventbus.Event) (eventbus.Event, bool) {
		if logger != nil {
			logger.Debug("event",
				zap.String("type", e.Type),
				zap.String("source", e.Source),
				zap.String("correlation_id", e.CorrelationID),
			)
		}
		return e, true
	}
}

// RateLimitMiddleware drops a duplicate {type,source} event seen again
// within window of its predecessor. window defaults to 100ms when <= 0.
func RateLimitMiddleware(window time.Duration) eventbus.MiddlewareFunc {
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	var mu sync.Mutex
	last := make(map[string]time.Time)

	return func(e eventbus.Event) (eventbus.Event, bool) {
		key := e.Type + "|" + e.Source
		mu.Lock()
		defer mu.Unlock()
		if prev, ok := last[key]; ok && e.At.Sub(prev) < window {
			return e, false
		}
		last[key] = e.At
		return e, true
	}
}

// Wire binds Observability, Ingest and Audit to bus, matching the
// subscribers. Any of obs, ingest, audit may be nil to skip
// that binding (e.g. a deployment with no external audit sink configured).
func Wire(bus eventbus.Bus, obs *Observability, ingest *Ingest, audit *Audit) {
	if obs != nil {
		bus.Subscribe("tool.call", obs.Handle)
		bus.Subscribe("tool.executed", obs.Handle)
		bus.Subscribe("tool.failed", obs.Handle)
		bus.Subscribe("run.started", obs.Handle)
		bus.Subscribe("run.completed", obs.Handle)
	}
	if ingest != nil {
		bus.Subscribe("tool.call", ingest.Handle)
		bus.Subscribe("tool.executed", ingest.Handle)
	}
	if audit != nil {
		bus.Subscribe("tool.*", audit.Handle)
	}
}
