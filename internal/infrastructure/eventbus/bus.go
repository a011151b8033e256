// Package eventbus provides a synchronous, topic-pattern publish/subscribe
// bus used to fan turn-lifecycle events out to observability, caching and
// audit subscribers without coupling the orchestrator to any of them.
package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is a single fact published on the bus. Type is a dotted topic such
// as "tool.call" or "turn.end". CorrelationID ties every event within one
// turn or one background run together; the bus never generates it, the
// orchestrator (or scheduler) does, so callers must set it explicitly.
type Event struct {
	Type          string
	Source        string
	CorrelationID string
	At            time.Time
	Data          map[string]any
}

// Handler receives a published event. Handlers run synchronously on the
// publishing goroutine, in subscription order, so that a single subscriber
// always observes events for one turn in publish order.
type Handler func(Event)

// MiddlewareFunc inspects or rewrites an event before it reaches any
// handler. Returning keep=false drops the event silently — no handler
// subscribed to it sees this publish.
type MiddlewareFunc func(Event) (out Event, keep bool)

// Predefined topics used across the turn runtime.
const (
	TopicTurnStart       = "turn.start"
	TopicTurnEnd         = "turn.end"
	TopicLLMDecision     = "llm.decision"
	TopicToolCall        = "tool.call"
	TopicToolExecuted    = "tool.executed"
	TopicToolFailed      = "tool.failed"
	TopicToolConfirmed   = "tool.confirmed"
	TopicToolDenied      = "tool.denied"
	TopicRunStarted      = "run.started"
	TopicRunCompleted    = "run.completed"
	TopicReminderFired   = "reminder.fired"
	TopicBantzMessage    = "bantz.message"
	TopicGraphEntityLink = "graph.entity_linked"
	TopicError           = "error"
)

// Bus is the publish/subscribe contract every component in the runtime
// depends on.
type Bus interface {
	Publish(e Event)
	Subscribe(pattern string, h Handler) int64
	Unsubscribe(id int64)
	AddMiddleware(m MiddlewareFunc)
}

type subscription struct {
	id      int64
	pattern string
	handler Handler
}

// InMemoryBus is the default Bus implementation: no network hop, no
// background goroutine, delivery happens inline inside Publish.
type InMemoryBus struct {
	mu         sync.RWMutex
	subs       []*subscription
	nextID     int64
	middleware []MiddlewareFunc
	logger     *zap.Logger
}

// NewInMemoryBus builds a bus that logs handler panics and dropped events
// through logger.
func NewInMemoryBus(logger *zap.Logger) *InMemoryBus {
	return &InMemoryBus{logger: logger}
}

// AddMiddleware appends a middleware to the chain applied once to every
// published event before dispatch, in the order middlewares were added.
func (b *InMemoryBus) AddMiddleware(m MiddlewareFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, m)
}

// Subscribe registers h for events whose Type matches pattern and returns a
// subscription id usable with Unsubscribe.
func (b *InMemoryBus) Subscribe(pattern string, h Handler) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, &subscription{id: id, pattern: pattern, handler: h})
	return id
}

// Unsubscribe removes the subscription with the given id, if any.
func (b *InMemoryBus) Unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to every matching subscriber synchronously, in
// subscription order, on the caller's goroutine. A panicking handler is
// recovered and logged; it never aborts delivery to the remaining
// subscribers. The event passes through the middleware chain once before
// any handler is considered; a middleware that drops it stops delivery
// entirely.
func (b *InMemoryBus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	chain := make([]MiddlewareFunc, len(b.middleware))
	copy(chain, b.middleware)
	b.mu.RUnlock()

	for _, m := range chain {
		var keep bool
		e, keep = m(e)
		if !keep {
			return
		}
	}

	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if matchTopic(s.pattern, e.Type) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		b.deliver(s.handler, e)
	}
}

func (b *InMemoryBus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.Error("event handler panicked",
					zap.String("event_type", e.Type),
					zap.String("correlation_id", e.CorrelationID),
					zap.Any("panic", r),
				)
			}
		}
	}()
	h(e)
}

// matchTopic reports whether topic matches pattern, where pattern segments
// are separated by '.' and a '*' segment matches exactly one topic
// segment, except a trailing '*' which matches one or more remaining
// segments. "tool.*" matches "tool.call" but not "tool". "*" alone matches
// every topic.
func matchTopic(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	pSegs := splitTopic(pattern)
	tSegs := splitTopic(topic)

	i := 0
	for ; i < len(pSegs); i++ {
		if pSegs[i] == "*" && i == len(pSegs)-1 {
			return len(tSegs) > i
		}
		if i >= len(tSegs) {
			return false
		}
		if pSegs[i] != "*" && pSegs[i] != tSegs[i] {
			return false
		}
	}
	return len(tSegs) == len(pSegs)
}

func splitTopic(topic string) []string {
	segs := make([]string, 0, 4)
	start := 0
	for i := 0; i < len(topic); i++ {
		if topic[i] == '.' {
			segs = append(segs, topic[start:i])
			start = i + 1
		}
	}
	segs = append(segs, topic[start:])
	return segs
}
