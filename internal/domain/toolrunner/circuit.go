package toolrunner

import (
	"errors"
	"sync"
	"time"
)

// circuitState mirrors the standard closed/open/half-open breaker states.
type circuitState string

const (
	circuitClosed   circuitState = "closed"
	circuitOpen     circuitState = "open"
	circuitHalfOpen circuitState = "half-open"
)

// ErrBreakerOpen is returned by canExecute while a domain's breaker is open.
var ErrBreakerOpen = errors.New("circuit open")

// circuitConfig tunes one breaker's thresholds.
type circuitConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

func defaultCircuitConfig() circuitConfig {
	return circuitConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second}
}

// circuitBreaker short-circuits calls to one domain (a tool name, or the
// hostname extracted from a URL-bearing param) after repeated failures.
type circuitBreaker struct {
	cfg circuitConfig

	mu              sync.Mutex
	state           circuitState
	failures        int
	successes       int
	lastStateChange time.Time
}

func newCircuitBreaker(cfg circuitConfig) *circuitBreaker {
	return &circuitBreaker{cfg: cfg, state: circuitClosed, lastStateChange: time.Now()}
}

func (cb *circuitBreaker) canExecute() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitOpen:
		if time.Since(cb.lastStateChange) >= cb.cfg.Timeout {
			cb.transitionTo(circuitHalfOpen)
			return nil
		}
		return ErrBreakerOpen
	default:
		return nil
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		cb.failures = 0
	case circuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transitionTo(circuitClosed)
		}
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.successes = 0
	switch cb.state {
	case circuitClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transitionTo(circuitOpen)
		}
	case circuitHalfOpen:
		cb.transitionTo(circuitOpen)
	}
}

func (cb *circuitBreaker) transitionTo(s circuitState) {
	cb.state = s
	cb.lastStateChange = time.Now()
	cb.failures = 0
	cb.successes = 0
}

func (cb *circuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return string(cb.state)
}

// circuitBreakerTable hands out one breaker per domain key, created lazily.
type circuitBreakerTable struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	cfg      circuitConfig
}

func newCircuitBreakerTable(cfg circuitConfig) *circuitBreakerTable {
	return &circuitBreakerTable{breakers: make(map[string]*circuitBreaker), cfg: cfg}
}

func (t *circuitBreakerTable) get(domain string) *circuitBreaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.breakers[domain]
	if !ok {
		cb = newCircuitBreaker(t.cfg)
		t.breakers[domain] = cb
	}
	return cb
}
