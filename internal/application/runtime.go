// Package application assembles the turn runtime's components (policy,
// latency, event bus, subscribers, memory trace, tool runner, firewall,
// orchestrator, reminder scheduler) into one Runtime exposing ProcessTurn as
// the single per-turn entry point.
package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bantz-ai/bantz/internal/domain/firewall"
	"github.com/bantz-ai/bantz/internal/domain/latency"
	"github.com/bantz-ai/bantz/internal/domain/memory"
	"github.com/bantz-ai/bantz/internal/domain/memtrace"
	"github.com/bantz-ai/bantz/internal/domain/orchestrator"
	"github.com/bantz-ai/bantz/internal/domain/pev"
	"github.com/bantz-ai/bantz/internal/domain/policy"
	"github.com/bantz-ai/bantz/internal/domain/reminder"
	"github.com/bantz-ai/bantz/internal/domain/subscriber"
	"github.com/bantz-ai/bantz/internal/domain/toolrunner"
	"github.com/bantz-ai/bantz/internal/infrastructure/config"
	"github.com/bantz-ai/bantz/internal/infrastructure/eventbus"
	"github.com/bantz-ai/bantz/internal/infrastructure/persistence"
)

// memoryRunTracker forwards run-lifecycle updates into the log, standing in
// for an external metrics exporter.
type memoryRunTracker struct{ logger *zap.Logger }

func (t *memoryRunTracker) TrackRun(handle subscriber.RunHandle, e eventbus.Event) {
	if t.logger == nil {
		return
	}
	t.logger.Debug("run update",
		zap.String("correlation_id", handle.CorrelationID),
		zap.Int("tool_calls", handle.ToolCalls),
		zap.Int("tool_failures", handle.ToolFailures),
		zap.String("event", e.Type),
	)
}

// memoryCache is an in-process tool-result cache, standing in for an
// external cache backend.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]any
}

func newMemoryCache() *memoryCache { return &memoryCache{entries: make(map[string]any)} }

func (c *memoryCache) Put(tool string, params map[string]any, result any, elapsedMS int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tool] = result
}

// memoryRecorderAdapter adapts *memory.Manager to orchestrator.MemoryRecorder,
// discarding the returned entry the orchestrator has no use for.
type memoryRecorderAdapter struct{ mgr *memory.Manager }

func (a *memoryRecorderAdapter) Remember(ctx context.Context, content string, metadata map[string]any) error {
	_, err := a.mgr.Remember(ctx, content, metadata)
	return err
}

// memoryAudit is an in-process append-only audit sink.
type memoryAudit struct {
	mu      sync.Mutex
	entries []subscriber.AuditEntry
}

func newMemoryAudit() *memoryAudit { return &memoryAudit{} }

func (a *memoryAudit) Record(entry subscriber.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

// Entries returns a snapshot of every recorded audit line.
func (a *memoryAudit) Entries() []subscriber.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]subscriber.AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Runtime wires modules A-J into one per-turn entry point.
type Runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	db *gorm.DB

	Policy    *policy.Registry
	Latency   *latency.Tracker
	Bus       eventbus.Bus
	Tools     *ToolRegistry
	Runner    *toolrunner.Runner
	Firewall  *firewall.Firewall
	PEV       *pev.Engine
	Reminders reminder.Store
	Scheduler *reminder.Scheduler
	Memory    *memory.Manager
	Audit     *memoryAudit

	orch *orchestrator.Orchestrator

	mu     sync.Mutex
	states map[string]*orchestrator.TurnState
}

// NewRuntime opens the reminder store, loads the policy table, and wires
// every component into a ready-to-use Runtime. Callers must call Close when
// done.
func NewRuntime(cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	reminders := persistence.NewGormReminderRepository(db)

	reg := policy.NewRegistry()
	if cfg.Policy.Path != "" {
		if err := reg.Load(cfg.Policy.Path); err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
	}

	bus := eventbus.NewInMemoryBus(logger)
	bus.AddMiddleware(subscriber.LoggingMiddleware(logger))

	audit := newMemoryAudit()
	subscriber.Wire(bus,
		subscriber.NewObservability(&memoryRunTracker{logger: logger}),
		subscriber.NewIngest(newMemoryCache()),
		subscriber.NewAudit(audit),
	)

	runner := toolrunner.New(bus, logger)
	fw := firewall.New(reg, bus)

	latencyCfg := cfg.Latency
	if latencyCfg.EndToEndMaxMS == 0 {
		latencyCfg = latency.DefaultConfig()
	}
	latencyTracker := latency.NewTracker(latencyCfg, 0, logger)

	tools := BuildToolRegistry(reminders)

	memStore := memory.NewInMemoryStore()
	embedder := memory.NewHashEmbedder(64)
	memManager := memory.NewManager(memStore, embedder, bus)

	var recorder orchestrator.MemoryRecorder
	if cfg.Memory.Enabled {
		recorder = &memoryRecorderAdapter{mgr: memManager}
	}

	orch := orchestrator.NewOrchestrator(
		orchestrator.DefaultConfig(),
		NewRuleRouter(),
		NewTemplateFinalizer(),
		NewPlainFormatter(),
		tools,
		orchestrator.NewFactGuard(),
		runner,
		fw,
		latencyTracker,
		memtrace.DefaultBudget(),
		recorder,
		bus,
		logger,
	)

	pevEngine := pev.NewEngine(pev.DefaultConfig(), runner, tools, nil, nil, logger)

	sched := reminder.NewScheduler(reminder.Config{TickInterval: time.Duration(cfg.Reminder.TickIntervalSeconds) * time.Second}, reminders, bus, logger)

	return &Runtime{
		cfg: cfg, logger: logger, db: db,
		Policy: reg, Latency: latencyTracker, Bus: bus, Tools: tools,
		Runner: runner, Firewall: fw, PEV: pevEngine,
		Reminders: reminders, Scheduler: sched, Memory: memManager, Audit: audit,
		orch: orch, states: make(map[string]*orchestrator.TurnState),
	}, nil
}

// Start launches the reminder scheduler's background goroutine.
func (r *Runtime) Start() { r.Scheduler.Start() }

// Stop halts the reminder scheduler.
func (r *Runtime) Stop() { r.Scheduler.Stop() }

// Close releases the underlying database connection.
func (r *Runtime) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ProcessTurn runs one conversational turn for sessionID, carrying its
// TurnState across calls.
func (r *Runtime) ProcessTurn(ctx context.Context, sessionID, userText string) *orchestrator.TurnOutput {
	r.mu.Lock()
	state, ok := r.states[sessionID]
	if !ok {
		state = &orchestrator.TurnState{SessionID: sessionID}
	}
	r.mu.Unlock()

	output, next := r.orch.ProcessTurn(ctx, userText, state)

	r.mu.Lock()
	r.states[sessionID] = next
	r.mu.Unlock()

	return output
}
